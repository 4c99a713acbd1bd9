// Package bridge exposes the MCP server to WebSocket clients. Each text
// frame carries one JSON-RPC message and each response goes back as one
// text frame.
package bridge

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"scanopy-mcp/internal/models"
	"scanopy-mcp/pkg/logging"
)

// Handler processes one raw request line; a nil response means nothing is
// written back.
type Handler interface {
	HandleLine(ctx context.Context, line string) *models.MCPMessage
}

const writeTimeout = 10 * time.Second

// Bridge upgrades HTTP connections and runs one session per connection
type Bridge struct {
	handler        Handler
	upgrader       websocket.Upgrader
	logger         *logging.StructuredLogger
	allowedOrigins map[string]struct{}

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// Session is one connected WebSocket client
type Session struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
	once sync.Once
}

// New creates a bridge in front of handler. Browser requests are accepted
// only from the bridge's own host or from one of allowedOrigins
// (scheme://host[:port]). Requests without an Origin header are accepted.
func New(handler Handler, logger *logging.StructuredLogger, allowedOrigins ...string) *Bridge {
	b := &Bridge{
		handler:        handler,
		logger:         logger,
		sessions:       make(map[string]*Session),
		allowedOrigins: make(map[string]struct{}, len(allowedOrigins)),
	}
	for _, origin := range allowedOrigins {
		b.allowedOrigins[normalizeOrigin(origin)] = struct{}{}
	}
	b.upgrader = websocket.Upgrader{CheckOrigin: b.checkOrigin}
	return b
}

func (b *Bridge) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if _, ok := b.allowedOrigins[normalizeOrigin(origin)]; ok {
		return true
	}
	u, err := url.Parse(origin)
	if err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	b.logger.WithContext("origin", origin).Warn("Bridge rejected cross-origin request")
	return false
}

func normalizeOrigin(origin string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))
}

// ServeHTTP upgrades the request and serves the session until the client
// disconnects or the bridge is closed.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		http.Error(w, "bridge is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	session := &Session{
		id:   uuid.NewString(),
		conn: conn,
	}

	b.mu.Lock()
	b.sessions[session.id] = session
	b.mu.Unlock()

	logger := b.logger.WithContext("session", session.id)
	logger.WithContext("remote", r.RemoteAddr).Info("Bridge session opened")

	b.handle(r.Context(), session, logger)

	b.mu.Lock()
	delete(b.sessions, session.id)
	b.mu.Unlock()
	logger.Info("Bridge session ended")
}

func (b *Bridge) handle(ctx context.Context, s *Session, logger *logging.StructuredLogger) {
	defer s.Close()

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.WithError(err).Warn("Bridge read failed")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		response := b.handler.HandleLine(ctx, string(data))
		if response == nil {
			continue
		}
		if err := s.write(response); err != nil {
			logger.WithError(err).Warn("Bridge write failed")
			return
		}
	}
}

func (s *Session) write(message *models.MCPMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(message)
}

// Close ends the session. It is safe to call more than once.
func (s *Session) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.mu.Unlock()
		_ = s.conn.Close()
	})
}

// SessionCount reports the number of open sessions
func (b *Bridge) SessionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// Close rejects new sessions and closes the open ones
func (b *Bridge) Close() {
	b.mu.Lock()
	b.closed = true
	sessions := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
