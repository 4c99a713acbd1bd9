package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"scanopy-mcp/internal/models"
	"scanopy-mcp/pkg/config"
	"scanopy-mcp/pkg/errors"
	"scanopy-mcp/pkg/logging"
	"scanopy-mcp/pkg/monitor"
	"scanopy-mcp/pkg/openapi"
	"scanopy-mcp/pkg/tools"
)

const (
	ServerName    = "scanopy-mcp-server"
	ServerVersion = "0.1.0"

	// DefaultProtocolVersion is answered when the client does not send one
	DefaultProtocolVersion = "2024-11-05"

	// Longest accepted request line
	maxLineSize = 16 * 1024 * 1024
)

// DocumentLoader provides and refreshes the interface document
type DocumentLoader interface {
	Load(ctx context.Context) (*openapi.Document, error)
	Refresh(ctx context.Context) (*openapi.Document, error)
	Invalidate()
	Source() string
	IsFile() bool
	GetPerformanceMetrics() map[string]interface{}
}

// Options carries the collaborators of an MCPServer
type Options struct {
	Config         *config.Config
	Loader         DocumentLoader
	Manager        *tools.ToolManager
	Dispatcher     *tools.Dispatcher
	Monitor        *monitor.FileSystemMonitor
	LoggingManager *logging.LoggingManager
}

// MCPServer speaks line-delimited JSON-RPC over a pair of streams. Requests
// are handled one at a time in arrival order.
type MCPServer struct {
	serverInfo   models.MCPServerInfo
	capabilities models.MCPCapabilities
	initialized  atomic.Bool

	cfg        *config.Config
	loader     DocumentLoader
	manager    *tools.ToolManager
	dispatcher *tools.Dispatcher
	monitor    *monitor.FileSystemMonitor
	scheduler  *cron.Cron

	// Logging
	loggingManager *logging.LoggingManager
	logger         *logging.StructuredLogger

	// Coordination channels
	refreshChan  chan models.FileEvent
	shutdownChan chan struct{}
	shutdownOnce sync.Once

	// Request metrics
	requests atomic.Int64
	failures atomic.Int64
}

// NewMCPServer creates a new MCP server instance
func NewMCPServer(opts Options) *MCPServer {
	lm := opts.LoggingManager
	if lm == nil {
		lm = logging.NewLoggingManager()
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.Config{}
	}

	return &MCPServer{
		serverInfo: models.MCPServerInfo{
			Name:    ServerName,
			Version: ServerVersion,
		},
		capabilities: models.MCPCapabilities{
			Tools: &models.MCPToolCapabilities{},
		},

		cfg:        cfg,
		loader:     opts.Loader,
		manager:    opts.Manager,
		dispatcher: opts.Dispatcher,
		monitor:    opts.Monitor,

		loggingManager: lm,
		logger:         lm.GetLogger("server"),

		refreshChan:  make(chan models.FileEvent, 16),
		shutdownChan: make(chan struct{}),
	}
}

// Start warms the registry, starts background refresh and serves stdio
// until EOF or ctx is cancelled.
func (s *MCPServer) Start(ctx context.Context) error {
	if err := s.StartBackground(ctx); err != nil {
		return err
	}
	s.logger.Info("Scanopy MCP server started")
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// StartBackground runs the startup sequence without serving: registry warm
// up, file monitoring and the refresh schedule.
func (s *MCPServer) StartBackground(ctx context.Context) error {
	startTime := time.Now()

	s.loggingManager.LogStartupSequence("server_start", map[string]interface{}{
		"phase": "initialization",
	}, 0, true)

	warmStart := time.Now()
	if err := s.initializeRegistry(ctx); err != nil {
		s.loggingManager.LogStartupSequence("registry_init", map[string]interface{}{
			"error": err.Error(),
		}, time.Since(warmStart), false)
		s.logger.WithError(err).Warn("Tool registry not ready, it will be built on first use")
	} else {
		s.loggingManager.LogStartupSequence("registry_init", map[string]interface{}{},
			time.Since(warmStart), true)
	}

	if err := s.setupFileSystemMonitoring(); err != nil {
		s.logger.WithError(err).Warn("Document file monitoring unavailable")
	}
	if err := s.setupRefreshSchedule(ctx); err != nil {
		return err
	}

	go s.cacheRefreshCoordinator(ctx)

	s.loggingManager.LogStartupSequence("server_ready", map[string]interface{}{
		"total_startup_time_ms": time.Since(startTime).Milliseconds(),
	}, time.Since(startTime), true)
	return nil
}

// Shutdown stops background work. It is safe to call more than once.
func (s *MCPServer) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		shutdownStart := time.Now()
		s.loggingManager.LogShutdownSequence("shutdown_start", map[string]interface{}{}, 0, true)

		close(s.shutdownChan)

		if s.scheduler != nil {
			stopCtx := s.scheduler.Stop()
			select {
			case <-stopCtx.Done():
			case <-ctx.Done():
				shutdownErr = errors.NewSystemError(errors.ErrCodeShutdownFailed,
					"refresh schedule did not stop in time", ctx.Err())
			}
			s.loggingManager.LogShutdownSequence("scheduler_stop", map[string]interface{}{}, 0, shutdownErr == nil)
		}

		if s.monitor != nil {
			monitorStart := time.Now()
			if err := s.monitor.StopWatching(); err != nil {
				s.loggingManager.LogShutdownSequence("monitor_stop", map[string]interface{}{
					"error": err.Error(),
				}, time.Since(monitorStart), false)
				s.logger.WithError(err).Error("Error stopping file monitor")
			} else {
				s.loggingManager.LogShutdownSequence("monitor_stop", map[string]interface{}{},
					time.Since(monitorStart), true)
			}
		}

		s.loggingManager.LogShutdownSequence("shutdown_complete", map[string]interface{}{
			"total_shutdown_time_ms": time.Since(shutdownStart).Milliseconds(),
		}, time.Since(shutdownStart), true)
		s.logger.Info("Scanopy MCP server shutdown completed")
	})
	return shutdownErr
}

// Serve reads requests from reader and writes responses to writer, one JSON
// object per line. It returns nil on EOF or when ctx is cancelled.
func (s *MCPServer) Serve(ctx context.Context, reader io.Reader, writer io.Writer) error {
	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	out := bufio.NewWriter(writer)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if err != nil {
						return errors.NewSystemError(errors.ErrCodeInternal, "failed to read request stream", err)
					}
				default:
				}
				return nil
			}

			response := s.HandleLine(ctx, line)
			if response == nil {
				continue
			}
			if err := writeMessage(out, response); err != nil {
				s.logger.WithError(err).Error("Failed to write response")
				return err
			}
		}
	}
}

func writeMessage(w *bufio.Writer, message *models.MCPMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}

// HandleLine processes one raw request line. Blank lines produce nothing.
func (s *MCPServer) HandleLine(ctx context.Context, line string) *models.MCPMessage {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	if !json.Valid([]byte(line)) {
		s.loggingManager.LogMCPRequest("", nil, 0, false, "Parse error")
		return s.createErrorResponse(nil, errors.CodeParseError, "Parse error")
	}

	var message models.MCPMessage
	if err := json.Unmarshal([]byte(line), &message); err != nil || message.Method == "" {
		var id interface{}
		if err == nil {
			id = message.ID
		}
		s.loggingManager.LogMCPRequest("", id, 0, false, "Invalid Request")
		return s.createStructuredErrorResponse(id, errors.NewMCPError(errors.ErrCodeInvalidRequest,
			"Invalid Request", err))
	}

	return s.HandleMessage(ctx, &message)
}

// HandleMessage processes individual MCP messages (exported for testing)
func (s *MCPServer) HandleMessage(ctx context.Context, message *models.MCPMessage) *models.MCPMessage {
	startTime := time.Now()
	var response *models.MCPMessage
	success := true
	var errorMsg string

	defer func() {
		s.requests.Add(1)
		if !success {
			s.failures.Add(1)
		}
		s.loggingManager.LogMCPRequest(message.Method, message.ID, time.Since(startTime), success, errorMsg)
	}()

	switch message.Method {
	case "initialize":
		response = s.handleInitialize(message)
	case "notifications/initialized":
		response = s.handleInitialized(message)
	case "ping":
		response = s.handlePing(message)
	case "tools/list":
		response = s.handleToolsList(ctx, message)
	case "tools/call":
		response = s.handleToolsCall(ctx, message)
	case "server/performance":
		response = s.handlePerformanceMetrics(message)
	default:
		if message.IsNotification() {
			s.logger.WithContext("method", message.Method).Debug("Ignoring notification")
			return nil
		}
		response = s.createErrorResponse(message.ID, errors.CodeMethodNotFound, "Method not found: "+message.Method)
	}

	if response != nil && response.Error != nil {
		success = false
		errorMsg = response.Error.Message
	}

	return response
}
