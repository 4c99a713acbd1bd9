package server

import (
	"context"
	"time"

	"scanopy-mcp/internal/models"
)

// handleFileEvent queues a document file change for the refresh coordinator
func (s *MCPServer) handleFileEvent(event models.FileEvent) {
	select {
	case s.refreshChan <- event:
	default:
		// A refresh is already pending; it will pick up this change too
		s.logger.WithContext("event_path", event.Path).
			WithContext("event_type", event.Type).
			Debug("Refresh already queued, dropping file event")
	}
}

// cacheRefreshCoordinator applies queued document changes until shutdown
func (s *MCPServer) cacheRefreshCoordinator(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownChan:
			return
		case event := <-s.refreshChan:
			eventStart := time.Now()
			s.refreshDocument(ctx, "file_change")
			s.loggingManager.LogFileSystemEvent(event.Type, event.Path, time.Since(eventStart))
		}
	}
}

// refreshDocument drops the cached document, loads it again and rebuilds the
// registry. On failure the previous registry keeps serving.
func (s *MCPServer) refreshDocument(ctx context.Context, operation string) bool {
	if s.loader == nil {
		return false
	}

	start := time.Now()
	_, err := s.loader.Refresh(ctx)
	if err == nil && s.manager != nil {
		_, err = s.manager.Registry(ctx)
	}

	s.loggingManager.LogCacheRefresh(operation, s.loader.Source(), time.Since(start), err == nil)
	if err != nil {
		s.logger.WithError(err).
			WithContext("cache_operation", operation).
			Warn("Document refresh failed, previous tools remain active")
		return false
	}
	return true
}
