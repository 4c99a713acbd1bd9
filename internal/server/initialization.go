package server

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

// initializeRegistry loads the document and builds the tool registry once
// so that configuration problems show up at startup rather than on the
// first call.
func (s *MCPServer) initializeRegistry(ctx context.Context) error {
	if s.manager == nil {
		return fmt.Errorf("tool manager not configured")
	}

	snap, err := s.manager.Registry(ctx)
	if err != nil {
		return err
	}

	s.logger.WithContext("tool_count", snap.Len()).
		WithContext("source", s.documentSource()).
		Info("Tool registry ready")
	return nil
}

// setupFileSystemMonitoring watches a local document file for changes
func (s *MCPServer) setupFileSystemMonitoring() error {
	if s.loader == nil || !s.loader.IsFile() {
		return nil
	}
	if s.monitor == nil {
		return fmt.Errorf("file system monitor not available")
	}

	if err := s.monitor.WatchFile(s.loader.Source(), s.handleFileEvent); err != nil {
		return fmt.Errorf("failed to watch %s: %w", s.loader.Source(), err)
	}
	return nil
}

// setupRefreshSchedule starts the cron-driven background document refresh
func (s *MCPServer) setupRefreshSchedule(ctx context.Context) error {
	if s.cfg.RefreshSchedule == "" || s.loader == nil {
		return nil
	}

	scheduler := cron.New()
	_, err := scheduler.AddFunc(s.cfg.RefreshSchedule, func() {
		s.refreshDocument(ctx, "scheduled_refresh")
	})
	if err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", s.cfg.RefreshSchedule, err)
	}

	scheduler.Start()
	s.scheduler = scheduler
	s.logger.WithContext("schedule", s.cfg.RefreshSchedule).Info("Scheduled document refresh enabled")
	return nil
}

func (s *MCPServer) documentSource() string {
	if s.loader == nil {
		return ""
	}
	return s.loader.Source()
}
