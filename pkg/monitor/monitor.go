package monitor

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"scanopy-mcp/internal/models"
	"scanopy-mcp/pkg/logging"
)

// DefaultDebounceDelay collapses bursts of writes into one event
const DefaultDebounceDelay = 500 * time.Millisecond

// FileSystemMonitor watches individual files for changes. The parent
// directory is watched so that editors replacing a file by rename are seen.
type FileSystemMonitor struct {
	watcher       *fsnotify.Watcher
	debounceDelay time.Duration
	logger        *logging.StructuredLogger

	mu        sync.Mutex
	callbacks map[string][]func(models.FileEvent)
	dirs      map[string]bool
	timers    map[string]*time.Timer
	pending   map[string]fsnotify.Op
	started   bool
	closed    bool
	done      chan struct{}
}

// NewFileSystemMonitor creates a new file system monitor
func NewFileSystemMonitor(logger *logging.StructuredLogger) (*FileSystemMonitor, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if logger == nil {
		logger = logging.NewLoggingManager().GetLogger("monitor")
	}

	return &FileSystemMonitor{
		watcher:       watcher,
		debounceDelay: DefaultDebounceDelay,
		logger:        logger,
		callbacks:     make(map[string][]func(models.FileEvent)),
		dirs:          make(map[string]bool),
		timers:        make(map[string]*time.Timer),
		pending:       make(map[string]fsnotify.Op),
		done:          make(chan struct{}),
	}, nil
}

// SetDebounceDelay changes the debounce window; call before WatchFile
func (fsm *FileSystemMonitor) SetDebounceDelay(d time.Duration) {
	fsm.mu.Lock()
	defer fsm.mu.Unlock()
	fsm.debounceDelay = d
}

// WatchFile calls callback, debounced, whenever path is created, written,
// removed or renamed.
func (fsm *FileSystemMonitor) WatchFile(path string, callback func(models.FileEvent)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	dir := filepath.Dir(abs)

	fsm.mu.Lock()
	defer fsm.mu.Unlock()

	if fsm.closed {
		return fmt.Errorf("monitor is stopped")
	}
	if !fsm.dirs[dir] {
		if err := fsm.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", dir, err)
		}
		fsm.dirs[dir] = true
	}
	fsm.callbacks[abs] = append(fsm.callbacks[abs], callback)

	if !fsm.started {
		fsm.started = true
		go fsm.monitorEvents()
	}

	fsm.logger.WithContext("path", abs).Info("Started monitoring file")
	return nil
}

// StopWatching stops the file system monitoring. It is safe to call twice.
func (fsm *FileSystemMonitor) StopWatching() error {
	fsm.mu.Lock()
	if fsm.closed {
		fsm.mu.Unlock()
		return nil
	}
	fsm.closed = true
	for name, timer := range fsm.timers {
		timer.Stop()
		delete(fsm.timers, name)
	}
	fsm.pending = make(map[string]fsnotify.Op)
	started := fsm.started
	fsm.mu.Unlock()

	err := fsm.watcher.Close()
	if started {
		<-fsm.done
	}
	return err
}

// monitorEvents processes file system events with debouncing
func (fsm *FileSystemMonitor) monitorEvents() {
	defer close(fsm.done)

	for {
		select {
		case event, ok := <-fsm.watcher.Events:
			if !ok {
				return
			}
			fsm.schedule(event)

		case err, ok := <-fsm.watcher.Errors:
			if !ok {
				return
			}
			fsm.logger.WithError(err).Warn("File watcher error")
		}
	}
}

func (fsm *FileSystemMonitor) schedule(event fsnotify.Event) {
	// Chmod alone never changes content
	if event.Op == fsnotify.Chmod {
		return
	}
	name := filepath.Clean(event.Name)

	fsm.mu.Lock()
	defer fsm.mu.Unlock()

	if fsm.closed || len(fsm.callbacks[name]) == 0 {
		return
	}

	// Ops seen within one debounce window are merged into a single event
	fsm.pending[name] |= event.Op
	if timer, exists := fsm.timers[name]; exists {
		timer.Stop()
	}
	fsm.timers[name] = time.AfterFunc(fsm.debounceDelay, func() {
		fsm.mu.Lock()
		delete(fsm.timers, name)
		op := fsm.pending[name]
		delete(fsm.pending, name)
		closed := fsm.closed
		fsm.mu.Unlock()
		if !closed {
			fsm.processEvent(fsnotify.Event{Name: event.Name, Op: op})
		}
	})
}

// processEvent converts fsnotify events to FileEvent and calls callbacks
func (fsm *FileSystemMonitor) processEvent(event fsnotify.Event) {
	var eventType string
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		eventType = "create"
	case event.Op&fsnotify.Write == fsnotify.Write:
		eventType = "modify"
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		eventType = "delete"
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		eventType = "delete"
	default:
		return
	}

	name := filepath.Clean(event.Name)
	fileEvent := models.FileEvent{Type: eventType, Path: name}

	fsm.mu.Lock()
	callbacks := append([]func(models.FileEvent){}, fsm.callbacks[name]...)
	fsm.mu.Unlock()

	for _, callback := range callbacks {
		callback(fileEvent)
	}

	fsm.logger.WithContext("event_type", eventType).
		WithContext("path", name).
		Debug("File system event")
}
