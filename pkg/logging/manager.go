package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggingManager manages structured logging across the application
type LoggingManager struct {
	base    *zap.Logger
	level   zap.AtomicLevel
	loggers map[string]*StructuredLogger
	mutex   sync.RWMutex

	// Global context that gets added to all log entries
	globalContext LogContext

	stats LoggingStats
}

// LoggingStats tracks logging statistics
type LoggingStats struct {
	TotalMessages    int64            `json:"totalMessages"`
	MessagesByLevel  map[string]int64 `json:"messagesByLevel"`
	MessagesByLogger map[string]int64 `json:"messagesByLogger"`
	ErrorCount       int64            `json:"errorCount"`
	LastLogTime      time.Time        `json:"lastLogTime"`
}

// NewLoggingManager creates a logging manager writing JSON to stderr
func NewLoggingManager() *LoggingManager {
	return NewLoggingManagerWithWriter(zapcore.Lock(os.Stderr))
}

// NewLoggingManagerWithWriter creates a logging manager writing JSON to w
func NewLoggingManagerWithWriter(w io.Writer) *LoggingManager {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	core := newJSONCore(zapcore.AddSync(w), level)
	return newLoggingManager(zap.New(core), level)
}

// NewLoggingManagerWithCore creates a logging manager on top of an existing core.
// The core is wrapped so SetLogLevel still applies.
func NewLoggingManagerWithCore(core zapcore.Core) *LoggingManager {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	return newLoggingManager(zap.New(&levelCore{Core: core, level: level}), level)
}

func newLoggingManager(base *zap.Logger, level zap.AtomicLevel) *LoggingManager {
	return &LoggingManager{
		base:          base,
		level:         level,
		loggers:       make(map[string]*StructuredLogger),
		globalContext: make(LogContext),
		stats: LoggingStats{
			MessagesByLevel:  make(map[string]int64),
			MessagesByLogger: make(map[string]int64),
		},
	}
}

// levelCore gates an arbitrary core on the manager's atomic level
type levelCore struct {
	zapcore.Core
	level zap.AtomicLevel
}

func (c *levelCore) Enabled(l zapcore.Level) bool {
	return c.level.Enabled(l) && c.Core.Enabled(l)
}

func (c *levelCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelCore{Core: c.Core.With(fields), level: c.level}
}

func (c *levelCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.level.Enabled(ent.Level) {
		return ce
	}
	return c.Core.Check(ent, ce)
}

// GetLogger gets or creates a logger for a specific component
func (lm *LoggingManager) GetLogger(component string) *StructuredLogger {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	if logger, exists := lm.loggers[component]; exists {
		return logger
	}

	logger := newStructuredLogger(lm.base, component)
	for key, value := range lm.globalContext {
		logger = logger.WithContext(key, value)
	}

	lm.loggers[component] = logger
	return logger
}

// SetLogLevel sets the logging level for all loggers.
// Accepts any string and defaults to INFO for invalid levels.
func (lm *LoggingManager) SetLogLevel(level string) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		lm.level.SetLevel(zapcore.DebugLevel)
	case "WARN", "WARNING":
		lm.level.SetLevel(zapcore.WarnLevel)
	case "ERROR":
		lm.level.SetLevel(zapcore.ErrorLevel)
	default:
		lm.level.SetLevel(zapcore.InfoLevel)
	}
}

// GetLogLevel returns the current level name
func (lm *LoggingManager) GetLogLevel() string {
	return lm.level.Level().CapitalString()
}

// SetGlobalContext sets global context that will be added to all log entries
func (lm *LoggingManager) SetGlobalContext(key string, value interface{}) {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	lm.globalContext[key] = value

	for component, logger := range lm.loggers {
		lm.loggers[component] = logger.WithContext(key, value)
	}
}

// GetGlobalContext returns a copy of the global context
func (lm *LoggingManager) GetGlobalContext() LogContext {
	lm.mutex.RLock()
	defer lm.mutex.RUnlock()

	context := make(LogContext, len(lm.globalContext))
	for k, v := range lm.globalContext {
		context[k] = v
	}
	return context
}

// LogApplicationEvent logs application-wide events
func (lm *LoggingManager) LogApplicationEvent(event string, details map[string]interface{}) {
	logger := lm.GetLogger("application").WithContext("app_event", event)
	for k, v := range details {
		logger = logger.WithContext(k, v)
	}

	logger.Info("Application event")
	lm.updateStats("application", "INFO")
}

// LogError logs an error with full context
func (lm *LoggingManager) LogError(component string, err error, message string, context map[string]interface{}) {
	logger := lm.GetLogger(component).WithError(err)
	for k, v := range context {
		logger = logger.WithContext(k, v)
	}

	logger.Error(message)
	lm.updateStats(component, "ERROR")
}

// LogMCPRequest logs MCP protocol requests with timing
func (lm *LoggingManager) LogMCPRequest(method string, requestID interface{}, duration time.Duration, success bool, errorMsg string) {
	logger := lm.GetLogger("mcp_protocol")

	if !success && errorMsg != "" {
		logger = logger.WithContext("error_message", errorMsg)
	}

	logger.LogMCPMessage(method, requestID, duration, success)

	level := "INFO"
	if !success {
		level = "WARN"
	}
	lm.updateStats("mcp_protocol", level)
}

// LogToolCall logs the outcome of a single tool invocation
func (lm *LoggingManager) LogToolCall(tool, method, callID, outcome string, duration time.Duration) {
	logger := lm.GetLogger("dispatcher").
		WithContext("tool", tool).
		WithContext("http_method", method).
		WithContext("call_id", callID).
		WithContext("outcome", outcome).
		WithContext("duration_ms", duration.Milliseconds())

	level := "INFO"
	switch outcome {
	case "dispatched", "dry_run":
		logger.Info("Tool call completed")
	default:
		level = "WARN"
		logger.Warn("Tool call rejected")
	}
	lm.updateStats("dispatcher", level)
}

// LogCacheRefresh logs interface document refresh operations
func (lm *LoggingManager) LogCacheRefresh(operation string, source string, duration time.Duration, success bool) {
	logger := lm.GetLogger("cache").
		WithContext("cache_operation", operation).
		WithContext("source", source).
		WithContext("duration_ms", duration.Milliseconds()).
		WithContext("success", success)

	if success {
		logger.Info("Cache refresh completed")
		lm.updateStats("cache", "INFO")
	} else {
		logger.Warn("Cache refresh failed")
		lm.updateStats("cache", "WARN")
	}
}

// LogFileSystemEvent logs file system monitoring events
func (lm *LoggingManager) LogFileSystemEvent(eventType string, path string, processingTime time.Duration) {
	details := map[string]interface{}{
		"processing_time_ms": processingTime.Milliseconds(),
	}

	lm.GetLogger("file_monitor").LogFileSystemEvent(eventType, path, details)
	lm.updateStats("file_monitor", "INFO")
}

// LogStartupSequence logs application startup sequence
func (lm *LoggingManager) LogStartupSequence(phase string, details map[string]interface{}, duration time.Duration, success bool) {
	startupDetails := make(map[string]interface{}, len(details)+2)
	for k, v := range details {
		startupDetails[k] = v
	}
	startupDetails["duration_ms"] = duration.Milliseconds()
	startupDetails["success"] = success

	lm.GetLogger("startup").LogStartup(phase, startupDetails)

	level := "INFO"
	if !success {
		level = "ERROR"
	}
	lm.updateStats("startup", level)
}

// LogShutdownSequence logs application shutdown sequence
func (lm *LoggingManager) LogShutdownSequence(phase string, details map[string]interface{}, duration time.Duration, success bool) {
	shutdownDetails := make(map[string]interface{}, len(details)+2)
	for k, v := range details {
		shutdownDetails[k] = v
	}
	shutdownDetails["duration_ms"] = duration.Milliseconds()
	shutdownDetails["success"] = success

	lm.GetLogger("shutdown").LogShutdown(phase, shutdownDetails)

	level := "INFO"
	if !success {
		level = "ERROR"
	}
	lm.updateStats("shutdown", level)
}

// updateStats updates logging statistics
func (lm *LoggingManager) updateStats(component, level string) {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	lm.stats.TotalMessages++
	lm.stats.MessagesByLevel[level]++
	lm.stats.MessagesByLogger[component]++
	lm.stats.LastLogTime = time.Now()

	if level == "ERROR" {
		lm.stats.ErrorCount++
	}
}

// GetStats returns current logging statistics
func (lm *LoggingManager) GetStats() LoggingStats {
	lm.mutex.RLock()
	defer lm.mutex.RUnlock()

	stats := LoggingStats{
		TotalMessages:    lm.stats.TotalMessages,
		ErrorCount:       lm.stats.ErrorCount,
		LastLogTime:      lm.stats.LastLogTime,
		MessagesByLevel:  make(map[string]int64, len(lm.stats.MessagesByLevel)),
		MessagesByLogger: make(map[string]int64, len(lm.stats.MessagesByLogger)),
	}

	for k, v := range lm.stats.MessagesByLevel {
		stats.MessagesByLevel[k] = v
	}
	for k, v := range lm.stats.MessagesByLogger {
		stats.MessagesByLogger[k] = v
	}

	return stats
}

// Sync flushes any buffered log entries
func (lm *LoggingManager) Sync() error {
	return lm.base.Sync()
}
