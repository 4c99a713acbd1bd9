package logging

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"scanopy-mcp/pkg/errors"
)

// LogLevel represents the severity level of a log entry
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// LogContext represents contextual information for log entries
type LogContext map[string]interface{}

// StructuredLogger provides structured logging capabilities
type StructuredLogger struct {
	logger    *zap.Logger
	component string
	context   LogContext
}

// encoderConfig keeps the field names used across all log output
func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.MessageKey = "message"
	cfg.LevelKey = "level"
	cfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

// newJSONCore builds a JSON core. Output goes to stderr in production because
// stdout carries the protocol stream.
func newJSONCore(w zapcore.WriteSyncer, level zapcore.LevelEnabler) zapcore.Core {
	return zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), w, level)
}

// NewStructuredLogger creates a standalone logger writing JSON to stderr
func NewStructuredLogger(component string) *StructuredLogger {
	core := newJSONCore(zapcore.Lock(os.Stderr), zapcore.DebugLevel)
	return newStructuredLogger(zap.New(core), component)
}

func newStructuredLogger(base *zap.Logger, component string) *StructuredLogger {
	return &StructuredLogger{
		logger:    base,
		component: component,
		context:   make(LogContext),
	}
}

// WithContext adds context to the logger (returns a new logger instance)
func (sl *StructuredLogger) WithContext(key string, value interface{}) *StructuredLogger {
	newLogger := &StructuredLogger{
		logger:    sl.logger,
		component: sl.component,
		context:   make(LogContext, len(sl.context)+1),
	}

	for k, v := range sl.context {
		newLogger.context[k] = v
	}

	newLogger.context[key] = value
	return newLogger
}

// WithError adds error information to the logger context
func (sl *StructuredLogger) WithError(err error) *StructuredLogger {
	if err == nil {
		return sl
	}

	structuredErr := errors.From(err)
	newLogger := sl.WithContext("error", err.Error()).
		WithContext("error_category", structuredErr.Category).
		WithContext("error_code", structuredErr.Code).
		WithContext("error_severity", structuredErr.Severity).
		WithContext("error_recoverable", structuredErr.IsRecoverable())

	for k, v := range structuredErr.Context {
		newLogger = newLogger.WithContext(fmt.Sprintf("error_ctx_%s", k), v)
	}

	return newLogger
}

// fields converts the logger context to zap fields in stable key order
func (sl *StructuredLogger) fields() []zap.Field {
	keys := make([]string, 0, len(sl.context))
	for k := range sl.context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]zap.Field, 0, len(keys)+1)
	fields = append(fields, zap.String("component", sl.component))
	for _, k := range keys {
		fields = append(fields, zap.Any(k, sl.context[k]))
	}
	return fields
}

// Debug logs a debug message
func (sl *StructuredLogger) Debug(message string) {
	sl.logger.Debug(message, sl.fields()...)
}

// Info logs an info message
func (sl *StructuredLogger) Info(message string) {
	sl.logger.Info(message, sl.fields()...)
}

// Warn logs a warning message
func (sl *StructuredLogger) Warn(message string) {
	sl.logger.Warn(message, sl.fields()...)
}

// Error logs an error message
func (sl *StructuredLogger) Error(message string) {
	sl.logger.Error(message, sl.fields()...)
}

// Log logs at the given level
func (sl *StructuredLogger) Log(level LogLevel, message string) {
	switch level {
	case LogLevelDebug:
		sl.Debug(message)
	case LogLevelWarn:
		sl.Warn(message)
	case LogLevelError:
		sl.Error(message)
	default:
		sl.Info(message)
	}
}

// LogMCPMessage logs an MCP protocol message with timing information
func (sl *StructuredLogger) LogMCPMessage(method string, requestID interface{}, duration time.Duration, success bool) {
	logger := sl.WithContext("mcp_method", method).
		WithContext("request_id", requestID).
		WithContext("duration_ms", duration.Milliseconds()).
		WithContext("success", success)

	if success {
		logger.Info("MCP message processed successfully")
	} else {
		logger.Warn("MCP message processing failed")
	}
}

// LogStartup logs application startup events
func (sl *StructuredLogger) LogStartup(event string, details map[string]interface{}) {
	logger := sl.WithContext("startup_event", event)
	for k, v := range details {
		logger = logger.WithContext(k, v)
	}
	logger.Info("Application startup event")
}

// LogShutdown logs application shutdown events
func (sl *StructuredLogger) LogShutdown(event string, details map[string]interface{}) {
	logger := sl.WithContext("shutdown_event", event)
	for k, v := range details {
		logger = logger.WithContext(k, v)
	}
	logger.Info("Application shutdown event")
}

// LogCacheOperation logs cache-related operations
func (sl *StructuredLogger) LogCacheOperation(operation string, key string, success bool, details map[string]interface{}) {
	logger := sl.WithContext("cache_operation", operation).
		WithContext("cache_key", key).
		WithContext("success", success)

	for k, v := range details {
		logger = logger.WithContext(k, v)
	}

	if success {
		logger.Debug("Cache operation completed")
	} else {
		logger.Warn("Cache operation failed")
	}
}

// LogFileSystemEvent logs file system monitoring events
func (sl *StructuredLogger) LogFileSystemEvent(eventType string, path string, details map[string]interface{}) {
	logger := sl.WithContext("fs_event_type", eventType).
		WithContext("fs_path", path)

	for k, v := range details {
		logger = logger.WithContext(k, v)
	}

	logger.Info("File system event detected")
}

// LogToolArguments logs tool arguments with sensitive values redacted
func (sl *StructuredLogger) LogToolArguments(tool string, args map[string]interface{}) {
	sl.WithContext("tool", tool).
		WithContext("arguments", SanitizeLogData(args)).
		Debug("Tool arguments received")
}

// LogPerformanceMetric logs performance-related metrics
func (sl *StructuredLogger) LogPerformanceMetric(metric string, value interface{}, unit string) {
	sl.WithContext("metric_name", metric).
		WithContext("metric_value", value).
		WithContext("metric_unit", unit).
		Debug("Performance metric recorded")
}

var sensitiveKeys = []string{
	"password", "token", "secret", "key", "auth", "credential",
	"confirm", "private",
}

// SanitizeLogData removes or masks sensitive information from log data
func SanitizeLogData(data map[string]interface{}) map[string]interface{} {
	sanitized := make(map[string]interface{}, len(data))

	for k, v := range data {
		keyLower := strings.ToLower(k)
		isSensitive := false

		for _, sensitiveKey := range sensitiveKeys {
			if strings.Contains(keyLower, sensitiveKey) {
				isSensitive = true
				break
			}
		}

		switch {
		case isSensitive:
			sanitized[k] = "[REDACTED]"
		case isString(v):
			sanitized[k] = sanitizeStringValue(v.(string))
		default:
			sanitized[k] = v
		}
	}

	return sanitized
}

func isString(v interface{}) bool {
	_, ok := v.(string)
	return ok
}

// sanitizeStringValue masks strings that look like tokens or keys
func sanitizeStringValue(value string) interface{} {
	if len(value) > 20 && isAlphanumeric(value) {
		return fmt.Sprintf("[MASKED:%d_chars]", len(value))
	}
	return value
}

// isAlphanumeric checks if a string contains only alphanumeric characters
func isAlphanumeric(s string) bool {
	for _, r := range s {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}
