package errors

import (
	stderrors "errors"
	"fmt"
	"time"

	"scanopy-mcp/internal/models"
)

// ErrorCategory represents different types of errors in the system
type ErrorCategory string

const (
	// Missing or invalid process configuration
	ErrorCategoryConfiguration ErrorCategory = "configuration"
	// Malformed interface document
	ErrorCategorySchema ErrorCategory = "schema"
	// Per-call argument validation
	ErrorCategoryValidation ErrorCategory = "validation"
	// Write policy rejections
	ErrorCategoryPolicy ErrorCategory = "policy"
	// Unknown tools or resources
	ErrorCategoryNotFound ErrorCategory = "not_found"
	// Failures talking to the remote API
	ErrorCategoryTransport ErrorCategory = "transport"
	// MCP protocol related errors
	ErrorCategoryMCP ErrorCategory = "mcp"
	// System/internal errors
	ErrorCategorySystem ErrorCategory = "system"
)

// ErrorSeverity represents the severity level of an error
type ErrorSeverity string

const (
	ErrorSeverityLow      ErrorSeverity = "low"
	ErrorSeverityMedium   ErrorSeverity = "medium"
	ErrorSeverityHigh     ErrorSeverity = "high"
	ErrorSeverityCritical ErrorSeverity = "critical"
)

// JSON-RPC error codes used on the wire
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// Application range
	CodePolicyDenied   = -32001
	CodeUpstreamFailed = -32002
)

// StructuredError represents a structured error with additional context
type StructuredError struct {
	Category    ErrorCategory          `json:"category"`
	Severity    ErrorSeverity          `json:"severity"`
	Code        string                 `json:"code"`
	Message     string                 `json:"message"`
	Details     string                 `json:"details,omitempty"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Recoverable bool                   `json:"recoverable"`
	Cause       error                  `json:"-"` // Original error, not serialized
}

// Classifier is implemented by domain errors that know their structured form.
type Classifier interface {
	StructuredError() *StructuredError
}

// Error implements the error interface
func (se *StructuredError) Error() string {
	if se.Details != "" {
		return fmt.Sprintf("[%s:%s] %s: %s", se.Category, se.Code, se.Message, se.Details)
	}
	return fmt.Sprintf("[%s:%s] %s", se.Category, se.Code, se.Message)
}

// Unwrap returns the underlying error for error unwrapping
func (se *StructuredError) Unwrap() error {
	return se.Cause
}

// JSONRPCCode maps the error category to a JSON-RPC error code
func (se *StructuredError) JSONRPCCode() int {
	switch se.Category {
	case ErrorCategoryValidation, ErrorCategoryNotFound:
		return CodeInvalidParams
	case ErrorCategoryMCP:
		return CodeInvalidRequest
	case ErrorCategoryPolicy:
		return CodePolicyDenied
	case ErrorCategoryTransport:
		return CodeUpstreamFailed
	default:
		return CodeInternalError
	}
}

// ToMCPError converts a StructuredError to an MCP protocol error
func (se *StructuredError) ToMCPError() *models.MCPError {
	data := map[string]interface{}{
		"category":    se.Category,
		"code":        se.Code,
		"severity":    se.Severity,
		"recoverable": se.Recoverable,
	}
	if len(se.Context) > 0 {
		data["context"] = se.Context
	}
	if se.Details != "" {
		data["details"] = se.Details
	}

	return &models.MCPError{
		Code:    se.JSONRPCCode(),
		Message: se.Message,
		Data:    data,
	}
}

// NewStructuredError creates a new structured error
func NewStructuredError(category ErrorCategory, severity ErrorSeverity, code, message string) *StructuredError {
	return &StructuredError{
		Category:    category,
		Severity:    severity,
		Code:        code,
		Message:     message,
		Timestamp:   time.Now(),
		Recoverable: severity != ErrorSeverityCritical,
		Context:     make(map[string]interface{}),
	}
}

// WithDetails adds details to the error
func (se *StructuredError) WithDetails(details string) *StructuredError {
	se.Details = details
	return se
}

// WithContext adds context information to the error
func (se *StructuredError) WithContext(key string, value interface{}) *StructuredError {
	if se.Context == nil {
		se.Context = make(map[string]interface{})
	}
	se.Context[key] = value
	return se
}

// WithCause sets the underlying cause error
func (se *StructuredError) WithCause(err error) *StructuredError {
	se.Cause = err
	return se
}

// IsRecoverable returns whether the error is recoverable
func (se *StructuredError) IsRecoverable() bool {
	return se.Recoverable
}

// SetRecoverable sets the recoverable flag
func (se *StructuredError) SetRecoverable(recoverable bool) *StructuredError {
	se.Recoverable = recoverable
	return se
}

// From converts any error into a StructuredError. Structured errors and
// classified domain errors keep their category; everything else is internal.
func From(err error) *StructuredError {
	if err == nil {
		return nil
	}

	var se *StructuredError
	if stderrors.As(err, &se) {
		return se
	}

	var c Classifier
	if stderrors.As(err, &c) {
		if classified := c.StructuredError(); classified != nil {
			return classified
		}
	}

	return NewSystemError(ErrCodeInternal, err.Error(), err)
}

// IsCategory reports whether err converts to the given category
func IsCategory(err error, category ErrorCategory) bool {
	se := From(err)
	return se != nil && se.Category == category
}

// Predefined error constructors for common error scenarios

// NewConfigurationError creates a configuration error. These are fatal at startup.
func NewConfigurationError(code, message string, err error) *StructuredError {
	return NewStructuredError(ErrorCategoryConfiguration, ErrorSeverityCritical, code, message).WithCause(err)
}

// NewSchemaError creates an interface document error
func NewSchemaError(code, message string, err error) *StructuredError {
	return NewStructuredError(ErrorCategorySchema, ErrorSeverityHigh, code, message).WithCause(err)
}

// NewValidationError creates a validation related error
func NewValidationError(code, message string, err error) *StructuredError {
	return NewStructuredError(ErrorCategoryValidation, ErrorSeverityLow, code, message).WithCause(err)
}

// NewPolicyError creates a write policy error
func NewPolicyError(code, message string, err error) *StructuredError {
	return NewStructuredError(ErrorCategoryPolicy, ErrorSeverityMedium, code, message).WithCause(err)
}

// NewNotFoundError creates a lookup error
func NewNotFoundError(code, message string, err error) *StructuredError {
	return NewStructuredError(ErrorCategoryNotFound, ErrorSeverityLow, code, message).WithCause(err)
}

// NewTransportError creates an upstream transport error
func NewTransportError(code, message string, err error) *StructuredError {
	return NewStructuredError(ErrorCategoryTransport, ErrorSeverityMedium, code, message).WithCause(err)
}

// NewMCPError creates an MCP protocol related error
func NewMCPError(code, message string, err error) *StructuredError {
	return NewStructuredError(ErrorCategoryMCP, ErrorSeverityMedium, code, message).WithCause(err)
}

// NewSystemError creates a system/internal error
func NewSystemError(code, message string, err error) *StructuredError {
	return NewStructuredError(ErrorCategorySystem, ErrorSeverityCritical, code, message).WithCause(err)
}

// Common error codes
const (
	// Configuration error codes
	ErrCodeMissingConfig      = "MISSING_CONFIG"
	ErrCodeInvalidConfig      = "INVALID_CONFIG"
	ErrCodeInvalidConfirmText = "INVALID_CONFIRM_STRING"

	// Schema error codes
	ErrCodeDuplicateOperation = "DUPLICATE_OPERATION"
	ErrCodeMalformedDocument  = "MALFORMED_DOCUMENT"

	// Validation error codes
	ErrCodeMissingFields = "MISSING_FIELDS"
	ErrCodeInvalidParams = "INVALID_PARAMS"

	// Policy error codes
	ErrCodeNotAllowlisted       = "NOT_ALLOWLISTED"
	ErrCodeConfirmationMismatch = "CONFIRMATION_MISMATCH"

	// Not found error codes
	ErrCodeToolNotFound = "TOOL_NOT_FOUND"

	// Transport error codes
	ErrCodeUpstreamStatus      = "UPSTREAM_STATUS"
	ErrCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	ErrCodeUpstreamTimeout     = "UPSTREAM_TIMEOUT"
	ErrCodeUpstreamDecode      = "UPSTREAM_DECODE"
	ErrCodeCircuitOpen         = "UPSTREAM_CIRCUIT_OPEN"

	// MCP protocol error codes
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeMethodNotFound = "METHOD_NOT_FOUND"

	// System error codes
	ErrCodeInternal             = "INTERNAL"
	ErrCodeInitializationFailed = "INITIALIZATION_FAILED"
	ErrCodeShutdownFailed       = "SHUTDOWN_FAILED"
)
