package tools

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"scanopy-mcp/pkg/errors"
	"scanopy-mcp/pkg/gateway"
	"scanopy-mcp/pkg/logging"
	"scanopy-mcp/pkg/policy"
)

const tracerName = "scanopy-mcp/tools"

// Call outcomes reported to the logging manager
const (
	OutcomeDispatched = "dispatched"
	OutcomeDryRun     = "dry_run"
	OutcomeNotFound   = "not_found"
	OutcomeInvalid    = "invalid"
	OutcomeDenied     = "denied"
	OutcomeFailed     = "failed"
)

// Gateway sends one request to the remote API
type Gateway interface {
	Request(ctx context.Context, method, pathTemplate string, args map[string]interface{}) (interface{}, error)
}

// CallOptions carries the per-call controls that are not tool arguments
type CallOptions struct {
	Confirm string
	DryRun  bool
}

// MissingFieldsError lists required arguments absent from a call
type MissingFieldsError struct {
	Tool    string
	Missing []string
}

func (e *MissingFieldsError) Error() string {
	return "Missing required fields: " + strings.Join(e.Missing, ", ")
}

// StructuredError implements errors.Classifier
func (e *MissingFieldsError) StructuredError() *errors.StructuredError {
	return errors.NewValidationError(errors.ErrCodeMissingFields, e.Error(), e).
		WithContext("tool", e.Tool).
		WithContext("missing", e.Missing)
}

// DryRunResult previews the request a call would send
type DryRunResult struct {
	DryRun  bool          `json:"dry_run"`
	Request DryRunRequest `json:"request"`
}

// DryRunRequest is the request part of a dry-run preview
type DryRunRequest struct {
	Method string                 `json:"method"`
	Path   string                 `json:"path"`
	Args   map[string]interface{} `json:"args"`
}

// Dispatcher validates, authorizes and forwards tool calls. It keeps no
// state between calls beyond metrics.
type Dispatcher struct {
	manager *ToolManager
	guard   *policy.Guard
	gateway Gateway
	logs    *logging.LoggingManager
	logger  *logging.StructuredLogger
}

// NewDispatcher wires a dispatcher over the registry, the guard and the gateway
func NewDispatcher(manager *ToolManager, guard *policy.Guard, gw Gateway, logs *logging.LoggingManager) *Dispatcher {
	if logs == nil {
		logs = logging.NewLoggingManager()
	}
	return &Dispatcher{
		manager: manager,
		guard:   guard,
		gateway: gw,
		logs:    logs,
		logger:  logs.GetLogger("dispatcher"),
	}
}

// Call runs one tool: lookup, required-field check, policy check for
// mutating tools, then either a dry-run preview or a gateway request.
func (d *Dispatcher) Call(ctx context.Context, name string, args map[string]interface{}, opts CallOptions) (interface{}, error) {
	if args == nil {
		args = map[string]interface{}{}
	}

	callID := uuid.NewString()
	start := time.Now()

	// Resolved per call so a provider installed after wiring is used
	ctx, span := otel.Tracer(tracerName).Start(ctx, "tools.call", trace.WithAttributes(
		attribute.String("tool.name", name),
		attribute.String("tool.call_id", callID),
		attribute.Bool("tool.dry_run", opts.DryRun),
	))
	defer span.End()

	d.logger.WithContext("call_id", callID).LogToolArguments(name, args)

	method := ""
	fail := func(outcome string, err error) (interface{}, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.manager.recordFailure(name)
		d.logs.LogToolCall(name, method, callID, outcome, time.Since(start))
		return nil, err
	}

	tool, err := d.manager.GetTool(ctx, name)
	if err != nil {
		if errors.IsCategory(err, errors.ErrorCategoryNotFound) {
			return fail(OutcomeNotFound, err)
		}
		return fail(OutcomeFailed, err)
	}
	method = tool.Method
	span.SetAttributes(attribute.String("http.method", tool.Method), attribute.String("http.route", tool.Path))

	if missing := missingFields(tool.Required(), args); len(missing) > 0 {
		return fail(OutcomeInvalid, &MissingFieldsError{Tool: name, Missing: missing})
	}

	if tool.Mutating() {
		if err := d.guard.EnforceWrite(name, opts.Confirm); err != nil {
			return fail(OutcomeDenied, err)
		}
	}

	if opts.DryRun {
		d.manager.recordSuccess(name, time.Since(start).Milliseconds(), true)
		d.logs.LogToolCall(name, method, callID, OutcomeDryRun, time.Since(start))
		return &DryRunResult{
			DryRun: true,
			Request: DryRunRequest{
				Method: tool.Method,
				Path:   tool.Path,
				Args:   args,
			},
		}, nil
	}

	result, err := d.gateway.Request(ctx, tool.Method, tool.Path, args)
	if err != nil {
		var transportErr *gateway.TransportError
		if stderrors.As(err, &transportErr) && transportErr.Timeout {
			d.manager.RecordTimeout()
		}
		return fail(OutcomeFailed, err)
	}

	d.manager.recordSuccess(name, time.Since(start).Milliseconds(), false)
	d.logs.LogToolCall(name, method, callID, OutcomeDispatched, time.Since(start))
	return result, nil
}

// Manager returns the registry owner
func (d *Dispatcher) Manager() *ToolManager {
	return d.manager
}

func missingFields(required []string, args map[string]interface{}) []string {
	var missing []string
	for _, field := range required {
		if _, ok := args[field]; !ok {
			missing = append(missing, field)
		}
	}
	return missing
}
