package tools

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"scanopy-mcp/pkg/errors"
	"scanopy-mcp/pkg/logging"
	"scanopy-mcp/pkg/openapi"
	"scanopy-mcp/pkg/policy"
)

// DocumentSource provides the current interface document
type DocumentSource interface {
	Load(ctx context.Context) (*openapi.Document, error)
}

// State is the registry lifecycle: uninitialized -> building -> ready
type State int32

const (
	StateUninitialized State = iota
	StateBuilding
	StateReady
)

func (s State) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateReady:
		return "ready"
	default:
		return "uninitialized"
	}
}

// ToolNotFoundError is returned for a name absent from the registry
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("Tool not found: %s", e.Name)
}

// StructuredError implements errors.Classifier
func (e *ToolNotFoundError) StructuredError() *errors.StructuredError {
	return errors.NewNotFoundError(errors.ErrCodeToolNotFound, e.Error(), e).
		WithContext("tool", e.Name)
}

// Snapshot is one fully built registry. It is never mutated after creation.
type Snapshot struct {
	document *openapi.Document
	tools    map[string]*Tool
	ordered  []*Tool
	builtAt  time.Time
}

func newSnapshot(doc *openapi.Document, list []*Tool) *Snapshot {
	tools := make(map[string]*Tool, len(list))
	for _, tool := range list {
		tools[tool.Name] = tool
	}
	return &Snapshot{document: doc, tools: tools, ordered: list, builtAt: time.Now()}
}

// Get looks a tool up by name
func (s *Snapshot) Get(name string) (*Tool, error) {
	tool, ok := s.tools[name]
	if !ok {
		return nil, &ToolNotFoundError{Name: name}
	}
	return tool, nil
}

// Tools returns the tools in document order
func (s *Snapshot) Tools() []*Tool {
	out := make([]*Tool, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// Len returns the number of tools
func (s *Snapshot) Len() int {
	return len(s.ordered)
}

// BuiltAt returns when the snapshot was derived
func (s *Snapshot) BuiltAt() time.Time {
	return s.builtAt
}

// ToolManager owns the tool registry. The registry is derived lazily from
// the current document and rebuilt, as a whole, whenever the document changes.
type ToolManager struct {
	source    DocumentSource
	allowlist *policy.Allowlist
	logger    *logging.StructuredLogger

	snapshot atomic.Pointer[Snapshot]
	state    atomic.Int32
	builds   singleflight.Group

	// Performance metrics
	stats ToolStats
}

// ToolStats tracks registry builds and tool invocations
type ToolStats struct {
	Builds               int64
	BuildFailures        int64
	StaleServes          int64
	TotalInvocations     int64
	FailedInvocations    int64
	DryRuns              int64
	InvocationsByName    map[string]int64
	TotalExecutionTimeMs int64
	ExecutionTimeByName  map[string]int64
	TimeoutCount         int64
	mu                   sync.RWMutex
}

// NewToolManager creates a ToolManager reading documents from source
func NewToolManager(source DocumentSource, allowlist *policy.Allowlist, logger *logging.StructuredLogger) *ToolManager {
	if logger == nil {
		logger = logging.NewLoggingManager().GetLogger("tools")
	}
	return &ToolManager{
		source:    source,
		allowlist: allowlist,
		logger:    logger,
		stats: ToolStats{
			InvocationsByName:   make(map[string]int64),
			ExecutionTimeByName: make(map[string]int64),
		},
	}
}

// State returns the current lifecycle state
func (tm *ToolManager) State() State {
	return State(tm.state.Load())
}

// Registry returns a ready snapshot for the current document, building it
// first if needed. Concurrent callers share one build. When the document
// cannot be loaded but a previous snapshot exists, that snapshot is served.
func (tm *ToolManager) Registry(ctx context.Context) (*Snapshot, error) {
	doc, err := tm.source.Load(ctx)
	if err != nil {
		if current := tm.snapshot.Load(); current != nil {
			tm.stats.mu.Lock()
			tm.stats.StaleServes++
			tm.stats.mu.Unlock()
			tm.logger.WithError(err).Warn("Serving previous tool registry, document unavailable")
			return current, nil
		}
		return nil, err
	}

	if current := tm.snapshot.Load(); current != nil && current.document == doc {
		return current, nil
	}

	v, err, _ := tm.builds.Do("registry", func() (interface{}, error) {
		if current := tm.snapshot.Load(); current != nil && current.document == doc {
			return current, nil
		}
		return tm.build(doc)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

func (tm *ToolManager) build(doc *openapi.Document) (*Snapshot, error) {
	previous := tm.State()
	tm.state.Store(int32(StateBuilding))
	start := time.Now()

	list, err := DeriveToolList(doc, tm.allowlist)
	if err != nil {
		tm.state.Store(int32(previous))
		tm.stats.mu.Lock()
		tm.stats.BuildFailures++
		tm.stats.mu.Unlock()
		tm.logger.WithError(err).Error("Tool registry build failed")
		return nil, err
	}

	for _, tool := range list {
		if err := CompileInputSchema(tool, doc); err != nil {
			tm.logger.WithContext("tool", tool.Name).
				WithContext("reason", err.Error()).
				Warn("Derived input schema does not compile")
		}
	}

	snap := newSnapshot(doc, list)
	tm.snapshot.Store(snap)
	tm.state.Store(int32(StateReady))

	tm.stats.mu.Lock()
	tm.stats.Builds++
	tm.stats.mu.Unlock()

	tm.logger.WithContext("tool_count", snap.Len()).
		WithContext("allowlist_size", tm.allowlist.Len()).
		WithContext("duration_ms", time.Since(start).Milliseconds()).
		Info("Tool registry built")
	return snap, nil
}

// GetTool retrieves a tool by name from the current registry
func (tm *ToolManager) GetTool(ctx context.Context, name string) (*Tool, error) {
	snap, err := tm.Registry(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Get(name)
}

// ListTools returns the client-facing definitions in document order
func (tm *ToolManager) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	snap, err := tm.Registry(ctx)
	if err != nil {
		return nil, err
	}

	defs := make([]ToolDefinition, 0, snap.Len())
	for _, tool := range snap.ordered {
		defs = append(defs, NewToolDefinition(tool))
	}
	return defs, nil
}

// GetPerformanceMetrics returns current performance metrics
func (tm *ToolManager) GetPerformanceMetrics() map[string]interface{} {
	tm.stats.mu.RLock()
	defer tm.stats.mu.RUnlock()

	invocationsByName := make(map[string]int64)
	for name, count := range tm.stats.InvocationsByName {
		invocationsByName[name] = count
	}

	executionTimeByName := make(map[string]int64)
	for name, ms := range tm.stats.ExecutionTimeByName {
		executionTimeByName[name] = ms
	}

	toolCount := 0
	if snap := tm.snapshot.Load(); snap != nil {
		toolCount = snap.Len()
	}

	return map[string]interface{}{
		"registry_state":          tm.State().String(),
		"tool_count":              toolCount,
		"builds":                  tm.stats.Builds,
		"build_failures":          tm.stats.BuildFailures,
		"stale_serves":            tm.stats.StaleServes,
		"total_invocations":       tm.stats.TotalInvocations,
		"failed_invocations":      tm.stats.FailedInvocations,
		"dry_runs":                tm.stats.DryRuns,
		"invocations_by_name":     invocationsByName,
		"total_execution_time_ms": tm.stats.TotalExecutionTimeMs,
		"execution_time_by_name":  executionTimeByName,
		"timeout_count":           tm.stats.TimeoutCount,
	}
}

// recordSuccess records a successful tool invocation
func (tm *ToolManager) recordSuccess(toolName string, executionTimeMs int64, dryRun bool) {
	tm.stats.mu.Lock()
	defer tm.stats.mu.Unlock()

	tm.stats.TotalInvocations++
	tm.stats.InvocationsByName[toolName]++
	tm.stats.TotalExecutionTimeMs += executionTimeMs
	tm.stats.ExecutionTimeByName[toolName] += executionTimeMs
	if dryRun {
		tm.stats.DryRuns++
	}
}

// recordFailure records a failed tool invocation
func (tm *ToolManager) recordFailure(toolName string) {
	tm.stats.mu.Lock()
	defer tm.stats.mu.Unlock()

	tm.stats.TotalInvocations++
	tm.stats.FailedInvocations++
	tm.stats.InvocationsByName[toolName]++
}

// RecordTimeout records a gateway timeout
func (tm *ToolManager) RecordTimeout() {
	tm.stats.mu.Lock()
	defer tm.stats.mu.Unlock()

	tm.stats.TimeoutCount++
}
