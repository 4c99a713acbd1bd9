package tools

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"scanopy-mcp/pkg/errors"
	"scanopy-mcp/pkg/gateway"
	"scanopy-mcp/pkg/logging"
	"scanopy-mcp/pkg/policy"
)

const confirmText = "I understand this will modify Scanopy"

type gatewayCall struct {
	Method string
	Path   string
	Args   map[string]interface{}
}

type fakeGateway struct {
	mu     sync.Mutex
	calls  []gatewayCall
	result interface{}
	err    error
}

func (g *fakeGateway) Request(ctx context.Context, method, pathTemplate string, args map[string]interface{}) (interface{}, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, gatewayCall{Method: method, Path: pathTemplate, Args: args})
	return g.result, g.err
}

func (g *fakeGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func newTestDispatcher(t *testing.T, gw Gateway, logs *logging.LoggingManager) *Dispatcher {
	t.Helper()
	if logs == nil {
		logs = testLogs()
	}
	allow := policy.NewAllowlist("create_host")
	source := &fakeSource{doc: mustParse(t, hostsDocument)}
	manager := NewToolManager(source, allow, logs.GetLogger("tools"))
	return NewDispatcher(manager, policy.NewGuard(allow, confirmText), gw, logs)
}

func TestDispatcherReadCall(t *testing.T) {
	gw := &fakeGateway{result: map[string]interface{}{"id": "42"}}
	d := newTestDispatcher(t, gw, nil)

	result, err := d.Call(context.Background(), "get_host", map[string]interface{}{"id": "42"}, CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"id": "42"}, result)

	require.Equal(t, 1, gw.count())
	assert.Equal(t, gatewayCall{Method: "GET", Path: "/hosts/{id}", Args: map[string]interface{}{"id": "42"}}, gw.calls[0])
}

func TestDispatcherWriteCall(t *testing.T) {
	gw := &fakeGateway{result: map[string]interface{}{"ok": true}}
	d := newTestDispatcher(t, gw, nil)

	_, err := d.Call(context.Background(), "create_host", map[string]interface{}{"name": "db-1"}, CallOptions{Confirm: confirmText})
	require.NoError(t, err)
	require.Equal(t, 1, gw.count())
	assert.Equal(t, "POST", gw.calls[0].Method)
}

func TestDispatcherRejections(t *testing.T) {
	tests := []struct {
		name     string
		tool     string
		args     map[string]interface{}
		opts     CallOptions
		category errors.ErrorCategory
		check    func(t *testing.T, err error)
	}{
		{
			name:     "unknown tool",
			tool:     "purge_hosts",
			category: errors.ErrorCategoryNotFound,
			check: func(t *testing.T, err error) {
				var target *ToolNotFoundError
				assert.True(t, stderrors.As(err, &target))
			},
		},
		{
			name:     "missing path parameter",
			tool:     "get_host",
			args:     map[string]interface{}{"other": 1},
			category: errors.ErrorCategoryValidation,
			check: func(t *testing.T, err error) {
				var target *MissingFieldsError
				require.True(t, stderrors.As(err, &target))
				assert.Equal(t, []string{"id"}, target.Missing)
				assert.Equal(t, "Missing required fields: id", err.Error())
			},
		},
		{
			name:     "missing body field with valid confirmation",
			tool:     "create_host",
			args:     map[string]interface{}{"ip": "10.0.0.1"},
			opts:     CallOptions{Confirm: confirmText},
			category: errors.ErrorCategoryValidation,
			check: func(t *testing.T, err error) {
				var target *MissingFieldsError
				assert.True(t, stderrors.As(err, &target))
			},
		},
		{
			name:     "wrong confirmation",
			tool:     "create_host",
			args:     map[string]interface{}{"name": "db-1"},
			opts:     CallOptions{Confirm: "yes"},
			category: errors.ErrorCategoryPolicy,
			check: func(t *testing.T, err error) {
				var target *policy.ConfirmationMismatchError
				assert.True(t, stderrors.As(err, &target))
			},
		},
		{
			name:     "confirmation is compared exactly",
			tool:     "create_host",
			args:     map[string]interface{}{"name": "db-1"},
			opts:     CallOptions{Confirm: confirmText + " "},
			category: errors.ErrorCategoryPolicy,
		},
		{
			name:     "dry run is still authorized",
			tool:     "create_host",
			args:     map[string]interface{}{"name": "db-1"},
			opts:     CallOptions{DryRun: true},
			category: errors.ErrorCategoryPolicy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &fakeGateway{}
			d := newTestDispatcher(t, gw, nil)

			_, err := d.Call(context.Background(), tt.tool, tt.args, tt.opts)
			require.Error(t, err)
			assert.Equal(t, tt.category, errors.From(err).Category)
			if tt.check != nil {
				tt.check(t, err)
			}
			assert.Zero(t, gw.count(), "no request may reach the gateway")
		})
	}
}

func TestDispatcherGuardAllowlistIsEnforced(t *testing.T) {
	gw := &fakeGateway{}
	logs := testLogs()
	source := &fakeSource{doc: mustParse(t, hostsDocument)}
	manager := NewToolManager(source, policy.NewAllowlist("create_host"), logs.GetLogger("tools"))
	d := NewDispatcher(manager, policy.NewGuard(policy.NewAllowlist(), confirmText), gw, logs)

	_, err := d.Call(context.Background(), "create_host", map[string]interface{}{"name": "db-1"}, CallOptions{Confirm: confirmText})
	var target *policy.NotAllowlistedError
	require.True(t, stderrors.As(err, &target))
	assert.Zero(t, gw.count())
}

func TestDispatcherDryRun(t *testing.T) {
	gw := &fakeGateway{}
	d := newTestDispatcher(t, gw, nil)

	args := map[string]interface{}{"name": "db-1"}
	result, err := d.Call(context.Background(), "create_host", args, CallOptions{Confirm: confirmText, DryRun: true})
	require.NoError(t, err)
	assert.Zero(t, gw.count())

	preview, ok := result.(*DryRunResult)
	require.True(t, ok)
	assert.True(t, preview.DryRun)
	assert.Equal(t, "POST", preview.Request.Method)
	assert.Equal(t, "/hosts", preview.Request.Path)
	assert.Equal(t, args, preview.Request.Args)

	data, err := json.Marshal(result)
	require.NoError(t, err)
	assert.JSONEq(t, `{"dry_run": true, "request": {"method": "POST", "path": "/hosts", "args": {"name": "db-1"}}}`, string(data))

	assert.Equal(t, int64(1), d.Manager().GetPerformanceMetrics()["dry_runs"])
}

func TestDispatcherGatewayFailure(t *testing.T) {
	t.Run("error propagates unchanged", func(t *testing.T) {
		upstream := &gateway.TransportError{Method: "GET", URL: "http://scanopy/hosts/1", StatusCode: http.StatusBadGateway}
		d := newTestDispatcher(t, &fakeGateway{err: upstream}, nil)

		_, err := d.Call(context.Background(), "get_host", map[string]interface{}{"id": "1"}, CallOptions{})
		assert.Same(t, upstream, err)
		assert.Equal(t, errors.ErrorCategoryTransport, errors.From(err).Category)

		metrics := d.Manager().GetPerformanceMetrics()
		assert.Equal(t, int64(1), metrics["failed_invocations"])
		assert.Equal(t, int64(0), metrics["timeout_count"])
	})

	t.Run("timeouts are counted", func(t *testing.T) {
		upstream := &gateway.TransportError{Method: "GET", URL: "http://scanopy/hosts/1", Timeout: true, Cause: context.DeadlineExceeded}
		d := newTestDispatcher(t, &fakeGateway{err: upstream}, nil)

		_, err := d.Call(context.Background(), "get_host", map[string]interface{}{"id": "1"}, CallOptions{})
		require.Error(t, err)
		assert.Equal(t, int64(1), d.Manager().GetPerformanceMetrics()["timeout_count"])
	})
}

func TestDispatcherLogsOutcomes(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	logs := logging.NewLoggingManagerWithCore(core)
	d := newTestDispatcher(t, &fakeGateway{}, logs)

	_, err := d.Call(context.Background(), "create_host", map[string]interface{}{"name": "db-1"}, CallOptions{Confirm: "nope"})
	require.Error(t, err)

	rejected := observed.FilterMessage("Tool call rejected").All()
	require.Len(t, rejected, 1)
	fields := rejected[0].ContextMap()
	assert.Equal(t, "create_host", fields["tool"])
	assert.Equal(t, OutcomeDenied, fields["outcome"])
	assert.Equal(t, "POST", fields["http_method"])
	assert.NotEmpty(t, fields["call_id"])
}

func TestDispatcherSubstitutesPathOverHTTP(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "42", "name": "db-1"}`))
	}))
	defer srv.Close()

	logs := testLogs()
	client := gateway.NewClient(srv.URL, "secret-token", 5*time.Second, logs.GetLogger("gateway"))
	d := newTestDispatcher(t, client, logs)

	result, err := d.Call(context.Background(), "get_host", map[string]interface{}{"id": "42"}, CallOptions{})
	require.NoError(t, err)

	assert.Equal(t, "/hosts/42", gotPath)
	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, map[string]interface{}{"id": "42", "name": "db-1"}, result)
}
