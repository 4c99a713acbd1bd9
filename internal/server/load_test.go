package server

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loadTestConfig defines one concurrent load run
type loadTestConfig struct {
	Duration          time.Duration
	ConcurrentClients int
	RequestsPerSecond int
}

type loadTestResults struct {
	TotalRequests   int64
	FailedRequests  int64
	P95ResponseTime time.Duration
}

func TestLoadConcurrentClients(t *testing.T) {
	if testing.Short() {
		t.Skip("load test skipped in short mode")
	}

	env := newTestEnv(t, nil, false)
	_, err := env.manager.ListTools(context.Background())
	require.NoError(t, err)

	results := runLoadTest(t, env, loadTestConfig{
		Duration:          500 * time.Millisecond,
		ConcurrentClients: 8,
		RequestsPerSecond: 50,
	})

	t.Logf("requests=%d failed=%d p95=%v", results.TotalRequests, results.FailedRequests, results.P95ResponseTime)
	require.Greater(t, results.TotalRequests, int64(0))
	assert.Zero(t, results.FailedRequests)
	assert.Equal(t, results.TotalRequests, env.server.requests.Load())
}

func runLoadTest(t *testing.T, env *testEnv, cfg loadTestConfig) loadTestResults {
	t.Helper()

	var total, failed atomic.Int64
	var mu sync.Mutex
	var times []time.Duration

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < cfg.ConcurrentClients; i++ {
		wg.Add(1)
		go func(client int) {
			defer wg.Done()
			ticker := time.NewTicker(time.Second / time.Duration(cfg.RequestsPerSecond))
			defer ticker.Stop()

			for n := 0; ; n++ {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					start := time.Now()
					ok := performRequest(env, client, n)
					elapsed := time.Since(start)

					total.Add(1)
					if !ok {
						failed.Add(1)
					}
					mu.Lock()
					times = append(times, elapsed)
					mu.Unlock()
				}
			}
		}(i)
	}
	wg.Wait()

	results := loadTestResults{TotalRequests: total.Load(), FailedRequests: failed.Load()}
	if len(times) > 0 {
		sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
		results.P95ResponseTime = times[len(times)*95/100]
	}
	return results
}

// performRequest rotates through listing, a read call, a dry run and the
// performance report.
func performRequest(env *testEnv, client, n int) bool {
	id := fmt.Sprintf("load-%d-%d", client, n)
	var line string
	switch n % 4 {
	case 0:
		line = fmt.Sprintf(`{"jsonrpc":"2.0","id":%q,"method":"tools/list"}`, id)
	case 1:
		line = fmt.Sprintf(`{"jsonrpc":"2.0","id":%q,"method":"tools/call","params":{"name":"get_host","arguments":{"id":"%d"}}}`, id, n)
	case 2:
		line = fmt.Sprintf(`{"jsonrpc":"2.0","id":%q,"method":"tools/call","params":{"name":"create_host","arguments":{"name":"h","confirm":%q,"dry_run":true}}}`, id, confirmText)
	default:
		line = fmt.Sprintf(`{"jsonrpc":"2.0","id":%q,"method":"server/performance"}`, id)
	}

	response := env.server.HandleLine(context.Background(), line)
	return response != nil && response.Error == nil && response.ID == id
}
