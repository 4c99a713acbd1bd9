package errors

import (
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(maxFailures, successes int) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:      maxFailures,
		ResetTimeout:     time.Minute,
		SuccessThreshold: successes,
		Name:             "openapi",
	})
	cb.SetClock(clock.Now)
	return cb, clock
}

var errUpstream = stderrors.New("upstream down")

func fail() error    { return errUpstream }
func succeed() error { return nil }

func TestCircuitBreaker(t *testing.T) {
	t.Run("opens after consecutive failures", func(t *testing.T) {
		cb, _ := newTestBreaker(3, 1)
		assert.Equal(t, CircuitBreakerClosed, cb.GetState())

		for i := 0; i < 3; i++ {
			assert.ErrorIs(t, cb.Execute(fail), errUpstream)
		}
		assert.Equal(t, CircuitBreakerOpen, cb.GetState())
	})

	t.Run("a success resets the failure count", func(t *testing.T) {
		cb, _ := newTestBreaker(2, 1)
		_ = cb.Execute(fail)
		require.NoError(t, cb.Execute(succeed))
		_ = cb.Execute(fail)
		assert.Equal(t, CircuitBreakerClosed, cb.GetState())
	})

	t.Run("open circuit rejects without calling", func(t *testing.T) {
		cb, _ := newTestBreaker(1, 1)
		_ = cb.Execute(fail)

		called := false
		err := cb.Execute(func() error { called = true; return nil })
		require.Error(t, err)
		assert.False(t, called)

		se := From(err)
		assert.Equal(t, ErrCodeCircuitOpen, se.Code)
		assert.Equal(t, ErrorCategoryTransport, se.Category)
		assert.Equal(t, int64(1), cb.GetStats().Rejected)
	})

	t.Run("probe after reset timeout", func(t *testing.T) {
		cb, clock := newTestBreaker(1, 2)
		_ = cb.Execute(fail)

		clock.Advance(time.Minute)
		require.NoError(t, cb.Execute(succeed))
		assert.Equal(t, CircuitBreakerHalfOpen, cb.GetState())
		require.NoError(t, cb.Execute(succeed))
		assert.Equal(t, CircuitBreakerClosed, cb.GetState())
	})

	t.Run("failed probe reopens", func(t *testing.T) {
		cb, clock := newTestBreaker(3, 1)
		for i := 0; i < 3; i++ {
			_ = cb.Execute(fail)
		}
		clock.Advance(time.Minute)
		_ = cb.Execute(fail)
		assert.Equal(t, CircuitBreakerOpen, cb.GetState())

		clock.Advance(30 * time.Second)
		assert.Error(t, cb.Execute(succeed))
	})

	t.Run("state changes are reported in order", func(t *testing.T) {
		cb, clock := newTestBreaker(1, 1)
		var seen []string
		cb.SetStateChangeCallback(func(from, to CircuitBreakerState) {
			seen = append(seen, from.String()+"->"+to.String())
		})

		_ = cb.Execute(fail)
		clock.Advance(time.Minute)
		_ = cb.Execute(succeed)

		assert.Equal(t, []string{"CLOSED->OPEN", "OPEN->HALF_OPEN", "HALF_OPEN->CLOSED"}, seen)
	})

	t.Run("stats", func(t *testing.T) {
		cb, clock := newTestBreaker(5, 1)
		_ = cb.Execute(fail)
		stats := cb.GetStats()
		assert.Equal(t, "openapi", stats.Name)
		assert.Equal(t, "CLOSED", stats.State)
		assert.Equal(t, 1, stats.FailureCount)
		assert.Equal(t, clock.Now(), stats.LastFailureTime)
	})
}
