package errors

import (
	"fmt"
	"sync"
	"time"
)

// CircuitBreakerState is the state of a circuit breaker
type CircuitBreakerState int

const (
	// CircuitBreakerClosed lets every call through
	CircuitBreakerClosed CircuitBreakerState = iota
	// CircuitBreakerOpen rejects calls until the reset timeout passes
	CircuitBreakerOpen
	// CircuitBreakerHalfOpen lets probe calls through
	CircuitBreakerHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case CircuitBreakerClosed:
		return "CLOSED"
	case CircuitBreakerOpen:
		return "OPEN"
	case CircuitBreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig holds configuration for a circuit breaker
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the circuit
	MaxFailures int
	// ResetTimeout is how long the circuit stays open before probing
	ResetTimeout time.Duration
	// SuccessThreshold is the number of probe successes that closes the circuit
	SuccessThreshold int
	Name             string
}

// DefaultCircuitBreakerConfig returns the configuration used for upstream fetches
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:      5,
		ResetTimeout:     30 * time.Second,
		SuccessThreshold: 1,
		Name:             name,
	}
}

// CircuitBreaker stops calling a failing upstream for a while. Rejected calls
// fail with a transport error so callers treat them like any other outage.
type CircuitBreaker struct {
	config          CircuitBreakerConfig
	state           CircuitBreakerState
	failureCount    int
	successCount    int
	rejected        int64
	lastFailureTime time.Time
	now             func() time.Time
	onStateChange   func(from, to CircuitBreakerState)
	mutex           sync.Mutex
}

// NewCircuitBreaker creates a closed circuit breaker
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures < 1 {
		config.MaxFailures = 1
	}
	if config.SuccessThreshold < 1 {
		config.SuccessThreshold = 1
	}
	return &CircuitBreaker{
		config: config,
		state:  CircuitBreakerClosed,
		now:    time.Now,
	}
}

// SetClock replaces the time source, for tests
func (cb *CircuitBreaker) SetClock(now func() time.Time) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.now = now
}

// SetStateChangeCallback registers fn to run on every state transition. It is
// called synchronously after the breaker lock is released.
func (cb *CircuitBreaker) SetStateChangeCallback(fn func(from, to CircuitBreakerState)) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.onStateChange = fn
}

// Execute runs fn unless the circuit is open
func (cb *CircuitBreaker) Execute(fn func() error) error {
	allowed, transition := cb.allowRequest()
	cb.notify(transition)
	if !allowed {
		return NewTransportError(ErrCodeCircuitOpen,
			fmt.Sprintf("upstream %s is unavailable, retrying after %s", cb.config.Name, cb.config.ResetTimeout), nil).
			WithContext("circuit_breaker", cb.config.Name)
	}

	err := fn()
	cb.notify(cb.recordResult(err))
	return err
}

type transition struct {
	from, to CircuitBreakerState
	fn       func(from, to CircuitBreakerState)
}

func (cb *CircuitBreaker) notify(t *transition) {
	if t != nil && t.fn != nil {
		t.fn(t.from, t.to)
	}
}

func (cb *CircuitBreaker) allowRequest() (bool, *transition) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case CircuitBreakerOpen:
		if cb.now().Sub(cb.lastFailureTime) >= cb.config.ResetTimeout {
			return true, cb.setState(CircuitBreakerHalfOpen)
		}
		cb.rejected++
		return false, nil
	default:
		return true, nil
	}
}

func (cb *CircuitBreaker) recordResult(err error) *transition {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if err != nil {
		cb.failureCount++
		cb.successCount = 0
		cb.lastFailureTime = cb.now()
		if cb.state == CircuitBreakerHalfOpen || cb.failureCount >= cb.config.MaxFailures {
			return cb.setState(CircuitBreakerOpen)
		}
		return nil
	}

	cb.successCount++
	switch cb.state {
	case CircuitBreakerHalfOpen:
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.failureCount = 0
			cb.successCount = 0
			return cb.setState(CircuitBreakerClosed)
		}
	case CircuitBreakerClosed:
		cb.failureCount = 0
	}
	return nil
}

func (cb *CircuitBreaker) setState(to CircuitBreakerState) *transition {
	from := cb.state
	if from == to {
		return nil
	}
	cb.state = to
	return &transition{from: from, to: to, fn: cb.onStateChange}
}

// GetState returns the current state
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// CircuitBreakerStats is a point-in-time view of a breaker
type CircuitBreakerStats struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	FailureCount    int       `json:"failure_count"`
	Rejected        int64     `json:"rejected"`
	LastFailureTime time.Time `json:"last_failure_time"`
}

// GetStats returns statistics about the circuit breaker
func (cb *CircuitBreaker) GetStats() CircuitBreakerStats {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return CircuitBreakerStats{
		Name:            cb.config.Name,
		State:           cb.state.String(),
		FailureCount:    cb.failureCount,
		Rejected:        cb.rejected,
		LastFailureTime: cb.lastFailureTime,
	}
}
