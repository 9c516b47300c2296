// Package resilience guards calls to external dependencies with a
// per-dependency circuit breaker and exponential backoff retries.
package resilience

import (
	"sync"
	"time"

	mverr "github.com/Aman-CERP/multivec/internal/errors"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed is the normal state where requests are allowed.
	StateClosed State = iota
	// StateOpen is when the circuit is tripped and requests are blocked.
	StateOpen
	// StateHalfOpen is when the circuit is testing if the dependency recovered.
	StateHalfOpen
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker implements the circuit breaker pattern for one guarded
// dependency. A success in the closed state decrements the failure counter
// rather than resetting it, so recovery after a burst of failures is gradual
// while tripping stays instant.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	recoveryTimeout  time.Duration
	halfOpenMaxCalls int

	mu            sync.Mutex
	state         State
	failures      int
	lastFailure   time.Time
	halfOpenCalls int
}

// CircuitBreakerOption configures a CircuitBreaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithFailureThreshold sets the number of failures before opening the circuit.
func WithFailureThreshold(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.failureThreshold = n
	}
}

// WithRecoveryTimeout sets the time to wait before attempting recovery.
func WithRecoveryTimeout(d time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.recoveryTimeout = d
	}
}

// WithHalfOpenMaxCalls sets how many concurrent probes the half-open state admits.
func WithHalfOpenMaxCalls(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.halfOpenMaxCalls = n
	}
}

// NewCircuitBreaker creates a new circuit breaker with the given name.
// Default: 5 failures, 30 second recovery timeout, 1 half-open probe.
func NewCircuitBreaker(name string, opts ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:             name,
		failureThreshold: 5,
		recoveryTimeout:  30 * time.Second,
		halfOpenMaxCalls: 1,
		state:            StateClosed,
	}

	for _, opt := range opts {
		opt(cb)
	}

	return cb
}

// Name returns the circuit breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen(time.Now())
	return cb.state
}

// Failures returns the current failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// maybeHalfOpen transitions OPEN to HALF_OPEN once the recovery timeout has
// elapsed, resetting the probe counter. Must be called with the lock held.
func (cb *CircuitBreaker) maybeHalfOpen(now time.Time) {
	if cb.state == StateOpen && now.Sub(cb.lastFailure) >= cb.recoveryTimeout {
		cb.state = StateHalfOpen
		cb.halfOpenCalls = 0
	}
}

// acquire decides whether a call may proceed and registers a half-open probe.
// Returns a CircuitOpenError when the call is rejected.
func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeHalfOpen(time.Now())

	switch cb.state {
	case StateOpen:
		return cb.openError()
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.halfOpenMaxCalls {
			return cb.openError()
		}
		cb.halfOpenCalls++
		return nil
	default: // StateClosed
		return nil
	}
}

func (cb *CircuitBreaker) openError() *mverr.MultivecError {
	e := mverr.New(mverr.ErrCodeCircuitOpen, "circuit breaker "+cb.name+" is open", nil)
	return e.WithDetail("breaker", cb.name)
}

// recordSuccess records a successful call.
func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		// Probe succeeded, the dependency recovered.
		cb.state = StateClosed
		cb.failures = 0
		cb.halfOpenCalls = 0
	default:
		if cb.failures > 0 {
			cb.failures--
		}
	}
}

// recordFailure records a failed call.
func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		// A failed probe reopens the circuit immediately.
		cb.state = StateOpen
		cb.lastFailure = time.Now()
		cb.halfOpenCalls = 0
	default:
		cb.failures++
		cb.lastFailure = time.Now()
		if cb.failures >= cb.failureThreshold {
			cb.state = StateOpen
		}
	}
}

// Execute runs a function through the circuit breaker.
// Returns a CircuitOpenError without invoking fn if the circuit is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.acquire(); err != nil {
		return err
	}

	if err := fn(); err != nil {
		cb.recordFailure()
		return err
	}

	cb.recordSuccess()
	return nil
}

// ExecuteWithResult runs a function that returns a value through the
// circuit breaker.
func ExecuteWithResult[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T

	if err := cb.acquire(); err != nil {
		return zero, err
	}

	result, err := fn()
	if err != nil {
		cb.recordFailure()
		return zero, err
	}

	cb.recordSuccess()
	return result, nil
}

// IsCircuitOpen reports whether err is a circuit breaker rejection.
func IsCircuitOpen(err error) bool {
	return mverr.GetCode(err) == mverr.ErrCodeCircuitOpen
}
