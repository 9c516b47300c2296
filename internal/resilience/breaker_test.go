package resilience

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func failingCall() error { return errBoom }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("embed-backend",
		WithFailureThreshold(3),
		WithRecoveryTimeout(time.Hour))

	// Two failures: still closed.
	for i := 0; i < 2; i++ {
		require.ErrorIs(t, cb.Execute(failingCall), errBoom)
	}
	assert.Equal(t, StateClosed, cb.State())

	// Third failure trips the breaker.
	require.ErrorIs(t, cb.Execute(failingCall), errBoom)
	assert.Equal(t, StateOpen, cb.State())

	// Calls are now rejected without invoking the function.
	var called bool
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	assert.True(t, IsCircuitOpen(err))
	assert.False(t, called)
}

func TestCircuitBreaker_SuccessDecrementsFailures(t *testing.T) {
	cb := NewCircuitBreaker("vector-store", WithFailureThreshold(5))

	for i := 0; i < 3; i++ {
		_ = cb.Execute(failingCall)
	}
	assert.Equal(t, 3, cb.Failures())

	// Successes walk the counter back down one at a time, not to zero.
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, 2, cb.Failures())

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, 1, cb.Failures())

	// Floor at zero.
	require.NoError(t, cb.Execute(func() error { return nil }))
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitBreaker_HalfOpenAfterRecoveryTimeout(t *testing.T) {
	cb := NewCircuitBreaker("embed-backend",
		WithFailureThreshold(1),
		WithRecoveryTimeout(20*time.Millisecond))

	require.Error(t, cb.Execute(failingCall))
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	// A successful probe closes the circuit and resets failures.
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("embed-backend",
		WithFailureThreshold(1),
		WithRecoveryTimeout(10*time.Millisecond))

	require.Error(t, cb.Execute(failingCall))
	time.Sleep(15 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.ErrorIs(t, cb.Execute(failingCall), errBoom)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenAdmitsSingleProbe(t *testing.T) {
	cb := NewCircuitBreaker("embed-backend",
		WithFailureThreshold(1),
		WithRecoveryTimeout(10*time.Millisecond),
		WithHalfOpenMaxCalls(1))

	require.Error(t, cb.Execute(failingCall))
	time.Sleep(15 * time.Millisecond)

	// Many concurrent callers race for the probe slot; exactly one runs.
	var admitted atomic.Int32
	release := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Execute(func() error {
				admitted.Add(1)
				<-release
				return nil
			})
		}()
	}

	// Give the goroutines time to hit the breaker, then let the probe finish.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), admitted.Load())
	close(release)
	wg.Wait()

	assert.Equal(t, StateClosed, cb.State())
}

func TestExecuteWithResult(t *testing.T) {
	cb := NewCircuitBreaker("vector-store", WithFailureThreshold(1), WithRecoveryTimeout(time.Hour))

	got, err := ExecuteWithResult(cb, func() ([]string, error) {
		return []string{"d1", "d2"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "d2"}, got)

	_, err = ExecuteWithResult(cb, func() ([]string, error) { return nil, errBoom })
	require.ErrorIs(t, err, errBoom)

	// Breaker is open now; the call is rejected fast.
	_, err = ExecuteWithResult(cb, func() ([]string, error) { return nil, nil })
	assert.True(t, IsCircuitOpen(err))
}
