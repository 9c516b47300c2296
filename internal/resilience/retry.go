package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (not including the
	// initial attempt).
	MaxRetries int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration

	// ExponentialBase is the factor by which delay grows per attempt.
	ExponentialBase float64

	// Jitter scales each delay by a random factor in [0.5, 1.0] to
	// prevent thundering herd.
	Jitter bool
}

// DefaultRetryConfig returns sensible default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		BaseDelay:       1 * time.Second,
		MaxDelay:        16 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          false,
	}
}

// delayFor computes the backoff delay for the given attempt (0-based).
func (cfg RetryConfig) delayFor(attempt int) time.Duration {
	base := cfg.ExponentialBase
	if base <= 0 {
		base = 2.0
	}

	delay := time.Duration(float64(cfg.BaseDelay) * math.Pow(base, float64(attempt)))
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if cfg.Jitter {
		delay = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
	}
	return delay
}

// Retry executes a function with exponential backoff retry logic.
// Circuit breaker rejections are never retried; they propagate immediately
// so the caller can back off for the recovery timeout instead.
// If the context is cancelled, it returns the context error immediately.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		if IsCircuitOpen(err) {
			return err
		}
		lastErr = err

		if attempt >= cfg.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.delayFor(attempt)):
		}
	}

	return fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

// RetryWithResult executes a function that returns a value with retry logic.
// Similar to Retry but for functions that return both a result and an error.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		if IsCircuitOpen(err) {
			return zero, err
		}
		lastErr = err

		if attempt >= cfg.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(cfg.delayFor(attempt)):
		}
	}

	return zero, fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

// Guard bundles a circuit breaker with a retry policy for one dependency.
// Every attempt passes through the breaker, so an open circuit short-circuits
// the remaining retry budget.
type Guard struct {
	breaker *CircuitBreaker
	retry   RetryConfig
}

// NewGuard creates a guard around the given breaker and retry config.
func NewGuard(breaker *CircuitBreaker, retry RetryConfig) *Guard {
	return &Guard{breaker: breaker, retry: retry}
}

// Breaker returns the underlying circuit breaker.
func (g *Guard) Breaker() *CircuitBreaker {
	return g.breaker
}

// Do runs fn through retry and circuit breaker.
func (g *Guard) Do(ctx context.Context, fn func() error) error {
	return Retry(ctx, g.retry, func() error {
		return g.breaker.Execute(fn)
	})
}

// GuardedCall runs fn through the guard's retry policy and circuit breaker,
// returning fn's result.
func GuardedCall[T any](ctx context.Context, g *Guard, fn func() (T, error)) (T, error) {
	return RetryWithResult(ctx, g.retry, func() (T, error) {
		return ExecuteWithResult(g.breaker, fn)
	})
}
