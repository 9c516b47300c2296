package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mverr "github.com/Aman-CERP/multivec/internal/errors"
	"github.com/Aman-CERP/multivec/internal/model"
	"github.com/Aman-CERP/multivec/internal/resilience"
)

// Dispatcher routes embedding batches to per-model backends. Each
// backend gets its own circuit breaker so one unhealthy model cannot
// block the others, and every call is retried per the shared policy.
type Dispatcher struct {
	registry *model.Registry
	retry    resilience.RetryConfig
	breaker  []resilience.CircuitBreakerOption

	mu       sync.RWMutex
	backends map[string]Backend
	guards   map[string]*resilience.Guard
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithRetryConfig overrides the default retry policy.
func WithRetryConfig(cfg resilience.RetryConfig) DispatcherOption {
	return func(d *Dispatcher) { d.retry = cfg }
}

// WithBreakerOptions sets the options applied to each per-model breaker.
func WithBreakerOptions(opts ...resilience.CircuitBreakerOption) DispatcherOption {
	return func(d *Dispatcher) { d.breaker = opts }
}

// NewDispatcher creates a dispatcher over the given registry.
func NewDispatcher(registry *model.Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		retry:    resilience.DefaultRetryConfig(),
		backends: make(map[string]Backend),
		guards:   make(map[string]*resilience.Guard),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RegisterBackend binds a backend to a model alias, replacing any
// previous binding. The breaker for the alias is created fresh.
func (d *Dispatcher) RegisterBackend(alias string, backend Backend) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.backends[alias] = backend
	d.guards[alias] = resilience.NewGuard(
		resilience.NewCircuitBreaker("embed-"+alias, d.breaker...), d.retry)
}

// Backend returns the backend bound to an alias.
func (d *Dispatcher) Backend(alias string) (Backend, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.backends[alias]
	return b, ok
}

// BreakerState exposes the breaker state for an alias, for status
// reporting. Unknown aliases report CLOSED.
func (d *Dispatcher) BreakerState(alias string) resilience.State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if g, ok := d.guards[alias]; ok {
		return g.Breaker().State()
	}
	return resilience.StateClosed
}

// EmbedBatch embeds texts with the model bound to alias. Inputs longer
// than the profile's token budget are truncated with a per-input
// warning; the batch either yields one vector per input or fails as a
// whole.
func (d *Dispatcher) EmbedBatch(ctx context.Context, alias string, profile model.Profile, texts []string) (*Result, error) {
	cfg, err := d.registry.Get(alias)
	if err != nil {
		return nil, err
	}
	if !cfg.ServesProfile(profile) {
		return nil, mverr.New(mverr.ErrCodeUnknownProfile,
			fmt.Sprintf("model %q does not serve profile %q", alias, profile), nil).
			WithDetail("model", alias)
	}
	if !cfg.Enabled {
		return nil, mverr.ModelUnavailableError(alias, fmt.Errorf("model is disabled"))
	}
	if cfg.Health != model.HealthReady {
		return nil, mverr.ModelUnavailableError(alias, fmt.Errorf("model health is %s", cfg.Health))
	}
	if len(texts) == 0 {
		return &Result{Vectors: [][]float32{}}, nil
	}
	if len(texts) > MaxBatchSize {
		return nil, mverr.ValidationError(
			fmt.Sprintf("batch of %d texts exceeds maximum %d", len(texts), MaxBatchSize), nil)
	}

	d.mu.RLock()
	backend, ok := d.backends[alias]
	guard := d.guards[alias]
	d.mu.RUnlock()
	if !ok {
		return nil, mverr.ModelUnavailableError(alias, fmt.Errorf("no backend registered"))
	}

	prepared, warnings := truncateTexts(texts, tokenBudget(cfg.MaxSeqLen, profile))

	callCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		timeout := DefaultTimeout
		if profile == model.ProfileBulk {
			timeout = DefaultBulkTimeout
		}
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	vectors, err := resilience.GuardedCall(callCtx, guard, func() ([][]float32, error) {
		return backend.EmbedBatch(callCtx, prepared)
	})
	elapsed := time.Since(start)

	if err != nil {
		if resilience.IsCircuitOpen(err) {
			return nil, err
		}
		slog.Warn("embed batch failed",
			slog.String("model", alias),
			slog.String("profile", string(profile)),
			slog.Int("batch_size", len(texts)),
			slog.String("error", err.Error()))
		return nil, mverr.ModelUnavailableError(alias, err)
	}

	if len(vectors) != len(texts) {
		return nil, mverr.ModelUnavailableError(alias,
			fmt.Errorf("backend returned %d vectors for %d inputs", len(vectors), len(texts)))
	}

	return &Result{
		Vectors:    vectors,
		Warnings:   warnings,
		DurationMS: elapsed.Milliseconds(),
	}, nil
}

// Health probes the backend for an alias and records the outcome in the
// registry as advisory health.
func (d *Dispatcher) Health(ctx context.Context, alias string) error {
	d.mu.RLock()
	backend, ok := d.backends[alias]
	d.mu.RUnlock()
	if !ok {
		return mverr.ModelUnavailableError(alias, fmt.Errorf("no backend registered"))
	}

	err := backend.Health(ctx)
	health := model.HealthReady
	if err != nil {
		health = model.HealthDown
	}
	if updErr := d.registry.UpdateHealth(alias, health); updErr != nil {
		slog.Warn("health update failed", slog.String("model", alias), slog.String("error", updErr.Error()))
	}
	return err
}

// Close closes all registered backends, returning the first error.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	for alias, backend := range d.backends {
		if err := backend.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close backend %s: %w", alias, err)
		}
	}
	return firstErr
}

// tokenBudget is the per-profile input clamp. The realtime lane keeps
// latency low by halving the model's sequence limit; bulk uses it all.
func tokenBudget(maxSeqLen int, profile model.Profile) int {
	if profile == model.ProfileRealtime {
		return maxSeqLen / 2
	}
	return maxSeqLen
}

// truncateTexts clips each text to maxTokens whitespace-delimited
// tokens. Whitespace tokens approximate the model tokenizer closely
// enough for a safety clamp; the backend applies its own exact limit.
func truncateTexts(texts []string, maxTokens int) ([]string, []string) {
	if maxTokens <= 0 {
		return texts, nil
	}

	var warnings []string
	prepared := make([]string, len(texts))
	for i, text := range texts {
		words := strings.Fields(text)
		if len(words) <= maxTokens {
			prepared[i] = text
			continue
		}
		prepared[i] = strings.Join(words[:maxTokens], " ")
		warnings = append(warnings, fmt.Sprintf(
			"input %d truncated from %d to %d tokens", i, len(words), maxTokens))
	}
	return prepared, warnings
}
