package model

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	mverr "github.com/Aman-CERP/multivec/internal/errors"
)

// Registry holds model configurations keyed by alias. It is read far more
// often than it is written: reads go through an atomic snapshot pointer,
// writers serialize on a mutex and swap in a rebuilt snapshot.
type Registry struct {
	mu              sync.Mutex // serializes writers
	snap            atomic.Pointer[snapshot]
	defaults        []Config
	defaultsByAlias map[string]Config
}

// snapshot is an immutable view of the registered models.
type snapshot struct {
	byAlias map[string]Config
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDefaults overrides the static fallback model set.
func WithDefaults(defaults []Config) RegistryOption {
	return func(r *Registry) {
		r.defaults = defaults
	}
}

// NewRegistry creates an empty registry with the standard default set.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{defaults: DefaultModels()}
	for _, opt := range opts {
		opt(r)
	}
	r.defaultsByAlias = make(map[string]Config, len(r.defaults))
	for _, cfg := range r.defaults {
		r.defaultsByAlias[cfg.Alias] = cfg.withDefaults()
	}
	r.snap.Store(&snapshot{byAlias: map[string]Config{}})
	return r
}

// Register adds a model configuration. It fails with a config error when
// the config is invalid or the alias is already registered.
func (r *Registry) Register(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg = cfg.withDefaults()

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	if _, exists := cur.byAlias[cfg.Alias]; exists {
		return mverr.New(mverr.ErrCodeModelConfig,
			fmt.Sprintf("model alias %q already registered", cfg.Alias), nil).
			WithDetail("model", cfg.Alias)
	}

	r.swap(cur, func(m map[string]Config) {
		m[cfg.Alias] = cfg
	})
	return nil
}

// Replace atomically swaps the whole registered set, validating every
// config first. Used by the defaults-file reloader.
func (r *Registry) Replace(cfgs []Config) error {
	seen := make(map[string]struct{}, len(cfgs))
	normalized := make(map[string]Config, len(cfgs))
	for _, cfg := range cfgs {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if _, dup := seen[cfg.Alias]; dup {
			return mverr.New(mverr.ErrCodeModelConfig,
				fmt.Sprintf("duplicate model alias %q", cfg.Alias), nil)
		}
		seen[cfg.Alias] = struct{}{}
		normalized[cfg.Alias] = cfg.withDefaults()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.Store(&snapshot{byAlias: normalized})
	return nil
}

// Get returns the model config for an alias. Like List, an empty
// registry resolves against the static default set, so every component
// sees the same effective models in the fallback case.
func (r *Registry) Get(alias string) (Config, error) {
	cfg, ok := r.effective()[alias]
	if !ok {
		return Config{}, mverr.New(mverr.ErrCodeUnknownModel,
			fmt.Sprintf("unknown model alias %q", alias), nil).
			WithDetail("model", alias)
	}
	return cfg, nil
}

// List returns registered models sorted by alias. When nothing is
// registered (backing store empty or unreachable at load time), it falls
// back to the static default model set.
func (r *Registry) List(enabledOnly bool) []Config {
	var out []Config
	for _, cfg := range r.effective() {
		out = append(out, cfg)
	}

	if enabledOnly {
		filtered := out[:0]
		for _, cfg := range out {
			if cfg.Enabled {
				filtered = append(filtered, cfg)
			}
		}
		out = filtered
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out
}

// UpdateHealth sets the advisory health state for a model. Any value is
// accepted; only the alias must be known.
func (r *Registry) UpdateHealth(alias string, health Health) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	cfg, ok := cur.byAlias[alias]
	if !ok {
		return mverr.New(mverr.ErrCodeUnknownModel,
			fmt.Sprintf("unknown model alias %q", alias), nil).
			WithDetail("model", alias)
	}

	cfg.Health = health
	r.swap(cur, func(m map[string]Config) {
		m[alias] = cfg
	})
	return nil
}

// ReadyModels returns enabled models that are healthy and serve the given
// profile, sorted by alias.
func (r *Registry) ReadyModels(profile Profile) []Config {
	var out []Config
	for _, cfg := range r.List(true) {
		if cfg.Health == HealthReady && cfg.ServesProfile(profile) {
			out = append(out, cfg)
		}
	}
	return out
}

// effective is the model set reads resolve against: the registered
// snapshot, or the static defaults when nothing is registered.
func (r *Registry) effective() map[string]Config {
	if byAlias := r.snap.Load().byAlias; len(byAlias) > 0 {
		return byAlias
	}
	return r.defaultsByAlias
}

// swap rebuilds the snapshot map, applies mutate, and publishes it.
// Must be called with the writer mutex held.
func (r *Registry) swap(cur *snapshot, mutate func(map[string]Config)) {
	next := make(map[string]Config, len(cur.byAlias)+1)
	for k, v := range cur.byAlias {
		next[k] = v
	}
	mutate(next)
	r.snap.Store(&snapshot{byAlias: next})
}
