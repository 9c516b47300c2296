// Package model holds per-embedding-model configuration and health, and
// the registry that components resolve model aliases through.
package model

import (
	"fmt"
	"regexp"

	mverr "github.com/Aman-CERP/multivec/internal/errors"
)

// Health is the advisory health state of a model.
// UpdateHealth accepts any value; this is not a strict state machine.
type Health string

const (
	// HealthReady means the model serves embed requests.
	HealthReady Health = "ready"
	// HealthDegraded means the model works but is slow or partially failing.
	HealthDegraded Health = "degraded"
	// HealthDown means the model backend is unreachable.
	HealthDown Health = "down"
)

// Profile is a processing lane with its own latency and token budget.
type Profile string

const (
	// ProfileRealtime serves interactive queries with a tight token budget.
	ProfileRealtime Profile = "rt"
	// ProfileBulk serves ingestion and reindex batches.
	ProfileBulk Profile = "bulk"
)

// Valid reports whether p is a known profile.
func (p Profile) Valid() bool {
	return p == ProfileRealtime || p == ProfileBulk
}

// aliasPattern restricts aliases to collection-name-safe identifiers.
var aliasPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// Config is the full per-model configuration.
type Config struct {
	// ID is the canonical model identifier (e.g. a hub path).
	ID string `yaml:"id" json:"id"`

	// Alias is the registry-unique short name used in APIs and
	// collection naming.
	Alias string `yaml:"alias" json:"alias"`

	// Revision pins the model version.
	Revision string `yaml:"revision" json:"revision"`

	// Dim is the embedding dimension.
	Dim int `yaml:"dim" json:"dim"`

	// MaxSeqLen is the model's maximum input length in tokens.
	MaxSeqLen int `yaml:"max_seq_len" json:"max_seq_len"`

	// StorageURI locates the model's vector collection.
	StorageURI string `yaml:"storage_uri" json:"storage_uri"`

	// Queues maps processing profiles to backend queue names. A model
	// only serves a profile that is present here.
	Queues map[Profile]string `yaml:"queues" json:"queues"`

	// Weight scales this model's influence in downstream ranking.
	Weight float64 `yaml:"weight" json:"weight"`

	// Enabled toggles the model without unregistering it.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Health is the advisory health state.
	Health Health `yaml:"health" json:"health"`

	// Pooling is the embedding pooling strategy (mean, cls, last).
	Pooling string `yaml:"pooling" json:"pooling"`

	// Checksums maps artifact names to expected digests.
	Checksums map[string]string `yaml:"checksums" json:"checksums"`
}

// Collection returns the vector collection name for this model.
func (c *Config) Collection() string {
	return "chunks_" + c.Alias
}

// ServesProfile reports whether the model has a queue for the profile.
func (c *Config) ServesProfile(p Profile) bool {
	_, ok := c.Queues[p]
	return ok
}

// Validate checks the config for registration.
func (c *Config) Validate() error {
	if c.Alias == "" || !aliasPattern.MatchString(c.Alias) {
		return mverr.New(mverr.ErrCodeModelConfig,
			fmt.Sprintf("invalid model alias %q", c.Alias), nil)
	}
	if c.Dim <= 0 {
		return mverr.New(mverr.ErrCodeModelConfig,
			fmt.Sprintf("model %q: dim must be positive, got %d", c.Alias, c.Dim), nil).
			WithDetail("model", c.Alias)
	}
	if c.MaxSeqLen <= 0 {
		return mverr.New(mverr.ErrCodeModelConfig,
			fmt.Sprintf("model %q: max_seq_len must be positive, got %d", c.Alias, c.MaxSeqLen), nil).
			WithDetail("model", c.Alias)
	}
	return nil
}

// withDefaults fills optional fields.
func (c Config) withDefaults() Config {
	if c.Health == "" {
		c.Health = HealthReady
	}
	if c.Weight == 0 {
		c.Weight = 1.0
	}
	if c.Pooling == "" {
		c.Pooling = "mean"
	}
	return c
}

// DefaultModels is the static fallback model set used when the backing
// store is empty or unreachable.
func DefaultModels() []Config {
	queues := map[Profile]string{
		ProfileRealtime: "embed-rt",
		ProfileBulk:     "embed-bulk",
	}

	return []Config{
		{
			ID:        "sentence-transformers/all-MiniLM-L6-v2",
			Alias:     "minilm-l6-v2",
			Revision:  "main",
			Dim:       384,
			MaxSeqLen: 256,
			Queues:    queues,
			Weight:    1.0,
			Enabled:   true,
			Health:    HealthReady,
			Pooling:   "mean",
		},
		{
			ID:        "sentence-transformers/all-mpnet-base-v2",
			Alias:     "mpnet-base-v2",
			Revision:  "main",
			Dim:       768,
			MaxSeqLen: 384,
			Queues:    queues,
			Weight:    1.0,
			Enabled:   true,
			Health:    HealthReady,
			Pooling:   "mean",
		},
	}
}
