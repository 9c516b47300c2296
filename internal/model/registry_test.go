package model

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mverr "github.com/Aman-CERP/multivec/internal/errors"
)

func testConfig(alias string) Config {
	return Config{
		ID:        "org/" + alias,
		Alias:     alias,
		Revision:  "main",
		Dim:       384,
		MaxSeqLen: 256,
		Queues: map[Profile]string{
			ProfileRealtime: "embed-rt",
			ProfileBulk:     "embed-bulk",
		},
		Enabled: true,
		Health:  HealthReady,
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testConfig("minilm")))

	got, err := r.Get("minilm")
	require.NoError(t, err)
	assert.Equal(t, "org/minilm", got.ID)
	assert.Equal(t, 1.0, got.Weight, "weight defaults to 1.0")
	assert.Equal(t, "mean", got.Pooling)
}

func TestRegistry_RegisterValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty alias", func(c *Config) { c.Alias = "" }},
		{"bad alias chars", func(c *Config) { c.Alias = "Has Spaces!" }},
		{"zero dim", func(c *Config) { c.Dim = 0 }},
		{"negative dim", func(c *Config) { c.Dim = -4 }},
		{"zero max seq len", func(c *Config) { c.MaxSeqLen = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("valid")
			tt.mutate(&cfg)
			err := NewRegistry().Register(cfg)
			require.Error(t, err)
			assert.Equal(t, mverr.ErrCodeModelConfig, mverr.GetCode(err))
		})
	}
}

func TestRegistry_DuplicateAlias(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testConfig("minilm")))

	err := r.Register(testConfig("minilm"))
	require.Error(t, err)
	assert.Equal(t, mverr.ErrCodeModelConfig, mverr.GetCode(err))
}

func TestRegistry_GetUnknown(t *testing.T) {
	_, err := NewRegistry().Get("nope")
	require.Error(t, err)
	assert.Equal(t, mverr.ErrCodeUnknownModel, mverr.GetCode(err))
}

func TestRegistry_GetFallsBackToDefaults(t *testing.T) {
	r := NewRegistry()

	// An empty registry resolves aliases against the default set, the
	// same models List and ReadyModels report.
	got, err := r.Get("minilm-l6-v2")
	require.NoError(t, err)
	assert.Equal(t, 384, got.Dim)
	assert.Equal(t, HealthReady, got.Health)

	// Once anything is registered the defaults no longer apply.
	require.NoError(t, r.Register(testConfig("real")))
	_, err = r.Get("minilm-l6-v2")
	require.Error(t, err)
	assert.Equal(t, mverr.ErrCodeUnknownModel, mverr.GetCode(err))
}

func TestRegistry_ListFallsBackToDefaults(t *testing.T) {
	r := NewRegistry()

	got := r.List(false)
	require.NotEmpty(t, got, "empty registry lists the static default set")

	defaults := DefaultModels()
	require.Len(t, got, len(defaults))

	// Once a model is registered the defaults stop applying.
	require.NoError(t, r.Register(testConfig("custom")))
	got = r.List(false)
	require.Len(t, got, 1)
	assert.Equal(t, "custom", got[0].Alias)
}

func TestRegistry_ListEnabledOnly(t *testing.T) {
	r := NewRegistry()
	enabled := testConfig("enabled-one")
	disabled := testConfig("disabled-one")
	disabled.Enabled = false
	require.NoError(t, r.Register(enabled))
	require.NoError(t, r.Register(disabled))

	got := r.List(true)
	require.Len(t, got, 1)
	assert.Equal(t, "enabled-one", got[0].Alias)
}

func TestRegistry_UpdateHealthAdvisory(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testConfig("minilm")))

	// Any value is accepted, including transitions that a strict state
	// machine would reject.
	require.NoError(t, r.UpdateHealth("minilm", HealthDown))
	require.NoError(t, r.UpdateHealth("minilm", HealthReady))
	require.NoError(t, r.UpdateHealth("minilm", Health("warming")))

	got, err := r.Get("minilm")
	require.NoError(t, err)
	assert.Equal(t, Health("warming"), got.Health)

	err = r.UpdateHealth("ghost", HealthDown)
	assert.Equal(t, mverr.ErrCodeUnknownModel, mverr.GetCode(err))
}

func TestRegistry_ReadyModels(t *testing.T) {
	r := NewRegistry()

	ready := testConfig("a-ready")
	down := testConfig("b-down")
	down.Health = HealthDown
	rtOnly := testConfig("c-rt-only")
	rtOnly.Queues = map[Profile]string{ProfileRealtime: "embed-rt"}
	disabled := testConfig("d-disabled")
	disabled.Enabled = false

	for _, cfg := range []Config{ready, down, rtOnly, disabled} {
		require.NoError(t, r.Register(cfg))
	}

	bulk := r.ReadyModels(ProfileBulk)
	require.Len(t, bulk, 1)
	assert.Equal(t, "a-ready", bulk[0].Alias)

	rt := r.ReadyModels(ProfileRealtime)
	require.Len(t, rt, 2)
	assert.Equal(t, "a-ready", rt[0].Alias)
	assert.Equal(t, "c-rt-only", rt[1].Alias)
}

func TestRegistry_ConcurrentReadsDuringWrites(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testConfig("seed")))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_, _ = r.Get("seed")
				_ = r.List(true)
				_ = r.ReadyModels(ProfileRealtime)
			}
		}()
	}
	for i := 0; i < 200; i++ {
		_ = r.UpdateHealth("seed", HealthDegraded)
		_ = r.UpdateHealth("seed", HealthReady)
	}
	wg.Wait()
}

func TestLoadRegistry_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.yaml")
	content := `models:
  - id: org/minilm
    alias: minilm-file
    dim: 384
    max_seq_len: 256
    enabled: true
    queues:
      rt: embed-rt
      bulk: embed-bulk
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	r := LoadRegistry(path)
	got, err := r.Get("minilm-file")
	require.NoError(t, err)
	assert.Equal(t, 384, got.Dim)
	assert.True(t, got.ServesProfile(ProfileBulk))
}

func TestLoadRegistry_MissingFileFallsBack(t *testing.T) {
	r := LoadRegistry("/nonexistent/models.yaml")
	assert.NotEmpty(t, r.List(false), "unreachable backing store falls back to defaults")
}

func TestConfig_Collection(t *testing.T) {
	cfg := testConfig("minilm")
	assert.Equal(t, "chunks_minilm", cfg.Collection())
}
