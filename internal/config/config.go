// Package config loads the service configuration from YAML with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/multivec/internal/embed"
	mverr "github.com/Aman-CERP/multivec/internal/errors"
)

// Config is the complete multivec configuration.
type Config struct {
	// DataDir is the root for indexes, the state database, and the
	// process lock.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// ModelsFile is the YAML file feeding the model registry. The
	// file is watched; edits hot-swap the registry.
	ModelsFile string `yaml:"models_file" json:"models_file"`

	Search      SearchConfig      `yaml:"search" json:"search"`
	Chunking    ChunkingConfig    `yaml:"chunking" json:"chunking"`
	Embed       EmbedConfig       `yaml:"embed" json:"embed"`
	Idempotency IdempotencyConfig `yaml:"idempotency" json:"idempotency"`
	Server      ServerConfig      `yaml:"server" json:"server"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
}

// SearchConfig tunes fused search.
type SearchConfig struct {
	// RRFRank is the RRF smoothing parameter k.
	RRFRank int `yaml:"rrf_rank" json:"rrf_rank"`

	// DefaultLimit is the page size when a request leaves it unset.
	DefaultLimit int `yaml:"default_limit" json:"default_limit"`

	// Lexical enables the keyword index branch.
	Lexical bool `yaml:"lexical" json:"lexical"`
}

// ChunkingConfig tunes the document chunker.
type ChunkingConfig struct {
	MaxChars int `yaml:"max_chars" json:"max_chars"`
	Overlap  int `yaml:"overlap" json:"overlap"`
}

// EmbedConfig configures embedding backends per model alias.
type EmbedConfig struct {
	// Backends maps model aliases to their HTTP backend settings.
	// Aliases without an entry use the static offline backend.
	Backends map[string]embed.HTTPBackendConfig `yaml:"backends" json:"backends"`

	// CacheSize is the per-backend embedding LRU size. Zero disables
	// caching.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// IdempotencyConfig tunes the idempotency cache.
type IdempotencyConfig struct {
	TTL time.Duration `yaml:"ttl" json:"ttl"`
}

// UnmarshalYAML accepts duration strings like "15m", which yaml.v3
// does not decode into time.Duration on its own.
func (c *IdempotencyConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		TTL string `yaml:"ttl"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.TTL == "" {
		return nil
	}
	d, err := parseDuration(raw.TTL)
	if err != nil {
		return fmt.Errorf("invalid idempotency ttl %q: %w", raw.TTL, err)
	}
	c.TTL = d
	return nil
}

// MarshalYAML writes the TTL as a duration string.
func (c IdempotencyConfig) MarshalYAML() (any, error) {
	return map[string]string{"ttl": c.TTL.String()}, nil
}

// parseDuration reads "15m" style strings and, for round-trips of
// marshaled configs, bare nanosecond integers.
func parseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	ns, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("not a duration: %s", s)
	}
	return time.Duration(ns), nil
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	// Transport is "stdio" for now.
	Transport string `yaml:"transport" json:"transport"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level" json:"level"`

	// File is the log file path. Empty logs to stderr.
	File string `yaml:"file" json:"file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:    defaultDataDir(),
		ModelsFile: filepath.Join(defaultDataDir(), "models.yaml"),
		Search: SearchConfig{
			RRFRank:      60,
			DefaultLimit: 10,
			Lexical:      true,
		},
		Chunking: ChunkingConfig{
			MaxChars: 1200,
			Overlap:  100,
		},
		Embed: EmbedConfig{
			CacheSize: embed.DefaultCacheSize,
		},
		Idempotency: IdempotencyConfig{
			TTL: 15 * time.Minute,
		},
		Server: ServerConfig{
			Transport: "stdio",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".multivec")
	}
	return ".multivec"
}

// Load reads the config file at path (empty path skips the file),
// applies environment overrides and validates. Missing files are not
// an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, mverr.ConfigError(fmt.Sprintf("read config file %s", path), err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, mverr.ConfigError(fmt.Sprintf("parse config file %s", path), err)
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets MULTIVEC_* variables win over file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MULTIVEC_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("MULTIVEC_MODELS_FILE"); v != "" {
		c.ModelsFile = v
	}
	if v := os.Getenv("MULTIVEC_RRF_RANK"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Search.RRFRank = n
		}
	}
	if v := os.Getenv("MULTIVEC_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MULTIVEC_LOG_FILE"); v != "" {
		c.Logging.File = v
	}
	if v := os.Getenv("MULTIVEC_TRANSPORT"); v != "" {
		c.Server.Transport = v
	}
	if v := os.Getenv("MULTIVEC_IDEMPOTENCY_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Idempotency.TTL = d
		}
	}
}

// Validate rejects configurations the components would choke on.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return mverr.ConfigError("data_dir must not be empty", nil)
	}
	if c.Search.RRFRank <= 0 {
		return mverr.ConfigError(
			fmt.Sprintf("search.rrf_rank must be positive, got %d", c.Search.RRFRank), nil)
	}
	if c.Search.DefaultLimit <= 0 {
		return mverr.ConfigError(
			fmt.Sprintf("search.default_limit must be positive, got %d", c.Search.DefaultLimit), nil)
	}
	if c.Chunking.MaxChars <= 0 {
		return mverr.ConfigError(
			fmt.Sprintf("chunking.max_chars must be positive, got %d", c.Chunking.MaxChars), nil)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.MaxChars {
		return mverr.ConfigError(
			fmt.Sprintf("chunking.overlap must be in [0, max_chars), got %d", c.Chunking.Overlap), nil)
	}
	if c.Idempotency.TTL <= 0 {
		return mverr.ConfigError("idempotency.ttl must be positive", nil)
	}
	switch c.Server.Transport {
	case "stdio":
	default:
		return mverr.ConfigError(
			fmt.Sprintf("server.transport %q is not supported", c.Server.Transport), nil)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return mverr.ConfigError(
			fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level), nil)
	}
	return nil
}

// StatePath is the SQLite database location under the data directory.
func (c *Config) StatePath() string {
	return filepath.Join(c.DataDir, "state.db")
}

// VectorDir is where vector collections are persisted.
func (c *Config) VectorDir() string {
	return filepath.Join(c.DataDir, "vectors")
}

// LexicalPath is the keyword index location.
func (c *Config) LexicalPath() string {
	return filepath.Join(c.DataDir, "lexical.bleve")
}

// WriteYAML writes the config, for `multivec config init`.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return mverr.ConfigError("marshal config", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return mverr.ConfigError("create config directory", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return mverr.ConfigError("write config file", err)
	}
	return nil
}
