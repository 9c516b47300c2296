package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	mverr "github.com/Aman-CERP/multivec/internal/errors"
)

// HTTPBackendConfig configures a single HTTP embedding backend.
type HTTPBackendConfig struct {
	// BaseURL is the backend's base address, e.g. http://localhost:8080.
	BaseURL string `yaml:"base_url" json:"base_url"`

	// ModelID is the upstream model identifier sent with each request.
	ModelID string `yaml:"model_id" json:"model_id"`

	// Dim is the expected embedding dimension. Zero means auto-detect
	// from a probe embedding at startup.
	Dim int `yaml:"dim" json:"dim"`

	// Timeout is the per-request timeout. Zero uses DefaultTimeout.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// PoolSize bounds idle connections to the backend.
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// SkipHealthCheck skips the startup probe. Used in tests.
	SkipHealthCheck bool `yaml:"-" json:"-"`
}

// UnmarshalYAML accepts duration strings like "30s" for the timeout,
// which yaml.v3 does not decode into time.Duration on its own.
func (c *HTTPBackendConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		BaseURL  string `yaml:"base_url"`
		ModelID  string `yaml:"model_id"`
		Dim      int    `yaml:"dim"`
		Timeout  string `yaml:"timeout"`
		PoolSize int    `yaml:"pool_size"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	c.BaseURL = raw.BaseURL
	c.ModelID = raw.ModelID
	c.Dim = raw.Dim
	c.PoolSize = raw.PoolSize
	if raw.Timeout != "" {
		d, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			// Marshaled configs carry durations as bare nanoseconds.
			ns, nerr := strconv.ParseInt(raw.Timeout, 10, 64)
			if nerr != nil {
				return fmt.Errorf("invalid timeout %q: %w", raw.Timeout, err)
			}
			d = time.Duration(ns)
		}
		c.Timeout = d
	}
	return nil
}

// MarshalYAML writes the timeout as a duration string.
func (c HTTPBackendConfig) MarshalYAML() (any, error) {
	type alias struct {
		BaseURL  string `yaml:"base_url"`
		ModelID  string `yaml:"model_id"`
		Dim      int    `yaml:"dim"`
		Timeout  string `yaml:"timeout,omitempty"`
		PoolSize int    `yaml:"pool_size,omitempty"`
	}
	out := alias{BaseURL: c.BaseURL, ModelID: c.ModelID, Dim: c.Dim, PoolSize: c.PoolSize}
	if c.Timeout != 0 {
		out.Timeout = c.Timeout.String()
	}
	return out, nil
}

// HTTPBackend talks to an embedding service over HTTP.
type HTTPBackend struct {
	client    *http.Client
	transport *http.Transport
	config    HTTPBackendConfig

	mu     sync.RWMutex
	dim    int
	closed bool
}

var _ Backend = (*HTTPBackend)(nil)

// embedRequest is the wire request for POST /embed.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse is the wire response from POST /embed.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewHTTPBackend creates a backend and, unless skipped, verifies the
// service is reachable and detects the embedding dimension.
func NewHTTPBackend(ctx context.Context, cfg HTTPBackendConfig) (*HTTPBackend, error) {
	if cfg.BaseURL == "" {
		return nil, mverr.ConfigError("embed backend base_url is required", nil)
	}
	if cfg.ModelID == "" {
		return nil, mverr.ConfigError("embed backend model_id is required", nil)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}

	// Short idle timeout: CLI runs are short-lived, so connections
	// should drain quickly after exit.
	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	// No http.Client.Timeout: it would override per-request context
	// deadlines set by callers.
	b := &HTTPBackend{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		dim:       cfg.Dim,
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()

		if err := b.Health(checkCtx); err != nil {
			transport.CloseIdleConnections()
			return nil, err
		}
		if b.dim == 0 {
			dim, err := b.detectDim(checkCtx)
			if err != nil {
				transport.CloseIdleConnections()
				return nil, fmt.Errorf("detect embedding dimension: %w", err)
			}
			b.dim = dim
		}
	}

	return b, nil
}

// ModelID returns the upstream model identifier.
func (b *HTTPBackend) ModelID() string {
	return b.config.ModelID
}

// Dim returns the embedding dimension (zero until detected).
func (b *HTTPBackend) Dim() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dim
}

// Health probes GET /health on the backend.
func (b *HTTPBackend) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.config.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return mverr.New(mverr.ErrCodeUpstream,
			fmt.Sprintf("embed backend %s unreachable", b.config.BaseURL), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return mverr.New(mverr.ErrCodeUpstream,
			fmt.Sprintf("embed backend health check failed with status %d: %s", resp.StatusCode, string(body)), nil)
	}
	return nil
}

// detectDim embeds a probe text and reads the vector length.
func (b *HTTPBackend) detectDim(ctx context.Context) (int, error) {
	vectors, err := b.doEmbed(ctx, []string{"dimension detection"})
	if err != nil {
		return 0, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return 0, fmt.Errorf("empty probe embedding returned")
	}
	return len(vectors[0]), nil
}

// EmbedBatch embeds texts in order. A dimension mismatch in the reply
// or a count mismatch fails the whole batch.
func (b *HTTPBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, fmt.Errorf("backend is closed")
	}
	dim := b.dim
	b.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	callCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.config.Timeout)
		defer cancel()
	}

	vectors, err := b.doEmbed(callCtx, texts)
	if err != nil {
		return nil, err
	}

	if len(vectors) != len(texts) {
		return nil, mverr.New(mverr.ErrCodeUpstream,
			fmt.Sprintf("embed backend returned %d vectors for %d inputs", len(vectors), len(texts)), nil)
	}
	if dim > 0 {
		for i, v := range vectors {
			if len(v) != dim {
				return nil, mverr.New(mverr.ErrCodeUpstream,
					fmt.Sprintf("embed backend returned dimension %d for input %d, expected %d", len(v), i, dim), nil)
			}
		}
	}
	return vectors, nil
}

func (b *HTTPBackend) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: b.config.ModelID, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.config.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, mverr.New(mverr.ErrCodeUpstream, "embed request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, mverr.New(mverr.ErrCodeUpstream,
			fmt.Sprintf("embed request failed with status %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, mverr.New(mverr.ErrCodeUpstream, "decode embed response", err)
	}
	return result.Embeddings, nil
}

// Close shuts the backend down and drains idle connections.
func (b *HTTPBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.transport.CloseIdleConnections()
	return nil
}
