// Package embed dispatches embedding requests to per-model backends,
// with truncation, caching, and circuit-breaker/retry protection.
package embed

import (
	"context"
	"time"
)

// Common embedding constants.
const (
	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// MaxBatchSize caps batch size to prevent memory exhaustion.
	MaxBatchSize = 256

	// DefaultTimeout is the default per-request timeout for realtime
	// embedding calls.
	DefaultTimeout = 30 * time.Second

	// DefaultBulkTimeout is the per-request timeout for bulk (reindex)
	// embedding calls, which tolerate slower batches.
	DefaultBulkTimeout = 120 * time.Second

	// DefaultPoolSize is the HTTP connection pool size per backend.
	DefaultPoolSize = 4
)

// Backend generates embeddings for one model. Implementations must be
// safe for concurrent use.
type Backend interface {
	// ModelID returns the upstream model identifier this backend serves.
	ModelID() string

	// Dim returns the embedding dimension.
	Dim() int

	// EmbedBatch embeds texts in order. The result has exactly one
	// vector per input or the call fails as a whole.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Health reports whether the backend can currently serve requests.
	Health(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Result is the outcome of a dispatched embedding batch.
type Result struct {
	// Vectors holds one embedding per input text, in input order.
	Vectors [][]float32

	// Warnings carries non-fatal notes, such as per-input truncation.
	Warnings []string

	// DurationMS is the wall time of the backend call.
	DurationMS int64
}
