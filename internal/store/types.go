// Package store provides the persistence layer: per-collection vector
// indexes, an optional keyword index, SQLite-backed state, and a
// cross-process data-directory lock.
package store

import (
	"context"
	"fmt"
	"math"
)

// Point is a single vector with its payload, keyed by chunk ID.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// ScoredPoint is a search result: a stored point with its similarity score.
// Higher scores are better regardless of the underlying metric.
type ScoredPoint struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// Filter restricts search results to points whose payload matches every
// key/value pair exactly. A nil or empty filter matches everything.
type Filter map[string]any

// Matches reports whether a payload satisfies the filter.
func (f Filter) Matches(payload map[string]any) bool {
	for k, want := range f {
		got, ok := payload[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// VectorStore is the interface the search and ingest layers depend on.
// Collections isolate models from one another; a collection is created
// implicitly on first upsert.
type VectorStore interface {
	// Upsert inserts or replaces points in a collection.
	Upsert(ctx context.Context, collection string, points []*Point) error

	// Search returns up to limit nearest neighbors after skipping offset
	// results, best first. Filtered points do not consume offset or limit.
	Search(ctx context.Context, collection string, vector []float32, limit, offset int, filter Filter) ([]*ScoredPoint, error)

	// Count returns the number of live points in a collection.
	Count(ctx context.Context, collection string) (int, error)

	// Delete removes points by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, collection string, ids []string) error

	// DeleteByFilter removes every point whose payload matches the
	// filter and returns the removed IDs.
	DeleteByFilter(ctx context.Context, collection string, filter Filter) ([]string, error)
}

// ErrDimensionMismatch is returned when a vector's dimension does not
// match the collection's.
type ErrDimensionMismatch struct {
	Collection string
	Expected   int
	Got        int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch in collection %s: expected %d, got %d", e.Collection, e.Expected, e.Got)
}

// normalizeVectorInPlace scales a vector to unit length so cosine
// similarity reduces to a dot product.
func normalizeVectorInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}

// distanceToScore converts a distance to a similarity score where higher
// is better. Cosine distance maps to 1-d; other metrics use 1/(1+d).
func distanceToScore(distance float32, metric string) float64 {
	if metric == "cos" {
		return 1.0 - float64(distance)
	}
	return 1.0 / (1.0 + float64(distance))
}
