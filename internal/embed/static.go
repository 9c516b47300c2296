package embed

import (
	"context"
	"hash/fnv"
	"math"
)

// StaticBackend produces deterministic pseudo-embeddings derived from a
// hash of the input text. It needs no external service, which makes it
// the backend for tests and for offline smoke runs. Vectors are unit
// length so cosine scores stay in range.
type StaticBackend struct {
	modelID string
	dim     int
}

var _ Backend = (*StaticBackend)(nil)

// NewStaticBackend creates a deterministic backend with the given
// dimension.
func NewStaticBackend(modelID string, dim int) *StaticBackend {
	if dim <= 0 {
		dim = 384
	}
	return &StaticBackend{modelID: modelID, dim: dim}
}

func (s *StaticBackend) ModelID() string { return s.modelID }

func (s *StaticBackend) Dim() int { return s.dim }

func (s *StaticBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = s.embedOne(text)
	}
	return vectors, nil
}

func (s *StaticBackend) embedOne(text string) []float32 {
	vec := make([]float32, s.dim)

	// Seed a simple xorshift stream from the text hash so equal texts
	// always map to equal vectors.
	h := fnv.New64a()
	_, _ = h.Write([]byte(s.modelID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(text))
	state := h.Sum64()
	if state == 0 {
		state = 1
	}

	var sum float64
	for i := range vec {
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		v := float32(int64(state%2000)-1000) / 1000.0
		vec[i] = v
		sum += float64(v) * float64(v)
	}
	if sum > 0 {
		norm := float32(math.Sqrt(sum))
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}

func (s *StaticBackend) Health(ctx context.Context) error { return nil }

func (s *StaticBackend) Close() error { return nil }
