package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingBackend records how many texts reached the inner backend.
type countingBackend struct {
	*StaticBackend
	embedded int
}

func (c *countingBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.embedded += len(texts)
	return c.StaticBackend.EmbedBatch(ctx, texts)
}

func TestCachedBackend_HitsSkipUpstream(t *testing.T) {
	inner := &countingBackend{StaticBackend: NewStaticBackend("m", 8)}
	c := NewCachedBackend(inner, 16)
	ctx := context.Background()

	first, err := c.EmbedBatch(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.embedded)

	second, err := c.EmbedBatch(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.embedded, "cached texts must not hit upstream again")
	assert.Equal(t, first, second)
}

func TestCachedBackend_PartialMiss(t *testing.T) {
	inner := &countingBackend{StaticBackend: NewStaticBackend("m", 8)}
	c := NewCachedBackend(inner, 16)
	ctx := context.Background()

	_, err := c.EmbedBatch(ctx, []string{"a"})
	require.NoError(t, err)

	res, err := c.EmbedBatch(ctx, []string{"a", "new"})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, 2, inner.embedded, "only the miss goes upstream")
	assert.Equal(t, 2, c.Len())
}

func TestCachedBackend_Eviction(t *testing.T) {
	inner := &countingBackend{StaticBackend: NewStaticBackend("m", 8)}
	c := NewCachedBackend(inner, 2)
	ctx := context.Background()

	_, err := c.EmbedBatch(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	// "a" was evicted, so it goes upstream again.
	_, err = c.EmbedBatch(ctx, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, 4, inner.embedded)
}

func TestCachedBackend_EmptyBatch(t *testing.T) {
	c := NewCachedBackend(NewStaticBackend("m", 8), 16)
	res, err := c.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res)
}
