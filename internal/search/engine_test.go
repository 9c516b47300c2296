package search

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/multivec/internal/embed"
	mverr "github.com/Aman-CERP/multivec/internal/errors"
	"github.com/Aman-CERP/multivec/internal/model"
	"github.com/Aman-CERP/multivec/internal/resilience"
	"github.com/Aman-CERP/multivec/internal/store"
)

type brokenBackend struct{ *embed.StaticBackend }

func (b *brokenBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("backend down")
}

func testModel(alias string, dim int) model.Config {
	return model.Config{
		ID:        "st/" + alias,
		Alias:     alias,
		Dim:       dim,
		MaxSeqLen: 64,
		Enabled:   true,
		Queues: map[model.Profile]string{
			model.ProfileRealtime: "embed.rt." + alias,
			model.ProfileBulk:     "embed.bulk." + alias,
		},
	}
}

// newTestEngine builds a two-model engine over a local store seeded
// with the given documents, embedded per model.
func newTestEngine(t *testing.T, docs map[string]string, opts ...EngineOption) (*Engine, *model.Registry, *embed.Dispatcher) {
	t.Helper()
	ctx := context.Background()

	registry := model.NewRegistry()
	require.NoError(t, registry.Register(testModel("minilm", 8)))
	require.NoError(t, registry.Register(testModel("mpnet", 16)))

	dispatcher := embed.NewDispatcher(registry, embed.WithRetryConfig(resilience.RetryConfig{
		MaxRetries: 0, BaseDelay: time.Millisecond, ExponentialBase: 2.0,
	}))
	dispatcher.RegisterBackend("minilm", embed.NewStaticBackend("st/minilm", 8))
	dispatcher.RegisterBackend("mpnet", embed.NewStaticBackend("st/mpnet", 16))

	vectors := store.NewLocalVectorStore(store.LocalStoreConfig{})
	for _, cfg := range registry.List(true) {
		backend, ok := dispatcher.Backend(cfg.Alias)
		require.True(t, ok)
		for id, text := range docs {
			vecs, err := backend.EmbedBatch(ctx, []string{text})
			require.NoError(t, err)
			require.NoError(t, vectors.Upsert(ctx, cfg.Collection(), []*store.Point{{
				ID:      id,
				Vector:  vecs[0],
				Payload: map[string]any{"tenant_id": "t1", "text": text},
			}}))
		}
	}

	return NewEngine(registry, dispatcher, vectors, opts...), registry, dispatcher
}

func TestEngine_SearchSurfacesTruncationWarnings(t *testing.T) {
	engine, _, _ := newTestEngine(t, map[string]string{
		"c1": "invoice payment terms",
	})

	// 40 tokens exceeds the realtime budget (max_seq_len 64 halved), so
	// each vector branch reports a truncation that must reach the caller.
	long := strings.TrimSpace(strings.Repeat("payment ", 40))
	resp, err := engine.Search(context.Background(), Request{Query: long, Limit: 3})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Warnings)
	for _, w := range resp.Warnings {
		assert.Contains(t, w, "truncated")
	}
	assert.Len(t, resp.Warnings, 2, "one warning per vector branch")
}

func TestEngine_SearchFusesAllModels(t *testing.T) {
	engine, _, _ := newTestEngine(t, map[string]string{
		"c1": "invoice payment terms",
		"c2": "shipping policy",
		"c3": "quarterly payment schedule",
	})

	resp, err := engine.Search(context.Background(), Request{Query: "invoice payment terms", Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Branches)
	require.NotEmpty(t, resp.Results)

	// The exact query text ranks first in every branch; a result
	// present in both branches carries two sources.
	assert.Equal(t, "c1", resp.Results[0].ID)
	assert.Len(t, resp.Results[0].Sources, 2)
	assert.Empty(t, resp.Warnings)
}

func TestEngine_EmptyQueryRejected(t *testing.T) {
	engine, _, _ := newTestEngine(t, nil)

	_, err := engine.Search(context.Background(), Request{})
	require.Error(t, err)
	assert.Equal(t, mverr.ErrCodeInvalidInput, mverr.GetCode(err))
}

func TestEngine_ModelSubset(t *testing.T) {
	engine, _, _ := newTestEngine(t, map[string]string{"c1": "hello world"})

	resp, err := engine.Search(context.Background(), Request{
		Query:  "hello world",
		Models: []string{"minilm"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Branches)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "minilm", resp.Results[0].Sources[0].Branch)
}

func TestEngine_UnknownModelRejected(t *testing.T) {
	engine, _, _ := newTestEngine(t, nil)

	_, err := engine.Search(context.Background(), Request{Query: "x", Models: []string{"nope"}})
	require.Error(t, err)
	assert.Equal(t, mverr.ErrCodeUnknownModel, mverr.GetCode(err))
}

func TestEngine_PartialBranchFailureWarns(t *testing.T) {
	engine, _, dispatcher := newTestEngine(t, map[string]string{"c1": "hello world"})
	dispatcher.RegisterBackend("mpnet", &brokenBackend{embed.NewStaticBackend("st/mpnet", 16)})

	resp, err := engine.Search(context.Background(), Request{Query: "hello world"})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Branches)
	require.NotEmpty(t, resp.Results)
	require.Len(t, resp.Warnings, 1)
	assert.Contains(t, resp.Warnings[0], "branch mpnet failed")
}

func TestEngine_AllBranchesFailed(t *testing.T) {
	engine, _, dispatcher := newTestEngine(t, map[string]string{"c1": "hello world"})
	dispatcher.RegisterBackend("minilm", &brokenBackend{embed.NewStaticBackend("st/minilm", 8)})
	dispatcher.RegisterBackend("mpnet", &brokenBackend{embed.NewStaticBackend("st/mpnet", 16)})

	_, err := engine.Search(context.Background(), Request{Query: "hello world"})
	require.Error(t, err)
	assert.Equal(t, mverr.ErrCodeSearchUnavailable, mverr.GetCode(err))
}

func TestEngine_NoReadyModels(t *testing.T) {
	registry := model.NewRegistry()
	require.NoError(t, registry.Register(testModel("minilm", 8)))
	require.NoError(t, registry.UpdateHealth("minilm", model.HealthDown))

	engine := NewEngine(registry, embed.NewDispatcher(registry), store.NewLocalVectorStore(store.LocalStoreConfig{}))

	_, err := engine.Search(context.Background(), Request{Query: "x"})
	require.Error(t, err)
	assert.Equal(t, mverr.ErrCodeSearchUnavailable, mverr.GetCode(err))
}

func TestEngine_TenantScoping(t *testing.T) {
	engine, _, _ := newTestEngine(t, map[string]string{"c1": "hello world"})

	resp, err := engine.Search(context.Background(), Request{Query: "hello world", TenantID: "t1"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Results)

	resp, err = engine.Search(context.Background(), Request{Query: "hello world", TenantID: "t2"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestEngine_LexicalBranch(t *testing.T) {
	lexical, err := store.NewLexicalIndex("")
	require.NoError(t, err)
	defer lexical.Close()
	require.NoError(t, lexical.Index(context.Background(),
		[]string{"c1"}, []string{"invoice payment terms"}, "t1"))

	engine, _, _ := newTestEngine(t, map[string]string{"c1": "invoice payment terms"},
		WithLexicalIndex(lexical))

	resp, err := engine.Search(context.Background(), Request{
		Query:    "invoice payment",
		TenantID: "t1",
		Lexical:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Branches)
}

func TestEngine_Pagination(t *testing.T) {
	docs := map[string]string{
		"c1": "payment terms alpha",
		"c2": "payment terms beta",
		"c3": "payment terms gamma",
		"c4": "payment terms delta",
	}
	engine, _, _ := newTestEngine(t, docs)
	ctx := context.Background()

	all, err := engine.Search(ctx, Request{Query: "payment terms", Limit: 4})
	require.NoError(t, err)
	require.Len(t, all.Results, 4)

	page, err := engine.Search(ctx, Request{Query: "payment terms", Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page.Results, 2)
	assert.Equal(t, all.Results[1].ID, page.Results[0].ID)
	assert.Equal(t, all.Results[2].ID, page.Results[1].ID)
}
