package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/multivec/internal/embed"
	"github.com/Aman-CERP/multivec/internal/idempotency"
	"github.com/Aman-CERP/multivec/internal/ingest"
	"github.com/Aman-CERP/multivec/internal/model"
	"github.com/Aman-CERP/multivec/internal/reindex"
	"github.com/Aman-CERP/multivec/internal/search"
	"github.com/Aman-CERP/multivec/internal/store"
)

// staticSource serves a fixed document set for reindex tests.
type staticSource struct {
	docs []ingest.Document
}

func (s *staticSource) ListDocuments(_ context.Context, target reindex.Target) ([]ingest.Document, error) {
	var out []ingest.Document
	for _, d := range s.docs {
		t := reindex.Target{TenantID: d.TenantID, Scope: d.Scope, DocumentID: d.ID}
		if target.Overlaps(t) {
			out = append(out, d)
		}
	}
	return out, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	registry := model.NewRegistry()
	require.NoError(t, registry.Register(model.Config{
		ID:        "all-MiniLM-L6-v2",
		Alias:     "minilm",
		Dim:       32,
		MaxSeqLen: 256,
		Queues:    map[model.Profile]string{model.ProfileRealtime: "rt", model.ProfileBulk: "bulk"},
		Enabled:   true,
	}))

	dispatcher := embed.NewDispatcher(registry)
	dispatcher.RegisterBackend("minilm", embed.NewStaticBackend("all-MiniLM-L6-v2", 32))

	vectors := store.NewLocalVectorStore(store.LocalStoreConfig{})
	pipeline := ingest.NewPipeline(registry, dispatcher, vectors)
	engine := search.NewEngine(registry, dispatcher, vectors)

	db, err := store.OpenDB("")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	idem, err := idempotency.NewStore(db)
	require.NoError(t, err)

	jobs, err := reindex.NewJobStore(db)
	require.NoError(t, err)

	source := &staticSource{docs: []ingest.Document{
		{ID: "d1", TenantID: "t1", Scope: "contracts", Text: "# Terms\n\nNet 30 payment terms apply."},
		{ID: "d2", TenantID: "t1", Scope: "manuals", Text: "# Setup\n\nPlug the device in before powering on."},
	}}
	orchestrator := reindex.NewOrchestrator(source, pipeline, jobs)

	srv, err := NewServer(Deps{
		Engine:       engine,
		Pipeline:     pipeline,
		Orchestrator: orchestrator,
		Registry:     registry,
		Idempotency:  idem,
	})
	require.NoError(t, err)
	return srv
}

func TestNewServerRequiresCollaborators(t *testing.T) {
	_, err := NewServer(Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search engine")
}

func TestIngestThenSearch(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	_, ingested, err := srv.ingestHandler(ctx, nil, IngestInput{
		DocumentID: "d1",
		TenantID:   "t1",
		Text:       "# Payment Terms\n\nInvoices are due within 30 days of receipt.",
	})
	require.NoError(t, err)
	assert.Equal(t, "d1", ingested.DocumentID)
	assert.Greater(t, ingested.Chunks, 0)
	assert.Equal(t, []string{"minilm"}, ingested.Models)

	_, results, err := srv.searchHandler(ctx, nil, SearchInput{Query: "payment terms"})
	require.NoError(t, err)
	require.NotEmpty(t, results.Results)
	assert.Equal(t, 1, results.Branches)
	assert.NotEmpty(t, results.Results[0].Text)
	assert.NotEmpty(t, results.Results[0].Sources)
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	srv := newTestServer(t)

	_, _, err := srv.searchHandler(context.Background(), nil, SearchInput{Query: "   "})
	require.Error(t, err)

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}

func TestIngestValidation(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		input IngestInput
	}{
		{"missing document id", IngestInput{TenantID: "t1", Text: "hello"}},
		{"missing tenant", IngestInput{DocumentID: "d1", Text: "hello"}},
		{"blank text", IngestInput{DocumentID: "d1", TenantID: "t1", Text: "  "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := srv.ingestHandler(ctx, nil, tt.input)
			var mcpErr *MCPError
			require.ErrorAs(t, err, &mcpErr)
			assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
		})
	}
}

func TestIngestIdempotentReplay(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	input := IngestInput{
		DocumentID:     "d1",
		TenantID:       "t1",
		Text:           "# Shipping\n\nOrders ship within two business days.",
		IdempotencyKey: "k1",
	}

	_, first, err := srv.ingestHandler(ctx, nil, input)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	_, second, err := srv.ingestHandler(ctx, nil, input)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Chunks, second.Chunks)
	assert.Equal(t, first.Models, second.Models)
}

func TestIngestIdempotencyKeyReuseWithDifferentBody(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	_, first, err := srv.ingestHandler(ctx, nil, IngestInput{
		DocumentID:     "d1",
		TenantID:       "t1",
		Text:           "original body",
		IdempotencyKey: "k1",
	})
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	// A different body under the same key is a fresh request, never a
	// replay of the earlier response.
	_, second, err := srv.ingestHandler(ctx, nil, IngestInput{
		DocumentID:     "d2",
		TenantID:       "t1",
		Text:           "different body",
		IdempotencyKey: "k1",
	})
	require.NoError(t, err)
	assert.False(t, second.Replayed)
	assert.Equal(t, "d2", second.DocumentID)
}

func TestIngestFailureReleasesIdempotencySlot(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	// An unknown model makes the pipeline fail after the claim.
	failing := IngestInput{
		DocumentID:     "d1",
		TenantID:       "t1",
		Text:           "some text",
		Models:         []string{"nope"},
		IdempotencyKey: "k1",
	}
	_, _, err := srv.ingestHandler(ctx, nil, failing)
	require.Error(t, err)

	// The key is reusable after the failure.
	retry := failing
	retry.Models = nil
	_, out, err := srv.ingestHandler(ctx, nil, retry)
	require.NoError(t, err)
	assert.Greater(t, out.Chunks, 0)
}

func TestModelsTool(t *testing.T) {
	srv := newTestServer(t)

	_, out, err := srv.modelsHandler(context.Background(), nil, ModelsInput{})
	require.NoError(t, err)
	require.Len(t, out.Models, 1)
	assert.Equal(t, "minilm", out.Models[0].Alias)
	assert.Equal(t, 32, out.Models[0].Dim)
	assert.Equal(t, "ready", out.Models[0].Health)
	assert.True(t, out.Models[0].Enabled)
}

func TestReindexStartAndStatus(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	_, started, err := srv.reindexStartHandler(ctx, nil, ReindexStartInput{
		TenantID: "t1",
		Actor:    "tester",
	})
	require.NoError(t, err)
	require.NotEmpty(t, started.ID)

	srv.orchestrator.Wait(started.ID)

	_, status, err := srv.reindexStatusHandler(ctx, nil, JobIDInput{JobID: started.ID})
	require.NoError(t, err)
	assert.Equal(t, string(reindex.StateCompleted), status.State)
	assert.Equal(t, 2, status.Processed)
}

func TestReindexStartRequiresTenant(t *testing.T) {
	srv := newTestServer(t)

	_, _, err := srv.reindexStartHandler(context.Background(), nil, ReindexStartInput{})
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}

func TestReindexStatusUnknownJob(t *testing.T) {
	srv := newTestServer(t)

	_, _, err := srv.reindexStatusHandler(context.Background(), nil, JobIDInput{JobID: "missing"})
	require.Error(t, err)

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}
