// Package ingest turns documents into chunks, embeds them with every
// bulk-serving model, and writes the vectors to the per-model
// collections.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aman-CERP/multivec/internal/chunk"
	"github.com/Aman-CERP/multivec/internal/embed"
	mverr "github.com/Aman-CERP/multivec/internal/errors"
	"github.com/Aman-CERP/multivec/internal/model"
	"github.com/Aman-CERP/multivec/internal/store"
)

// Document is the ingestion input.
type Document struct {
	// ID identifies the document within its tenant.
	ID string `json:"id"`

	// TenantID scopes the document.
	TenantID string `json:"tenant_id"`

	// Scope is an optional grouping below the tenant, such as a
	// project or folder.
	Scope string `json:"scope,omitempty"`

	// Text is the raw document text.
	Text string `json:"text"`

	// Metadata is carried into every chunk payload.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Result summarizes one ingested document.
type Result struct {
	DocumentID string   `json:"document_id"`
	Chunks     int      `json:"chunks"`
	Models     []string `json:"models"`
	Warnings   []string `json:"warnings,omitempty"`
	DurationMS int64    `json:"duration_ms"`
}

// Pipeline chunks, embeds and stores documents.
type Pipeline struct {
	registry   *model.Registry
	dispatcher *embed.Dispatcher
	vectors    store.VectorStore
	lexical    *store.LexicalIndex
	chunker    *chunk.Chunker
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLexicalIndex also writes chunk text to the keyword index.
func WithLexicalIndex(idx *store.LexicalIndex) PipelineOption {
	return func(p *Pipeline) { p.lexical = idx }
}

// WithChunker overrides the default chunker.
func WithChunker(c *chunk.Chunker) PipelineOption {
	return func(p *Pipeline) { p.chunker = c }
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(registry *model.Registry, dispatcher *embed.Dispatcher, vectors store.VectorStore, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		registry:   registry,
		dispatcher: dispatcher,
		vectors:    vectors,
		chunker:    chunk.NewChunker(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ChunkID is the deterministic chunk identifier for a document chunk.
// Deterministic IDs make re-ingestion replace instead of accumulate.
func ChunkID(docID string, idx int) string {
	return fmt.Sprintf("%s#%04d", docID, idx)
}

// Ingest processes one document against every model serving the bulk
// profile. All models must embed successfully before anything is
// written, so a backend failure never leaves a document half-indexed.
func (p *Pipeline) Ingest(ctx context.Context, doc Document) (*Result, error) {
	return p.IngestForModels(ctx, doc, nil)
}

// IngestForModels is Ingest restricted to the given model aliases.
// Empty aliases means every ready bulk model.
func (p *Pipeline) IngestForModels(ctx context.Context, doc Document, aliases []string) (*Result, error) {
	start := time.Now()

	if doc.ID == "" {
		return nil, mverr.ValidationError("document id must not be empty", nil)
	}
	if doc.TenantID == "" {
		return nil, mverr.ValidationError("tenant_id must not be empty", nil)
	}
	if doc.Text == "" {
		return nil, mverr.ValidationError("document text must not be empty", nil)
	}

	models, err := p.resolveModels(aliases)
	if err != nil {
		return nil, err
	}

	meta := map[string]string{
		"tenant_id":   doc.TenantID,
		"document_id": doc.ID,
	}
	if doc.Scope != "" {
		meta["scope"] = doc.Scope
	}
	for k, v := range doc.Metadata {
		meta[k] = v
	}

	chunks := p.chunker.Chunk(doc.Text, meta)
	if len(chunks) == 0 {
		return nil, mverr.ValidationError(
			fmt.Sprintf("document %q produced no chunks", doc.ID), nil)
	}

	texts := make([]string, len(chunks))
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
		ids[i] = ChunkID(doc.ID, c.Index)
	}

	// Embed with every model first; only a fully embedded document is
	// written out.
	vectorsByModel := make(map[string][][]float32, len(models))
	var warnings []string
	for _, cfg := range models {
		res, err := p.embedAll(ctx, cfg.Alias, texts)
		if err != nil {
			return nil, err
		}
		vectorsByModel[cfg.Alias] = res.Vectors
		for _, w := range res.Warnings {
			warnings = append(warnings, fmt.Sprintf("model %s: %s", cfg.Alias, w))
		}
	}

	used := make([]string, 0, len(models))
	for _, cfg := range models {
		collection := cfg.Collection()
		filter := store.Filter{"tenant_id": doc.TenantID, "document_id": doc.ID}
		if _, err := p.vectors.DeleteByFilter(ctx, collection, filter); err != nil {
			return nil, mverr.StorageError(
				fmt.Sprintf("clear stale chunks of %s in %s", doc.ID, collection), err)
		}

		points := make([]*store.Point, len(chunks))
		for i, c := range chunks {
			points[i] = &store.Point{
				ID:      ids[i],
				Vector:  vectorsByModel[cfg.Alias][i],
				Payload: chunkPayload(c, ids[i]),
			}
		}
		if err := p.vectors.Upsert(ctx, collection, points); err != nil {
			return nil, mverr.StorageError(
				fmt.Sprintf("write chunks of %s to %s", doc.ID, collection), err)
		}
		used = append(used, cfg.Alias)
	}

	if p.lexical != nil {
		if err := p.lexical.Index(ctx, ids, texts, doc.TenantID); err != nil {
			return nil, mverr.StorageError(
				fmt.Sprintf("index chunks of %s in keyword index", doc.ID), err)
		}
	}

	slog.Info("document ingested",
		slog.String("tenant_id", doc.TenantID),
		slog.String("document_id", doc.ID),
		slog.Int("chunks", len(chunks)),
		slog.Int("models", len(used)))

	return &Result{
		DocumentID: doc.ID,
		Chunks:     len(chunks),
		Models:     used,
		Warnings:   warnings,
		DurationMS: time.Since(start).Milliseconds(),
	}, nil
}

// Delete removes a document's chunks from every collection and the
// keyword index.
func (p *Pipeline) Delete(ctx context.Context, tenantID, docID string) (int, error) {
	if docID == "" {
		return 0, mverr.ValidationError("document id must not be empty", nil)
	}
	filter := store.Filter{"tenant_id": tenantID, "document_id": docID}

	total := 0
	for _, cfg := range p.registry.List(true) {
		removed, err := p.vectors.DeleteByFilter(ctx, cfg.Collection(), filter)
		if err != nil {
			return total, mverr.StorageError(
				fmt.Sprintf("delete chunks of %s from %s", docID, cfg.Collection()), err)
		}
		total += len(removed)
		if p.lexical != nil && len(removed) > 0 {
			if err := p.lexical.Delete(ctx, removed); err != nil {
				return total, mverr.StorageError(
					fmt.Sprintf("delete chunks of %s from keyword index", docID), err)
			}
		}
	}
	return total, nil
}

// resolveModels picks the bulk-serving models, restricted to aliases
// when given.
func (p *Pipeline) resolveModels(aliases []string) ([]model.Config, error) {
	ready := p.registry.ReadyModels(model.ProfileBulk)
	if len(aliases) == 0 {
		if len(ready) == 0 {
			return nil, mverr.New(mverr.ErrCodeModelUnavailable,
				"no ready models serve the bulk profile", nil)
		}
		return ready, nil
	}

	readyByAlias := make(map[string]model.Config, len(ready))
	for _, cfg := range ready {
		readyByAlias[cfg.Alias] = cfg
	}
	models := make([]model.Config, 0, len(aliases))
	for _, alias := range aliases {
		cfg, ok := readyByAlias[alias]
		if !ok {
			// Distinguish unknown aliases from known-but-not-ready ones.
			if _, err := p.registry.Get(alias); err != nil {
				return nil, err
			}
			return nil, mverr.ModelUnavailableError(alias,
				fmt.Errorf("model is not ready for the bulk profile"))
		}
		models = append(models, cfg)
	}
	return models, nil
}

// embedAll pushes texts through the dispatcher in MaxBatchSize slices
// and reassembles the vectors in order.
func (p *Pipeline) embedAll(ctx context.Context, alias string, texts []string) (*embed.Result, error) {
	out := &embed.Result{Vectors: make([][]float32, 0, len(texts))}
	for start := 0; start < len(texts); start += embed.MaxBatchSize {
		end := start + embed.MaxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		res, err := p.dispatcher.EmbedBatch(ctx, alias, model.ProfileBulk, texts[start:end])
		if err != nil {
			return nil, err
		}
		out.Vectors = append(out.Vectors, res.Vectors...)
		out.Warnings = append(out.Warnings, res.Warnings...)
	}
	return out, nil
}

func chunkPayload(c *chunk.Chunk, chunkID string) map[string]any {
	payload := map[string]any{
		"chunk_id":  chunkID,
		"chunk_idx": c.Index,
		"text":      c.Text,
	}
	for k, v := range c.Metadata {
		payload[k] = v
	}
	if c.IsHeader {
		payload["is_header"] = true
	}
	if c.IsTable {
		payload["is_table"] = true
	}
	if c.ParentSection != "" {
		payload["parent_section"] = c.ParentSection
	}
	return payload
}
