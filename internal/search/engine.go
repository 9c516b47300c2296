package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/multivec/internal/embed"
	mverr "github.com/Aman-CERP/multivec/internal/errors"
	"github.com/Aman-CERP/multivec/internal/model"
	"github.com/Aman-CERP/multivec/internal/store"
)

const (
	// DefaultLimit is the page size when the request leaves it zero.
	DefaultLimit = 10

	// MaxLimit caps the page size.
	MaxLimit = 100

	// overFetchFactor widens per-branch fetches so fusion has enough
	// candidates after pagination drops some.
	overFetchFactor = 2

	// LexicalBranch is the branch name of the keyword index.
	LexicalBranch = "lexical"
)

// Engine runs fused multi-model search: one vector branch per ready
// model plus an optional keyword branch, merged with RRF.
type Engine struct {
	registry   *model.Registry
	dispatcher *embed.Dispatcher
	vectors    store.VectorStore
	lexical    *store.LexicalIndex
	fusion     *RRFFusion
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLexicalIndex enables the keyword branch.
func WithLexicalIndex(idx *store.LexicalIndex) EngineOption {
	return func(e *Engine) { e.lexical = idx }
}

// WithRRFRank overrides the RRF smoothing constant.
func WithRRFRank(k int) EngineOption {
	return func(e *Engine) { e.fusion = NewRRFFusion(k) }
}

// NewEngine creates a search engine.
func NewEngine(registry *model.Registry, dispatcher *embed.Dispatcher, vectors store.VectorStore, opts ...EngineOption) *Engine {
	e := &Engine{
		registry:   registry,
		dispatcher: dispatcher,
		vectors:    vectors,
		fusion:     NewRRFFusion(DefaultRRFRank),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search embeds the query per model, searches every branch in parallel
// and fuses the ranked lists. A failed branch becomes a warning; the
// call fails only when every branch fails.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	if req.Query == "" {
		return nil, mverr.ValidationError("query must not be empty", nil)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if req.Offset < 0 {
		return nil, mverr.ValidationError("offset must not be negative", nil)
	}

	models, err := e.resolveModels(req.Models)
	if err != nil {
		return nil, err
	}

	fetch := (limit + req.Offset) * overFetchFactor
	filter := req.Filter
	if req.TenantID != "" {
		merged := store.Filter{"tenant_id": req.TenantID}
		for k, v := range filter {
			merged[k] = v
		}
		filter = merged
	}

	var (
		mu       sync.Mutex
		branches []BranchResult
		warnings []string
	)
	attempted := 0

	g, gctx := errgroup.WithContext(ctx)
	for _, cfg := range models {
		attempted++
		g.Go(func() error {
			hits, embedWarnings, branchErr := e.searchModel(gctx, cfg, req.Query, fetch, filter)
			mu.Lock()
			defer mu.Unlock()
			if branchErr != nil {
				slog.Warn("search branch failed",
					slog.String("branch", cfg.Alias),
					slog.String("error", branchErr.Error()))
				warnings = append(warnings, fmt.Sprintf("branch %s failed: %v", cfg.Alias, branchErr))
				return nil
			}
			for _, w := range embedWarnings {
				warnings = append(warnings, fmt.Sprintf("branch %s: %s", cfg.Alias, w))
			}
			branches = append(branches, BranchResult{Branch: cfg.Alias, Hits: hits})
			return nil
		})
	}

	if req.Lexical && e.lexical != nil {
		attempted++
		g.Go(func() error {
			hits, branchErr := e.lexical.Search(gctx, req.Query, fetch, req.TenantID)
			mu.Lock()
			defer mu.Unlock()
			if branchErr != nil {
				slog.Warn("search branch failed",
					slog.String("branch", LexicalBranch),
					slog.String("error", branchErr.Error()))
				warnings = append(warnings, fmt.Sprintf("branch %s failed: %v", LexicalBranch, branchErr))
				return nil
			}
			branches = append(branches, BranchResult{Branch: LexicalBranch, Hits: hits})
			return nil
		})
	}

	if attempted == 0 {
		return nil, mverr.SearchUnavailableError("no ready models serve realtime search", nil)
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(branches) == 0 {
		return nil, mverr.SearchUnavailableError(
			fmt.Sprintf("all %d search branches failed", attempted), nil)
	}

	// Deterministic branch order keeps fused output stable regardless
	// of goroutine completion order.
	sortBranches(branches)

	results := Page(e.fusion.Fuse(branches), req.Threshold, req.Offset, limit)

	return &Response{
		Results:    results,
		Warnings:   warnings,
		Branches:   len(branches),
		DurationMS: time.Since(start).Milliseconds(),
	}, nil
}

// searchModel embeds the query with one model and searches its
// collection. Truncation warnings from the embedder ride along so the
// caller can surface them.
func (e *Engine) searchModel(ctx context.Context, cfg model.Config, query string, fetch int, filter store.Filter) ([]*store.ScoredPoint, []string, error) {
	res, err := e.dispatcher.EmbedBatch(ctx, cfg.Alias, model.ProfileRealtime, []string{query})
	if err != nil {
		return nil, nil, err
	}
	if len(res.Vectors) != 1 {
		return nil, nil, fmt.Errorf("expected 1 query vector, got %d", len(res.Vectors))
	}
	hits, err := e.vectors.Search(ctx, cfg.Collection(), res.Vectors[0], fetch, 0, filter)
	if err != nil {
		return nil, nil, err
	}
	return hits, res.Warnings, nil
}

// resolveModels picks the vector branches: the requested aliases, or
// every ready realtime model when the request names none.
func (e *Engine) resolveModels(aliases []string) ([]model.Config, error) {
	if len(aliases) == 0 {
		return e.registry.ReadyModels(model.ProfileRealtime), nil
	}
	models := make([]model.Config, 0, len(aliases))
	for _, alias := range aliases {
		cfg, err := e.registry.Get(alias)
		if err != nil {
			return nil, err
		}
		models = append(models, cfg)
	}
	return models, nil
}

func sortBranches(branches []BranchResult) {
	sort.Slice(branches, func(i, j int) bool {
		return branches[i].Branch < branches[j].Branch
	})
}
