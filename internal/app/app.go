// Package app assembles the multivec components from configuration:
// registry, dispatcher, stores, search engine, ingestion pipeline,
// idempotency cache, and reindex orchestrator. CLI commands and the
// MCP server consume an App instead of wiring collaborators themselves.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/Aman-CERP/multivec/internal/chunk"
	"github.com/Aman-CERP/multivec/internal/config"
	"github.com/Aman-CERP/multivec/internal/embed"
	"github.com/Aman-CERP/multivec/internal/idempotency"
	"github.com/Aman-CERP/multivec/internal/ingest"
	"github.com/Aman-CERP/multivec/internal/model"
	"github.com/Aman-CERP/multivec/internal/reindex"
	"github.com/Aman-CERP/multivec/internal/search"
	"github.com/Aman-CERP/multivec/internal/store"
)

// App is the assembled engine plus everything needed to shut it down.
type App struct {
	Config       *config.Config
	Registry     *model.Registry
	Dispatcher   *embed.Dispatcher
	Vectors      *store.LocalVectorStore
	Lexical      *store.LexicalIndex
	Engine       *search.Engine
	Pipeline     *ingest.Pipeline
	Documents    *ingest.DocumentStore
	Idempotency  *idempotency.Store
	Orchestrator *reindex.Orchestrator
	DB           *sql.DB

	lock      *store.DirLock
	watchStop context.CancelFunc
}

// docSource adapts the document store to the reindex orchestrator.
type docSource struct {
	docs *ingest.DocumentStore
}

func (s docSource) ListDocuments(ctx context.Context, target reindex.Target) ([]ingest.Document, error) {
	return s.docs.List(ctx, target.TenantID, target.Scope, target.DocumentID)
}

// Open builds an App from cfg. It acquires the data-dir lock, loads
// persisted vector graphs, and starts the models-file watcher. Close
// releases everything in reverse order.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	lock := store.NewDirLock(cfg.DataDir)
	if err := lock.Acquire(); err != nil {
		return nil, err
	}

	a := &App{Config: cfg, lock: lock}
	if err := a.build(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config) error {
	a.Registry = model.LoadRegistry(cfg.ModelsFile)

	watchCtx, stop := context.WithCancel(context.Background())
	a.watchStop = stop
	if cfg.ModelsFile != "" {
		go func() {
			if err := model.Watch(watchCtx, a.Registry, cfg.ModelsFile); err != nil && watchCtx.Err() == nil {
				slog.Warn("models file watcher stopped", slog.String("error", err.Error()))
			}
		}()
	}

	a.Dispatcher = embed.NewDispatcher(a.Registry)
	if err := a.registerBackends(ctx, cfg); err != nil {
		return err
	}

	a.Vectors = store.NewLocalVectorStore(store.LocalStoreConfig{})
	if err := a.Vectors.Load(cfg.VectorDir()); err != nil {
		return fmt.Errorf("load vector indexes: %w", err)
	}

	var err error
	a.Lexical, err = store.NewLexicalIndex(cfg.LexicalPath())
	if err != nil {
		return fmt.Errorf("open lexical index: %w", err)
	}

	a.DB, err = store.OpenDB(cfg.StatePath())
	if err != nil {
		return err
	}

	a.Idempotency, err = idempotency.NewStore(a.DB, idempotency.WithTTL(cfg.Idempotency.TTL))
	if err != nil {
		return err
	}

	a.Documents, err = ingest.NewDocumentStore(a.DB)
	if err != nil {
		return err
	}

	jobs, err := reindex.NewJobStore(a.DB)
	if err != nil {
		return err
	}

	chunker := chunk.NewChunkerWithOptions(chunk.Options{
		MaxChars: cfg.Chunking.MaxChars,
		Overlap:  cfg.Chunking.Overlap,
	})

	a.Pipeline = ingest.NewPipeline(a.Registry, a.Dispatcher, a.Vectors,
		ingest.WithChunker(chunker),
		ingest.WithLexicalIndex(a.Lexical))

	engineOpts := []search.EngineOption{search.WithRRFRank(cfg.Search.RRFRank)}
	if cfg.Search.Lexical {
		engineOpts = append(engineOpts, search.WithLexicalIndex(a.Lexical))
	}
	a.Engine = search.NewEngine(a.Registry, a.Dispatcher, a.Vectors, engineOpts...)

	a.Orchestrator = reindex.NewOrchestrator(docSource{a.Documents}, a.Pipeline, jobs)
	return nil
}

// registerBackends creates one backend per enabled model: an HTTP
// backend when configured, the deterministic static backend otherwise.
// Backends are wrapped in an LRU cache when caching is enabled.
func (a *App) registerBackends(ctx context.Context, cfg *config.Config) error {
	for _, mc := range a.Registry.List(true) {
		var backend embed.Backend
		if hc, ok := cfg.Embed.Backends[mc.Alias]; ok {
			if hc.ModelID == "" {
				hc.ModelID = mc.ID
			}
			if hc.Dim == 0 {
				hc.Dim = mc.Dim
			}
			hb, err := embed.NewHTTPBackend(ctx, hc)
			if err != nil {
				// A cold backend is a degraded model, not a startup
				// failure. The dispatcher health probe flips it back.
				slog.Warn("embedding backend unavailable at startup",
					slog.String("model", mc.Alias),
					slog.String("error", err.Error()))
				if healthErr := a.Registry.UpdateHealth(mc.Alias, model.HealthDown); healthErr != nil {
					return healthErr
				}
				continue
			}
			backend = hb
		} else {
			backend = embed.NewStaticBackend(mc.ID, mc.Dim)
		}

		if cfg.Embed.CacheSize > 0 {
			backend = embed.NewCachedBackend(backend, cfg.Embed.CacheSize)
		}
		a.Dispatcher.RegisterBackend(mc.Alias, backend)
	}
	return nil
}

// Save persists the vector indexes to the data directory.
func (a *App) Save() error {
	if a.Vectors == nil {
		return nil
	}
	if err := os.MkdirAll(a.Config.VectorDir(), 0o755); err != nil {
		return fmt.Errorf("create vector dir: %w", err)
	}
	return a.Vectors.Save(a.Config.VectorDir())
}

// Close releases resources. Safe to call after a partial Open failure.
func (a *App) Close() error {
	if a.watchStop != nil {
		a.watchStop()
	}

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.Dispatcher != nil {
		record(a.Dispatcher.Close())
	}
	if a.Lexical != nil {
		record(a.Lexical.Close())
	}
	if a.Vectors != nil {
		record(a.Vectors.Close())
	}
	if a.DB != nil {
		record(a.DB.Close())
	}
	if a.lock != nil {
		record(a.lock.Release())
	}
	return firstErr
}
