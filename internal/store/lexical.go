package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
)

// LexicalIndex wraps a Bleve index for keyword (BM25) retrieval over
// chunk text. It feeds the optional lexical branch of fusion search.
type LexicalIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	closed bool
}

// lexicalDocument is the shape Bleve indexes.
type lexicalDocument struct {
	Text     string `json:"text"`
	TenantID string `json:"tenant_id"`
}

// NewLexicalIndex opens or creates a Bleve index at path. An empty path
// builds an in-memory index, which tests rely on.
func NewLexicalIndex(path string) (*LexicalIndex, error) {
	mapping := bleve.NewIndexMapping()

	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(mapping)
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0755); mkErr != nil {
			return nil, fmt.Errorf("create index directory: %w", mkErr)
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, mapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open lexical index: %w", err)
	}
	return &LexicalIndex{index: idx}, nil
}

// Index adds or replaces chunk text by ID.
func (l *LexicalIndex) Index(ctx context.Context, ids []string, texts []string, tenantID string) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(texts) {
		return fmt.Errorf("ids and texts length mismatch: %d vs %d", len(ids), len(texts))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("lexical index is closed")
	}

	batch := l.index.NewBatch()
	for i, id := range ids {
		doc := lexicalDocument{Text: texts[i], TenantID: tenantID}
		if err := batch.Index(id, doc); err != nil {
			return fmt.Errorf("index document %s: %w", id, err)
		}
	}
	if err := l.index.Batch(batch); err != nil {
		return fmt.Errorf("execute batch: %w", err)
	}
	return nil
}

// Search returns up to limit chunks matching the query, BM25-scored.
// An empty query returns no results.
func (l *LexicalIndex) Search(ctx context.Context, query string, limit int, tenantID string) ([]*ScoredPoint, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return []*ScoredPoint{}, nil
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("text")

	var req *bleve.SearchRequest
	if tenantID != "" {
		tenantQuery := bleve.NewTermQuery(tenantID)
		tenantQuery.SetField("tenant_id")
		req = bleve.NewSearchRequest(bleve.NewConjunctionQuery(matchQuery, tenantQuery))
	} else {
		req = bleve.NewSearchRequest(matchQuery)
	}
	req.Size = limit

	result, err := l.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	points := make([]*ScoredPoint, 0, len(result.Hits))
	for _, hit := range result.Hits {
		points = append(points, &ScoredPoint{ID: hit.ID, Score: hit.Score})
	}
	return points, nil
}

// Delete removes documents by ID.
func (l *LexicalIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("lexical index is closed")
	}

	batch := l.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := l.index.Batch(batch); err != nil {
		return fmt.Errorf("execute delete batch: %w", err)
	}
	return nil
}

// Close releases the underlying Bleve index.
func (l *LexicalIndex) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.index.Close()
}
