package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// LocalVectorStore implements VectorStore with one pure-Go HNSW graph per
// collection. No CGO, no external service.
type LocalVectorStore struct {
	mu          sync.RWMutex
	collections map[string]*hnswCollection
	config      LocalStoreConfig
	closed      bool
}

// LocalStoreConfig tunes graph construction and search.
type LocalStoreConfig struct {
	Metric   string // "cos" or "l2"
	M        int
	EfSearch int
}

// hnswCollection is a single collection's graph plus its ID mappings
// and payloads. Internal keys are uint64 because coder/hnsw wants an
// ordered key type; string IDs live in the side maps.
type hnswCollection struct {
	graph    *hnsw.Graph[uint64]
	dim      int
	idMap    map[string]uint64
	keyMap   map[uint64]string
	payloads map[string]map[string]any
	nextKey  uint64
}

// collectionMetadata is the gob-persisted side state for one collection.
type collectionMetadata struct {
	Dim      int
	IDMap    map[string]uint64
	Payloads map[string]map[string]any
	NextKey  uint64
}

// NewLocalVectorStore creates an empty store.
func NewLocalVectorStore(cfg LocalStoreConfig) *LocalVectorStore {
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}
	return &LocalVectorStore{
		collections: make(map[string]*hnswCollection),
		config:      cfg,
	}
}

func (s *LocalVectorStore) newCollection(dim int) *hnswCollection {
	graph := hnsw.NewGraph[uint64]()
	switch s.config.Metric {
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = s.config.M
	graph.EfSearch = s.config.EfSearch
	graph.Ml = 0.25
	return &hnswCollection{
		graph:    graph,
		dim:      dim,
		idMap:    make(map[string]uint64),
		keyMap:   make(map[uint64]string),
		payloads: make(map[string]map[string]any),
	}
}

// Upsert inserts or replaces points. The first upsert into a collection
// fixes its dimension; later mismatches are rejected.
func (s *LocalVectorStore) Upsert(ctx context.Context, collection string, points []*Point) error {
	if len(points) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	coll, ok := s.collections[collection]
	if !ok {
		coll = s.newCollection(len(points[0].Vector))
		s.collections[collection] = coll
	}

	for _, p := range points {
		if len(p.Vector) != coll.dim {
			return ErrDimensionMismatch{Collection: collection, Expected: coll.dim, Got: len(p.Vector)}
		}
	}

	for _, p := range points {
		// Replacing an existing ID uses lazy deletion: the old graph node
		// is orphaned rather than removed, which sidesteps a coder/hnsw
		// bug when deleting the last node.
		if existingKey, exists := coll.idMap[p.ID]; exists {
			delete(coll.keyMap, existingKey)
			delete(coll.idMap, p.ID)
		}

		key := coll.nextKey
		coll.nextKey++

		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		if s.config.Metric == "cos" {
			normalizeVectorInPlace(vec)
		}

		coll.graph.Add(hnsw.MakeNode(key, vec))
		coll.idMap[p.ID] = key
		coll.keyMap[key] = p.ID
		coll.payloads[p.ID] = p.Payload
	}

	return nil
}

// Search returns up to limit nearest neighbors after skipping offset
// results. When a filter or offset is present the graph is over-fetched
// so filtered-out and skipped points do not eat into the page.
func (s *LocalVectorStore) Search(ctx context.Context, collection string, vector []float32, limit, offset int, filter Filter) ([]*ScoredPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if limit <= 0 {
		return []*ScoredPoint{}, nil
	}

	coll, ok := s.collections[collection]
	if !ok || coll.graph.Len() == 0 {
		return []*ScoredPoint{}, nil
	}
	if len(vector) != coll.dim {
		return nil, ErrDimensionMismatch{Collection: collection, Expected: coll.dim, Got: len(vector)}
	}

	query := make([]float32, len(vector))
	copy(query, vector)
	if s.config.Metric == "cos" {
		normalizeVectorInPlace(query)
	}

	k := limit + offset
	if len(filter) > 0 {
		// Orphaned nodes and filter misses are dropped after the graph
		// search, so ask for extra and fall back to a full scan if the
		// over-fetch still comes up short.
		k = (limit + offset) * 4
	}
	if k > coll.graph.Len() {
		k = coll.graph.Len()
	}

	matched := s.collectMatches(coll, query, k, filter)
	if len(filter) > 0 && len(matched) < limit+offset && k < coll.graph.Len() {
		matched = s.collectMatches(coll, query, coll.graph.Len(), filter)
	}

	if offset >= len(matched) {
		return []*ScoredPoint{}, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *LocalVectorStore) collectMatches(coll *hnswCollection, query []float32, k int, filter Filter) []*ScoredPoint {
	nodes := coll.graph.Search(query, k)
	matched := make([]*ScoredPoint, 0, len(nodes))
	for _, node := range nodes {
		id, exists := coll.keyMap[node.Key]
		if !exists {
			// Orphaned by a lazy delete.
			continue
		}
		payload := coll.payloads[id]
		if !filter.Matches(payload) {
			continue
		}
		distance := coll.graph.Distance(query, node.Value)
		matched = append(matched, &ScoredPoint{
			ID:      id,
			Score:   distanceToScore(distance, s.config.Metric),
			Payload: payload,
		})
	}

	// The graph walk returns equal-distance neighbors in whatever order
	// its randomized levels produce. Pagination and downstream rank
	// fusion both need a stable order, so break ties by ID.
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Score != matched[j].Score {
			return matched[i].Score > matched[j].Score
		}
		return matched[i].ID < matched[j].ID
	})
	return matched
}

// Count returns the number of live (non-orphaned) points.
func (s *LocalVectorStore) Count(ctx context.Context, collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, fmt.Errorf("store is closed")
	}
	coll, ok := s.collections[collection]
	if !ok {
		return 0, nil
	}
	return len(coll.idMap), nil
}

// Delete removes points by ID using lazy deletion. Unknown IDs are ignored.
func (s *LocalVectorStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}
	coll, ok := s.collections[collection]
	if !ok {
		return nil
	}
	for _, id := range ids {
		key, exists := coll.idMap[id]
		if !exists {
			continue
		}
		delete(coll.keyMap, key)
		delete(coll.idMap, id)
		delete(coll.payloads, id)
	}
	return nil
}

// DeleteByFilter removes every point whose payload matches the filter,
// returning the removed IDs. Used to drop a document's stale chunks
// before re-ingesting it.
func (s *LocalVectorStore) DeleteByFilter(ctx context.Context, collection string, filter Filter) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	coll, ok := s.collections[collection]
	if !ok {
		return nil, nil
	}

	var removed []string
	for id, payload := range coll.payloads {
		if !filter.Matches(payload) {
			continue
		}
		if key, exists := coll.idMap[id]; exists {
			delete(coll.keyMap, key)
			delete(coll.idMap, id)
		}
		delete(coll.payloads, id)
		removed = append(removed, id)
	}
	sort.Strings(removed)
	return removed, nil
}

// Collections returns the sorted names of all collections.
func (s *LocalVectorStore) Collections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DropCollection removes a collection entirely.
func (s *LocalVectorStore) DropCollection(collection string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, collection)
}

// Save persists every collection under dir: <name>.hnsw for the graph
// (coder/hnsw export format) and <name>.hnsw.meta for ID mappings and
// payloads. Writes go through a temp file and rename.
func (s *LocalVectorStore) Save(dir string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}

	for name, coll := range s.collections {
		indexPath := filepath.Join(dir, name+".hnsw")
		if err := saveGraph(coll.graph, indexPath); err != nil {
			return fmt.Errorf("save collection %s: %w", name, err)
		}
		if err := saveCollectionMetadata(coll, indexPath+".meta"); err != nil {
			return fmt.Errorf("save collection %s metadata: %w", name, err)
		}
	}
	return nil
}

func saveGraph(graph *hnsw.Graph[uint64], path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp index file: %w", err)
	}

	writer := bufio.NewWriter(file)
	if err := graph.Export(writer); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := writer.Flush(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("flush index file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename index file: %w", err)
	}
	return nil
}

func saveCollectionMetadata(coll *hnswCollection, path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}

	meta := collectionMetadata{
		Dim:      coll.dim,
		IDMap:    coll.idMap,
		Payloads: coll.payloads,
		NextKey:  coll.nextKey,
	}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("failed to close temp metadata file", slog.String("error", closeErr.Error()))
		}
		os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load restores collections previously written by Save. A missing
// directory is not an error; the store simply starts empty.
func (s *LocalVectorStore) Load(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read store directory: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".hnsw" {
			continue
		}
		collName := name[:len(name)-len(".hnsw")]
		indexPath := filepath.Join(dir, name)

		coll, err := s.loadCollection(indexPath)
		if err != nil {
			return fmt.Errorf("load collection %s: %w", collName, err)
		}
		s.collections[collName] = coll
	}
	return nil
}

func (s *LocalVectorStore) loadCollection(indexPath string) (*hnswCollection, error) {
	metaFile, err := os.Open(indexPath + ".meta")
	if err != nil {
		return nil, fmt.Errorf("open metadata file: %w", err)
	}
	defer metaFile.Close()

	var meta collectionMetadata
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}

	coll := s.newCollection(meta.Dim)
	coll.idMap = meta.IDMap
	coll.payloads = meta.Payloads
	coll.nextKey = meta.NextKey
	for id, key := range meta.IDMap {
		coll.keyMap[key] = id
	}

	file, err := os.Open(indexPath)
	if err != nil {
		return nil, fmt.Errorf("open index file: %w", err)
	}
	defer file.Close()

	// coder/hnsw Import requires an io.ByteReader.
	if err := coll.graph.Import(bufio.NewReader(file)); err != nil {
		return nil, fmt.Errorf("import graph: %w", err)
	}
	return coll, nil
}

// Close marks the store closed. Further operations fail.
func (s *LocalVectorStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
