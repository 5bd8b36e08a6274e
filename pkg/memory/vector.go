// Package memory provides vector stores and embedding helpers backing the
// builtin memory tools.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// VectorStore is implemented by vector databases that hold embedded memories.
type VectorStore interface {
	// CreateCollection creates a collection if it does not exist.
	CreateCollection(ctx context.Context, name string, vectorSize uint64) error
	// Upsert adds or replaces points in a collection.
	Upsert(ctx context.Context, collection string, points []Point) error
	// Search returns the points nearest to the query vector, best first.
	// Points scoring below scoreThreshold are dropped.
	Search(ctx context.Context, collection string, vector []float32, limit int, scoreThreshold float32) ([]SearchResult, error)
}

// Point is a stored vector with its payload.
type Point struct {
	ID        string                 `json:"id"`
	Vector    []float32              `json:"vector"`
	Payload   map[string]interface{} `json:"payload"`
	Timestamp int64                  `json:"timestamp"`
}

// SearchResult is one hit from a vector search.
type SearchResult struct {
	ID    string  `json:"id"`
	Score float32 `json:"score"`
	Point Point   `json:"point"`
}

// Embedder converts text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// DefaultSearchLimit caps searches that do not name a limit.
const DefaultSearchLimit = 5

// DefaultScoreThreshold filters out weak matches when the caller does not
// pick a threshold.
const DefaultScoreThreshold = 0.2

// VectorMemory combines a store and an embedder under one collection. It is
// the backend of the memory_store and memory_search tools.
type VectorMemory struct {
	store      VectorStore
	embedder   Embedder
	collection string
}

// NewVectorMemory creates a memory over the given collection. Call
// Initialize before first use.
func NewVectorMemory(store VectorStore, embedder Embedder, collection string) *VectorMemory {
	return &VectorMemory{store: store, embedder: embedder, collection: collection}
}

// Initialize ensures the collection exists, sized to the embedder's output.
// Stores with no existence check report creation failures for collections
// that already exist, so a probe search disambiguates before giving up.
func (vm *VectorMemory) Initialize(ctx context.Context) error {
	vec, err := vm.embedder.Embed(ctx, "dimension probe")
	if err != nil {
		return fmt.Errorf("embedder probe failed: %w", err)
	}
	if err := vm.store.CreateCollection(ctx, vm.collection, uint64(len(vec))); err != nil {
		if _, searchErr := vm.store.Search(ctx, vm.collection, vec, 1, 0); searchErr == nil {
			return nil
		}
		return err
	}
	return nil
}

// Store embeds text and saves it with the given metadata. It returns the ID
// of the stored point.
func (vm *VectorMemory) Store(ctx context.Context, text string, metadata map[string]interface{}) (string, error) {
	if text == "" {
		return "", fmt.Errorf("memory: text is required")
	}
	vector, err := vm.embedder.Embed(ctx, text)
	if err != nil {
		return "", fmt.Errorf("embed text: %w", err)
	}
	payload := map[string]interface{}{"text": text}
	for k, v := range metadata {
		if k == "text" {
			continue
		}
		payload[k] = v
	}
	id := uuid.NewString()
	point := Point{
		ID:        id,
		Vector:    vector,
		Payload:   payload,
		Timestamp: time.Now().Unix(),
	}
	if err := vm.store.Upsert(ctx, vm.collection, []Point{point}); err != nil {
		return "", fmt.Errorf("store point: %w", err)
	}
	return id, nil
}

// Match is one recalled memory.
type Match struct {
	ID    string  `json:"id"`
	Score float32 `json:"score"`
	Text  string  `json:"text"`
}

// Search embeds the query and returns the closest stored texts, best first.
// A non-positive limit falls back to DefaultSearchLimit.
func (vm *VectorMemory) Search(ctx context.Context, query string, limit int) ([]Match, error) {
	if query == "" {
		return nil, fmt.Errorf("memory: query is required")
	}
	vector, err := vm.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	results, err := vm.store.Search(ctx, vm.collection, vector, limit, DefaultScoreThreshold)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	matches := make([]Match, 0, len(results))
	for _, r := range results {
		text, _ := r.Point.Payload["text"].(string)
		matches = append(matches, Match{ID: r.ID, Score: r.Score, Text: text})
	}
	return matches, nil
}

// Local is an in-process VectorStore using exact cosine similarity. It backs
// tests and single-node deployments that run without qdrant.
type Local struct {
	mu          sync.RWMutex
	collections map[string]*localCollection
}

type localCollection struct {
	size   uint64
	points map[string]Point
}

// NewLocal creates an empty local store.
func NewLocal() *Local {
	return &Local{collections: make(map[string]*localCollection)}
}

// CreateCollection registers a collection. Creating an existing collection
// with the same size is a no-op; with a different size it is an error.
func (l *Local) CreateCollection(_ context.Context, name string, vectorSize uint64) error {
	if name == "" {
		return fmt.Errorf("memory: collection name is required")
	}
	if vectorSize == 0 {
		return fmt.Errorf("memory: vector size must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.collections[name]; ok {
		if c.size != vectorSize {
			return fmt.Errorf("memory: collection %q already exists with size %d", name, c.size)
		}
		return nil
	}
	l.collections[name] = &localCollection{size: vectorSize, points: make(map[string]Point)}
	return nil
}

// Upsert adds or replaces points by ID.
func (l *Local) Upsert(_ context.Context, collection string, points []Point) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.collections[collection]
	if !ok {
		return fmt.Errorf("memory: unknown collection %q", collection)
	}
	for _, p := range points {
		if uint64(len(p.Vector)) != c.size {
			return fmt.Errorf("memory: point %q has %d dimensions, collection %q expects %d",
				p.ID, len(p.Vector), collection, c.size)
		}
		c.points[p.ID] = p
	}
	return nil
}

// Search scans the collection and returns up to limit points with cosine
// similarity at or above scoreThreshold, best first. Ties break by ID so
// results are deterministic.
func (l *Local) Search(_ context.Context, collection string, vector []float32, limit int, scoreThreshold float32) ([]SearchResult, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.collections[collection]
	if !ok {
		return nil, fmt.Errorf("memory: unknown collection %q", collection)
	}
	if uint64(len(vector)) != c.size {
		return nil, fmt.Errorf("memory: query has %d dimensions, collection %q expects %d",
			len(vector), collection, c.size)
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	results := make([]SearchResult, 0, len(c.points))
	for _, p := range c.points {
		score := cosine(vector, p.Vector)
		if score < scoreThreshold {
			continue
		}
		results = append(results, SearchResult{ID: p.ID, Score: score, Point: p})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
