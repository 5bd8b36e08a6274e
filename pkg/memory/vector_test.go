package memory

import (
	"context"
	"fmt"
	"testing"
)

func mustCreate(t *testing.T, l *Local, name string, size uint64) {
	t.Helper()
	if err := l.CreateCollection(context.Background(), name, size); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
}

func mustUpsert(t *testing.T, l *Local, coll string, points ...Point) {
	t.Helper()
	if err := l.Upsert(context.Background(), coll, points); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}

func TestLocalSearchRanksByCosine(t *testing.T) {
	l := NewLocal()
	mustCreate(t, l, "notes", 2)
	mustUpsert(t, l, "notes",
		Point{ID: "exact", Vector: []float32{1, 0}},
		Point{ID: "orthogonal", Vector: []float32{0, 1}},
		Point{ID: "diagonal", Vector: []float32{1, 1}},
	)

	results, err := l.Search(context.Background(), "notes", []float32{1, 0}, 10, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	wantOrder := []string{"exact", "diagonal", "orthogonal"}
	for i, want := range wantOrder {
		if results[i].ID != want {
			t.Errorf("result %d: got %q, want %q", i, results[i].ID, want)
		}
	}
	if results[0].Score < 0.999 {
		t.Errorf("exact match should score ~1, got %v", results[0].Score)
	}
}

func TestLocalSearchThresholdAndLimit(t *testing.T) {
	l := NewLocal()
	mustCreate(t, l, "notes", 2)
	mustUpsert(t, l, "notes",
		Point{ID: "exact", Vector: []float32{1, 0}},
		Point{ID: "orthogonal", Vector: []float32{0, 1}},
		Point{ID: "diagonal", Vector: []float32{1, 1}},
	)

	results, err := l.Search(context.Background(), "notes", []float32{1, 0}, 10, 0.5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("threshold 0.5 should keep 2 results, got %d", len(results))
	}

	results, err = l.Search(context.Background(), "notes", []float32{1, 0}, 1, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "exact" {
		t.Fatalf("limit 1 should return only the best match, got %+v", results)
	}
}

func TestLocalUpsertReplacesByID(t *testing.T) {
	l := NewLocal()
	mustCreate(t, l, "notes", 2)
	mustUpsert(t, l, "notes", Point{ID: "a", Vector: []float32{1, 0}, Payload: map[string]interface{}{"text": "old"}})
	mustUpsert(t, l, "notes", Point{ID: "a", Vector: []float32{1, 0}, Payload: map[string]interface{}{"text": "new"}})

	results, err := l.Search(context.Background(), "notes", []float32{1, 0}, 10, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result after replace, got %d", len(results))
	}
	if got := results[0].Point.Payload["text"]; got != "new" {
		t.Errorf("expected replaced payload, got %v", got)
	}
}

func TestLocalUnknownCollection(t *testing.T) {
	l := NewLocal()
	if err := l.Upsert(context.Background(), "missing", []Point{{ID: "a", Vector: []float32{1}}}); err == nil {
		t.Error("Upsert into unknown collection should fail")
	}
	if _, err := l.Search(context.Background(), "missing", []float32{1}, 1, 0); err == nil {
		t.Error("Search in unknown collection should fail")
	}
}

func TestLocalDimensionMismatch(t *testing.T) {
	l := NewLocal()
	mustCreate(t, l, "notes", 3)
	if err := l.Upsert(context.Background(), "notes", []Point{{ID: "a", Vector: []float32{1, 0}}}); err == nil {
		t.Error("Upsert with wrong dimensions should fail")
	}
	if _, err := l.Search(context.Background(), "notes", []float32{1, 0}, 1, 0); err == nil {
		t.Error("Search with wrong dimensions should fail")
	}
}

func TestLocalCreateCollection(t *testing.T) {
	l := NewLocal()
	mustCreate(t, l, "notes", 2)
	if err := l.CreateCollection(context.Background(), "notes", 2); err != nil {
		t.Errorf("recreate with same size should be a no-op, got %v", err)
	}
	if err := l.CreateCollection(context.Background(), "notes", 3); err == nil {
		t.Error("recreate with different size should fail")
	}
	if err := l.CreateCollection(context.Background(), "", 2); err == nil {
		t.Error("empty name should fail")
	}
	if err := l.CreateCollection(context.Background(), "empty", 0); err == nil {
		t.Error("zero size should fail")
	}
}

// stubEmbedder maps known texts to fixed vectors and everything else to a
// unit vector, so similarity is controlled by the test.
type stubEmbedder struct {
	vectors map[string][]float32
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0}, nil
}

func TestVectorMemoryStoreAndSearch(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"the sky is blue":   {1, 0},
		"water is wet":      {0, 1},
		"what color is sky": {0.9, 0.1},
	}}
	vm := NewVectorMemory(NewLocal(), embedder, "facts")
	ctx := context.Background()

	if err := vm.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := vm.Store(ctx, "the sky is blue", nil); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, err := vm.Store(ctx, "water is wet", nil); err != nil {
		t.Fatalf("Store: %v", err)
	}

	matches, err := vm.Search(ctx, "what color is sky", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected the orthogonal memory below threshold, got %d matches", len(matches))
	}
	if matches[0].Text != "the sky is blue" {
		t.Errorf("expected the closest text back, got %q", matches[0].Text)
	}
	if matches[0].ID == "" {
		t.Error("expected a point ID on the match")
	}
}

func TestVectorMemoryStoreMetadata(t *testing.T) {
	local := NewLocal()
	vm := NewVectorMemory(local, &stubEmbedder{}, "facts")
	ctx := context.Background()

	if err := vm.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	id, err := vm.Store(ctx, "note", map[string]interface{}{"source": "cli", "text": "spoofed"})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	results, err := local.Search(ctx, "facts", []float32{1, 0}, 10, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != id {
		t.Fatalf("expected the stored point back, got %+v", results)
	}
	payload := results[0].Point.Payload
	if payload["text"] != "note" {
		t.Errorf("metadata must not override the text payload, got %v", payload["text"])
	}
	if payload["source"] != "cli" {
		t.Errorf("expected metadata to be stored, got %v", payload["source"])
	}
}

func TestVectorMemoryEmptyInputs(t *testing.T) {
	vm := NewVectorMemory(NewLocal(), &stubEmbedder{}, "facts")
	if _, err := vm.Store(context.Background(), "", nil); err == nil {
		t.Error("empty text should fail")
	}
	if _, err := vm.Search(context.Background(), "", 5); err == nil {
		t.Error("empty query should fail")
	}
}

// fakeStore lets tests script CreateCollection and Search outcomes.
type fakeStore struct {
	createErr error
	searchErr error
}

func (f *fakeStore) CreateCollection(context.Context, string, uint64) error { return f.createErr }
func (f *fakeStore) Upsert(context.Context, string, []Point) error          { return nil }
func (f *fakeStore) Search(context.Context, string, []float32, int, float32) ([]SearchResult, error) {
	return nil, f.searchErr
}

func TestVectorMemoryInitializeToleratesExisting(t *testing.T) {
	// Creation fails but the probe search works: the collection exists.
	vm := NewVectorMemory(&fakeStore{createErr: fmt.Errorf("already exists")}, &stubEmbedder{}, "facts")
	if err := vm.Initialize(context.Background()); err != nil {
		t.Errorf("expected existing collection to be tolerated, got %v", err)
	}

	// Both fail: surface the creation error.
	vm = NewVectorMemory(&fakeStore{
		createErr: fmt.Errorf("connection refused"),
		searchErr: fmt.Errorf("connection refused"),
	}, &stubEmbedder{}, "facts")
	if err := vm.Initialize(context.Background()); err == nil {
		t.Error("expected initialization failure when the store is unreachable")
	}
}
