// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"errors"
	"testing"
)

// flakyStore wraps a Local store and fails the configured operations, like a
// remote store behind a dead connection.
type flakyStore struct {
	inner      *Local
	failSearch bool
	failUpsert bool
}

var errStoreDown = errors.New("store unreachable")

func (s *flakyStore) CreateCollection(ctx context.Context, name string, size uint64) error {
	return s.inner.CreateCollection(ctx, name, size)
}

func (s *flakyStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if s.failUpsert {
		return errStoreDown
	}
	return s.inner.Upsert(ctx, collection, points)
}

func (s *flakyStore) Search(ctx context.Context, collection string, vector []float32, limit int, threshold float32) ([]SearchResult, error) {
	if s.failSearch {
		return nil, errStoreDown
	}
	return s.inner.Search(ctx, collection, vector, limit, threshold)
}

func TestFailoverSearchDegradesToStandby(t *testing.T) {
	ctx := context.Background()
	primary := &flakyStore{inner: NewLocal()}
	standby := NewLocal()
	store := NewFailover(primary, standby)

	if err := store.CreateCollection(ctx, "memories", 3); err != nil {
		t.Fatalf("create collection: %v", err)
	}
	point := Point{ID: "p1", Vector: []float32{1, 0, 0}, Payload: map[string]interface{}{"text": "remember me"}}
	if err := store.Upsert(ctx, "memories", []Point{point}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Healthy primary serves the read.
	results, err := store.Search(ctx, "memories", []float32{1, 0, 0}, 5, 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "p1" {
		t.Fatalf("expected p1 from primary, got %+v", results)
	}

	// Dead primary degrades to the mirrored standby instead of failing.
	primary.failSearch = true
	results, err = store.Search(ctx, "memories", []float32{1, 0, 0}, 5, 0)
	if err != nil {
		t.Fatalf("degraded search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "p1" {
		t.Fatalf("expected p1 from standby, got %+v", results)
	}
}

func TestFailoverSearchBothDown(t *testing.T) {
	ctx := context.Background()
	primary := &flakyStore{inner: NewLocal(), failSearch: true}
	standby := NewLocal()
	store := NewFailover(primary, standby)

	// Standby has no collection either; the standby error surfaces.
	if _, err := store.Search(ctx, "memories", []float32{1}, 5, 0); err == nil {
		t.Fatal("expected error when both stores fail")
	}
}

func TestFailoverUpsertSurfacesPrimaryError(t *testing.T) {
	ctx := context.Background()
	primary := &flakyStore{inner: NewLocal(), failUpsert: true}
	standby := NewLocal()
	store := NewFailover(primary, standby)

	if err := store.CreateCollection(ctx, "memories", 1); err != nil {
		t.Fatalf("create collection: %v", err)
	}
	point := Point{ID: "p1", Vector: []float32{1}}
	if err := store.Upsert(ctx, "memories", []Point{point}); !errors.Is(err, errStoreDown) {
		t.Fatalf("expected the primary's error, got %v", err)
	}

	// The mirror still took the write: degraded recall can serve it.
	results, err := standby.Search(ctx, "memories", []float32{1}, 5, 0)
	if err != nil {
		t.Fatalf("standby search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected the mirrored point, got %+v", results)
	}
}
