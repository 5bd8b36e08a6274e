// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"

	"github.com/teloslabs/telos/pkg/resilience"
)

// Failover is a VectorStore that mirrors writes into a standby store and
// degrades reads through it when the primary fails. Recall is best-effort:
// a qdrant outage should narrow what an agent remembers, not fail its run,
// so the standby (typically the in-process Local store) serves whatever was
// mirrored since startup.
type Failover struct {
	primary VectorStore
	standby VectorStore
}

// NewFailover combines a primary store with a standby mirror.
func NewFailover(primary, standby VectorStore) *Failover {
	return &Failover{primary: primary, standby: standby}
}

// CreateCollection creates the collection on both stores. The standby is
// prepared first so it can absorb mirrored writes even when the primary is
// already down.
func (f *Failover) CreateCollection(ctx context.Context, name string, vectorSize uint64) error {
	if err := f.standby.CreateCollection(ctx, name, vectorSize); err != nil {
		return err
	}
	return f.primary.CreateCollection(ctx, name, vectorSize)
}

// Upsert writes to the primary and mirrors into the standby. The mirror is
// best-effort; only the primary's error surfaces.
func (f *Failover) Upsert(ctx context.Context, collection string, points []Point) error {
	_ = f.standby.Upsert(ctx, collection, points)
	return f.primary.Upsert(ctx, collection, points)
}

// Search queries the primary and falls back to the standby when it fails.
func (f *Failover) Search(ctx context.Context, collection string, vector []float32, limit int, scoreThreshold float32) ([]SearchResult, error) {
	value, err := resilience.WithFallback(ctx,
		func() (interface{}, error) {
			return f.primary.Search(ctx, collection, vector, limit, scoreThreshold)
		},
		resilience.FallbackFunc(func(ctx context.Context, _ error) (interface{}, error) {
			return f.standby.Search(ctx, collection, vector, limit, scoreThreshold)
		}),
	)
	if err != nil {
		return nil, err
	}
	results, _ := value.([]SearchResult)
	return results, nil
}

var _ VectorStore = (*Failover)(nil)
