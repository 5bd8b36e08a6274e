// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"context"
	"sync"

	"github.com/teloslabs/telos/pkg/audit"
)

// feedBuffer is the per-subscriber channel capacity. A consumer that stops
// draining loses intermediate events, never the close.
const feedBuffer = 128

// feed fans one run's events out to its subscribers. It implements
// audit.Sink so the loop tees lifecycle events (and live chunks) straight
// into it; the transport consumes the other end through Watch.
type feed struct {
	mu     sync.Mutex
	subs   []chan audit.Event
	closed bool
}

func newFeed() *feed { return &feed{} }

// Record implements audit.Sink.
func (f *feed) Record(_ context.Context, event audit.Event) error {
	f.publish(event)
	return nil
}

// publish delivers the event to every subscriber without blocking. The core
// pushes; a slow consumer's backpressure is the transport's concern.
func (f *feed) publish(event audit.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for _, ch := range f.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// subscribe returns a channel of this run's events. Closed feeds return an
// already-closed channel so late subscribers fall through to Status.
func (f *feed) subscribe() <-chan audit.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan audit.Event, feedBuffer)
	if f.closed {
		close(ch)
		return ch
	}
	f.subs = append(f.subs, ch)
	return ch
}

// close ends every subscription. Events already buffered remain readable;
// the channel close is the guaranteed terminal signal.
func (f *feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for _, ch := range f.subs {
		close(ch)
	}
	f.subs = nil
}

var _ audit.Sink = (*feed)(nil)
