// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit records run lifecycle events. The execution core only ever
// writes: every state transition, tool dispatch, and error becomes one Event
// pushed to a Sink. Reading the trail back is an operator concern.
package audit

import (
	"context"
	"errors"
	"time"
)

// EventType identifies one kind of lifecycle event.
type EventType string

const (
	EventRunQueued      EventType = "run.queued"
	EventRunStarted     EventType = "run.started"
	EventRunWaitingTool EventType = "run.waiting_tool"
	EventRunResumed     EventType = "run.resumed"
	EventRunCompleted   EventType = "run.completed"
	EventRunFailed      EventType = "run.failed"
	EventRunCancelled   EventType = "run.cancelled"
	EventToolDispatched EventType = "run.tool.dispatched"
	EventRunError       EventType = "run.error"

	// EventRunChunk carries live streamed content to feed subscribers. The
	// loop sends it to the feed only; it is never persisted.
	EventRunChunk EventType = "run.chunk"
)

// Event is one audit record.
type Event struct {
	Type      EventType              `json:"type"`
	RunID     string                 `json:"run_id"`
	AgentID   string                 `json:"agent_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// NewEvent builds an event stamped with the current UTC time.
func NewEvent(eventType EventType, runID, agentID string, payload map[string]interface{}) Event {
	return Event{
		Type:      eventType,
		RunID:     runID,
		AgentID:   agentID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// WithError attaches an error message to the event.
func (e Event) WithError(err error) Event {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// Sink receives audit events. Implementations must be safe for concurrent
// use; a Record failure never propagates into run state.
type Sink interface {
	Record(ctx context.Context, event Event) error
}

// NopSink discards everything.
type NopSink struct{}

// Record implements Sink.
func (NopSink) Record(context.Context, Event) error { return nil }

// MultiSink fans each event out to several sinks.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks, skipping nils.
func NewMultiSink(sinks ...Sink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Record delivers the event to every sink and joins their failures. A
// failing sink does not stop delivery to the others.
func (m *MultiSink) Record(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
