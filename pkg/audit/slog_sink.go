// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"log/slog"
)

// SlogSink writes audit events to a structured logger. It is the sink every
// deployment gets even when nothing else is configured.
type SlogSink struct {
	log *slog.Logger
}

// NewSlogSink wraps a logger; nil uses slog.Default().
func NewSlogSink(log *slog.Logger) *SlogSink {
	if log == nil {
		log = slog.Default()
	}
	return &SlogSink{log: log}
}

// Record logs the event under its type name. Events carrying an error log at
// error level so they surface in filtered views.
func (s *SlogSink) Record(ctx context.Context, event Event) error {
	attrs := []any{
		slog.String("run_id", event.RunID),
	}
	if event.AgentID != "" {
		attrs = append(attrs, slog.String("agent_id", event.AgentID))
	}
	if len(event.Payload) > 0 {
		attrs = append(attrs, slog.Any("payload", event.Payload))
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
		s.log.ErrorContext(ctx, string(event.Type), attrs...)
		return nil
	}
	s.log.InfoContext(ctx, string(event.Type), attrs...)
	return nil
}
