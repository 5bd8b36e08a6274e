// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/teloslabs/telos/pkg/core"
)

func logLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var record map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &record); err != nil {
		t.Fatalf("log output is not JSON: %v\n%s", err, buf.String())
	}
	return record
}

func TestHandlerInjectsRunIdentity(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newSlogHandler(&buf, "info", "json"))

	ctx := core.WithRunID(context.Background(), "run_123")
	ctx = core.WithAgentID(ctx, "researcher")
	logger.InfoContext(ctx, "step finished")

	record := logLine(t, &buf)
	if record["run_id"] != "run_123" {
		t.Errorf("expected run_id injected, got %v", record["run_id"])
	}
	if record["agent_id"] != "researcher" {
		t.Errorf("expected agent_id injected, got %v", record["agent_id"])
	}
}

func TestHandlerKeepsExplicitAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newSlogHandler(&buf, "info", "json"))

	ctx := core.WithRunID(context.Background(), "run_ctx")
	logger.InfoContext(ctx, "archived", slog.String("run_id", "run_explicit"))

	record := logLine(t, &buf)
	if record["run_id"] != "run_explicit" {
		t.Errorf("explicit run_id must win over context, got %v", record["run_id"])
	}
}

func TestHandlerBareContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newSlogHandler(&buf, "info", "json"))

	logger.InfoContext(context.Background(), "startup")

	record := logLine(t, &buf)
	for _, key := range []string{"run_id", "agent_id", "trace_id", "span_id"} {
		if _, ok := record[key]; ok {
			t.Errorf("unexpected %s on a record with no identity in context", key)
		}
	}
}
