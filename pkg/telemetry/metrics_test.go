// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"testing"
	"time"

	telerr "github.com/teloslabs/telos/pkg/errors"
)

func TestNewMetrics(t *testing.T) {
	m, err := NewMetrics()
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	if m == nil {
		t.Fatal("expected non-nil Metrics")
	}
}

func TestMetricsRecording(t *testing.T) {
	m, err := NewMetrics()
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	ctx := context.Background()

	m.RunStarted(ctx, "researcher")
	m.Iteration(ctx, "researcher")
	m.ToolDispatched(ctx, "get_weather", 25*time.Millisecond, "")
	m.ToolDispatched(ctx, "get_weather", 0, telerr.ToolInvalidArguments)
	m.LLMCall(ctx, "openai", "gpt-4o", 800*time.Millisecond, 120, 45)
	m.RunFinished(ctx, "researcher", "completed", "")
	m.RunFinished(ctx, "researcher", "failed", "budget_exceeded")
	m.RecordError(ctx, telerr.New(telerr.CodeRateLimit, "throttled", nil), "adapter")
}

func TestMetricsNilSafety(t *testing.T) {
	ctx := context.Background()
	var m *Metrics

	m.RunStarted(ctx, "a")
	m.RunFinished(ctx, "a", "completed", "")
	m.Iteration(ctx, "a")
	m.ToolDispatched(ctx, "t", time.Second, telerr.ToolTimeout)
	m.LLMCall(ctx, "openai", "gpt-4o", time.Second, 1, 1)
	m.RecordError(ctx, telerr.New(telerr.CodeInternal, "x", nil), "loop")
}

func TestRecordErrorIgnoresNil(t *testing.T) {
	m, err := NewMetrics()
	if err != nil {
		t.Fatal(err)
	}
	m.RecordError(context.Background(), nil, "loop")
}

func TestRecordErrorForeignError(t *testing.T) {
	m, err := NewMetrics()
	if err != nil {
		t.Fatal(err)
	}
	// Foreign errors are wrapped as internal, not dropped.
	m.RecordError(context.Background(), context.DeadlineExceeded, "dispatcher")
}
