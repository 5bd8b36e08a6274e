// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/teloslabs/telos/pkg/llm"
	"github.com/teloslabs/telos/pkg/resilience"
	"github.com/teloslabs/telos/pkg/telemetry"
)

func TestBreakerAdapterRecordsCallTelemetry(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	prevTracer := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(prevTracer) })

	reader := sdkmetric.NewManualReader()
	prevMeter := otel.GetMeterProvider()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	t.Cleanup(func() { otel.SetMeterProvider(prevMeter) })

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	inner := &llm.MockAdapter{Response: "ok"}
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "test"})
	adapter := newBreakerAdapter(inner, cb, KindOpenAI, metrics)

	if _, err := adapter.Generate(context.Background(), "gpt-4o", nil, llm.DefaultParams()); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	var span sdktrace.ReadOnlySpan
	for _, s := range recorder.Ended() {
		if s.Name() == "LLM.Generate" {
			span = s
		}
	}
	if span == nil {
		t.Fatal("no LLM.Generate span recorded")
	}
	model, provider, total := "", "", int64(0)
	for _, attr := range span.Attributes() {
		switch string(attr.Key) {
		case telemetry.AttrLLMModel:
			model = attr.Value.AsString()
		case telemetry.AttrLLMProvider:
			provider = attr.Value.AsString()
		case telemetry.AttrLLMTokensTotal:
			total = attr.Value.AsInt64()
		}
	}
	if model != "gpt-4o" || provider != string(KindOpenAI) {
		t.Errorf("span lost call identity: model=%q provider=%q", model, provider)
	}
	if total == 0 {
		t.Error("span carries no token usage")
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	seen := map[string]bool{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			seen[m.Name] = true
		}
	}
	for _, name := range []string{"telos.llm.calls", "telos.llm.tokens"} {
		if !seen[name] {
			t.Errorf("metric %s was not recorded", name)
		}
	}
}
