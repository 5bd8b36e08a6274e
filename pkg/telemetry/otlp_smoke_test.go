package telemetry

import (
	"context"
	"os"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// TestOTLPSmoke exercises the OTLP export path against a live collector.
// Skipped unless explicitly enabled.
func TestOTLPSmoke(t *testing.T) {
	if os.Getenv("TELOS_OTLP_SMOKE_TEST") != "1" {
		t.Skip("set TELOS_OTLP_SMOKE_TEST=1 to run")
	}

	endpoint := os.Getenv("TELOS_TELEMETRY_OTLP_ENDPOINT")
	if endpoint == "" {
		t.Skip("set TELOS_TELEMETRY_OTLP_ENDPOINT for OTLP smoke test")
	}

	cfg := Config{
		Exporter:     "otlp",
		OTLPEndpoint: endpoint,
		OTLPInsecure: os.Getenv("TELOS_TELEMETRY_OTLP_INSECURE") == "true",
	}

	shutdown, err := InitWithConfig("telemetry-smoke-test", "v0.1.0", cfg)
	if err != nil {
		t.Fatalf("failed to init telemetry: %v", err)
	}

	tracer := otel.Tracer("telos/telemetry-smoke")
	_, span := tracer.Start(context.Background(), "smoke.span")
	span.SetAttributes(attribute.String("smoke.test", "otlp"))
	span.End()

	meter := otel.Meter("telos/telemetry-smoke")
	counter, err := meter.Int64Counter("telos.telemetry.smoke.counter")
	if err != nil {
		t.Fatalf("failed to create counter: %v", err)
	}
	counter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("smoke.test", "otlp"),
	))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("telemetry shutdown failed: %v", err)
	}
}
