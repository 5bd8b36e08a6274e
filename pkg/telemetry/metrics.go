// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	telerr "github.com/teloslabs/telos/pkg/errors"
)

// Metrics tracks the execution core's operational signals: run throughput,
// loop iterations, tool dispatches, model calls, token spend, and errors.
// All methods are nil-safe so instrumentation can be optional.
type Metrics struct {
	runsStarted  metric.Int64Counter
	runsFinished metric.Int64Counter
	runsActive   metric.Int64UpDownCounter

	iterations metric.Int64Counter

	toolDispatches metric.Int64Counter
	toolDuration   metric.Float64Histogram

	llmCalls    metric.Int64Counter
	llmDuration metric.Float64Histogram
	llmTokens   metric.Int64Counter

	errorsTotal metric.Int64Counter
}

// NewMetrics registers the core's instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("telos/core")

	runsStarted, err := meter.Int64Counter(
		"telos.runs.started",
		metric.WithDescription("Runs admitted into execution"),
	)
	if err != nil {
		return nil, err
	}

	runsFinished, err := meter.Int64Counter(
		"telos.runs.finished",
		metric.WithDescription("Runs reaching a terminal state, by status and reason"),
	)
	if err != nil {
		return nil, err
	}

	runsActive, err := meter.Int64UpDownCounter(
		"telos.runs.active",
		metric.WithDescription("Runs currently executing"),
	)
	if err != nil {
		return nil, err
	}

	iterations, err := meter.Int64Counter(
		"telos.run.iterations",
		metric.WithDescription("Plan-act-observe cycles completed"),
	)
	if err != nil {
		return nil, err
	}

	toolDispatches, err := meter.Int64Counter(
		"telos.tool.dispatches",
		metric.WithDescription("Tool dispatches by tool name and outcome"),
	)
	if err != nil {
		return nil, err
	}

	toolDuration, err := meter.Float64Histogram(
		"telos.tool.duration",
		metric.WithDescription("Tool execution wall-clock time"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	llmCalls, err := meter.Int64Counter(
		"telos.llm.calls",
		metric.WithDescription("Model calls by provider and model"),
	)
	if err != nil {
		return nil, err
	}

	llmDuration, err := meter.Float64Histogram(
		"telos.llm.duration",
		metric.WithDescription("Model call wall-clock time"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	llmTokens, err := meter.Int64Counter(
		"telos.llm.tokens",
		metric.WithDescription("Tokens consumed, by direction"),
	)
	if err != nil {
		return nil, err
	}

	errorsTotal, err := meter.Int64Counter(
		"telos.errors.total",
		metric.WithDescription("Errors surfaced, by code and component"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		runsStarted:    runsStarted,
		runsFinished:   runsFinished,
		runsActive:     runsActive,
		iterations:     iterations,
		toolDispatches: toolDispatches,
		toolDuration:   toolDuration,
		llmCalls:       llmCalls,
		llmDuration:    llmDuration,
		llmTokens:      llmTokens,
		errorsTotal:    errorsTotal,
	}, nil
}

// RunStarted records a run entering execution.
func (m *Metrics) RunStarted(ctx context.Context, agent string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrRunAgent, agent))
	m.runsStarted.Add(ctx, 1, attrs)
	m.runsActive.Add(ctx, 1, attrs)
}

// RunFinished records a run reaching a terminal state. reason is empty
// unless the run failed.
func (m *Metrics) RunFinished(ctx context.Context, agent, status, reason string) {
	if m == nil {
		return
	}
	m.runsActive.Add(ctx, -1, metric.WithAttributes(attribute.String(AttrRunAgent, agent)))

	attrs := []attribute.KeyValue{
		attribute.String(AttrRunAgent, agent),
		attribute.String(AttrRunStatus, status),
	}
	if reason != "" {
		attrs = append(attrs, attribute.String(AttrRunReason, reason))
	}
	m.runsFinished.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// Iteration records one completed plan-act-observe cycle.
func (m *Metrics) Iteration(ctx context.Context, agent string) {
	if m == nil {
		return
	}
	m.iterations.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrRunAgent, agent)))
}

// ToolDispatched records one tool dispatch outcome. errKind is empty on
// success.
func (m *Metrics) ToolDispatched(ctx context.Context, tool string, duration time.Duration, errKind telerr.ToolErrorKind) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String(AttrToolName, tool),
		attribute.Bool(AttrToolSuccess, errKind == ""),
	}
	if errKind != "" {
		attrs = append(attrs, attribute.String(AttrToolErrorKind, string(errKind)))
	}
	m.toolDispatches.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.toolDuration.Record(ctx, float64(duration.Milliseconds()),
		metric.WithAttributes(attribute.String(AttrToolName, tool)))
}

// LLMCall records one model call and its token usage. provider may be empty
// when the caller sits above provider resolution.
func (m *Metrics) LLMCall(ctx context.Context, provider, model string, duration time.Duration, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String(AttrLLMModel, model),
	}
	if provider != "" {
		attrs = append(attrs, attribute.String(AttrLLMProvider, provider))
	}
	m.llmCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.llmDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if inputTokens > 0 {
		m.llmTokens.Add(ctx, int64(inputTokens), metric.WithAttributes(
			append(attrs, attribute.String("direction", "input"))...))
	}
	if outputTokens > 0 {
		m.llmTokens.Add(ctx, int64(outputTokens), metric.WithAttributes(
			append(attrs, attribute.String("direction", "output"))...))
	}
}

// RecordError counts a surfaced error by unified code.
func (m *Metrics) RecordError(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}
	te := telerr.AsError(err)
	m.errorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrErrorCode, string(te.Code)),
		attribute.String("component", component),
		attribute.String(AttrErrorRecoverable, te.RecoverableString()),
	))
}
