// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package run

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/teloslabs/telos/pkg/audit"
	"github.com/teloslabs/telos/pkg/core"
	telerr "github.com/teloslabs/telos/pkg/errors"
	"github.com/teloslabs/telos/pkg/llm"
	"github.com/teloslabs/telos/pkg/resilience"
	"github.com/teloslabs/telos/pkg/telemetry"
	"github.com/teloslabs/telos/pkg/tools"
)

const (
	// DefaultMaxIterations caps model turns when no budget is configured.
	DefaultMaxIterations = 10

	// DefaultGrace bounds how long an interrupted tool execution may take
	// to unwind before its goroutine is abandoned.
	DefaultGrace = 5 * time.Second
)

// errWallClock marks a run context ended by the wall-clock budget rather
// than an external cancellation.
var errWallClock = errors.New("run wall-clock budget exhausted")

// Config assembles one loop's collaborators and budgets.
type Config struct {
	// Adapter and Model select the language model. Required.
	Adapter llm.Adapter
	Model   string

	// Tools is the definition set advertised to the model. Empty means the
	// agent runs a single plain (or structured) generation turn.
	Tools []llm.Tool

	// Dispatcher and Allowlist execute requested tool calls. Required when
	// Tools is non-empty.
	Dispatcher *tools.Dispatcher
	Allowlist  *tools.Allowlist

	// Sandbox confines filesystem tools to the agent's workspace. Optional.
	Sandbox *tools.Sandbox

	// Sink receives lifecycle events: every state transition, tool
	// dispatch, and error. Nil means no auditing.
	Sink audit.Sink

	// ChunkSink receives live content chunks when streaming. Chunks bypass
	// Sink, so persistent sinks are not flooded with deltas.
	ChunkSink audit.Sink

	// MaxIterations caps model turns. Zero means DefaultMaxIterations.
	MaxIterations int

	// Timeout is the run's wall-clock budget. Zero means none.
	Timeout time.Duration

	// Grace bounds cancellation unwind of an in-flight tool execution.
	// Zero means DefaultGrace.
	Grace time.Duration

	// Retry governs rate-limited adapter calls. Zero value uses
	// resilience.DefaultRetryConfig.
	Retry resilience.RetryConfig

	// Params tunes generation. Zero-valued fields inherit the tool-call
	// defaults (deterministic sampling, automatic tool choice).
	Params llm.ToolParams

	// ResponseSchema switches the loop to a single structured generation
	// turn whose content must validate against this JSON Schema.
	ResponseSchema map[string]interface{}

	// Stream uses the adapter's streaming calls and mirrors text chunks to
	// ChunkSink as they arrive.
	Stream bool

	// Metrics receives run throughput and iteration counters. Nil disables.
	Metrics *telemetry.Metrics
}

// Loop drives one run through the plan-act-observe cycle. Exactly one Loop
// ever executes per run; steps within it are strictly sequential.
type Loop struct {
	run    *Run
	cfg    Config
	tracer trace.Tracer
}

// NewLoop binds a queued run to its collaborators.
func NewLoop(r *Run, cfg Config) (*Loop, error) {
	if r == nil {
		return nil, telerr.New(telerr.CodeConfiguration, "run is nil", nil)
	}
	if cfg.Adapter == nil {
		return nil, telerr.New(telerr.CodeConfiguration, "loop has no adapter", nil)
	}
	if cfg.Model == "" {
		return nil, telerr.New(telerr.CodeConfiguration, "loop has no model", nil)
	}
	if len(cfg.Tools) > 0 && cfg.Dispatcher == nil {
		return nil, telerr.New(telerr.CodeConfiguration, "loop has tools but no dispatcher", nil)
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	if cfg.Params.ToolChoice == "" {
		cfg.Params.ToolChoice = llm.ToolChoiceAuto
	}
	if cfg.Params.TopP == 0 {
		cfg.Params.TopP = 1.0
	}
	return &Loop{run: r, cfg: cfg, tracer: otel.Tracer("telos/run")}, nil
}

// Run returns the loop's run.
func (l *Loop) Run() *Run { return l.run }

// Execute drives the run to a terminal state and returns its final
// snapshot. It never returns a Go error: every failure mode ends as run
// state, audited and carrying a terminal reason. The whole run executes
// inside one span; model turns and dispatches open child spans under it.
func (l *Loop) Execute(ctx context.Context) Snapshot {
	ctx = core.WithRunID(ctx, l.run.id)
	ctx = core.WithAgentID(ctx, l.run.agentID)
	if l.cfg.Sandbox != nil {
		ctx = tools.WithSandbox(ctx, l.cfg.Sandbox)
	}

	ctx, span := l.tracer.Start(ctx, "Run.Execute", trace.WithAttributes(
		telemetry.RunAttributes(l.run.id, l.run.agentID, "", 0, l.cfg.MaxIterations)...))
	defer span.End()
	l.cfg.Metrics.RunStarted(ctx, l.run.agentID)

	snap := l.execute(ctx)

	span.SetAttributes(
		attribute.String(telemetry.AttrRunStatus, string(snap.Status)),
		attribute.Int(telemetry.AttrRunIteration, snap.IterationCount),
	)
	l.cfg.Metrics.RunFinished(ctx, l.run.agentID, string(snap.Status), string(snap.FailureReason))
	return snap
}

func (l *Loop) execute(ctx context.Context) Snapshot {
	runCtx := ctx
	if l.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeoutCause(ctx, l.cfg.Timeout, errWallClock)
		defer cancel()
	}

	if err := l.run.transition(StatusRunning); err != nil {
		l.fail(ctx, err)
		return l.run.Snapshot()
	}
	l.record(ctx, audit.EventRunStarted, map[string]interface{}{
		"model":          l.cfg.Model,
		"max_iterations": l.cfg.MaxIterations,
		"tools":          len(l.cfg.Tools),
	}, nil)

	for {
		if runCtx.Err() != nil {
			l.finishInterrupted(ctx, runCtx)
			return l.run.Snapshot()
		}

		resp, err := l.step(runCtx)
		if err != nil {
			l.finishError(ctx, runCtx, err)
			return l.run.Snapshot()
		}
		l.run.addUsage(resp.Usage)

		// A response with no tool calls is the final answer.
		if len(resp.ToolCalls) == 0 {
			l.run.append(llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
			l.run.bumpIterations()
			l.cfg.Metrics.Iteration(ctx, l.run.agentID)
			l.complete(ctx, resp.Content)
			return l.run.Snapshot()
		}

		l.run.append(llm.NewToolUse(resp.Content, resp.ToolCalls))
		if err := l.run.transition(StatusWaitingTool); err != nil {
			l.fail(ctx, err)
			return l.run.Snapshot()
		}
		l.record(ctx, audit.EventRunWaitingTool, map[string]interface{}{
			"tool_calls": callNames(resp.ToolCalls),
		}, nil)

		if interrupted := l.dispatchRound(ctx, runCtx, resp.ToolCalls); interrupted {
			l.finishInterrupted(ctx, runCtx)
			return l.run.Snapshot()
		}

		if err := l.run.transition(StatusRunning); err != nil {
			l.fail(ctx, err)
			return l.run.Snapshot()
		}
		iteration := l.run.bumpIterations()
		l.cfg.Metrics.Iteration(ctx, l.run.agentID)
		l.record(ctx, audit.EventRunResumed, map[string]interface{}{
			"iteration": iteration,
		}, nil)

		if iteration >= l.cfg.MaxIterations {
			l.failBudget(ctx, fmt.Sprintf("max_iterations %d exhausted", l.cfg.MaxIterations))
			return l.run.Snapshot()
		}
	}
}

// step performs one model turn, retrying recoverable failures. Rate-limit
// retries honor the provider-suggested delay; authentication and
// configuration failures are never retried.
func (l *Loop) step(ctx context.Context) (*llm.Response, error) {
	ctx, span := l.tracer.Start(ctx, "Run.Step", trace.WithAttributes(
		attribute.Int(telemetry.AttrRunIteration, l.run.Snapshot().IterationCount),
		attribute.String(telemetry.AttrLLMModel, l.cfg.Model),
	))
	defer span.End()

	messages := l.run.messages()

	var resp *llm.Response
	err := l.cfg.Retry.Do(ctx, func() error {
		var callErr error
		resp, callErr = l.call(ctx, messages)
		return callErr
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(telemetry.LLMUsageAttributes(
		resp.Usage.InputTokens, resp.Usage.OutputTokens, 0)...)
	return resp, nil
}

// call invokes the adapter operation the agent configuration selects:
// structured generation when a response schema is set, plain generation for
// tool-less agents, tool-enabled generation otherwise.
func (l *Loop) call(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	switch {
	case l.cfg.ResponseSchema != nil:
		return l.cfg.Adapter.StructuredGenerate(ctx, l.cfg.Model, messages,
			llm.DefaultSchemaParams(l.cfg.ResponseSchema))

	case len(l.cfg.Tools) == 0:
		if l.cfg.Stream {
			chunks, err := l.cfg.Adapter.Stream(ctx, l.cfg.Model, messages, l.cfg.Params.Params)
			if err != nil {
				return nil, err
			}
			return llm.AccumulateFunc(ctx, chunks, l.mirror(ctx))
		}
		return l.cfg.Adapter.Generate(ctx, l.cfg.Model, messages, l.cfg.Params.Params)

	default:
		if l.cfg.Stream {
			chunks, err := l.cfg.Adapter.StreamWithTools(ctx, l.cfg.Model, messages, l.cfg.Tools, l.cfg.Params)
			if err != nil {
				return nil, err
			}
			return llm.AccumulateFunc(ctx, chunks, l.mirror(ctx))
		}
		return l.cfg.Adapter.RunWithTools(ctx, l.cfg.Model, messages, l.cfg.Tools, l.cfg.Params)
	}
}

// mirror forwards text chunks to the chunk sink for live subscribers.
func (l *Loop) mirror(ctx context.Context) func(llm.StreamChunk) {
	if l.cfg.ChunkSink == nil {
		return nil
	}
	return func(chunk llm.StreamChunk) {
		if chunk.Type != llm.ChunkText || chunk.Content == "" {
			return
		}
		event := audit.NewEvent(audit.EventRunChunk, l.run.id, l.run.agentID, map[string]interface{}{
			"content": chunk.Content,
			"delta":   chunk.Delta,
		})
		_ = l.cfg.ChunkSink.Record(ctx, event)
	}
}

// dispatchRound executes the turn's calls strictly sequentially in returned
// order. A later call never sees an earlier call's result; only the model
// does, on the next turn. Returns true when the run context ended before
// the round finished; the interrupted call's observation is discarded.
func (l *Loop) dispatchRound(ctx, runCtx context.Context, calls []llm.ToolCall) bool {
	for _, call := range calls {
		if runCtx.Err() != nil {
			return true
		}
		obs, interrupted := l.dispatchOne(runCtx, call)
		if interrupted {
			return true
		}
		l.run.append(obs.Message())

		payload := map[string]interface{}{
			"tool":         obs.Name,
			"tool_call_id": obs.ToolCallID,
			"ok":           obs.OK(),
			"duration_ms":  obs.Duration.Milliseconds(),
		}
		var obsErr error
		if obs.Err != nil {
			obsErr = obs.Err
		}
		l.record(ctx, audit.EventToolDispatched, payload, obsErr)
	}
	return false
}

// dispatchOne runs a single call. When the run context ends mid-execution,
// the handler gets the grace period to unwind before its goroutine is
// abandoned; either way the partial observation is discarded.
func (l *Loop) dispatchOne(runCtx context.Context, call llm.ToolCall) (tools.Observation, bool) {
	done := make(chan tools.Observation, 1)
	go func() {
		done <- l.cfg.Dispatcher.Dispatch(runCtx, call, l.cfg.Allowlist)
	}()

	select {
	case obs := <-done:
		if runCtx.Err() != nil {
			return tools.Observation{}, true
		}
		return obs, false
	case <-runCtx.Done():
		grace := time.NewTimer(l.cfg.Grace)
		defer grace.Stop()
		select {
		case <-done:
			// Unwound within the grace period; result still discarded.
		case <-grace.C:
			// Handler ignored cancellation; abandon it.
		}
		return tools.Observation{}, true
	}
}

// finishError resolves a failed model turn into a terminal state. A dead
// run context takes precedence over the surfaced error: the wall-clock
// budget fails the run, anything else cancels it.
func (l *Loop) finishError(ctx, runCtx context.Context, err error) {
	if runCtx.Err() != nil {
		l.finishInterrupted(ctx, runCtx)
		return
	}
	l.fail(ctx, err)
}

// finishInterrupted distinguishes the wall-clock budget from an external
// cancellation once the run context has ended.
func (l *Loop) finishInterrupted(ctx, runCtx context.Context) {
	if errors.Is(context.Cause(runCtx), errWallClock) {
		l.failBudget(ctx, "wall-clock deadline exceeded")
		return
	}
	l.cancel(ctx)
}

func (l *Loop) complete(ctx context.Context, result string) {
	l.run.setResult(result)
	if err := l.run.transition(StatusCompleted); err != nil {
		l.fail(ctx, err)
		return
	}
	snap := l.run.Snapshot()
	l.record(ctx, audit.EventRunCompleted, map[string]interface{}{
		"iterations":   snap.IterationCount,
		"total_tokens": snap.Usage.Total(),
	}, nil)
}

func (l *Loop) fail(ctx context.Context, cause error) {
	l.run.setFailure(ReasonFromError(cause), cause)
	_ = l.run.transition(StatusFailed)
	l.cfg.Metrics.RecordError(ctx, cause, "run")
	l.record(ctx, audit.EventRunFailed, map[string]interface{}{
		"reason": string(ReasonFromError(cause)),
	}, cause)
}

func (l *Loop) failBudget(ctx context.Context, detail string) {
	cause := telerr.New(telerr.CodeBudgetExceeded, detail, nil)
	l.run.setFailure(ReasonBudgetExceeded, cause)
	_ = l.run.transition(StatusFailed)
	l.record(ctx, audit.EventRunFailed, map[string]interface{}{
		"reason": string(ReasonBudgetExceeded),
	}, cause)
}

func (l *Loop) cancel(ctx context.Context) {
	_ = l.run.transition(StatusCancelled)
	l.record(ctx, audit.EventRunCancelled, nil, nil)
}

// record pushes one lifecycle event. Events survive run cancellation, and a
// sink failure never propagates into run state.
func (l *Loop) record(ctx context.Context, t audit.EventType, payload map[string]interface{}, cause error) {
	if l.cfg.Sink == nil {
		return
	}
	event := audit.NewEvent(t, l.run.id, l.run.agentID, payload)
	if cause != nil {
		event = event.WithError(cause)
	}
	_ = l.cfg.Sink.Record(context.WithoutCancel(ctx), event)
}

func callNames(calls []llm.ToolCall) []string {
	names := make([]string, len(calls))
	for i, call := range calls {
		names[i] = call.Function.Name
	}
	return names
}
