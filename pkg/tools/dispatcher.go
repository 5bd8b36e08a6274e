// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/teloslabs/telos/pkg/core"
	telerr "github.com/teloslabs/telos/pkg/errors"
	"github.com/teloslabs/telos/pkg/llm"
	"github.com/teloslabs/telos/pkg/resilience"
	"github.com/teloslabs/telos/pkg/telemetry"
)

// DefaultExecutionTimeout bounds tool handlers that set no timeout of their
// own.
const DefaultExecutionTimeout = 30 * time.Second

// Dispatcher executes tool calls against a registry. Checks run in a fixed
// order: allowlist, registry lookup, argument validation, then bounded
// execution. Runs of the same agent serialize execution through a per-agent
// lock; different agents never contend.
type Dispatcher struct {
	registry       *Registry
	defaultTimeout time.Duration
	tracer         trace.Tracer
	metrics        *telemetry.Metrics

	mu         sync.Mutex
	agentLocks map[string]*sync.Mutex
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDefaultTimeout overrides the default execution timeout.
func WithDefaultTimeout(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) { disp.defaultTimeout = d }
}

// WithMetrics records dispatch counts and durations.
func WithMetrics(m *telemetry.Metrics) DispatcherOption {
	return func(disp *Dispatcher) { disp.metrics = m }
}

// NewDispatcher creates a Dispatcher over a registry.
func NewDispatcher(registry *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry:       registry,
		defaultTimeout: DefaultExecutionTimeout,
		tracer:         otel.Tracer("telos/tools"),
		agentLocks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch executes one tool call and returns the observation. Failures are
// carried inside the observation, never as a Go error: the loop appends them
// to the conversation and the model reacts.
func (d *Dispatcher) Dispatch(ctx context.Context, call llm.ToolCall, allowlist *Allowlist) Observation {
	ctx, span := d.tracer.Start(ctx, "Tool.Dispatch", trace.WithAttributes(
		attribute.String(telemetry.AttrToolName, call.Function.Name),
		attribute.String(telemetry.AttrToolCallID, call.ID),
	))
	defer span.End()

	obs := d.dispatch(ctx, call, allowlist)

	span.SetAttributes(
		attribute.Bool(telemetry.AttrToolSuccess, obs.OK()),
		attribute.Float64(telemetry.AttrToolDurationMs, float64(obs.Duration.Milliseconds())),
	)
	var kind telerr.ToolErrorKind
	if obs.Err != nil {
		span.RecordError(obs.Err)
		kind = obs.Err.ToolKind
	}
	d.metrics.ToolDispatched(ctx, call.Function.Name, obs.Duration, kind)
	return obs
}

// dispatch runs the check sequence and execution for one call.
func (d *Dispatcher) dispatch(ctx context.Context, call llm.ToolCall, allowlist *Allowlist) Observation {
	obs := Observation{
		ToolCallID: call.ID,
		Name:       call.Function.Name,
	}

	// Allowlist before registry lookup: an agent probing for tools outside
	// its grant learns nothing about what exists.
	if !allowlist.Allows(call.Function.Name) {
		obs.Err = telerr.Tool(telerr.ToolUnknown, call.Function.Name,
			"tool is not in the agent's allowlist", nil)
		return obs
	}

	def, ok := d.registry.Lookup(call.Function.Name)
	if !ok {
		obs.Err = telerr.Tool(telerr.ToolUnknown, call.Function.Name,
			"tool is not registered", nil)
		return obs
	}

	args, err := ValidateArguments(def, call.Function.Arguments)
	if err != nil {
		obs.Err = telerr.AsError(err)
		return obs
	}

	if agentID, ok := core.AgentIDFrom(ctx); ok {
		lock := d.lockFor(agentID)
		lock.Lock()
		defer lock.Unlock()
	}

	timeout := def.Timeout
	if timeout == 0 {
		timeout = d.defaultTimeout
	}

	start := time.Now()
	output, execErr := resilience.WithTimeoutResult(ctx, timeout,
		func(ctx context.Context) (interface{}, error) {
			return safeExecute(ctx, def.Handler, args)
		})
	obs.Duration = time.Since(start)

	if execErr != nil {
		obs.Err = classifyExecError(ctx, def.Name, execErr)
		return obs
	}

	obs.Output = encodeOutput(output)
	return obs
}

// DispatchAll executes calls strictly sequentially in their given order and
// returns one observation per call. A later call never sees an earlier
// call's result; only the model does, on the next turn.
func (d *Dispatcher) DispatchAll(ctx context.Context, calls []llm.ToolCall, allowlist *Allowlist) []Observation {
	observations := make([]Observation, 0, len(calls))
	for _, call := range calls {
		observations = append(observations, d.Dispatch(ctx, call, allowlist))
	}
	return observations
}

// lockFor returns the agent's execution lock, creating it on first use.
func (d *Dispatcher) lockFor(agentID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	if lock, ok := d.agentLocks[agentID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	d.agentLocks[agentID] = lock
	return lock
}

// safeExecute runs a handler with panic containment.
func safeExecute(ctx context.Context, handler Handler, args map[string]interface{}) (output interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			output = nil
			err = telerr.New(telerr.CodeInternal, fmt.Sprintf("tool handler panicked: %v", r), nil)
		}
	}()
	return handler(ctx, args)
}

// classifyExecError maps an execution failure to its observation error kind.
func classifyExecError(ctx context.Context, toolName string, err error) *telerr.Error {
	// A typed tool error from the handler (sandbox violations) passes
	// through with its kind intact.
	if te := telerr.AsError(err); te.Code == telerr.CodeToolExecution {
		if _, ok := te.Attributes["tool.name"]; !ok {
			te.WithAttribute("tool.name", toolName)
		}
		return te
	}

	if ctx.Err() == context.Canceled || errors.Is(err, context.Canceled) {
		// The run was cancelled, not the tool slow.
		return telerr.Tool(telerr.ToolHandlerFailure, toolName,
			"execution cancelled", context.Canceled)
	}

	// The timeout helper types its own deadline; a handler returning
	// ctx.Err() through the done channel arrives as a bare deadline error.
	if telerr.CodeOf(err) == telerr.CodeTimeout || errors.Is(err, context.DeadlineExceeded) {
		return telerr.Tool(telerr.ToolTimeout, toolName,
			"execution exceeded its timeout", err)
	}

	return telerr.Tool(telerr.ToolHandlerFailure, toolName,
		"tool handler failed", err)
}

// encodeOutput renders a handler result for the conversation. Strings pass
// through; everything else is JSON-encoded.
func encodeOutput(output interface{}) string {
	switch v := output.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.RawMessage:
		return string(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}
