// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

// Package tools implements the tool registry and the dispatcher that turns
// model tool calls into observations. Dispatch enforces, in order: the
// agent's allowlist, argument schema validation, and a bounded execution
// timeout. Every failure mode becomes a typed observation; a tool can fail a
// call but never a run.
package tools

import (
	"context"
	"time"

	telerr "github.com/teloslabs/telos/pkg/errors"
	"github.com/teloslabs/telos/pkg/llm"
)

// Handler executes one tool call. args is the decoded JSON arguments object,
// already validated against the definition's schema. Handlers honor ctx
// cancellation; long operations should check it.
//
// A handler may return a typed *errors.Error with CodeToolExecution to
// classify its own failure (sandbox violations do this); any other error is
// reported as handler_failure.
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Definition describes one registered tool.
type Definition struct {
	// Name uniquely identifies the tool within the registry.
	Name string

	// Description tells the model when to call this tool.
	Description string

	// Parameters is the JSON Schema for the arguments object.
	Parameters map[string]interface{}

	// Handler executes the call.
	Handler Handler

	// Timeout bounds one execution. Zero uses the dispatcher default.
	Timeout time.Duration
}

// Validate checks the definition is usable: a name, a handler, and a
// compilable parameter schema.
func (d Definition) Validate() error {
	if d.Name == "" {
		return telerr.New(telerr.CodeConfiguration, "tool definition has no name", nil)
	}
	if d.Handler == nil {
		return telerr.New(telerr.CodeConfiguration, "tool "+d.Name+" has no handler", nil)
	}
	if d.Parameters != nil {
		if _, err := llm.CompileSchema(d.Parameters); err != nil {
			return telerr.New(telerr.CodeConfiguration, "tool "+d.Name+" has an invalid parameter schema", err)
		}
	}
	return nil
}

// LLMTool renders the definition in the unified tool shape for adapters.
func (d Definition) LLMTool() llm.Tool {
	params := d.Parameters
	if params == nil {
		params = map[string]interface{}{"type": "object"}
	}
	return llm.NewTool(d.Name, d.Description, params)
}

// Observation is the result of one dispatch, appended to the conversation as
// a tool_result message. Either Output or Err is set, never both.
type Observation struct {
	// ToolCallID links back to the originating call.
	ToolCallID string `json:"tool_call_id"`

	// Name is the tool that ran (or was asked for).
	Name string `json:"name"`

	// Output is the JSON-encoded handler result on success.
	Output string `json:"output,omitempty"`

	// Err carries the typed failure on any non-success.
	Err *telerr.Error `json:"error,omitempty"`

	// Duration is wall-clock execution time, zero when never executed.
	Duration time.Duration `json:"duration,omitempty"`
}

// OK reports whether the dispatch succeeded.
func (o Observation) OK() bool {
	return o.Err == nil
}

// Content renders the observation for the conversation. Failures render as a
// plain error sentence so the model can react to them.
func (o Observation) Content() string {
	if o.Err != nil {
		return "tool error: " + o.Err.Error()
	}
	return o.Output
}

// Message builds the tool_result message appended after this observation.
func (o Observation) Message() llm.Message {
	return llm.NewToolResult(o.Name, o.ToolCallID, o.Content())
}
