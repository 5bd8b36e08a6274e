// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"context"
	"encoding/json"

	"github.com/teloslabs/telos/pkg/llm"
	"github.com/teloslabs/telos/pkg/tools"
)

// ToolCallBuilder constructs model tool calls for scripted turns.
type ToolCallBuilder struct {
	id   string
	name string
	args map[string]any
}

// NewToolCall creates a builder for a call to the named tool.
func NewToolCall(name string) *ToolCallBuilder {
	return &ToolCallBuilder{
		id:   "call-" + name,
		name: name,
		args: make(map[string]any),
	}
}

// WithID overrides the generated call ID.
func (b *ToolCallBuilder) WithID(id string) *ToolCallBuilder {
	b.id = id
	return b
}

// WithArg adds one argument.
func (b *ToolCallBuilder) WithArg(key string, value any) *ToolCallBuilder {
	b.args[key] = value
	return b
}

// WithArgs replaces all arguments.
func (b *ToolCallBuilder) WithArgs(args map[string]any) *ToolCallBuilder {
	b.args = args
	return b
}

// Build renders the tool call.
func (b *ToolCallBuilder) Build() llm.ToolCall {
	argsJSON, _ := json.Marshal(b.args)
	return llm.ToolCall{
		ID:   b.id,
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionCall{
			Name:      b.name,
			Arguments: string(argsJSON),
		},
	}
}

// ToolBuilder constructs registry definitions with stub handlers.
type ToolBuilder struct {
	name        string
	description string
	properties  map[string]any
	required    []any
	handler     tools.Handler
}

// NewTool creates a builder for a tool definition.
func NewTool(name string) *ToolBuilder {
	return &ToolBuilder{
		name:       name,
		properties: make(map[string]any),
	}
}

// WithDescription sets the description.
func (b *ToolBuilder) WithDescription(desc string) *ToolBuilder {
	b.description = desc
	return b
}

// WithParameter declares one string-typed parameter.
func (b *ToolBuilder) WithParameter(name, paramType, description string, required bool) *ToolBuilder {
	b.properties[name] = map[string]any{
		"type":        paramType,
		"description": description,
	}
	if required {
		b.required = append(b.required, name)
	}
	return b
}

// WithHandler sets the execution handler.
func (b *ToolBuilder) WithHandler(h tools.Handler) *ToolBuilder {
	b.handler = h
	return b
}

// Returning sets a handler that always returns the given output.
func (b *ToolBuilder) Returning(output any) *ToolBuilder {
	b.handler = func(context.Context, map[string]interface{}) (interface{}, error) {
		return output, nil
	}
	return b
}

// Failing sets a handler that always returns err.
func (b *ToolBuilder) Failing(err error) *ToolBuilder {
	b.handler = func(context.Context, map[string]interface{}) (interface{}, error) {
		return nil, err
	}
	return b
}

// Build renders the definition.
func (b *ToolBuilder) Build() tools.Definition {
	params := map[string]any{
		"type":       "object",
		"properties": b.properties,
	}
	if len(b.required) > 0 {
		params["required"] = b.required
	}
	handler := b.handler
	if handler == nil {
		handler = func(context.Context, map[string]interface{}) (interface{}, error) {
			return "ok", nil
		}
	}
	return tools.Definition{
		Name:        b.name,
		Description: b.description,
		Parameters:  params,
		Handler:     handler,
	}
}
