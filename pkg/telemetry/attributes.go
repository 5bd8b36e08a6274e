// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic conventions for Telos spans and metrics. LLM attributes follow
// the standard gen_ai conventions; everything else lives under telos.*.
const (
	// Run attributes
	AttrRunID         = "telos.run.id"
	AttrRunAgent      = "telos.run.agent"
	AttrRunStatus     = "telos.run.status"
	AttrRunReason     = "telos.run.reason"
	AttrRunIteration  = "telos.run.iteration"
	AttrRunMaxIter    = "telos.run.max_iterations"

	// Tool attributes
	AttrToolName       = "telos.tool.name"
	AttrToolCallID     = "telos.tool.call_id"
	AttrToolDurationMs = "telos.tool.duration_ms"
	AttrToolSuccess    = "telos.tool.success"
	AttrToolErrorKind  = "telos.tool.error_kind"
	AttrToolSource     = "telos.tool.source" // "builtin", "mcp"

	// Error attributes
	AttrErrorCode        = "telos.error.code"
	AttrErrorRecoverable = "telos.error.recoverable"

	// LLM attributes (standard gen_ai conventions)
	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMProvider     = "gen_ai.system"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
	AttrLLMTokensTotal  = "gen_ai.usage.total_tokens"
	AttrLLMDurationMs   = "gen_ai.duration_ms"
	AttrLLMToolCalls    = "gen_ai.tool_calls"
)

// RunAttributes returns the common attributes for run spans and events.
func RunAttributes(runID, agent, status string, iteration, maxIter int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrRunID, runID),
	}
	if agent != "" {
		attrs = append(attrs, attribute.String(AttrRunAgent, agent))
	}
	if status != "" {
		attrs = append(attrs, attribute.String(AttrRunStatus, status))
	}
	if iteration > 0 {
		attrs = append(attrs, attribute.Int(AttrRunIteration, iteration))
	}
	if maxIter > 0 {
		attrs = append(attrs, attribute.Int(AttrRunMaxIter, maxIter))
	}
	return attrs
}

// ToolCallAttributes returns the attributes for a tool dispatch span.
func ToolCallAttributes(name, callID, source string, durationMs float64, success bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrToolName, name),
		attribute.String(AttrToolCallID, callID),
		attribute.String(AttrToolSource, source),
		attribute.Float64(AttrToolDurationMs, durationMs),
		attribute.Bool(AttrToolSuccess, success),
	}
}

// LLMAttributes returns the attributes for a model call span.
func LLMAttributes(model, provider string, toolCallCount int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrLLMModel, model),
	}
	if provider != "" {
		attrs = append(attrs, attribute.String(AttrLLMProvider, provider))
	}
	if toolCallCount > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMToolCalls, toolCallCount))
	}
	return attrs
}

// LLMUsageAttributes returns token usage attributes for a model response.
func LLMUsageAttributes(inputTokens, outputTokens int, durationMs float64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if inputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensInput, inputTokens))
	}
	if outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensOutput, outputTokens))
	}
	if inputTokens > 0 || outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensTotal, inputTokens+outputTokens))
	}
	if durationMs > 0 {
		attrs = append(attrs, attribute.Float64(AttrLLMDurationMs, durationMs))
	}
	return attrs
}
