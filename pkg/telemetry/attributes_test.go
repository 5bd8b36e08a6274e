// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestRunAttributes(t *testing.T) {
	attrs := RunAttributes("run-123", "researcher", "running", 2, 10)

	expected := map[string]any{
		AttrRunID:        "run-123",
		AttrRunAgent:     "researcher",
		AttrRunStatus:    "running",
		AttrRunIteration: 2,
		AttrRunMaxIter:   10,
	}
	assertAttributes(t, attrs, expected)
}

func TestRunAttributesOmitsEmpty(t *testing.T) {
	attrs := RunAttributes("run-123", "", "", 0, 0)
	if len(attrs) != 1 {
		t.Errorf("expected only the run id, got %d attributes", len(attrs))
	}
}

func TestToolCallAttributes(t *testing.T) {
	attrs := ToolCallAttributes("get_weather", "call-1", "builtin", 150.5, true)

	expected := map[string]any{
		AttrToolName:       "get_weather",
		AttrToolCallID:     "call-1",
		AttrToolSource:     "builtin",
		AttrToolDurationMs: 150.5,
		AttrToolSuccess:    true,
	}
	assertAttributes(t, attrs, expected)
}

func TestLLMAttributes(t *testing.T) {
	attrs := LLMAttributes("gpt-4o", "openai", 2)

	expected := map[string]any{
		AttrLLMModel:     "gpt-4o",
		AttrLLMProvider:  "openai",
		AttrLLMToolCalls: 2,
	}
	assertAttributes(t, attrs, expected)
}

func TestLLMUsageAttributes(t *testing.T) {
	attrs := LLMUsageAttributes(10, 5, 812.3)

	expected := map[string]any{
		AttrLLMTokensInput:  10,
		AttrLLMTokensOutput: 5,
		AttrLLMTokensTotal:  15,
		AttrLLMDurationMs:   812.3,
	}
	assertAttributes(t, attrs, expected)
}

func TestLLMUsageAttributesEmpty(t *testing.T) {
	attrs := LLMUsageAttributes(0, 0, 0)
	if len(attrs) != 0 {
		t.Errorf("expected no attributes for zero usage, got %d", len(attrs))
	}
}

// assertAttributes checks that expected key-value pairs exist in attrs.
func assertAttributes(t *testing.T, attrs []attribute.KeyValue, expected map[string]any) {
	t.Helper()

	found := make(map[string]attribute.KeyValue)
	for _, attr := range attrs {
		found[string(attr.Key)] = attr
	}

	for key, expectedVal := range expected {
		attr, ok := found[key]
		if !ok {
			t.Errorf("missing attribute %s", key)
			continue
		}

		var actualVal any
		switch attr.Value.Type() {
		case attribute.STRING:
			actualVal = attr.Value.AsString()
		case attribute.INT64:
			actualVal = int(attr.Value.AsInt64())
		case attribute.FLOAT64:
			actualVal = attr.Value.AsFloat64()
		case attribute.BOOL:
			actualVal = attr.Value.AsBool()
		}

		if actualVal != expectedVal {
			t.Errorf("attribute %s: got %v, want %v", key, actualVal, expectedVal)
		}
	}
}
