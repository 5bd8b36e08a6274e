package llm

import (
	"sync/atomic"
	"testing"
)

func TestUsageTotal(t *testing.T) {
	u := Usage{InputTokens: 120, OutputTokens: 30}
	if u.Total() != 150 {
		t.Errorf("expected total 150, got %d", u.Total())
	}

	if (Usage{}).Total() != 0 {
		t.Error("expected zero usage to total 0")
	}
}

func TestNewTool(t *testing.T) {
	params := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string"},
		},
	}
	tool := NewTool("search", "find things", params)

	if tool.Type != ToolTypeFunction {
		t.Errorf("expected function tool, got %q", tool.Type)
	}
	if tool.Function.Name != "search" {
		t.Errorf("expected name search, got %q", tool.Function.Name)
	}
	if tool.Function.Description != "find things" {
		t.Errorf("expected description, got %q", tool.Function.Description)
	}
	if tool.Function.Parameters["type"] != "object" {
		t.Error("expected parameters to carry the schema")
	}
}

func TestCapabilityCacheComputesOnce(t *testing.T) {
	cache := NewCapabilityCache()
	var computed atomic.Int32

	compute := func(string) ModelCapabilities {
		computed.Add(1)
		return ModelCapabilities{SupportsTools: true, MaxContextLength: 128000}
	}

	first := cache.GetOrCompute("gpt-5-mini", compute)
	second := cache.GetOrCompute("gpt-5-mini", compute)

	if computed.Load() != 1 {
		t.Errorf("expected one computation, got %d", computed.Load())
	}
	if first != second {
		t.Error("expected identical cached values")
	}
	if !first.SupportsTools || first.MaxContextLength != 128000 {
		t.Errorf("unexpected capabilities: %+v", first)
	}

	cache.GetOrCompute("other-model", compute)
	if computed.Load() != 2 {
		t.Errorf("expected separate computation per model, got %d", computed.Load())
	}
}

func TestDefaultParams(t *testing.T) {
	p := DefaultParams()
	if p.Temperature != 0.7 || p.TopP != 1.0 {
		t.Errorf("unexpected defaults: %+v", p)
	}

	sp := DefaultSchemaParams(map[string]interface{}{"type": "object"})
	if sp.Temperature != 0 {
		t.Error("expected deterministic temperature for schema calls")
	}
	if !sp.Strict {
		t.Error("expected strict validation by default")
	}
	if sp.MaxRepairAttempts != 1 {
		t.Errorf("expected one repair attempt, got %d", sp.MaxRepairAttempts)
	}

	tp := DefaultToolParams()
	if tp.Temperature != 0 {
		t.Error("expected deterministic temperature for tool calls")
	}
	if tp.ToolChoice != ToolChoiceAuto {
		t.Errorf("expected auto tool choice, got %q", tp.ToolChoice)
	}
}
