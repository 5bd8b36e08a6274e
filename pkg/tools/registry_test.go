// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"reflect"
	"testing"

	telerr "github.com/teloslabs/telos/pkg/errors"
)

func noopHandler(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return "ok", nil
}

func testDef(name string) Definition {
	return Definition{
		Name:        name,
		Description: "a test tool",
		Parameters: map[string]interface{}{
			"type": "object",
		},
		Handler: noopHandler,
	}
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(testDef("search")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	def, ok := r.Lookup("search")
	if !ok {
		t.Fatal("expected tool to be found")
	}
	if def.Name != "search" {
		t.Errorf("unexpected name %q", def.Name)
	}

	if _, ok := r.Lookup("missing"); ok {
		t.Error("did not expect missing tool to be found")
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 tool, got %d", r.Len())
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(testDef("search")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	err := r.Register(testDef("search"))
	if telerr.CodeOf(err) != telerr.CodeConfiguration {
		t.Errorf("expected CodeConfiguration for duplicate, got %v", telerr.CodeOf(err))
	}
}

func TestRegistryRejectsInvalidDefinitions(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name string
		def  Definition
	}{
		{"no name", Definition{Handler: noopHandler}},
		{"no handler", Definition{Name: "broken"}},
		{"bad schema", Definition{
			Name:       "broken",
			Handler:    noopHandler,
			Parameters: map[string]interface{}{"type": 42},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(tt.def)
			if telerr.CodeOf(err) != telerr.CodeConfiguration {
				t.Errorf("expected CodeConfiguration, got %v", err)
			}
		})
	}
}

func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(testDef("search")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	r.Unregister("search")
	if _, ok := r.Lookup("search"); ok {
		t.Error("expected tool to be gone")
	}

	// Unregistering an absent tool is a no-op.
	r.Unregister("search")
}

func TestRegistryNamesSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := r.Register(testDef(name)); err != nil {
			t.Fatalf("Register(%s) failed: %v", name, err)
		}
	}

	want := []string{"alpha", "mid", "zeta"}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestRegistryLLMToolsHonorsAllowlist(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"read_file", "write_file", "memory_search"} {
		if err := r.Register(testDef(name)); err != nil {
			t.Fatalf("Register(%s) failed: %v", name, err)
		}
	}

	rendered := r.LLMTools(NewAllowlist("read_file", "memory_search"))
	if len(rendered) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(rendered))
	}
	if rendered[0].Function.Name != "memory_search" || rendered[1].Function.Name != "read_file" {
		t.Errorf("unexpected tool order: %s, %s",
			rendered[0].Function.Name, rendered[1].Function.Name)
	}

	if got := r.LLMTools(NewAllowlist()); len(got) != 0 {
		t.Errorf("empty allowlist should render no tools, got %d", len(got))
	}
}

func TestDefinitionLLMToolDefaultsSchema(t *testing.T) {
	def := Definition{Name: "bare", Description: "no schema", Handler: noopHandler}
	tool := def.LLMTool()
	if tool.Function.Parameters["type"] != "object" {
		t.Error("expected default object schema for schema-less tools")
	}
}

func TestObservationMessage(t *testing.T) {
	obs := Observation{ToolCallID: "call_1", Name: "search", Output: `{"hits":2}`}
	msg := obs.Message()
	if msg.ToolCallID != "call_1" || msg.Name != "search" {
		t.Error("expected linkage preserved on tool result message")
	}
	if msg.Content != `{"hits":2}` {
		t.Errorf("unexpected content %q", msg.Content)
	}

	failed := Observation{
		ToolCallID: "call_2",
		Name:       "search",
		Err:        telerr.Tool(telerr.ToolTimeout, "search", "too slow", nil),
	}
	if failed.OK() {
		t.Error("expected failed observation")
	}
	if failed.Message().Content == "" {
		t.Error("expected failure rendered into content")
	}
}
