// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package local

import (
	"context"
	"testing"

	"github.com/openai/openai-go"

	telerr "github.com/teloslabs/telos/pkg/errors"
	"github.com/teloslabs/telos/pkg/llm"
)

func TestAdapterImplementsInterface(t *testing.T) {
	var _ llm.Adapter = (*Adapter)(nil)
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New("")
	if err == nil {
		t.Fatal("expected error for empty base URL")
	}
	if telerr.CodeOf(err) != telerr.CodeConfiguration {
		t.Errorf("code = %s, want %s", telerr.CodeOf(err), telerr.CodeConfiguration)
	}
}

func TestNewAdapter(t *testing.T) {
	a, err := New("http://localhost:11434/v1", WithModel("llama3.2"))
	if err != nil {
		t.Fatal(err)
	}
	if a.baseURL != "http://localhost:11434/v1" {
		t.Errorf("base URL = %q", a.baseURL)
	}
	if a.model != "llama3.2" {
		t.Errorf("model = %q", a.model)
	}
}

func TestCapabilitiesConservative(t *testing.T) {
	a, err := New("http://localhost:11434/v1")
	if err != nil {
		t.Fatal(err)
	}

	caps, err := a.Capabilities(context.Background(), "llama3.2")
	if err != nil {
		t.Fatal(err)
	}
	if caps.SupportsJSONSchema {
		t.Error("local adapter should not promise native schema support")
	}
	if !caps.SupportsTools || !caps.SupportsStreaming {
		t.Error("expected tool and streaming support")
	}
	if caps.MaxContextLength != 32768 {
		t.Errorf("context = %d, want 32768", caps.MaxContextLength)
	}
}

func TestBuildParamsFoldsThoughts(t *testing.T) {
	a, err := New("http://localhost:8000/v1")
	if err != nil {
		t.Fatal(err)
	}

	messages := []llm.Message{
		{Role: llm.RoleUser, Content: "plan"},
		{Role: llm.RoleAssistant, Type: llm.TypeThought, Content: "I should check the weather"},
	}

	params := a.buildParams("llama3.2", messages, llm.DefaultParams())
	if len(params.Messages) != 2 {
		t.Fatalf("expected both messages converted, got %d", len(params.Messages))
	}
	// The source sequence keeps its thought marker.
	if messages[1].Type != llm.TypeThought {
		t.Error("fold must not mutate the caller's messages")
	}
}

func TestConvertResponseWithoutUsage(t *testing.T) {
	completion := &openai.ChatCompletion{
		Model: "llama3.2",
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Content: "hi"},
		}},
	}

	resp := convertResponse(completion)
	if resp.Usage.InputTokens != 0 || resp.Usage.OutputTokens != 0 {
		t.Errorf("usage should stay zero when the server reports none: %+v", resp.Usage)
	}
	if resp.Usage.Total() != 0 {
		t.Errorf("total = %d, want 0", resp.Usage.Total())
	}
	if resp.Content != "hi" {
		t.Errorf("content = %q", resp.Content)
	}
}
