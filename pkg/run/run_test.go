// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package run

import (
	"errors"
	"testing"

	telerr "github.com/teloslabs/telos/pkg/errors"
	"github.com/teloslabs/telos/pkg/llm"
)

func TestNewSeedsConversation(t *testing.T) {
	r := New("researcher", "You are terse.", "What is Go?")

	if r.ID() == "" || r.AgentID() != "researcher" {
		t.Fatalf("unexpected identity: id=%q agent=%q", r.ID(), r.AgentID())
	}
	if r.Status() != StatusQueued {
		t.Errorf("new run should be queued, got %s", r.Status())
	}

	snap := r.Snapshot()
	if len(snap.Conversation) != 2 {
		t.Fatalf("expected system+user seed, got %d messages", len(snap.Conversation))
	}
	if snap.Conversation[0].Role != llm.RoleSystem || snap.Conversation[1].Role != llm.RoleUser {
		t.Errorf("unexpected seed roles: %+v", snap.Conversation)
	}

	bare := New("researcher", "", "input only")
	if bare.ConversationLen() != 1 {
		t.Errorf("empty system prompt should not produce a message")
	}
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		name string
		path []Status
		ok   bool
	}{
		{"happy completion", []Status{StatusRunning, StatusCompleted}, true},
		{"tool cycle", []Status{StatusRunning, StatusWaitingTool, StatusRunning, StatusWaitingTool, StatusRunning, StatusCompleted}, true},
		{"cancel while queued", []Status{StatusCancelled}, true},
		{"cancel while waiting", []Status{StatusRunning, StatusWaitingTool, StatusCancelled}, true},
		{"fail while running", []Status{StatusRunning, StatusFailed}, true},
		{"queued straight to completed", []Status{StatusCompleted}, false},
		{"queued straight to waiting", []Status{StatusWaitingTool}, false},
		{"revive completed", []Status{StatusRunning, StatusCompleted, StatusRunning}, false},
		{"revive cancelled", []Status{StatusRunning, StatusCancelled, StatusRunning}, false},
		{"terminal to terminal", []Status{StatusRunning, StatusFailed, StatusCancelled}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New("a", "", "x")
			var err error
			for _, next := range tt.path {
				if err = r.transition(next); err != nil {
					break
				}
			}
			if tt.ok && err != nil {
				t.Errorf("expected legal path, got %v", err)
			}
			if !tt.ok && err == nil {
				t.Errorf("expected an illegal transition in %v", tt.path)
			}
		})
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusQueued, StatusRunning, StatusWaitingTool} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestSnapshotIsolation(t *testing.T) {
	r := New("a", "", "x")
	r.append(llm.NewToolUse("", []llm.ToolCall{{
		ID: "call_1", Type: llm.ToolTypeFunction,
		Function: llm.FunctionCall{Name: "noop", Arguments: "{}"},
	}}))

	snap := r.Snapshot()
	snap.Conversation[0].Content = "mutated"
	snap.Conversation[1].ToolCalls[0].Function.Name = "hijacked"

	fresh := r.Snapshot()
	if fresh.Conversation[0].Content == "mutated" {
		t.Error("snapshot shares message backing with the run")
	}
	if fresh.Conversation[1].ToolCalls[0].Function.Name == "hijacked" {
		t.Error("snapshot shares tool call backing with the run")
	}
}

func TestUsageAccumulates(t *testing.T) {
	r := New("a", "", "x")
	r.addUsage(llm.Usage{InputTokens: 10, OutputTokens: 5})
	r.addUsage(llm.Usage{InputTokens: 7, OutputTokens: 3})

	snap := r.Snapshot()
	if snap.Usage.InputTokens != 17 || snap.Usage.OutputTokens != 8 {
		t.Errorf("unexpected usage %+v", snap.Usage)
	}
	if snap.Usage.Total() != 25 {
		t.Errorf("total should derive from input+output, got %d", snap.Usage.Total())
	}
}

func TestReasonFromError(t *testing.T) {
	tests := []struct {
		err    error
		reason FailureReason
	}{
		{telerr.New(telerr.CodeBudgetExceeded, "x", nil), ReasonBudgetExceeded},
		{telerr.New(telerr.CodeRateLimit, "x", nil), FailureReason("rate_limited")},
		{telerr.New(telerr.CodeAuthentication, "x", nil), FailureReason("authentication_error")},
		{errors.New("plain"), FailureReason("internal_error")},
		{nil, FailureReason("")},
	}
	for _, tt := range tests {
		if got := ReasonFromError(tt.err); got != tt.reason {
			t.Errorf("ReasonFromError(%v) = %q, want %q", tt.err, got, tt.reason)
		}
	}
}
