// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/teloslabs/telos/pkg/llm"
	"github.com/teloslabs/telos/pkg/run"
)

// SnapshotAssertions chains checks against a run's terminal snapshot.
type SnapshotAssertions struct {
	t    *testing.T
	snap run.Snapshot
}

// AssertSnapshot starts an assertion chain over a snapshot.
func AssertSnapshot(t *testing.T, snap run.Snapshot) *SnapshotAssertions {
	t.Helper()
	return &SnapshotAssertions{t: t, snap: snap}
}

// Completed asserts the run completed.
func (s *SnapshotAssertions) Completed() *SnapshotAssertions {
	s.t.Helper()
	if s.snap.Status != run.StatusCompleted {
		s.t.Errorf("status %q, want %q (failure: %s %s)",
			s.snap.Status, run.StatusCompleted, s.snap.FailureReason, s.snap.FailureDetail)
	}
	return s
}

// Failed asserts the run failed, optionally for a specific reason.
func (s *SnapshotAssertions) Failed(reason run.FailureReason) *SnapshotAssertions {
	s.t.Helper()
	if s.snap.Status != run.StatusFailed {
		s.t.Errorf("status %q, want %q", s.snap.Status, run.StatusFailed)
	} else if reason != "" && s.snap.FailureReason != reason {
		s.t.Errorf("failure reason %q, want %q", s.snap.FailureReason, reason)
	}
	return s
}

// Cancelled asserts the run was cancelled.
func (s *SnapshotAssertions) Cancelled() *SnapshotAssertions {
	s.t.Helper()
	if s.snap.Status != run.StatusCancelled {
		s.t.Errorf("status %q, want %q", s.snap.Status, run.StatusCancelled)
	}
	return s
}

// ResultContains asserts the final result contains substr.
func (s *SnapshotAssertions) ResultContains(substr string) *SnapshotAssertions {
	s.t.Helper()
	if !strings.Contains(s.snap.Result, substr) {
		s.t.Errorf("result %q does not contain %q", s.snap.Result, substr)
	}
	return s
}

// Iterations asserts the run consumed exactly n model turns.
func (s *SnapshotAssertions) Iterations(n int) *SnapshotAssertions {
	s.t.Helper()
	if s.snap.IterationCount != n {
		s.t.Errorf("iteration count %d, want %d", s.snap.IterationCount, n)
	}
	return s
}

// ConversationLen asserts the conversation holds exactly n messages.
func (s *SnapshotAssertions) ConversationLen(n int) *SnapshotAssertions {
	s.t.Helper()
	if len(s.snap.Conversation) != n {
		s.t.Errorf("conversation length %d, want %d", len(s.snap.Conversation), n)
	}
	return s
}

// UsageAtLeast asserts total token usage reached min.
func (s *SnapshotAssertions) UsageAtLeast(min int) *SnapshotAssertions {
	s.t.Helper()
	if s.snap.Usage.Total() < min {
		s.t.Errorf("usage total %d, want at least %d", s.snap.Usage.Total(), min)
	}
	return s
}

// ResponseAssertions chains checks against an adapter response.
type ResponseAssertions struct {
	t    *testing.T
	resp *llm.Response
}

// AssertResponse starts an assertion chain over a response.
func AssertResponse(t *testing.T, resp *llm.Response) *ResponseAssertions {
	t.Helper()
	if resp == nil {
		t.Fatal("response is nil")
	}
	return &ResponseAssertions{t: t, resp: resp}
}

// HasContent asserts the content contains substr.
func (r *ResponseAssertions) HasContent(contains string) *ResponseAssertions {
	r.t.Helper()
	if !strings.Contains(r.resp.Content, contains) {
		r.t.Errorf("content %q does not contain %q", r.resp.Content, contains)
	}
	return r
}

// HasNoToolCalls asserts the response requested no tools.
func (r *ResponseAssertions) HasNoToolCalls() *ResponseAssertions {
	r.t.Helper()
	if len(r.resp.ToolCalls) > 0 {
		r.t.Errorf("expected no tool calls, got %s", FormatToolCalls(r.resp.ToolCalls))
	}
	return r
}

// HasToolCallNamed asserts a tool call with the given name exists.
func (r *ResponseAssertions) HasToolCallNamed(name string) *ResponseAssertions {
	r.t.Helper()
	for _, tc := range r.resp.ToolCalls {
		if tc.Function.Name == name {
			return r
		}
	}
	r.t.Errorf("tool call %q not found in %s", name, FormatToolCalls(r.resp.ToolCalls))
	return r
}

// RequireNoError fails the test immediately if err is not nil.
func RequireNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}

// RequireEqual fails the test immediately if values differ.
func RequireEqual(t *testing.T, expected, actual any, msg string) {
	t.Helper()
	if expected != actual {
		t.Fatalf("%s: expected %v, got %v", msg, expected, actual)
	}
}

// ToolCallArgs parses a tool call's argument payload, checking the name.
func ToolCallArgs(t *testing.T, tc llm.ToolCall, expectedName string) map[string]any {
	t.Helper()
	if tc.Function.Name != expectedName {
		t.Errorf("expected tool %q, got %q", expectedName, tc.Function.Name)
	}

	var args map[string]any
	if tc.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			t.Errorf("failed to parse tool arguments: %v", err)
			return nil
		}
	}
	return args
}

// FormatToolCalls renders tool call names for failure messages.
func FormatToolCalls(calls []llm.ToolCall) string {
	if len(calls) == 0 {
		return "(none)"
	}
	names := make([]string, len(calls))
	for i, tc := range calls {
		names[i] = tc.Function.Name
	}
	return fmt.Sprintf("[%s]", strings.Join(names, ", "))
}
