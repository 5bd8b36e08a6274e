// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

// Package run implements the plan-act-observe loop. A Run owns one task's
// conversation from submission to its terminal state; the Loop drives it by
// calling the model, dispatching any requested tools, and appending each
// observation until the model answers without tool calls or a budget runs
// out.
package run

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/teloslabs/telos/pkg/core"
	telerr "github.com/teloslabs/telos/pkg/errors"
	"github.com/teloslabs/telos/pkg/llm"
)

// Status is a run's lifecycle state.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusRunning     Status = "running"
	StatusWaitingTool Status = "waiting_tool"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// allowedTransitions is the run lifecycle:
// queued → running → (waiting_tool ⇄ running)* → {completed|failed|cancelled}.
// Terminal states have no successors. Anything else is a programming error.
var allowedTransitions = map[Status]map[Status]bool{
	StatusQueued: {
		StatusRunning:   true,
		StatusCancelled: true,
		StatusFailed:    true,
	},
	StatusRunning: {
		StatusWaitingTool: true,
		StatusCompleted:   true,
		StatusFailed:      true,
		StatusCancelled:   true,
	},
	StatusWaitingTool: {
		StatusRunning:   true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// FailureReason is the terminal reason code a failed run carries.
type FailureReason string

const (
	// ReasonBudgetExceeded means max_iterations or the wall-clock deadline
	// was exhausted. Terminal and non-retryable, distinct from provider
	// failures.
	ReasonBudgetExceeded FailureReason = "budget_exceeded"
)

// ReasonFromError derives the terminal reason code for a fatal error.
// Typed errors report their taxonomy code; anything else is internal.
func ReasonFromError(err error) FailureReason {
	if err == nil {
		return ""
	}
	if code := telerr.CodeOf(err); code != "" {
		return FailureReason(strings.ToLower(string(code)))
	}
	return FailureReason(strings.ToLower(string(telerr.CodeInternal)))
}

// Run is one execution of the plan-act-observe loop. The conversation is
// append-only and replayed to the model verbatim each turn. While live, a
// Run is mutated only by its Loop; everyone else reads through Snapshot.
type Run struct {
	mu sync.Mutex

	id           string
	agentID      string
	input        string
	conversation []llm.Message
	status       Status
	iterations   int
	usage        llm.Usage

	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time

	result        string
	failureReason FailureReason
	failure       error
}

// New creates a queued run for an agent. The conversation is seeded with the
// system prompt (when non-empty) and the user input.
func New(agentID, systemPrompt, input string) *Run {
	r := &Run{
		id:        core.NewRunID(),
		agentID:   agentID,
		input:     input,
		status:    StatusQueued,
		createdAt: time.Now().UTC(),
	}
	if systemPrompt != "" {
		r.conversation = append(r.conversation, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	}
	r.conversation = append(r.conversation, llm.Message{Role: llm.RoleUser, Content: input})
	return r
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// AgentID returns the owning agent's name.
func (r *Run) AgentID() string { return r.agentID }

// Status returns the current lifecycle state.
func (r *Run) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// transition moves the run to a new state, enforcing the lifecycle table.
func (r *Run) transition(to Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !allowedTransitions[r.status][to] {
		return telerr.New(telerr.CodeInternal,
			fmt.Sprintf("illegal run transition %s -> %s", r.status, to), nil).
			WithContext("run_id", r.id)
	}
	r.status = to
	switch to {
	case StatusRunning:
		if r.startedAt.IsZero() {
			r.startedAt = time.Now().UTC()
		}
	case StatusCompleted, StatusFailed, StatusCancelled:
		r.completedAt = time.Now().UTC()
	}
	return nil
}

// append adds messages to the conversation. Messages are immutable once
// appended; nothing ever rewrites or removes them.
func (r *Run) append(msgs ...llm.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversation = append(r.conversation, msgs...)
}

// addUsage accumulates token consumption from one model turn.
func (r *Run) addUsage(u llm.Usage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usage.InputTokens += u.InputTokens
	r.usage.OutputTokens += u.OutputTokens
}

// bumpIterations increments the completed model-turn count and returns it.
func (r *Run) bumpIterations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.iterations++
	return r.iterations
}

// setResult records the final answer.
func (r *Run) setResult(content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result = content
}

// setFailure records the terminal reason and cause.
func (r *Run) setFailure(reason FailureReason, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failureReason = reason
	r.failure = err
}

// CancelQueued marks a run cancelled before it ever started. The scheduler
// uses it for runs still waiting on a concurrency slot; a run that already
// started must be cancelled through its context instead.
func (r *Run) CancelQueued() error {
	return r.transition(StatusCancelled)
}

// ConversationLen returns the current conversation length.
func (r *Run) ConversationLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conversation)
}

// messages returns a copy of the conversation for one model turn, so the
// adapter never shares the backing array the loop keeps appending to.
func (r *Run) messages() []llm.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]llm.Message(nil), r.conversation...)
}

// Snapshot is an immutable copy of a run's externally visible state.
type Snapshot struct {
	ID             string        `json:"id"`
	AgentID        string        `json:"agent_id"`
	Input          string        `json:"input"`
	Conversation   []llm.Message `json:"conversation"`
	Status         Status        `json:"status"`
	IterationCount int           `json:"iteration_count"`
	Usage          llm.Usage     `json:"usage"`
	CreatedAt      time.Time     `json:"created_at"`
	StartedAt      time.Time     `json:"started_at,omitempty"`
	CompletedAt    time.Time     `json:"completed_at,omitempty"`
	Result         string        `json:"result,omitempty"`
	FailureReason  FailureReason `json:"failure_reason,omitempty"`
	FailureDetail  string        `json:"failure_detail,omitempty"`
}

// Snapshot returns a deep copy safe to hold across further run progress.
func (r *Run) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	conversation := make([]llm.Message, len(r.conversation))
	for i, msg := range r.conversation {
		if len(msg.ToolCalls) > 0 {
			msg.ToolCalls = append([]llm.ToolCall(nil), msg.ToolCalls...)
		}
		conversation[i] = msg
	}

	snap := Snapshot{
		ID:             r.id,
		AgentID:        r.agentID,
		Input:          r.input,
		Conversation:   conversation,
		Status:         r.status,
		IterationCount: r.iterations,
		Usage:          r.usage,
		CreatedAt:      r.createdAt,
		StartedAt:      r.startedAt,
		CompletedAt:    r.completedAt,
		Result:         r.result,
		FailureReason:  r.failureReason,
	}
	if r.failure != nil {
		snap.FailureDetail = r.failure.Error()
	}
	return snap
}
