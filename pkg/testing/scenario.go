// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

// Package testing provides a declarative harness for exercising agent runs
// against scripted adapters.
//
// A Scenario wires a scripted model, a tool registry, and expectations into
// one run loop execution:
//
//	result := telostest.NewScenario("greeting").
//	    WithInput("Hello").
//	    Script(llm.Script("Hi there")).
//	    ExpectStatus(run.StatusCompleted).
//	    ExpectResult(telostest.Contains("Hi")).
//	    Run(t)
package testing

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/teloslabs/telos/pkg/audit"
	"github.com/teloslabs/telos/pkg/llm"
	"github.com/teloslabs/telos/pkg/run"
	"github.com/teloslabs/telos/pkg/tools"
)

// Scenario describes one scripted run: the agent's configuration, the
// model's scripted turns, the tools it may call, and the expectations to
// verify afterwards.
type Scenario struct {
	name          string
	agentID       string
	systemPrompt  string
	input         string
	model         string
	timeout       time.Duration
	maxIterations int
	stream        bool
	steps         []llm.ScriptStep
	adapter       llm.Adapter
	defs          []tools.Definition
	denied        []string
	expectations  []Expectation
}

// Expectation is one condition verified against a finished run.
type Expectation interface {
	Check(result *Result) error
	Description() string
}

// Result is the outcome of running a scenario: the run's terminal snapshot
// plus every audit event recorded along the way.
type Result struct {
	Snapshot run.Snapshot
	Events   []audit.Event
	Duration time.Duration
}

// NewScenario creates a scenario with sane defaults: a one-agent run with a
// 30 second budget.
func NewScenario(name string) *Scenario {
	return &Scenario{
		name:    name,
		agentID: "test-agent",
		model:   "test-model",
		timeout: 30 * time.Second,
	}
}

// WithAgent sets the agent identity stamped on the run.
func (s *Scenario) WithAgent(agentID string) *Scenario {
	s.agentID = agentID
	return s
}

// WithSystemPrompt sets the run's system prompt.
func (s *Scenario) WithSystemPrompt(prompt string) *Scenario {
	s.systemPrompt = prompt
	return s
}

// WithInput sets the user input that starts the run.
func (s *Scenario) WithInput(input string) *Scenario {
	s.input = input
	return s
}

// WithModel sets the model name passed to the adapter.
func (s *Scenario) WithModel(model string) *Scenario {
	s.model = model
	return s
}

// WithTimeout sets the run's wall-clock budget.
func (s *Scenario) WithTimeout(d time.Duration) *Scenario {
	s.timeout = d
	return s
}

// WithMaxIterations caps the run's model turns.
func (s *Scenario) WithMaxIterations(n int) *Scenario {
	s.maxIterations = n
	return s
}

// WithStreaming runs the loop in streaming mode.
func (s *Scenario) WithStreaming() *Scenario {
	s.stream = true
	return s
}

// Script appends scripted model turns. Ignored when WithAdapter is set.
func (s *Scenario) Script(steps ...llm.ScriptStep) *Scenario {
	s.steps = append(s.steps, steps...)
	return s
}

// WithAdapter substitutes a custom adapter for the scripted one.
func (s *Scenario) WithAdapter(adapter llm.Adapter) *Scenario {
	s.adapter = adapter
	return s
}

// WithTool registers a tool the run may call.
func (s *Scenario) WithTool(def tools.Definition) *Scenario {
	s.defs = append(s.defs, def)
	return s
}

// DenyTool denies a registered tool by name.
func (s *Scenario) DenyTool(name string) *Scenario {
	s.denied = append(s.denied, name)
	return s
}

// Expect adds an expectation.
func (s *Scenario) Expect(exp Expectation) *Scenario {
	s.expectations = append(s.expectations, exp)
	return s
}

// ExpectStatus expects the run to end in the given status.
func (s *Scenario) ExpectStatus(status run.Status) *Scenario {
	return s.Expect(&statusExpectation{status: status})
}

// ExpectResult expects the run's final result to match.
func (s *Scenario) ExpectResult(matcher StringMatcher) *Scenario {
	return s.Expect(&resultExpectation{matcher: matcher})
}

// ExpectFailureReason expects the run to fail for the given reason.
func (s *Scenario) ExpectFailureReason(reason run.FailureReason) *Scenario {
	return s.Expect(&failureReasonExpectation{reason: reason})
}

// ExpectToolCall expects the named tool to have been dispatched.
func (s *Scenario) ExpectToolCall(toolName string) *Scenario {
	return s.Expect(&toolCallExpectation{toolName: toolName})
}

// ExpectNoToolCalls expects no tool dispatches at all.
func (s *Scenario) ExpectNoToolCalls() *Scenario {
	return s.Expect(&noToolCallsExpectation{})
}

// ExpectEvent expects an audit event of the given type.
func (s *Scenario) ExpectEvent(eventType audit.EventType) *Scenario {
	return s.Expect(&eventExpectation{eventType: eventType})
}

// ExpectIterations expects the run to consume exactly n model turns.
func (s *Scenario) ExpectIterations(n int) *Scenario {
	return s.Expect(&iterationsExpectation{count: n})
}

// Run executes the scenario, asserts every expectation against the outcome,
// and returns the result for further inspection.
func (s *Scenario) Run(t *testing.T) *Result {
	t.Helper()

	adapter := s.adapter
	if adapter == nil {
		adapter = llm.NewScriptedAdapter(s.steps...)
	}

	registry := tools.NewRegistry()
	names := make([]string, 0, len(s.defs))
	for _, def := range s.defs {
		if err := registry.Register(def); err != nil {
			t.Fatalf("scenario %q: register tool: %v", s.name, err)
		}
		names = append(names, def.Name)
	}
	allowlist := tools.NewAllowlist(names...).WithDenied(s.denied...)

	cfg := run.Config{
		Adapter:       adapter,
		Model:         s.model,
		Sink:          &RecordingSink{},
		MaxIterations: s.maxIterations,
		Timeout:       s.timeout,
		Stream:        s.stream,
	}
	sink := cfg.Sink.(*RecordingSink)
	if registry.Len() > 0 {
		cfg.Tools = registry.LLMTools(allowlist)
		cfg.Dispatcher = tools.NewDispatcher(registry)
		cfg.Allowlist = allowlist
	}

	r := run.New(s.agentID, s.systemPrompt, s.input)
	loop, err := run.NewLoop(r, cfg)
	if err != nil {
		t.Fatalf("scenario %q: build loop: %v", s.name, err)
	}

	start := time.Now()
	snap := loop.Execute(context.Background())
	result := &Result{
		Snapshot: snap,
		Events:   sink.Events(),
		Duration: time.Since(start),
	}

	for _, exp := range s.expectations {
		if err := exp.Check(result); err != nil {
			t.Errorf("scenario %q: expectation %q failed: %v", s.name, exp.Description(), err)
		}
	}
	return result
}

// ToolCallNames lists the tool names dispatched during the run, in order.
func (r *Result) ToolCallNames() []string {
	var names []string
	for _, ev := range r.Events {
		if ev.Type != audit.EventToolDispatched {
			continue
		}
		if name, ok := ev.Payload["tool"].(string); ok {
			names = append(names, name)
		}
	}
	return names
}

// HasEvent reports whether an event of the given type was recorded.
func (r *Result) HasEvent(eventType audit.EventType) bool {
	for _, ev := range r.Events {
		if ev.Type == eventType {
			return true
		}
	}
	return false
}

// StringMatcher defines how expectations match strings.
type StringMatcher interface {
	Match(s string) bool
	Description() string
}

// Contains matches strings containing substr.
func Contains(substr string) StringMatcher {
	return &containsMatcher{substr: substr}
}

// Equals matches exactly.
func Equals(expected string) StringMatcher {
	return &equalsMatcher{expected: expected}
}

// Regex matches against a regular expression.
func Regex(pattern string) StringMatcher {
	return &regexMatcher{re: regexp.MustCompile(pattern), pattern: pattern}
}

// HasPrefix matches strings starting with prefix.
func HasPrefix(prefix string) StringMatcher {
	return &prefixMatcher{prefix: prefix}
}

type containsMatcher struct{ substr string }

func (m *containsMatcher) Match(s string) bool { return strings.Contains(s, m.substr) }
func (m *containsMatcher) Description() string { return fmt.Sprintf("contains %q", m.substr) }

type equalsMatcher struct{ expected string }

func (m *equalsMatcher) Match(s string) bool { return s == m.expected }
func (m *equalsMatcher) Description() string { return fmt.Sprintf("equals %q", m.expected) }

type regexMatcher struct {
	re      *regexp.Regexp
	pattern string
}

func (m *regexMatcher) Match(s string) bool { return m.re.MatchString(s) }
func (m *regexMatcher) Description() string { return fmt.Sprintf("matches %q", m.pattern) }

type prefixMatcher struct{ prefix string }

func (m *prefixMatcher) Match(s string) bool { return strings.HasPrefix(s, m.prefix) }
func (m *prefixMatcher) Description() string { return fmt.Sprintf("has prefix %q", m.prefix) }

type statusExpectation struct{ status run.Status }

func (e *statusExpectation) Check(r *Result) error {
	if r.Snapshot.Status != e.status {
		return fmt.Errorf("status %q, want %q (failure: %s %s)",
			r.Snapshot.Status, e.status, r.Snapshot.FailureReason, r.Snapshot.FailureDetail)
	}
	return nil
}

func (e *statusExpectation) Description() string {
	return fmt.Sprintf("status %q", e.status)
}

type resultExpectation struct{ matcher StringMatcher }

func (e *resultExpectation) Check(r *Result) error {
	if !e.matcher.Match(r.Snapshot.Result) {
		return fmt.Errorf("result %q does not match: %s", r.Snapshot.Result, e.matcher.Description())
	}
	return nil
}

func (e *resultExpectation) Description() string {
	return fmt.Sprintf("result %s", e.matcher.Description())
}

type failureReasonExpectation struct{ reason run.FailureReason }

func (e *failureReasonExpectation) Check(r *Result) error {
	if r.Snapshot.FailureReason != e.reason {
		return fmt.Errorf("failure reason %q, want %q", r.Snapshot.FailureReason, e.reason)
	}
	return nil
}

func (e *failureReasonExpectation) Description() string {
	return fmt.Sprintf("failure reason %q", e.reason)
}

type toolCallExpectation struct{ toolName string }

func (e *toolCallExpectation) Check(r *Result) error {
	for _, name := range r.ToolCallNames() {
		if name == e.toolName {
			return nil
		}
	}
	return fmt.Errorf("tool %q was not dispatched (saw %v)", e.toolName, r.ToolCallNames())
}

func (e *toolCallExpectation) Description() string {
	return fmt.Sprintf("tool %q dispatched", e.toolName)
}

type noToolCallsExpectation struct{}

func (e *noToolCallsExpectation) Check(r *Result) error {
	if names := r.ToolCallNames(); len(names) > 0 {
		return fmt.Errorf("expected no tool dispatches, saw %v", names)
	}
	return nil
}

func (e *noToolCallsExpectation) Description() string { return "no tool dispatches" }

type eventExpectation struct{ eventType audit.EventType }

func (e *eventExpectation) Check(r *Result) error {
	if !r.HasEvent(e.eventType) {
		return fmt.Errorf("event %q was not recorded", e.eventType)
	}
	return nil
}

func (e *eventExpectation) Description() string {
	return fmt.Sprintf("event %q recorded", e.eventType)
}

type iterationsExpectation struct{ count int }

func (e *iterationsExpectation) Check(r *Result) error {
	if r.Snapshot.IterationCount != e.count {
		return fmt.Errorf("iteration count %d, want %d", r.Snapshot.IterationCount, e.count)
	}
	return nil
}

func (e *iterationsExpectation) Description() string {
	return fmt.Sprintf("%d iterations", e.count)
}

// RecordingSink is an audit sink that keeps every event in memory.
type RecordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

// Record implements audit.Sink.
func (s *RecordingSink) Record(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of everything recorded so far.
func (s *RecordingSink) Events() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Types returns the recorded event types in order.
func (s *RecordingSink) Types() []audit.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]audit.EventType, len(s.events))
	for i, ev := range s.events {
		types[i] = ev.Type
	}
	return types
}

// Reset clears the sink.
func (s *RecordingSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = s.events[:0]
}
