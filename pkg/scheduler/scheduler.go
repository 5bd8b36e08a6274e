// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

// Package scheduler admits runs into the execution core. Submissions are
// validated eagerly, held in a FIFO queue, and executed with bounded
// concurrency; each run's progress is observable through a live event feed
// and its terminal snapshot lands in the archive. The scheduler is the only
// component that constructs loops, and it constructs exactly one per
// accepted submission, so a run is never driven twice.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/teloslabs/telos/pkg/agent"
	"github.com/teloslabs/telos/pkg/audit"
	telerr "github.com/teloslabs/telos/pkg/errors"
	"github.com/teloslabs/telos/pkg/llm"
	"github.com/teloslabs/telos/pkg/llm/router"
	"github.com/teloslabs/telos/pkg/resilience"
	"github.com/teloslabs/telos/pkg/run"
	"github.com/teloslabs/telos/pkg/telemetry"
	"github.com/teloslabs/telos/pkg/tools"
)

// DefaultMaxConcurrent caps simultaneously executing runs when the
// configuration leaves the limit unset.
const DefaultMaxConcurrent = 4

// Agents serves agent manifests. *agent.Store satisfies it.
type Agents interface {
	Get(name string) (agent.Config, error)
}

// Adapters resolves models to provider adapters. *router.Router satisfies it.
type Adapters interface {
	ChatForModel(model string) (llm.Adapter, error)
	Adapter(kind router.ProviderKind, cfg router.ProviderConfig) (llm.Adapter, error)
}

// Config tunes scheduling policy and the run budget defaults applied when an
// agent manifest leaves its own budgets unset.
type Config struct {
	// MaxConcurrent caps runs executing at once. Zero means
	// DefaultMaxConcurrent.
	MaxConcurrent int

	// MaxQueued caps runs waiting for a slot. Zero means unbounded.
	MaxQueued int

	// MaxIterations is the default model-turn budget per run.
	MaxIterations int

	// Timeout is the default wall-clock budget per run. Zero means none.
	Timeout time.Duration

	// Grace bounds cancellation unwind of in-flight tool executions.
	Grace time.Duration

	// Retry governs recoverable adapter failures inside each run.
	Retry resilience.RetryConfig

	// Stream mirrors model output chunks into each run's event feed.
	Stream bool
}

// Options carries the scheduler's collaborators.
type Options struct {
	Agents     Agents
	Adapters   Adapters
	Registry   *tools.Registry    // nil means agents have no tools
	Dispatcher *tools.Dispatcher  // required when Registry serves any tools
	Sink       audit.Sink         // persistent lifecycle sink; nil disables
	Archive    *run.Archive       // terminal run store; nil keeps runs resident
	Metrics    *telemetry.Metrics // nil disables run metrics
	Logger     *slog.Logger
}

// managed is one resident run and its wiring.
type managed struct {
	run       *run.Run
	loop      *run.Loop
	feed      *feed
	lifecycle audit.Sink

	// guarded by Scheduler.mu
	started bool
	cancel  context.CancelFunc
}

// Scheduler owns the run lifecycle from submission to archive.
type Scheduler struct {
	cfg        Config
	agents     Agents
	adapters   Adapters
	registry   *tools.Registry
	dispatcher *tools.Dispatcher
	sink       audit.Sink
	archive    *run.Archive
	metrics    *telemetry.Metrics
	log        *slog.Logger

	// baseCtx parents every run context; Shutdown cancels it to abort
	// whatever is still executing.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu     sync.Mutex
	runs   map[string]*managed
	queue  []*managed
	active int
	closed bool

	wg sync.WaitGroup
}

// New creates a Scheduler. It does not start anything; runs execute as
// submissions arrive.
func New(cfg Config, opts Options) (*Scheduler, error) {
	if opts.Agents == nil {
		return nil, telerr.New(telerr.CodeConfiguration, "scheduler has no agent source", nil)
	}
	if opts.Adapters == nil {
		return nil, telerr.New(telerr.CodeConfiguration, "scheduler has no adapter source", nil)
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = run.DefaultMaxIterations
	}
	if cfg.Grace <= 0 {
		cfg.Grace = run.DefaultGrace
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:        cfg,
		agents:     opts.Agents,
		adapters:   opts.Adapters,
		registry:   opts.Registry,
		dispatcher: opts.Dispatcher,
		sink:       opts.Sink,
		archive:    opts.Archive,
		metrics:    opts.Metrics,
		log:        opts.Logger,
		baseCtx:    ctx,
		baseCancel: cancel,
		runs:       make(map[string]*managed),
	}, nil
}

// Submit validates the submission, builds the run, and queues it. The run id
// returns immediately; execution starts when a slot frees. Resolution
// failures (unknown agent, unroutable model, bad workspace) are rejected
// here, before anything is queued.
func (s *Scheduler) Submit(ctx context.Context, agentName, input string) (string, error) {
	if input == "" {
		return "", telerr.New(telerr.CodeInvalidRequest, "run input is empty", nil)
	}

	cfg, err := s.agents.Get(agentName)
	if err != nil {
		return "", err
	}
	adapter, err := s.adapterFor(cfg)
	if err != nil {
		return "", err
	}

	allow := cfg.Allowlist()
	var defs []llm.Tool
	if s.registry != nil {
		defs = s.registry.LLMTools(allow)
	}

	var sandbox *tools.Sandbox
	if cfg.WorkspaceRoot != "" {
		sandbox, err = tools.NewSandbox(cfg.WorkspaceRoot)
		if err != nil {
			return "", err
		}
	}

	maxIterations := cfg.Budgets.MaxIterations
	if maxIterations <= 0 {
		maxIterations = s.cfg.MaxIterations
	}
	timeout := cfg.Budgets.Timeout.Std()
	if timeout <= 0 {
		timeout = s.cfg.Timeout
	}

	r := run.New(cfg.Name, cfg.SystemPrompt, input)
	f := newFeed()
	lifecycle := audit.NewMultiSink(s.sink, f)

	loop, err := run.NewLoop(r, run.Config{
		Adapter:       adapter,
		Model:         cfg.Model,
		Tools:         defs,
		Dispatcher:    s.dispatcher,
		Allowlist:     allow,
		Sandbox:       sandbox,
		Sink:          lifecycle,
		ChunkSink:     f,
		MaxIterations: maxIterations,
		Timeout:       timeout,
		Grace:         s.cfg.Grace,
		Retry:         s.cfg.Retry,
		Stream:        s.cfg.Stream,
		Metrics:       s.metrics,
	})
	if err != nil {
		return "", err
	}

	m := &managed{run: r, loop: loop, feed: f, lifecycle: lifecycle}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", telerr.New(telerr.CodeConfiguration, "scheduler is shut down", nil)
	}
	if s.cfg.MaxQueued > 0 && len(s.queue) >= s.cfg.MaxQueued {
		return "", telerr.New(telerr.CodeRateLimit, "run queue is full", nil)
	}
	s.runs[r.ID()] = m
	s.queue = append(s.queue, m)

	// Recorded before dispatch so "queued" always precedes "started" in the
	// audit trail.
	s.record(ctx, m, audit.EventRunQueued, map[string]interface{}{
		"agent": cfg.Name,
		"model": cfg.Model,
	})
	s.dispatchLocked()

	return r.ID(), nil
}

// adapterFor resolves the agent's adapter: an explicit provider override
// wins, otherwise the model name routes.
func (s *Scheduler) adapterFor(cfg agent.Config) (llm.Adapter, error) {
	if cfg.Provider != "" {
		return s.adapters.Adapter(router.ProviderKind(cfg.Provider), router.ProviderConfig{Model: cfg.Model})
	}
	return s.adapters.ChatForModel(cfg.Model)
}

// dispatchLocked starts queued runs while concurrency slots are free.
// Callers hold s.mu.
func (s *Scheduler) dispatchLocked() {
	for !s.closed && s.active < s.cfg.MaxConcurrent && len(s.queue) > 0 {
		m := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]

		runCtx, cancel := context.WithCancel(s.baseCtx)
		m.started = true
		m.cancel = cancel
		s.active++
		s.wg.Add(1)
		go s.execute(runCtx, m)
	}
}

// execute drives one run to its terminal state, archives it, and frees the
// concurrency slot.
func (s *Scheduler) execute(ctx context.Context, m *managed) {
	defer s.wg.Done()

	snap := m.loop.Execute(ctx)
	m.feed.close()
	s.store(snap)

	s.mu.Lock()
	s.active--
	s.dispatchLocked()
	s.mu.Unlock()
}

// store archives a terminal snapshot and releases the resident run. Archive
// failures keep the run resident so Status never loses it.
func (s *Scheduler) store(snap run.Snapshot) {
	if s.archive == nil {
		return
	}
	if err := s.archive.Save(context.Background(), snap); err != nil {
		s.log.Warn("run archive failed", "run_id", snap.ID, "error", err)
		return
	}
	s.mu.Lock()
	delete(s.runs, snap.ID)
	s.mu.Unlock()
}

// Cancel stops a run. Queued runs cancel immediately without ever starting a
// loop; running ones get their context cancelled and unwind through the
// loop's grace handling. Cancelling an already terminal run is a no-op.
func (s *Scheduler) Cancel(runID string) error {
	s.mu.Lock()
	m, ok := s.runs[runID]
	if !ok {
		s.mu.Unlock()
		if s.archived(runID) {
			return nil
		}
		return telerr.New(telerr.CodeInvalidRequest, "unknown run "+runID, nil)
	}
	if m.started {
		cancel := m.cancel
		s.mu.Unlock()
		cancel()
		return nil
	}
	s.dropQueuedLocked(m)
	s.mu.Unlock()

	s.finalizeQueued(m)
	return nil
}

// dropQueuedLocked removes a never-started run from the queue. Callers hold
// s.mu.
func (s *Scheduler) dropQueuedLocked(m *managed) {
	for i, q := range s.queue {
		if q == m {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// finalizeQueued settles a run that was cancelled before it started.
func (s *Scheduler) finalizeQueued(m *managed) {
	if m.run.CancelQueued() == nil {
		s.record(context.Background(), m, audit.EventRunCancelled, nil)
	}
	m.feed.close()
	s.store(m.run.Snapshot())
}

// Status reports a run's current snapshot: live runs from memory, finished
// ones from the archive.
func (s *Scheduler) Status(runID string) (run.Snapshot, error) {
	s.mu.Lock()
	m, ok := s.runs[runID]
	s.mu.Unlock()
	if ok {
		return m.run.Snapshot(), nil
	}
	if s.archive != nil {
		return s.archive.Get(context.Background(), runID)
	}
	return run.Snapshot{}, telerr.New(telerr.CodeInvalidRequest, "unknown run "+runID, nil)
}

// Watch subscribes to a run's live events. The channel closes once the run
// reaches a terminal state; watching an already finished run returns a
// closed channel, and callers fall back to Status for the outcome.
func (s *Scheduler) Watch(runID string) (<-chan audit.Event, error) {
	s.mu.Lock()
	m, ok := s.runs[runID]
	s.mu.Unlock()
	if ok {
		return m.feed.subscribe(), nil
	}
	if s.archived(runID) {
		ch := make(chan audit.Event)
		close(ch)
		return ch, nil
	}
	return nil, telerr.New(telerr.CodeInvalidRequest, "unknown run "+runID, nil)
}

// archived reports whether the archive holds a terminal snapshot of the run.
func (s *Scheduler) archived(runID string) bool {
	if s.archive == nil {
		return false
	}
	_, err := s.archive.Get(context.Background(), runID)
	return err == nil
}

// Stats is a point-in-time view of scheduler occupancy.
type Stats struct {
	Active   int `json:"active"`
	Queued   int `json:"queued"`
	Resident int `json:"resident"`
}

// Stats reports current occupancy.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Active: s.active, Queued: len(s.queue), Resident: len(s.runs)}
}

// Shutdown stops admissions, cancels queued and active runs, and waits for
// in-flight loops to unwind or ctx to expire.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	queued := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, m := range queued {
		s.finalizeQueued(m)
	}
	s.baseCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// record emits one scheduler-side lifecycle event to the persistent sink and
// the run's feed.
func (s *Scheduler) record(ctx context.Context, m *managed, t audit.EventType, payload map[string]interface{}) {
	event := audit.NewEvent(t, m.run.ID(), m.run.AgentID(), payload)
	_ = m.lifecycle.Record(context.WithoutCancel(ctx), event)
}
