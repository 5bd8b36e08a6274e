// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

// Package runtime assembles a complete execution core from configuration:
// logging, telemetry, the provider router, the tool registry, agent
// manifests, audit sinks, the run archive, and the scheduler on top.
package runtime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "modernc.org/sqlite"

	"github.com/teloslabs/telos/pkg/agent"
	"github.com/teloslabs/telos/pkg/audit"
	"github.com/teloslabs/telos/pkg/config"
	"github.com/teloslabs/telos/pkg/core"
	"github.com/teloslabs/telos/pkg/llm/router"
	"github.com/teloslabs/telos/pkg/mcp"
	"github.com/teloslabs/telos/pkg/memory"
	"github.com/teloslabs/telos/pkg/memory/embed"
	"github.com/teloslabs/telos/pkg/memory/qdrant"
	"github.com/teloslabs/telos/pkg/resilience"
	"github.com/teloslabs/telos/pkg/run"
	"github.com/teloslabs/telos/pkg/scheduler"
	"github.com/teloslabs/telos/pkg/telemetry"
	"github.com/teloslabs/telos/pkg/tools"
	"github.com/teloslabs/telos/pkg/tools/builtin"
)

// telemetryShutdownTimeout bounds the final exporter flush.
const telemetryShutdownTimeout = 10 * time.Second

// Runtime owns every long-lived component of the daemon. Build one with New,
// drive it through Scheduler, and tear it down with Shutdown.
type Runtime struct {
	cfg *config.Config
	log *slog.Logger

	router     *router.Router
	registry   *tools.Registry
	dispatcher *tools.Dispatcher
	agents     *agent.Store
	sched      *scheduler.Scheduler
	health     *core.Health
	metrics    *telemetry.Metrics

	archiveDB  *sql.DB
	auditDB    *sql.DB
	mcpClients []*mcp.Client

	telemetryShutdown telemetry.ShutdownFunc
}

// New assembles a runtime from configuration. ctx bounds the startup work:
// memory initialization and MCP tool discovery. On error nothing leaks;
// whatever was already built is closed before returning.
func New(ctx context.Context, cfg *config.Config, version string) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("runtime config is nil")
	}

	r := &Runtime{cfg: cfg}
	if err := r.build(ctx, version); err != nil {
		r.closeResources()
		return nil, err
	}
	return r, nil
}

func (r *Runtime) build(ctx context.Context, version string) error {
	cfg := r.cfg
	r.log = telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	shutdown, err := telemetry.InitWithConfig("telosd", version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	r.telemetryShutdown = shutdown

	r.metrics, err = telemetry.NewMetrics()
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	routerCfg := routerConfig(cfg.Providers)
	routerCfg.Metrics = r.metrics
	r.router = router.New(routerCfg)

	sink, err := r.buildAuditSink()
	if err != nil {
		return err
	}

	archive, err := r.buildArchive()
	if err != nil {
		return err
	}

	if err := r.buildTools(ctx); err != nil {
		return err
	}

	r.agents = agent.NewStore(cfg.Agents.Dir)
	if err := r.agents.Load(); err != nil {
		return fmt.Errorf("load agent manifests: %w", err)
	}

	retry := resilience.DefaultRetryConfig().
		WithMaxAttempts(cfg.Retry.MaxRetries + 1).
		WithInitialDelay(cfg.Retry.InitialDelay).
		WithMaxDelay(cfg.Retry.MaxDelay)

	r.sched, err = scheduler.New(scheduler.Config{
		MaxConcurrent: cfg.Scheduler.MaxConcurrentRuns,
		MaxQueued:     cfg.Scheduler.MaxQueuedRuns,
		MaxIterations: cfg.Run.MaxIterations,
		Timeout:       cfg.Run.Timeout,
		Grace:         cfg.Run.Grace,
		Retry:         retry,
		Stream:        cfg.Scheduler.Stream,
	}, scheduler.Options{
		Agents:     r.agents,
		Adapters:   r.router,
		Registry:   r.registry,
		Dispatcher: r.dispatcher,
		Sink:       sink,
		Archive:    archive,
		Metrics:    r.metrics,
		Logger:     r.log,
	})
	if err != nil {
		return err
	}

	r.buildHealth()

	r.log.Info("runtime ready",
		slog.Int("agents", r.agents.Len()),
		slog.Int("tools", r.registry.Len()),
		slog.String("default_provider", cfg.Providers.Default),
	)
	return nil
}

// buildAuditSink combines the configured lifecycle sinks. Nil means no
// auditing at all.
func (r *Runtime) buildAuditSink() (audit.Sink, error) {
	var sinks []audit.Sink
	if r.cfg.Audit.Log {
		sinks = append(sinks, audit.NewSlogSink(r.log))
	}
	if r.cfg.Audit.Path != "" {
		db, err := sql.Open("sqlite", r.cfg.Audit.Path)
		if err != nil {
			return nil, fmt.Errorf("open audit store: %w", err)
		}
		r.auditDB = db
		sqlite, err := audit.NewSQLiteSink(db)
		if err != nil {
			return nil, fmt.Errorf("init audit store: %w", err)
		}
		sinks = append(sinks, sqlite)
	}
	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		return sinks[0], nil
	default:
		return audit.NewMultiSink(sinks...), nil
	}
}

func (r *Runtime) buildArchive() (*run.Archive, error) {
	if r.cfg.Agents.ArchivePath == "" {
		return nil, nil
	}
	db, err := sql.Open("sqlite", r.cfg.Agents.ArchivePath)
	if err != nil {
		return nil, fmt.Errorf("open run archive: %w", err)
	}
	r.archiveDB = db
	archive, err := run.NewArchive(db)
	if err != nil {
		return nil, fmt.Errorf("init run archive: %w", err)
	}
	return archive, nil
}

// buildTools registers the built-in tool set and every configured MCP
// server, then builds the dispatcher over the finished registry.
func (r *Runtime) buildTools(ctx context.Context) error {
	cfg := r.cfg
	r.registry = tools.NewRegistry()

	if cfg.Tools.Filesystem {
		if err := builtin.RegisterFS(r.registry); err != nil {
			return fmt.Errorf("register filesystem tools: %w", err)
		}
	}

	if cfg.Memory.Enabled && cfg.Tools.Memory {
		vm, err := r.buildMemory(ctx)
		if err != nil {
			return err
		}
		if err := builtin.RegisterMemory(r.registry, vm); err != nil {
			return fmt.Errorf("register memory tools: %w", err)
		}
	}

	for _, server := range cfg.Tools.MCP {
		client, err := connectMCP(server)
		if err != nil {
			return fmt.Errorf("mcp server %s: %w", server.Name, err)
		}
		r.mcpClients = append(r.mcpClients, client)

		names, err := mcp.RegisterTools(ctx, r.registry, client)
		if err != nil {
			return fmt.Errorf("mcp server %s: register tools: %w", server.Name, err)
		}
		r.log.Info("mcp tools registered",
			slog.String("server", server.Name),
			slog.Any("tools", names),
		)
	}

	opts := []tools.DispatcherOption{tools.WithMetrics(r.metrics)}
	if cfg.Tools.ExecTimeout > 0 {
		opts = append(opts, tools.WithDefaultTimeout(cfg.Tools.ExecTimeout))
	}
	r.dispatcher = tools.NewDispatcher(r.registry, opts...)
	return nil
}

func (r *Runtime) buildMemory(ctx context.Context) (*memory.VectorMemory, error) {
	cfg := r.cfg.Memory

	var store memory.VectorStore
	switch cfg.Provider {
	case "qdrant":
		qs, err := qdrant.New(cfg.QdrantAddr)
		if err != nil {
			return nil, fmt.Errorf("connect qdrant: %w", err)
		}
		// Recall is best-effort: a qdrant outage degrades searches to an
		// in-process mirror of this process's writes instead of failing runs.
		store = memory.NewFailover(qs, memory.NewLocal())
	default:
		store = memory.NewLocal()
	}

	embedder := embed.NewOllama(cfg.EmbedderBaseURL, cfg.EmbedderModel)
	vm := memory.NewVectorMemory(store, embedder, cfg.Collection)
	if err := vm.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize vector memory: %w", err)
	}
	return vm, nil
}

func connectMCP(server config.MCPServerConfig) (*mcp.Client, error) {
	switch server.Transport {
	case "stdio":
		return mcp.NewClientWithStdio(server.Command, server.Args)
	case "http":
		return mcp.NewClientWithStreamableHTTP(server.URL)
	default:
		return nil, fmt.Errorf("unknown transport %q", server.Transport)
	}
}

func (r *Runtime) buildHealth() {
	r.health = core.NewHealth()

	r.health.Register("agents", core.CheckerFunc(func(context.Context) core.HealthResult {
		if r.agents.Len() == 0 {
			return core.HealthResult{
				Status:  core.HealthDegraded,
				Message: "no agent manifests loaded",
			}
		}
		return core.HealthResult{
			Status:  core.HealthHealthy,
			Message: fmt.Sprintf("%d agents", r.agents.Len()),
		}
	}))

	r.health.Register("providers", core.CheckerFunc(func(context.Context) core.HealthResult {
		for _, kind := range []router.ProviderKind{router.KindOpenAI, router.KindClaude, router.KindLocal, router.KindOllama} {
			switch r.router.BreakerState(kind) {
			case resilience.StateOpen:
				return core.HealthResult{
					Status:  core.HealthUnhealthy,
					Message: fmt.Sprintf("%s circuit open", kind),
				}
			case resilience.StateHalfOpen:
				return core.HealthResult{
					Status:  core.HealthDegraded,
					Message: fmt.Sprintf("%s circuit half-open", kind),
				}
			}
		}
		return core.HealthResult{Status: core.HealthHealthy}
	}))

	if r.archiveDB != nil {
		db := r.archiveDB
		r.health.Register("archive", core.CheckerFunc(func(ctx context.Context) core.HealthResult {
			if err := db.PingContext(ctx); err != nil {
				return core.HealthResult{Status: core.HealthUnhealthy, Error: err}
			}
			return core.HealthResult{Status: core.HealthHealthy}
		}))
	}
}

// Scheduler exposes the run scheduler.
func (r *Runtime) Scheduler() *scheduler.Scheduler { return r.sched }

// Agents exposes the agent manifest store.
func (r *Runtime) Agents() *agent.Store { return r.agents }

// Registry exposes the tool registry.
func (r *Runtime) Registry() *tools.Registry { return r.registry }

// Health exposes the component health aggregate.
func (r *Runtime) Health() *core.Health { return r.health }

// Logger exposes the configured logger.
func (r *Runtime) Logger() *slog.Logger { return r.log }

// Shutdown drains the scheduler, then releases every resource. Safe to call
// after a failed startup.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var errs []error
	if r.sched != nil {
		if err := r.sched.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler: %w", err))
		}
	}
	errs = append(errs, r.closeErrs()...)
	return errors.Join(errs...)
}

func (r *Runtime) closeResources() {
	for _, err := range r.closeErrs() {
		if r.log != nil {
			r.log.Error("runtime cleanup", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) closeErrs() []error {
	var errs []error
	for _, client := range r.mcpClients {
		if err := client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mcp client: %w", err))
		}
	}
	r.mcpClients = nil
	if r.router != nil {
		if err := r.router.Close(); err != nil {
			errs = append(errs, fmt.Errorf("router: %w", err))
		}
		r.router = nil
	}
	if r.archiveDB != nil {
		if err := r.archiveDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("archive store: %w", err))
		}
		r.archiveDB = nil
	}
	if r.auditDB != nil {
		if err := r.auditDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("audit store: %w", err))
		}
		r.auditDB = nil
	}
	if r.telemetryShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		if err := r.telemetryShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry: %w", err))
		}
		cancel()
		r.telemetryShutdown = nil
	}
	return errs
}

// routerConfig maps the provider section onto the router's view of it.
func routerConfig(p config.ProvidersConfig) router.Config {
	return router.Config{
		OpenAI:  providerConfig(p.OpenAI),
		Claude:  providerConfig(p.Claude),
		Local:   providerConfig(p.Local),
		Ollama:  providerConfig(p.Ollama),
		Default: router.ProviderKind(p.Default),
		Strict:  p.Strict,
	}
}

func providerConfig(p config.ProviderConfig) router.ProviderConfig {
	return router.ProviderConfig{
		APIKey:  p.APIKey,
		BaseURL: p.BaseURL,
		Model:   p.Model,
		Timeout: p.Timeout,
	}
}
