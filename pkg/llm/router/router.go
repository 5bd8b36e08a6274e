// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

// Package router resolves model names to provider adapters. Adapters hold
// pooled connections, so the router caches one live adapter per provider
// configuration and shares it across concurrent runs. Each provider kind is
// guarded by a circuit breaker that opens after repeated upstream failures.
package router

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	telerr "github.com/teloslabs/telos/pkg/errors"
	"github.com/teloslabs/telos/pkg/llm"
	"github.com/teloslabs/telos/pkg/resilience"
	"github.com/teloslabs/telos/pkg/telemetry"
	"github.com/teloslabs/telos/providers/claude"
	"github.com/teloslabs/telos/providers/local"
	"github.com/teloslabs/telos/providers/ollama"
	"github.com/teloslabs/telos/providers/openai"
)

// ProviderKind identifies a provider family.
type ProviderKind string

const (
	KindOpenAI ProviderKind = "openai"
	KindClaude ProviderKind = "claude"
	KindLocal  ProviderKind = "local"

	// KindOllama selects the native NDJSON adapter. Never inferred from a
	// model name; agents opt in with an explicit provider setting.
	KindOllama ProviderKind = "ollama"
)

// ProviderConfig carries the settings needed to construct one adapter.
// Zero-valued fields inherit the router's defaults for the kind.
type ProviderConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// merge returns cfg with zero fields filled from defaults.
func (cfg ProviderConfig) merge(defaults ProviderConfig) ProviderConfig {
	if cfg.APIKey == "" {
		cfg.APIKey = defaults.APIKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}
	return cfg
}

// Config holds per-kind defaults and routing policy.
type Config struct {
	OpenAI ProviderConfig
	Claude ProviderConfig
	Local  ProviderConfig
	Ollama ProviderConfig

	// Default is the kind assumed for unrecognized model names.
	// Empty means openai.
	Default ProviderKind

	// Strict rejects unrecognized model names instead of using Default.
	Strict bool

	// Breaker tunes the per-kind circuit breakers. The Name field is
	// overwritten with the kind.
	Breaker resilience.CircuitBreakerConfig

	// Metrics receives per-call counters and token usage. Nil disables.
	Metrics *telemetry.Metrics
}

// Router maps model names to shared, breaker-guarded adapters.
type Router struct {
	cfg Config

	mu       sync.RWMutex
	adapters map[string]llm.Adapter                        // fingerprint -> adapter
	breakers map[ProviderKind]*resilience.CircuitBreaker   // one per kind
	closed   bool
}

// New creates a Router with the given configuration.
func New(cfg Config) *Router {
	if cfg.Default == "" {
		cfg.Default = KindOpenAI
	}
	return &Router{
		cfg:      cfg,
		adapters: make(map[string]llm.Adapter),
		breakers: make(map[ProviderKind]*resilience.CircuitBreaker),
	}
}

// modelFamilies maps model name prefixes to provider kinds. Order matters:
// first match wins.
var modelFamilies = []struct {
	prefix string
	kind   ProviderKind
}{
	{"gpt-", KindOpenAI},
	{"o1-", KindOpenAI},
	{"o3-", KindOpenAI},
	{"claude-", KindClaude},
	{"llama", KindLocal},
	{"codellama", KindLocal},
	{"mistral", KindLocal},
	{"phi", KindLocal},
	{"gemma", KindLocal},
	{"qwen", KindLocal},
	{"yi-", KindLocal},
	{"deepseek", KindLocal},
	{"vicuna", KindLocal},
	{"alpaca", KindLocal},
}

// Resolve determines the provider kind for a model name. Unrecognized names
// fall back to the configured default unless strict resolution is on.
func (r *Router) Resolve(model string) (ProviderKind, error) {
	name := strings.ToLower(strings.TrimSpace(model))
	if name == "" {
		return "", telerr.New(telerr.CodeConfiguration, "model name is empty", nil)
	}

	for _, family := range modelFamilies {
		if strings.HasPrefix(name, family.prefix) {
			return family.kind, nil
		}
	}

	if r.cfg.Strict {
		return "", telerr.New(telerr.CodeConfiguration,
			fmt.Sprintf("cannot determine provider for model %q", model), nil).
			WithContext("model", model)
	}
	return r.cfg.Default, nil
}

// Adapter returns the shared adapter for a kind, constructing it on first
// use. cfg overrides the router's defaults field by field; the zero value
// uses the defaults unchanged.
func (r *Router) Adapter(kind ProviderKind, cfg ProviderConfig) (llm.Adapter, error) {
	merged := cfg.merge(r.defaultsFor(kind))
	key := fingerprint(kind, merged)

	r.mu.RLock()
	adapter, ok := r.adapters[key]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, telerr.New(telerr.CodeConfiguration, "router is closed", nil)
	}
	if ok {
		return adapter, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, telerr.New(telerr.CodeConfiguration, "router is closed", nil)
	}
	if adapter, ok := r.adapters[key]; ok {
		return adapter, nil
	}

	inner, err := r.build(kind, merged)
	if err != nil {
		return nil, err
	}
	adapter = newBreakerAdapter(inner, r.breakerFor(kind), kind, r.cfg.Metrics)
	r.adapters[key] = adapter
	return adapter, nil
}

// ChatForModel resolves a model name and returns its adapter.
func (r *Router) ChatForModel(model string) (llm.Adapter, error) {
	kind, err := r.Resolve(model)
	if err != nil {
		return nil, err
	}
	return r.Adapter(kind, ProviderConfig{})
}

// Close closes every cached adapter. Subsequent Adapter calls fail.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for key, adapter := range r.adapters {
		if err := adapter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", key, err))
		}
	}
	r.adapters = make(map[string]llm.Adapter)
	return errors.Join(errs...)
}

// BreakerState reports the circuit breaker state for a kind, for health
// surfaces. Kinds never used report closed.
func (r *Router) BreakerState(kind ProviderKind) resilience.CircuitBreakerState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cb, ok := r.breakers[kind]; ok {
		return cb.State()
	}
	return resilience.StateClosed
}

func (r *Router) defaultsFor(kind ProviderKind) ProviderConfig {
	switch kind {
	case KindClaude:
		return r.cfg.Claude
	case KindLocal:
		return r.cfg.Local
	case KindOllama:
		return r.cfg.Ollama
	default:
		return r.cfg.OpenAI
	}
}

// build constructs the raw adapter for a kind. Caller holds the lock.
func (r *Router) build(kind ProviderKind, cfg ProviderConfig) (llm.Adapter, error) {
	switch kind {
	case KindOpenAI:
		opts := []openai.Option{}
		if cfg.APIKey != "" {
			opts = append(opts, openai.WithAPIKey(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		return openai.New(opts...), nil

	case KindClaude:
		opts := []claude.Option{}
		if cfg.APIKey != "" {
			opts = append(opts, claude.WithAPIKey(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, claude.WithBaseURL(cfg.BaseURL))
		}
		if cfg.Model != "" {
			opts = append(opts, claude.WithModel(cfg.Model))
		}
		return claude.New(opts...), nil

	case KindLocal:
		opts := []local.Option{}
		if cfg.APIKey != "" {
			opts = append(opts, local.WithAPIKey(cfg.APIKey))
		}
		if cfg.Model != "" {
			opts = append(opts, local.WithModel(cfg.Model))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, local.WithTimeout(cfg.Timeout))
		}
		return local.New(cfg.BaseURL, opts...)

	case KindOllama:
		opts := []ollama.Option{}
		if cfg.Model != "" {
			opts = append(opts, ollama.WithModel(cfg.Model))
		}
		return ollama.New(cfg.BaseURL, opts...), nil

	default:
		return nil, telerr.New(telerr.CodeConfiguration,
			fmt.Sprintf("unknown provider kind %q", kind), nil)
	}
}

// breakerFor returns the kind's breaker, creating it on first use.
// Caller holds the lock.
func (r *Router) breakerFor(kind ProviderKind) *resilience.CircuitBreaker {
	if cb, ok := r.breakers[kind]; ok {
		return cb
	}
	bcfg := r.cfg.Breaker
	bcfg.Name = string(kind)
	cb := resilience.NewCircuitBreaker(bcfg)
	r.breakers[kind] = cb
	return cb
}

// fingerprint derives the cache key for a (kind, config) pair. Hashed so
// credentials never appear in map keys or debug output.
func fingerprint(kind ProviderKind, cfg ProviderConfig) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s|%d",
		kind, cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Timeout)))
	return string(kind) + ":" + hex.EncodeToString(sum[:8])
}

// breakerAdapter guards an adapter with a circuit breaker and instruments
// every call with a span and the core metrics. Unary calls record duration
// and token usage; for streams only setup is observed, since mid-stream
// failures surface as chunks past the call boundary and their usage is
// accumulated by the consumer.
type breakerAdapter struct {
	inner   llm.Adapter
	breaker *resilience.CircuitBreaker
	kind    ProviderKind
	tracer  trace.Tracer
	metrics *telemetry.Metrics
}

func newBreakerAdapter(inner llm.Adapter, cb *resilience.CircuitBreaker, kind ProviderKind, metrics *telemetry.Metrics) *breakerAdapter {
	return &breakerAdapter{
		inner:   inner,
		breaker: cb,
		kind:    kind,
		tracer:  otel.Tracer("telos/llm"),
		metrics: metrics,
	}
}

func (b *breakerAdapter) Generate(ctx context.Context, model string, messages []llm.Message, params llm.Params) (*llm.Response, error) {
	ctx, span := b.startSpan(ctx, "LLM.Generate", model, 0)
	defer span.End()

	start := time.Now()
	var resp *llm.Response
	err := b.breaker.Call(ctx, func() error {
		var callErr error
		resp, callErr = b.inner.Generate(ctx, model, messages, params)
		return callErr
	})
	b.finishCall(ctx, span, model, start, resp, err)
	return resp, err
}

func (b *breakerAdapter) StructuredGenerate(ctx context.Context, model string, messages []llm.Message, params llm.SchemaParams) (*llm.Response, error) {
	ctx, span := b.startSpan(ctx, "LLM.StructuredGenerate", model, 0)
	defer span.End()

	start := time.Now()
	var resp *llm.Response
	err := b.breaker.Call(ctx, func() error {
		var callErr error
		resp, callErr = b.inner.StructuredGenerate(ctx, model, messages, params)
		return callErr
	})
	b.finishCall(ctx, span, model, start, resp, err)
	return resp, err
}

func (b *breakerAdapter) RunWithTools(ctx context.Context, model string, messages []llm.Message, tools []llm.Tool, params llm.ToolParams) (*llm.Response, error) {
	ctx, span := b.startSpan(ctx, "LLM.RunWithTools", model, len(tools))
	defer span.End()

	start := time.Now()
	var resp *llm.Response
	err := b.breaker.Call(ctx, func() error {
		var callErr error
		resp, callErr = b.inner.RunWithTools(ctx, model, messages, tools, params)
		return callErr
	})
	b.finishCall(ctx, span, model, start, resp, err)
	return resp, err
}

func (b *breakerAdapter) Stream(ctx context.Context, model string, messages []llm.Message, params llm.Params) (<-chan llm.StreamChunk, error) {
	ctx, span := b.startSpan(ctx, "LLM.Stream", model, 0)
	defer span.End()

	var chunks <-chan llm.StreamChunk
	err := b.breaker.Call(ctx, func() error {
		var callErr error
		chunks, callErr = b.inner.Stream(ctx, model, messages, params)
		return callErr
	})
	if err != nil {
		span.RecordError(err)
		b.metrics.RecordError(ctx, err, "adapter")
	}
	return chunks, err
}

func (b *breakerAdapter) StreamWithTools(ctx context.Context, model string, messages []llm.Message, tools []llm.Tool, params llm.ToolParams) (<-chan llm.StreamChunk, error) {
	ctx, span := b.startSpan(ctx, "LLM.StreamWithTools", model, len(tools))
	defer span.End()

	var chunks <-chan llm.StreamChunk
	err := b.breaker.Call(ctx, func() error {
		var callErr error
		chunks, callErr = b.inner.StreamWithTools(ctx, model, messages, tools, params)
		return callErr
	})
	if err != nil {
		span.RecordError(err)
		b.metrics.RecordError(ctx, err, "adapter")
	}
	return chunks, err
}

func (b *breakerAdapter) startSpan(ctx context.Context, op, model string, toolCount int) (context.Context, trace.Span) {
	return b.tracer.Start(ctx, op,
		trace.WithAttributes(telemetry.LLMAttributes(model, string(b.kind), toolCount)...))
}

// finishCall settles a unary call's span and metrics.
func (b *breakerAdapter) finishCall(ctx context.Context, span trace.Span, model string, start time.Time, resp *llm.Response, err error) {
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		b.metrics.RecordError(ctx, err, "adapter")
		return
	}
	in, out := 0, 0
	if resp != nil {
		in, out = resp.Usage.InputTokens, resp.Usage.OutputTokens
	}
	span.SetAttributes(telemetry.LLMUsageAttributes(in, out, float64(elapsed.Milliseconds()))...)
	b.metrics.LLMCall(ctx, string(b.kind), model, elapsed, in, out)
}

func (b *breakerAdapter) Capabilities(ctx context.Context, model string) (llm.ModelCapabilities, error) {
	// Capability lookups are local and cached; no breaker involvement.
	return b.inner.Capabilities(ctx, model)
}

func (b *breakerAdapter) Close() error {
	return b.inner.Close()
}

var _ llm.Adapter = (*breakerAdapter)(nil)
