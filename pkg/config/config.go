// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads daemon configuration from defaults, an optional YAML
// file, and TELOS_-prefixed environment variables, in that order of
// precedence (later sources win).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the environment variable namespace, e.g.
// TELOS_PROVIDERS_OPENAI_API_KEY -> providers.openai.api_key.
const EnvPrefix = "TELOS_"

// Config is the full daemon configuration.
type Config struct {
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Providers ProvidersConfig `koanf:"providers"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Run       RunConfig       `koanf:"run"`
	Retry     RetryConfig     `koanf:"retry"`
	Tools     ToolsConfig     `koanf:"tools"`
	Audit     AuditConfig     `koanf:"audit"`
	Agents    AgentsConfig    `koanf:"agents"`
	Memory    MemoryConfig    `koanf:"memory"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // stdout, otlp, none
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

// ProviderConfig carries per-provider credentials and connection settings.
type ProviderConfig struct {
	APIKey  string        `koanf:"api_key"`
	BaseURL string        `koanf:"base_url"`
	Model   string        `koanf:"model"`
	Timeout time.Duration `koanf:"timeout"`
}

// ProvidersConfig holds one block per provider family plus routing policy.
type ProvidersConfig struct {
	OpenAI ProviderConfig `koanf:"openai"`
	Claude ProviderConfig `koanf:"claude"`
	Local  ProviderConfig `koanf:"local"`
	Ollama ProviderConfig `koanf:"ollama"`

	// Default is the provider assumed for unrecognized model names.
	Default string `koanf:"default"`

	// Strict rejects unrecognized model names instead of using Default.
	Strict bool `koanf:"strict"`
}

type SchedulerConfig struct {
	MaxConcurrentRuns int  `koanf:"max_concurrent_runs"`
	MaxQueuedRuns     int  `koanf:"max_queued_runs"`
	Stream            bool `koanf:"stream"`
}

// RunConfig sets the default budgets applied when an agent manifest leaves
// its own unset.
type RunConfig struct {
	MaxIterations int           `koanf:"max_iterations"`
	Timeout       time.Duration `koanf:"timeout"`
	Grace         time.Duration `koanf:"grace"`
}

type RetryConfig struct {
	MaxRetries   int           `koanf:"max_retries"`
	InitialDelay time.Duration `koanf:"initial_delay"`
	MaxDelay     time.Duration `koanf:"max_delay"`
}

// MCPServerConfig names one MCP server whose tools join the registry.
type MCPServerConfig struct {
	Name      string   `koanf:"name"`
	Transport string   `koanf:"transport"` // stdio, http
	Command   string   `koanf:"command"`
	Args      []string `koanf:"args"`
	URL       string   `koanf:"url"`
}

type ToolsConfig struct {
	// ExecTimeout bounds one tool execution unless the tool overrides it.
	ExecTimeout time.Duration `koanf:"exec_timeout"`

	// Filesystem registers the built-in workspace file tools.
	Filesystem bool `koanf:"filesystem"`

	// Memory registers the built-in vector memory tools. Requires
	// memory.enabled.
	Memory bool `koanf:"memory"`

	MCP []MCPServerConfig `koanf:"mcp"`
}

type AuditConfig struct {
	// Path is the SQLite audit trail location. Empty logs events only.
	Path string `koanf:"path"`

	// Log mirrors every event to the structured logger.
	Log bool `koanf:"log"`
}

type AgentsConfig struct {
	// Dir holds agent manifest YAML files.
	Dir string `koanf:"dir"`

	// ArchivePath is the SQLite archive for terminal run snapshots.
	// Empty keeps finished runs resident in memory.
	ArchivePath string `koanf:"archive_path"`
}

type MemoryConfig struct {
	Enabled         bool   `koanf:"enabled"`
	Provider        string `koanf:"provider"` // qdrant, local
	QdrantAddr      string `koanf:"qdrant_addr"`
	Collection      string `koanf:"collection"`
	EmbedderBaseURL string `koanf:"embedder_base_url"`
	EmbedderModel   string `koanf:"embedder_model"`
}

func defaults(k *koanf.Koanf) {
	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("telemetry.exporter", "none")

	k.Set("providers.default", "openai")
	k.Set("providers.openai.timeout", "60s")
	k.Set("providers.claude.timeout", "60s")
	k.Set("providers.local.base_url", "http://localhost:11434/v1")
	k.Set("providers.local.timeout", "120s")
	k.Set("providers.ollama.base_url", "http://localhost:11434")
	k.Set("providers.ollama.timeout", "120s")

	k.Set("scheduler.max_concurrent_runs", 4)

	k.Set("run.max_iterations", 10)
	k.Set("run.timeout", "5m")
	k.Set("run.grace", "5s")

	k.Set("retry.max_retries", 3)
	k.Set("retry.initial_delay", "1s")
	k.Set("retry.max_delay", "30s")

	k.Set("tools.exec_timeout", "30s")
	k.Set("tools.filesystem", true)

	k.Set("audit.log", true)

	k.Set("agents.dir", "agents")

	k.Set("memory.provider", "local")
	k.Set("memory.qdrant_addr", "localhost:6334")
	k.Set("memory.collection", "telos_memory")
	k.Set("memory.embedder_base_url", "http://localhost:11434")
	k.Set("memory.embedder_model", "nomic-embed-text")
}

// Load reads configuration from defaults, then the optional YAML file at
// path, then the environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	defaults(k)

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envToKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envToKey maps TELOS_PROVIDERS_OPENAI_API_KEY to providers.openai.api_key.
// Only section separators become dots; key-internal underscores survive
// because nesting depth is known per section.
func envToKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(s, "_", 2)
	if len(parts) != 2 {
		return s
	}
	section, rest := parts[0], parts[1]
	if section == "providers" {
		if sub := strings.SplitN(rest, "_", 2); len(sub) == 2 {
			return section + "." + sub[0] + "." + sub[1]
		}
	}
	return section + "." + rest
}

// Validate rejects configurations the runtime cannot start with.
func (c *Config) Validate() error {
	switch c.Providers.Default {
	case "", "openai", "claude", "local", "ollama":
	default:
		return fmt.Errorf("providers.default: unknown provider %q", c.Providers.Default)
	}
	switch c.Telemetry.Exporter {
	case "", "none", "stdout", "otlp":
	default:
		return fmt.Errorf("telemetry.exporter: unknown exporter %q", c.Telemetry.Exporter)
	}
	if c.Telemetry.Exporter == "otlp" && c.Telemetry.OTLPEndpoint == "" {
		return fmt.Errorf("telemetry.otlp_endpoint is required for the otlp exporter")
	}
	if c.Scheduler.MaxConcurrentRuns < 0 {
		return fmt.Errorf("scheduler.max_concurrent_runs cannot be negative")
	}
	if c.Run.MaxIterations < 0 {
		return fmt.Errorf("run.max_iterations cannot be negative")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries cannot be negative")
	}
	for i, srv := range c.Tools.MCP {
		if srv.Name == "" {
			return fmt.Errorf("tools.mcp[%d]: name is required", i)
		}
		switch srv.Transport {
		case "stdio":
			if srv.Command == "" {
				return fmt.Errorf("tools.mcp[%d] %s: command is required for stdio", i, srv.Name)
			}
		case "http":
			if srv.URL == "" {
				return fmt.Errorf("tools.mcp[%d] %s: url is required for http", i, srv.Name)
			}
		default:
			return fmt.Errorf("tools.mcp[%d] %s: unknown transport %q", i, srv.Name, srv.Transport)
		}
	}
	return nil
}
