package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Providers.Default != "openai" {
		t.Errorf("expected default provider openai, got %s", cfg.Providers.Default)
	}
	if cfg.Scheduler.MaxConcurrentRuns != 4 {
		t.Errorf("expected max_concurrent_runs 4, got %d", cfg.Scheduler.MaxConcurrentRuns)
	}
	if cfg.Run.MaxIterations != 10 {
		t.Errorf("expected max_iterations 10, got %d", cfg.Run.MaxIterations)
	}
	if cfg.Run.Timeout != 5*time.Minute {
		t.Errorf("expected run timeout 5m, got %v", cfg.Run.Timeout)
	}
	if cfg.Retry.MaxRetries != 3 {
		t.Errorf("expected max_retries 3, got %d", cfg.Retry.MaxRetries)
	}
	if !cfg.Tools.Filesystem {
		t.Error("expected filesystem tools enabled by default")
	}
	if cfg.Providers.Local.BaseURL != "http://localhost:11434/v1" {
		t.Errorf("unexpected local base_url %s", cfg.Providers.Local.BaseURL)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
providers:
  default: local
  openai:
    api_key: sk-test
    timeout: 30s
scheduler:
  max_concurrent_runs: 8
run:
  max_iterations: 5
  timeout: 90s
tools:
  exec_timeout: 10s
  mcp:
    - name: files
      transport: stdio
      command: mcp-files
      args: ["--root", "/srv"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Providers.Default != "local" {
		t.Errorf("expected provider local, got %s", cfg.Providers.Default)
	}
	if cfg.Providers.OpenAI.APIKey != "sk-test" {
		t.Errorf("expected api key from file, got %q", cfg.Providers.OpenAI.APIKey)
	}
	if cfg.Providers.OpenAI.Timeout != 30*time.Second {
		t.Errorf("expected openai timeout 30s, got %v", cfg.Providers.OpenAI.Timeout)
	}
	if cfg.Scheduler.MaxConcurrentRuns != 8 {
		t.Errorf("expected max_concurrent_runs 8, got %d", cfg.Scheduler.MaxConcurrentRuns)
	}
	if cfg.Run.MaxIterations != 5 {
		t.Errorf("expected max_iterations 5, got %d", cfg.Run.MaxIterations)
	}
	if cfg.Run.Timeout != 90*time.Second {
		t.Errorf("expected run timeout 90s, got %v", cfg.Run.Timeout)
	}
	if len(cfg.Tools.MCP) != 1 || cfg.Tools.MCP[0].Name != "files" {
		t.Fatalf("expected one mcp server named files, got %+v", cfg.Tools.MCP)
	}
	if cfg.Tools.MCP[0].Command != "mcp-files" || len(cfg.Tools.MCP[0].Args) != 2 {
		t.Errorf("unexpected mcp server %+v", cfg.Tools.MCP[0])
	}

	// Untouched sections keep their defaults.
	if cfg.Retry.MaxRetries != 3 {
		t.Errorf("expected default max_retries 3, got %d", cfg.Retry.MaxRetries)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TELOS_PROVIDERS_OPENAI_API_KEY", "sk-env")
	t.Setenv("TELOS_LOG_LEVEL", "debug")
	t.Setenv("TELOS_RUN_MAX_ITERATIONS", "7")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Providers.OpenAI.APIKey != "sk-env" {
		t.Errorf("expected api key from env, got %q", cfg.Providers.OpenAI.APIKey)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Log.Level)
	}
	if cfg.Run.MaxIterations != 7 {
		t.Errorf("expected max_iterations 7 from env, got %d", cfg.Run.MaxIterations)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TELOS_LOG_LEVEL", "error")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("env should beat file, got %s", cfg.Log.Level)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"unknown default provider", Config{Providers: ProvidersConfig{Default: "bedrock"}}},
		{"unknown telemetry exporter", Config{Telemetry: TelemetryConfig{Exporter: "jaeger"}}},
		{"otlp without endpoint", Config{Telemetry: TelemetryConfig{Exporter: "otlp"}}},
		{"negative concurrency", Config{Scheduler: SchedulerConfig{MaxConcurrentRuns: -1}}},
		{"mcp server without name", Config{Tools: ToolsConfig{MCP: []MCPServerConfig{{Transport: "stdio", Command: "x"}}}}},
		{"stdio server without command", Config{Tools: ToolsConfig{MCP: []MCPServerConfig{{Name: "x", Transport: "stdio"}}}}},
		{"http server without url", Config{Tools: ToolsConfig{MCP: []MCPServerConfig{{Name: "x", Transport: "http"}}}}},
		{"unknown transport", Config{Tools: ToolsConfig{MCP: []MCPServerConfig{{Name: "x", Transport: "grpc"}}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestEnvToKey(t *testing.T) {
	cases := map[string]string{
		"TELOS_LOG_LEVEL":                     "log.level",
		"TELOS_PROVIDERS_OPENAI_API_KEY":      "providers.openai.api_key",
		"TELOS_PROVIDERS_CLAUDE_BASE_URL":     "providers.claude.base_url",
		"TELOS_SCHEDULER_MAX_CONCURRENT_RUNS": "scheduler.max_concurrent_runs",
		"TELOS_RUN_MAX_ITERATIONS":            "run.max_iterations",
	}
	for in, want := range cases {
		if got := envToKey(in); got != want {
			t.Errorf("envToKey(%s) = %s, want %s", in, got, want)
		}
	}
}
