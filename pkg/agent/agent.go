// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent defines agent manifests: which model an agent speaks
// through, what tools it may call, where it may write, and how much work a
// single run may do.
package agent

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teloslabs/telos/pkg/tools"
)

// Duration is a time.Duration that unmarshals from YAML scalars like "90s"
// or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Budgets bound one run. Zero fields inherit the daemon defaults.
type Budgets struct {
	// MaxIterations caps model turns in one run.
	MaxIterations int `yaml:"max_iterations"`

	// Timeout caps a run's wall-clock time.
	Timeout Duration `yaml:"timeout"`
}

// ToolAccess names the tools an agent may call. Entries may be exact names
// or glob patterns; deny entries take precedence. An agent with no allow
// entries has no tools.
type ToolAccess struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// Config is one agent manifest.
type Config struct {
	// Name identifies the agent. Runs and workspaces are keyed by it.
	Name string `yaml:"name"`

	// Model is the model name handed to the router.
	Model string `yaml:"model"`

	// Provider optionally overrides router resolution with an explicit
	// provider kind. Required for the native ollama adapter, which is
	// never inferred from a model name.
	Provider string `yaml:"provider"`

	// SystemPrompt seeds every run's conversation.
	SystemPrompt string `yaml:"system_prompt"`

	Tools ToolAccess `yaml:"tools"`

	// WorkspaceRoot is the directory filesystem tools are confined to.
	// Empty means the agent has no workspace.
	WorkspaceRoot string `yaml:"workspace_root"`

	Budgets Budgets `yaml:"budgets"`
}

var validProviders = map[string]bool{
	"":       true,
	"openai": true,
	"claude": true,
	"local":  true,
	"ollama": true,
}

// Validate checks the manifest is usable.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("agent name is required")
	}
	if strings.ContainsAny(c.Name, " \t\n/\\") {
		return fmt.Errorf("agent name %q contains invalid characters", c.Name)
	}
	if c.Model == "" {
		return fmt.Errorf("agent %q: model is required", c.Name)
	}
	if !validProviders[c.Provider] {
		return fmt.Errorf("agent %q: unknown provider %q", c.Name, c.Provider)
	}
	if c.Budgets.MaxIterations < 0 {
		return fmt.Errorf("agent %q: max_iterations cannot be negative", c.Name)
	}
	if c.Budgets.Timeout < 0 {
		return fmt.Errorf("agent %q: timeout cannot be negative", c.Name)
	}
	return nil
}

// Allowlist builds the dispatch allowlist from the manifest's tool access.
func (c Config) Allowlist() *tools.Allowlist {
	return tools.NewAllowlist(c.Tools.Allow...).WithDenied(c.Tools.Deny...)
}
