// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	telerr "github.com/teloslabs/telos/pkg/errors"
)

// Sandbox confines filesystem-touching tools to one agent's workspace root.
// Every path a handler receives from the model goes through Resolve before
// any filesystem call; escapes are rejected as sandbox violations.
type Sandbox struct {
	root string
}

// NewSandbox creates a sandbox rooted at the given directory. The directory
// is created if missing so a fresh agent can write immediately.
func NewSandbox(root string) (*Sandbox, error) {
	if root == "" {
		return nil, telerr.New(telerr.CodeConfiguration, "workspace root is empty", nil)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, telerr.New(telerr.CodeConfiguration, "cannot resolve workspace root", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, telerr.New(telerr.CodeConfiguration, "cannot create workspace root", err)
	}
	// Containment checks compare against the physical root so a symlinked
	// workspace directory still anchors them correctly.
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, telerr.New(telerr.CodeConfiguration, "cannot resolve workspace root", err)
	}
	return &Sandbox{root: resolved}, nil
}

// Root returns the absolute workspace root.
func (s *Sandbox) Root() string {
	return s.root
}

// Resolve maps a model-supplied relative path to an absolute path inside the
// workspace. Absolute paths and traversal outside the root are violations.
func (s *Sandbox) Resolve(rel string) (string, error) {
	if rel == "" {
		return "", violation("empty path", rel)
	}
	if filepath.IsAbs(rel) {
		return "", violation("absolute paths are not permitted", rel)
	}

	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", violation("path escapes the workspace root", rel)
	}

	full := filepath.Join(s.root, clean)

	// Join cleans again; verify containment rather than trusting prefixes.
	if !s.contains(full) {
		return "", violation("path escapes the workspace root", rel)
	}

	// The lexical check misses symlinks pointing outside the root, so the
	// physical path is checked too. Missing suffixes (a file about to be
	// written) resolve through their deepest existing ancestor.
	resolved, err := resolveSymlinks(full)
	if err != nil {
		return "", violation("cannot resolve path", rel)
	}
	if !s.contains(resolved) {
		return "", violation("path escapes the workspace root", rel)
	}

	return resolved, nil
}

// contains reports whether path sits at or below the workspace root.
func (s *Sandbox) contains(path string) bool {
	relBack, err := filepath.Rel(s.root, path)
	if err != nil {
		return false
	}
	return relBack != ".." && !strings.HasPrefix(relBack, ".."+string(filepath.Separator))
}

// resolveSymlinks evaluates symlinks on the deepest existing ancestor of
// path and rejoins the missing suffix, so paths that do not exist yet still
// resolve.
func resolveSymlinks(path string) (string, error) {
	suffix := ""
	for p := path; ; {
		resolved, err := filepath.EvalSymlinks(p)
		if err == nil {
			return filepath.Join(resolved, suffix), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		suffix = filepath.Join(filepath.Base(p), suffix)
		parent := filepath.Dir(p)
		if parent == p {
			return "", err
		}
		p = parent
	}
}

// violation builds the typed sandbox error handlers return.
func violation(msg, path string) *telerr.Error {
	e := telerr.New(telerr.CodeToolExecution, msg, nil).
		WithAttribute("path", path)
	e.ToolKind = telerr.ToolSandboxViolation
	return e
}

type sandboxKey struct{}

// WithSandbox attaches an agent's sandbox to the context. The loop sets this
// before dispatching so filesystem tools see only their agent's workspace.
func WithSandbox(ctx context.Context, sb *Sandbox) context.Context {
	return context.WithValue(ctx, sandboxKey{}, sb)
}

// SandboxFrom extracts the sandbox from the context.
func SandboxFrom(ctx context.Context) (*Sandbox, bool) {
	sb, ok := ctx.Value(sandboxKey{}).(*Sandbox)
	return sb, ok
}
