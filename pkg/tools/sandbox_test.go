// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	telerr "github.com/teloslabs/telos/pkg/errors"
)

func TestSandboxResolve(t *testing.T) {
	sb, err := NewSandbox(t.TempDir())
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}

	full, err := sb.Resolve("notes/today.md")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !strings.HasPrefix(full, sb.Root()) {
		t.Errorf("resolved path %q outside root %q", full, sb.Root())
	}
	if filepath.Base(full) != "today.md" {
		t.Errorf("unexpected resolved path %q", full)
	}
}

func TestSandboxRejectsEscapes(t *testing.T) {
	sb, err := NewSandbox(t.TempDir())
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}

	tests := []string{
		"",
		"/etc/passwd",
		"..",
		"../outside.txt",
		"notes/../../outside.txt",
		"a/b/../../../escape",
	}

	for _, path := range tests {
		t.Run(path, func(t *testing.T) {
			_, err := sb.Resolve(path)
			if err == nil {
				t.Fatalf("expected violation for %q", path)
			}
			kind, ok := telerr.ToolKindOf(err)
			if !ok || kind != telerr.ToolSandboxViolation {
				t.Errorf("expected sandbox_violation, got %v", err)
			}
		})
	}
}

func TestSandboxAllowsInternalDotDot(t *testing.T) {
	sb, err := NewSandbox(t.TempDir())
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}

	// Traversal that stays inside the root is fine once cleaned.
	full, err := sb.Resolve("a/b/../c.txt")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if filepath.Base(full) != "c.txt" {
		t.Errorf("unexpected path %q", full)
	}
}

func TestSandboxRejectsSymlinkEscape(t *testing.T) {
	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(secret, []byte("hidden"), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}

	sb, err := NewSandbox(t.TempDir())
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	if err := os.Symlink(outside, filepath.Join(sb.Root(), "vault")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	// Lexically inside the workspace, physically outside it.
	for _, path := range []string{"vault", "vault/secret.txt", "vault/new.txt"} {
		t.Run(path, func(t *testing.T) {
			_, err := sb.Resolve(path)
			if err == nil {
				t.Fatalf("expected violation for %q", path)
			}
			kind, ok := telerr.ToolKindOf(err)
			if !ok || kind != telerr.ToolSandboxViolation {
				t.Errorf("expected sandbox_violation, got %v", err)
			}
		})
	}
}

func TestSandboxAllowsInternalSymlink(t *testing.T) {
	sb, err := NewSandbox(t.TempDir())
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(sb.Root(), "data"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Symlink(filepath.Join(sb.Root(), "data"), filepath.Join(sb.Root(), "alias")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	full, err := sb.Resolve("alias/file.txt")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !strings.HasPrefix(full, sb.Root()) {
		t.Errorf("resolved path %q outside root %q", full, sb.Root())
	}
}

func TestSandboxRequiresRoot(t *testing.T) {
	_, err := NewSandbox("")
	if telerr.CodeOf(err) != telerr.CodeConfiguration {
		t.Errorf("expected CodeConfiguration, got %v", err)
	}
}

func TestSandboxContextCarrier(t *testing.T) {
	sb, err := NewSandbox(t.TempDir())
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}

	ctx := WithSandbox(context.Background(), sb)
	got, ok := SandboxFrom(ctx)
	if !ok || got != sb {
		t.Error("expected sandbox carried through context")
	}

	if _, ok := SandboxFrom(context.Background()); ok {
		t.Error("did not expect sandbox on empty context")
	}
}
