// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import "testing"

func TestAllowlistExactMatch(t *testing.T) {
	al := NewAllowlist("read_file", "write_file")

	if !al.Allows("read_file") {
		t.Error("expected read_file allowed")
	}
	if al.Allows("delete_everything") {
		t.Error("expected unlisted tool denied")
	}
}

func TestAllowlistEmptyDeniesAll(t *testing.T) {
	al := NewAllowlist()
	if al.Allows("read_file") {
		t.Error("empty allowlist must deny everything")
	}

	var nilList *Allowlist
	if nilList.Allows("read_file") {
		t.Error("nil allowlist must deny everything")
	}
}

func TestAllowlistGlobPatterns(t *testing.T) {
	al := NewAllowlist("memory_*", "fs_read")

	tests := []struct {
		name string
		want bool
	}{
		{"memory_store", true},
		{"memory_search", true},
		{"fs_read", true},
		{"fs_write", false},
		{"memory", false},
	}

	for _, tt := range tests {
		if got := al.Allows(tt.name); got != tt.want {
			t.Errorf("Allows(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestAllowlistDenyTakesPrecedence(t *testing.T) {
	al := NewAllowlist("memory_*").WithDenied("memory_purge")

	if !al.Allows("memory_search") {
		t.Error("expected memory_search allowed")
	}
	if al.Allows("memory_purge") {
		t.Error("expected denied entry to win over allow pattern")
	}
}

func TestAllowlistTrimsEntries(t *testing.T) {
	al := NewAllowlist("  read_file  ", "", "   ")
	if !al.Allows("read_file") {
		t.Error("expected trimmed entry to match")
	}
	if len(al.Entries()) != 1 {
		t.Errorf("expected 1 entry, got %d", len(al.Entries()))
	}
}
