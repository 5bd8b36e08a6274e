// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"path"
	"strings"
)

// Allowlist is an agent's set of permitted tool names. Entries may be exact
// names or glob patterns ("fs_*"). An empty allowlist admits nothing: an
// agent has exactly the tools its config names.
//
// A denylist takes precedence over the allowlist, so a broad pattern can be
// narrowed ("memory_*" minus "memory_purge").
type Allowlist struct {
	allow map[string]bool
	deny  map[string]bool
}

// NewAllowlist builds an allowlist from permitted entries.
func NewAllowlist(allowed ...string) *Allowlist {
	al := &Allowlist{
		allow: make(map[string]bool),
		deny:  make(map[string]bool),
	}
	for _, name := range allowed {
		name = strings.TrimSpace(name)
		if name != "" {
			al.allow[name] = true
		}
	}
	return al
}

// WithDenied adds denied entries and returns the allowlist.
func (al *Allowlist) WithDenied(denied ...string) *Allowlist {
	for _, name := range denied {
		name = strings.TrimSpace(name)
		if name != "" {
			al.deny[name] = true
		}
	}
	return al
}

// Allows reports whether a tool name is permitted.
func (al *Allowlist) Allows(name string) bool {
	if al == nil {
		return false
	}
	if matchesList(name, al.deny) {
		return false
	}
	return matchesList(name, al.allow)
}

// Entries returns the allowed entries, for logging and validation.
func (al *Allowlist) Entries() []string {
	if al == nil {
		return nil
	}
	entries := make([]string, 0, len(al.allow))
	for name := range al.allow {
		entries = append(entries, name)
	}
	return entries
}

// matchesList checks name against exact entries and glob patterns.
func matchesList(name string, list map[string]bool) bool {
	if list[name] {
		return true
	}
	for pattern := range list {
		if ok, err := path.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}
