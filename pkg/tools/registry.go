// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"sort"
	"sync"
	"sync/atomic"

	telerr "github.com/teloslabs/telos/pkg/errors"
	"github.com/teloslabs/telos/pkg/llm"
)

// Registry holds tool definitions. Reads are lock-free against an immutable
// snapshot; writers rebuild the snapshot under a mutex and swap it
// atomically. Dispatch-path lookups never contend with registration.
type Registry struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[map[string]Definition]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	empty := make(map[string]Definition)
	r.snapshot.Store(&empty)
	return r
}

// Register adds a tool definition. Fails on invalid definitions and
// duplicate names.
func (r *Registry) Register(def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.snapshot.Load()
	if _, exists := current[def.Name]; exists {
		return telerr.New(telerr.CodeConfiguration, "tool "+def.Name+" is already registered", nil)
	}

	next := make(map[string]Definition, len(current)+1)
	for name, d := range current {
		next[name] = d
	}
	next[def.Name] = def
	r.snapshot.Store(&next)
	return nil
}

// MustRegister registers a definition and panics on failure. For wiring
// builtin tools at startup, where a bad definition is a programming error.
func (r *Registry) MustRegister(def Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Unregister removes a tool by name. Removing an absent tool is a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.snapshot.Load()
	if _, exists := current[name]; !exists {
		return
	}

	next := make(map[string]Definition, len(current)-1)
	for n, d := range current {
		if n != name {
			next[n] = d
		}
	}
	r.snapshot.Store(&next)
}

// Lookup returns the definition for a name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	def, ok := (*r.snapshot.Load())[name]
	return def, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	current := *r.snapshot.Load()
	names := make([]string, 0, len(current))
	for name := range current {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(*r.snapshot.Load())
}

// LLMTools renders the definitions an allowlist admits, in sorted name
// order. This is what the loop advertises to the model: a tool the agent
// may not call is never visible to it.
func (r *Registry) LLMTools(allowlist *Allowlist) []llm.Tool {
	current := *r.snapshot.Load()
	names := make([]string, 0, len(current))
	for name := range current {
		if allowlist.Allows(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	rendered := make([]llm.Tool, 0, len(names))
	for _, name := range names {
		rendered = append(rendered, current[name].LLMTool())
	}
	return rendered
}
