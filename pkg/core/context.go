// Package core carries cross-cutting identity helpers and small shared
// surfaces (health probes) used by the run loop, scheduler, and tools.
package core

import (
	"context"

	"github.com/google/uuid"
)

type runIDKey struct{}
type agentIDKey struct{}

// WithRunID attaches a run id to the context.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFrom returns the run id if present.
func RunIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey{}).(string)
	return id, ok
}

// EnsureRunID ensures a run id exists in the context.
func EnsureRunID(ctx context.Context) (context.Context, string) {
	if id, ok := RunIDFrom(ctx); ok {
		return ctx, id
	}
	id := NewRunID()
	return WithRunID(ctx, id), id
}

// WithAgentID attaches the owning agent's id to the context. The dispatcher
// uses it to serialize same-agent tool execution.
func WithAgentID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, agentIDKey{}, id)
}

// AgentIDFrom returns the agent id if present.
func AgentIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(agentIDKey{}).(string)
	return id, ok
}

// NewRunID mints a fresh run id.
func NewRunID() string {
	return "run-" + uuid.NewString()
}
