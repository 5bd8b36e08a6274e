// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	// HealthHealthy indicates the component is fully operational.
	HealthHealthy HealthStatus = "HEALTHY"

	// HealthDegraded indicates reduced capacity, e.g. a provider whose
	// circuit breaker is half-open.
	HealthDegraded HealthStatus = "DEGRADED"

	// HealthUnhealthy indicates the component is not operational.
	HealthUnhealthy HealthStatus = "UNHEALTHY"
)

// HealthResult is one component's probe outcome.
type HealthResult struct {
	Status    HealthStatus
	Component string
	Message   string
	LastCheck time.Time
	Error     error
}

// HealthChecker probes one component.
type HealthChecker interface {
	Check(ctx context.Context) HealthResult
}

// CheckerFunc adapts a function to HealthChecker.
type CheckerFunc func(ctx context.Context) HealthResult

// Check implements HealthChecker.
func (f CheckerFunc) Check(ctx context.Context) HealthResult {
	result := f(ctx)
	if result.LastCheck.IsZero() {
		result.LastCheck = time.Now().UTC()
	}
	return result
}

// Health aggregates probes for the runtime's components: provider adapters,
// the tool registry, audit storage. Registration happens at composition
// time; probing is safe under concurrent use.
type Health struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
}

// NewHealth creates an empty health aggregate.
func NewHealth() *Health {
	return &Health{checkers: make(map[string]HealthChecker)}
}

// Register adds or replaces the checker for a component.
func (h *Health) Register(name string, checker HealthChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// Check probes a single component.
func (h *Health) Check(ctx context.Context, name string) (HealthResult, error) {
	h.mu.RLock()
	checker, ok := h.checkers[name]
	h.mu.RUnlock()
	if !ok {
		return HealthResult{}, fmt.Errorf("no health checker registered for %q", name)
	}
	result := checker.Check(ctx)
	result.Component = name
	return result, nil
}

// CheckAll probes every component. Overall status is healthy only when all
// components are; one unhealthy component makes the whole unhealthy.
func (h *Health) CheckAll(ctx context.Context) ([]HealthResult, HealthStatus) {
	h.mu.RLock()
	checkers := make(map[string]HealthChecker, len(h.checkers))
	for name, c := range h.checkers {
		checkers[name] = c
	}
	h.mu.RUnlock()

	overall := HealthHealthy
	results := make([]HealthResult, 0, len(checkers))
	for name, checker := range checkers {
		result := checker.Check(ctx)
		result.Component = name
		results = append(results, result)

		switch result.Status {
		case HealthUnhealthy:
			overall = HealthUnhealthy
		case HealthDegraded:
			if overall == HealthHealthy {
				overall = HealthDegraded
			}
		}
	}
	return results, overall
}

// StaticChecker reports a constant status. Useful in tests and for
// components with no meaningful probe.
func StaticChecker(status HealthStatus, message string) HealthChecker {
	return CheckerFunc(func(context.Context) HealthResult {
		return HealthResult{Status: status, Message: message}
	})
}
