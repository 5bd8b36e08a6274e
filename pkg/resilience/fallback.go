// SPDX-License-Identifier: Apache-2.0

package resilience

import "context"

// FallbackStrategy defines a fallback behavior when a primary operation
// fails. Best-effort subsystems (memory recall against a remote vector
// store) degrade through one of these instead of failing the caller.
type FallbackStrategy interface {
	// Execute runs the fallback operation.
	Execute(ctx context.Context, primaryErr error) (interface{}, error)
}

// FallbackFunc wraps a function as a FallbackStrategy.
type FallbackFunc func(ctx context.Context, primaryErr error) (interface{}, error)

// Execute implements FallbackStrategy.
func (f FallbackFunc) Execute(ctx context.Context, err error) (interface{}, error) {
	return f(ctx, err)
}

// StaticFallback returns a static value on failure.
type StaticFallback struct {
	Value interface{}
}

// Execute implements FallbackStrategy.
func (s *StaticFallback) Execute(ctx context.Context, primaryErr error) (interface{}, error) {
	return s.Value, nil
}

// ChainedFallback tries multiple fallbacks in sequence.
type ChainedFallback struct {
	Fallbacks []FallbackStrategy
}

// Execute implements FallbackStrategy.
func (c *ChainedFallback) Execute(ctx context.Context, primaryErr error) (interface{}, error) {
	lastErr := primaryErr

	for _, fallback := range c.Fallbacks {
		value, err := fallback.Execute(ctx, lastErr)
		if err == nil {
			return value, nil
		}
		lastErr = err
	}

	return nil, lastErr
}

// WithFallback executes fn, and on error, uses the fallback strategy.
func WithFallback(ctx context.Context, fn func() (interface{}, error), fallback FallbackStrategy) (interface{}, error) {
	value, err := fn()
	if err == nil {
		return value, nil
	}

	return fallback.Execute(ctx, err)
}
