// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"time"

	"github.com/teloslabs/telos/pkg/errors"
)

// WithTimeout executes fn under a deadline. The derived context is handed to
// fn so the operation can unwind when the deadline passes; if it does not,
// the goroutine is abandoned and its eventual result discarded.
// Returns errors.CodeTimeout when the deadline is exceeded.
func WithTimeout(ctx context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	if d == 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case <-ctx.Done():
		return errors.New(errors.CodeTimeout, "operation exceeded timeout", ctx.Err()).
			WithContext("timeout", d.String())
	case err := <-done:
		return err
	}
}

// WithTimeoutResult executes fn under a deadline, returning both result and
// error.
func WithTimeoutResult(ctx context.Context, d time.Duration, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if d == 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		value interface{}
		err   error
	}

	done := make(chan result, 1)
	go func() {
		value, err := fn(ctx)
		done <- result{value, err}
	}()

	select {
	case <-ctx.Done():
		return nil, errors.New(errors.CodeTimeout, "operation exceeded timeout", ctx.Err()).
			WithContext("timeout", d.String())
	case res := <-done:
		return res.value, res.err
	}
}
