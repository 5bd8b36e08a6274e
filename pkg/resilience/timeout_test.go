// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"testing"
	"time"

	telerr "github.com/teloslabs/telos/pkg/errors"
)

func TestWithTimeout(t *testing.T) {
	tests := []struct {
		name        string
		duration    time.Duration
		sleepTime   time.Duration
		expectError bool
	}{
		{"fast operation", 1 * time.Second, 10 * time.Millisecond, false},
		{"slow operation", 50 * time.Millisecond, 200 * time.Millisecond, true},
		{"no timeout", 0, 20 * time.Millisecond, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WithTimeout(context.Background(), tt.duration, func(ctx context.Context) error {
				select {
				case <-time.After(tt.sleepTime):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})

			if tt.expectError {
				if err == nil {
					t.Fatalf("expected timeout error")
				}
				if telerr.CodeOf(err) != telerr.CodeTimeout {
					t.Errorf("expected CodeTimeout, got %v", telerr.CodeOf(err))
				}
				if !telerr.IsRecoverable(err) {
					t.Errorf("expected timeout to be recoverable")
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestWithTimeoutPropagatesDeadline(t *testing.T) {
	var sawDeadline bool
	_ = WithTimeout(context.Background(), 50*time.Millisecond, func(ctx context.Context) error {
		_, sawDeadline = ctx.Deadline()
		return nil
	})
	if !sawDeadline {
		t.Error("expected derived context with deadline inside fn")
	}
}

func TestWithTimeoutResult(t *testing.T) {
	value, err := WithTimeoutResult(context.Background(), time.Second, func(ctx context.Context) (interface{}, error) {
		return "success", nil
	})

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if value != "success" {
		t.Errorf("expected 'success', got %v", value)
	}
}

func TestWithTimeoutResultTimeout(t *testing.T) {
	value, err := WithTimeoutResult(context.Background(), 50*time.Millisecond, func(ctx context.Context) (interface{}, error) {
		select {
		case <-time.After(200 * time.Millisecond):
			return "late", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	if err == nil {
		t.Errorf("expected timeout error")
	}
	if value != nil {
		t.Errorf("expected nil value on timeout, got %v", value)
	}
}
