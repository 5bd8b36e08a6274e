// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestHealthCheckSingle(t *testing.T) {
	h := NewHealth()
	h.Register("adapter.openai", StaticChecker(HealthHealthy, "ok"))

	result, err := h.Check(context.Background(), "adapter.openai")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if result.Status != HealthHealthy {
		t.Errorf("expected healthy, got %s", result.Status)
	}
	if result.Component != "adapter.openai" {
		t.Errorf("expected component name set, got %q", result.Component)
	}
}

func TestHealthCheckUnknownComponent(t *testing.T) {
	h := NewHealth()
	if _, err := h.Check(context.Background(), "nope"); err == nil {
		t.Error("expected error for unknown component")
	}
}

func TestHealthCheckAllAggregation(t *testing.T) {
	cases := []struct {
		name     string
		statuses []HealthStatus
		want     HealthStatus
	}{
		{"all healthy", []HealthStatus{HealthHealthy, HealthHealthy}, HealthHealthy},
		{"one degraded", []HealthStatus{HealthHealthy, HealthDegraded}, HealthDegraded},
		{"one unhealthy", []HealthStatus{HealthDegraded, HealthUnhealthy}, HealthUnhealthy},
		{"empty", nil, HealthHealthy},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHealth()
			for i, status := range tc.statuses {
				h.Register(string(rune('a'+i)), StaticChecker(status, ""))
			}
			results, overall := h.CheckAll(context.Background())
			if overall != tc.want {
				t.Errorf("expected overall %s, got %s", tc.want, overall)
			}
			if len(results) != len(tc.statuses) {
				t.Errorf("expected %d results, got %d", len(tc.statuses), len(results))
			}
		})
	}
}

func TestCheckerFuncStampsLastCheck(t *testing.T) {
	probeErr := errors.New("connection refused")
	checker := CheckerFunc(func(context.Context) HealthResult {
		return HealthResult{Status: HealthUnhealthy, Error: probeErr}
	})

	result := checker.Check(context.Background())
	if result.LastCheck.IsZero() {
		t.Error("expected LastCheck to be stamped")
	}
	if time.Since(result.LastCheck) > time.Minute {
		t.Error("LastCheck should be recent")
	}
	if !errors.Is(result.Error, probeErr) {
		t.Error("expected probe error preserved")
	}
}

func TestHealthRegisterReplaces(t *testing.T) {
	h := NewHealth()
	h.Register("x", StaticChecker(HealthUnhealthy, "down"))
	h.Register("x", StaticChecker(HealthHealthy, "up"))

	result, err := h.Check(context.Background(), "x")
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != HealthHealthy {
		t.Errorf("expected replacement checker, got %s", result.Status)
	}
}
