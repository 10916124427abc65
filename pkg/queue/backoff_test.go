package queue

import (
	"testing"
	"time"
)

func TestCalculateDelayGrowsExponentially(t *testing.T) {
	cfg := DefaultRetryConfig
	if d := cfg.CalculateDelay(1); d != 0 {
		t.Errorf("attempt 1 should have no delay, got %v", d)
	}
	d2 := cfg.CalculateDelay(2)
	if d2 != 2*time.Second {
		t.Errorf("attempt 2 delay = %v, want 2s", d2)
	}
	d3 := cfg.CalculateDelay(3)
	if d3 != 4*time.Second {
		t.Errorf("attempt 3 delay = %v, want 4s", d3)
	}
}

func TestCalculateDelayCapsAtMaxDelay(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 10, InitialDelay: 2 * time.Second, MaxDelay: 5 * time.Second, BackoffFactor: 2.0}
	d := cfg.CalculateDelay(6)
	if d != 5*time.Second {
		t.Errorf("delay should cap at MaxDelay, got %v", d)
	}
}

func TestResetInstancesClearsCache(t *testing.T) {
	Configure("redis://localhost:6379/0")
	q1, err := Get("planning")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	ResetInstances()
	q2, err := Get("planning")
	if err != nil {
		t.Fatalf("Get after reset: %v", err)
	}
	if q1 == q2 {
		t.Error("expected ResetInstances to force a fresh instance")
	}
}
