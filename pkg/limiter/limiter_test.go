package limiter

import "testing"

func TestReserveTokensWithinBudget(t *testing.T) {
	l := New()
	l.SetPlan("tenant-a", 1000, 10)

	if err := l.ReserveTokens("tenant-a", 400); err != nil {
		t.Fatalf("ReserveTokens: %v", err)
	}
	if err := l.ReserveTokens("tenant-a", 400); err != nil {
		t.Fatalf("ReserveTokens: %v", err)
	}

	tokens, _, err := l.Status("tenant-a")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if tokens != 800 {
		t.Errorf("consumed tokens = %d, want 800", tokens)
	}
}

func TestReserveTokensExceedsBudget(t *testing.T) {
	l := New()
	l.SetPlan("tenant-a", 1000, 10)

	if err := l.ReserveTokens("tenant-a", 1200); err == nil {
		t.Error("expected ErrTokenBudgetExceeded, got nil")
	}
}

func TestReserveCallExceedsBudget(t *testing.T) {
	l := New()
	l.SetPlan("tenant-a", 1_000_000, 2)

	if err := l.ReserveCall("tenant-a"); err != nil {
		t.Fatalf("ReserveCall 1: %v", err)
	}
	if err := l.ReserveCall("tenant-a"); err != nil {
		t.Fatalf("ReserveCall 2: %v", err)
	}
	if err := l.ReserveCall("tenant-a"); err == nil {
		t.Error("expected ErrCallBudgetExceeded on third call, got nil")
	}
}

func TestUnregisteredTenantErrors(t *testing.T) {
	l := New()
	if err := l.ReserveTokens("unknown", 10); err == nil {
		t.Error("expected error for unregistered tenant, got nil")
	}
}

func TestAdjustCorrectsEstimate(t *testing.T) {
	l := New()
	l.SetPlan("tenant-a", 1000, 10)

	if err := l.ReserveTokens("tenant-a", 500); err != nil {
		t.Fatalf("ReserveTokens: %v", err)
	}
	if err := l.Adjust("tenant-a", -200); err != nil {
		t.Fatalf("Adjust: %v", err)
	}

	tokens, _, err := l.Status("tenant-a")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if tokens != 300 {
		t.Errorf("consumed tokens after adjust = %d, want 300", tokens)
	}
}
