package fsm

import "testing"

func TestNextStateKnownTransitions(t *testing.T) {
	cases := []struct {
		from  State
		event Event
		want  State
	}{
		{Queued, StartPlanning, Planning},
		{Planning, PlanSucceeded, Coding},
		{Coding, CodeSucceeded, Reviewing},
		{Reviewing, ReviewApproved, PROpen},
		{Reviewing, ReviewRejected, Coding},
		{PROpen, PROpened, Completed},
	}
	for _, c := range cases {
		got, ok := NextState(c.from, c.event)
		if !ok {
			t.Fatalf("NextState(%s, %s): expected ok", c.from, c.event)
		}
		if got != c.want {
			t.Errorf("NextState(%s, %s) = %s, want %s", c.from, c.event, got, c.want)
		}
	}
}

func TestNextStateUnknownEvent(t *testing.T) {
	if _, ok := NextState(Queued, ReviewApproved); ok {
		t.Error("expected ReviewApproved to be invalid from QUEUED")
	}
}

func TestTerminalStatesHaveNoTransitions(t *testing.T) {
	for _, s := range []State{Completed, Failed, Cancelled} {
		if !IsTerminal(s) {
			t.Errorf("%s should be terminal", s)
		}
		if got := ValidTransitions(s); len(got) != 0 {
			t.Errorf("ValidTransitions(%s) = %v, want empty", s, got)
		}
	}
}

func TestIsValidTransition(t *testing.T) {
	if !IsValidTransition(Reviewing, Coding) {
		t.Error("REVIEWING -> CODING should be valid (rejection loop)")
	}
	if IsValidTransition(Completed, Coding) {
		t.Error("COMPLETED -> CODING should never be valid")
	}
}

func TestValidTransitionsDedup(t *testing.T) {
	// QUEUED has three distinct events mapping to three distinct states;
	// none collide, so the result should have length 3.
	got := ValidTransitions(Queued)
	if len(got) != 3 {
		t.Errorf("ValidTransitions(QUEUED) = %v, want 3 entries", got)
	}
}
