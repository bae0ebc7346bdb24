package matchfsm

import "testing"

func TestValidateHappyPath(t *testing.T) {
	steps := []struct{ from, to State }{
		{Created, Started},
		{Started, Completed},
		{Completed, Disputed},
		{Disputed, Finalized},
	}
	for _, step := range steps {
		if err := Validate(step.from, step.to); err != nil {
			t.Fatalf("expected %s -> %s to be legal, got %v", step.from, step.to, err)
		}
	}
}

func TestValidateCompletedToFinalizedDirect(t *testing.T) {
	if err := Validate(Completed, Finalized); err != nil {
		t.Fatalf("expected Completed -> Finalized to be legal, got %v", err)
	}
}

func TestValidateSelfLoopAlwaysAllowed(t *testing.T) {
	for _, s := range []State{Created, Started, Completed, Disputed, Finalized} {
		if err := Validate(s, s); err != nil {
			t.Fatalf("expected self-loop on %s to be legal, got %v", s, err)
		}
	}
}

func TestValidateRejectsInvalidTransitions(t *testing.T) {
	cases := []struct{ from, to State }{
		{Created, Completed},
		{Created, Finalized},
		{Started, Disputed},
		{Finalized, Created},
		{Finalized, Started},
		{Disputed, Started},
	}
	for _, c := range cases {
		if err := Validate(c.from, c.to); err == nil {
			t.Fatalf("expected %s -> %s to be rejected", c.from, c.to)
		}
	}
}

func TestIsSuccessorForwardOnly(t *testing.T) {
	if !IsSuccessor(Created, Started) {
		t.Fatal("Started should be reachable from Created")
	}
	if !IsSuccessor(Created, Finalized) {
		t.Fatal("Finalized should be reachable from Created")
	}
	if IsSuccessor(Finalized, Created) {
		t.Fatal("Created should not be reachable from Finalized")
	}
	if IsSuccessor(Started, Created) {
		t.Fatal("reconciliation must never treat a predecessor as a successor")
	}
}
