package caster

import "testing"

func TestCanTransitionAllowsTheForwardChain(t *testing.T) {
	t.Parallel()
	chain := []State{Initing, Inited, Starting, Started}
	for i := 0; i+1 < len(chain); i++ {
		if !CanTransition(chain[i], chain[i+1]) {
			t.Fatalf("expected %s -> %s to be legal", chain[i], chain[i+1])
		}
	}
}

func TestCanTransitionForbidsSkippingStates(t *testing.T) {
	t.Parallel()
	if CanTransition(Initing, Starting) {
		t.Fatalf("expected Initing -> Starting to be illegal")
	}
	if CanTransition(Inited, Started) {
		t.Fatalf("expected Inited -> Started to be illegal")
	}
}

func TestCanTransitionAllowsTerminatingFromAnyState(t *testing.T) {
	t.Parallel()
	for _, s := range []State{Initing, Inited, Starting, Started} {
		if !CanTransition(s, Terminating) {
			t.Fatalf("expected %s -> Terminating to be legal", s)
		}
	}
}

func TestCanTransitionForbidsLeavingTerminating(t *testing.T) {
	t.Parallel()
	if CanTransition(Terminating, Terminating) {
		t.Fatalf("Terminating -> Terminating should not be a transition")
	}
	if CanTransition(Terminating, Inited) {
		t.Fatalf("expected no transition to be legal out of Terminating")
	}
}

func TestStateStringsAreStable(t *testing.T) {
	t.Parallel()
	cases := map[State]string{
		Initing:     "initing",
		Inited:      "inited",
		Starting:    "starting",
		Started:     "started",
		Terminating: "terminating",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
