package caster

import (
	"testing"

	"github.com/kamkast/kamkast/internal/model"
)

func validConfig() model.SessionConfig {
	return model.SessionConfig{
		Format:        model.FormatMP3AudioOnly,
		AudioSourceID: "mic-001",
		AudioVolume:   1.0,
	}
}

func TestNewRejectsAnInvalidSessionConfig(t *testing.T) {
	t.Parallel()
	_, err := New(nil, model.SessionConfig{}, "ffmpeg", nil, nil, nil, nil)
	if err == nil {
		t.Fatalf("expected an error for a session config with neither video nor audio source")
	}
}

func TestNewLeavesTheCasterInited(t *testing.T) {
	t.Parallel()
	var changes []State
	c, err := New(nil, validConfig(), "ffmpeg", nil, nil, nil, func(s State) { changes = append(changes, s) })
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if c.State() != Inited {
		t.Fatalf("got state %s, want inited", c.State())
	}
	if len(changes) != 1 || changes[0] != Inited {
		t.Fatalf("expected exactly one Inited notification, got %v", changes)
	}
}

func TestSetStateSuppressesIllegalTransitions(t *testing.T) {
	t.Parallel()
	var changes []State
	c, err := New(nil, validConfig(), "ffmpeg", nil, nil, nil, func(s State) { changes = append(changes, s) })
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	c.setState(Started) // Inited -> Started skips Starting; must be suppressed
	if c.State() != Inited {
		t.Fatalf("expected the illegal transition to be a no-op, got state %s", c.State())
	}
	if len(changes) != 1 {
		t.Fatalf("expected no additional notification for a suppressed transition, got %v", changes)
	}
}

func TestSetStateFiresExactlyOnceForATerminatingCallFromAnyState(t *testing.T) {
	t.Parallel()
	count := 0
	c, err := New(nil, validConfig(), "ffmpeg", nil, nil, nil, func(s State) {
		if s == Terminating {
			count++
		}
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	c.setState(Terminating)
	c.setState(Terminating) // already terminal; must not re-fire

	if count != 1 {
		t.Fatalf("expected exactly one Terminating notification, got %d", count)
	}
}

func TestStopBeforeStartDoesNotPanic(t *testing.T) {
	t.Parallel()
	c, err := New(nil, validConfig(), "ffmpeg", nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	c.Stop() // cancel is nil until Start; must be a safe no-op plus a Terminating transition
	if c.State() != Terminating {
		t.Fatalf("got state %s, want terminating", c.State())
	}
}
