package eventloop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kamkast/kamkast/internal/model"
)

type recorder struct {
	mu      sync.Mutex
	started []int64
	stopped int
	ended   int
}

func (r *recorder) record(f func()) { r.mu.Lock(); defer r.mu.Unlock(); f() }

func newRecordingLoop(r *recorder) (*Loop, context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	h := Handlers{
		StartServer: func(ctx context.Context) ([]string, error) { return []string{"http://localhost:1234/s"}, nil },
		StopServer:  func() {},
		StartCasterFn: func(ctx context.Context, connID int64, settings model.SessionConfig) error {
			r.record(func() { r.started = append(r.started, connID) })
			return nil
		},
		StopCasterFn: func() {
			r.record(func() { r.stopped++ })
		},
		NotifyCasterEnded: func() {
			r.record(func() { r.ended++ })
		},
	}
	return New(nil, h), ctx, cancel
}

func TestStartCasterStopsPriorCasterFirst(t *testing.T) {
	t.Parallel()
	r := &recorder{}
	loop, ctx, cancel := newRecordingLoop(r)
	defer cancel()
	go loop.Run(ctx)

	loop.PostStartCaster(1, model.SessionConfig{VideoSourceID: "v1"})
	loop.PostStartCaster(2, model.SessionConfig{VideoSourceID: "v2"})

	waitForCondition(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.started) == 2
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started[0] != 1 || r.started[1] != 2 {
		t.Fatalf("got %v, want [1 2]", r.started)
	}
	if r.stopped != 1 {
		t.Fatalf("expected exactly one StopCasterFn call for the preempted session, got %d", r.stopped)
	}
}

func TestStopCasterIsANoOpWithoutAnActiveCaster(t *testing.T) {
	t.Parallel()
	r := &recorder{}
	loop, ctx, cancel := newRecordingLoop(r)
	defer cancel()
	go loop.Run(ctx)

	loop.Post(Event{Kind: EvStopCaster})

	waitForQueueDrained(loop)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped != 0 {
		t.Fatalf("expected no StopCasterFn call when there is no active caster, got %d", r.stopped)
	}
}

func TestEventsAreHandledInFIFOOrder(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var order []string
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := Handlers{
		StartServer: func(ctx context.Context) ([]string, error) {
			mu.Lock()
			order = append(order, "server")
			mu.Unlock()
			return nil, nil
		},
		StopServer: func() {},
		StartCasterFn: func(ctx context.Context, connID int64, settings model.SessionConfig) error {
			mu.Lock()
			order = append(order, "caster")
			mu.Unlock()
			return nil
		},
		StopCasterFn: func() {},
	}
	loop := New(nil, h)
	go loop.Run(ctx)

	loop.Post(Event{Kind: EvStartServer})
	loop.PostStartCaster(1, model.SessionConfig{})

	waitForCondition(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if order[0] != "server" || order[1] != "caster" {
		t.Fatalf("got %v, want [server caster]", order)
	}
}

func TestStopServerStopsActiveCasterAndEndsTheLoop(t *testing.T) {
	t.Parallel()
	r := &recorder{}
	loop, ctx, cancel := newRecordingLoop(r)
	defer cancel()
	go loop.Run(ctx)

	loop.PostStartCaster(1, model.SessionConfig{})
	waitForCondition(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.started) == 1
	})

	loop.Post(Event{Kind: EvStopServer})

	select {
	case <-loop.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected the loop to terminate after StopServer")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped != 1 {
		t.Fatalf("expected StopServer to tear down the active caster, got %d stops", r.stopped)
	}
}

func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func waitForQueueDrained(l *Loop) {
	for len(l.queue) > 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
}
