// Package eventloop serialises the StartServer/StartCaster/StopCaster/
// StopServer transitions of spec.md §4.9 onto a single dispatcher
// goroutine so at most one Caster is ever starting or stopping at a
// time.
package eventloop

import (
	"context"
	"log/slog"

	"github.com/kamkast/kamkast/internal/model"
)

// EventKind enumerates the FIFO queue's event kinds, per spec.md §4.9.
type EventKind int

const (
	EvStartServer EventKind = iota
	EvStopServer
	EvStartCaster
	EvStopCaster
	EvCasterStarted
	EvCasterEnded
)

func (k EventKind) String() string {
	switch k {
	case EvStartServer:
		return "start-server"
	case EvStopServer:
		return "stop-server"
	case EvStartCaster:
		return "start-caster"
	case EvStopCaster:
		return "stop-caster"
	case EvCasterStarted:
		return "caster-started"
	case EvCasterEnded:
		return "caster-ended"
	default:
		return "unknown-event"
	}
}

// Event is one FIFO queue entry. ConnID and Settings are populated for
// StartCaster, and ConnID alone for CasterStarted; the others ignore them.
type Event struct {
	Kind     EventKind
	ConnID   int64
	Settings model.SessionConfig
}

// Handlers is the set of side-effecting callbacks the loop invokes while
// draining events. All fields are required except Notify*, which may be
// left nil.
type Handlers struct {
	// StartServer binds and returns the URLs clients can use to connect.
	StartServer func(ctx context.Context) ([]string, error)
	// StopServer tears down the HTTP server.
	StopServer func()
	// StartCasterFn constructs and starts a Caster bound to connID; it
	// must arrange for EvCasterStarted/EvCasterEnded events to be posted
	// to the loop from the Caster's stateChanged handler.
	StartCasterFn func(ctx context.Context, connID int64, settings model.SessionConfig) error
	// StopCasterFn tears down the active Caster, if any.
	StopCasterFn func()

	NotifyServerStarted func(urls []string)
	NotifyServerEnded   func()
	NotifyCasterStarted func(connID int64)
	NotifyCasterEnded   func()
}

// Loop is the single dispatcher goroutine of spec.md §4.9: events are
// enqueued from any goroutine and handled strictly in FIFO order.
type Loop struct {
	log *slog.Logger
	h   Handlers

	queue chan Event
	done  chan struct{}

	activeCaster bool
	activeConnID int64
}

// New constructs a Loop. Call Run in its own goroutine to start
// draining the queue.
func New(log *slog.Logger, h Handlers) *Loop {
	if log == nil {
		log = slog.Default()
	}
	return &Loop{
		log:   log.With("component", "eventloop"),
		h:     h,
		queue: make(chan Event, 64),
		done:  make(chan struct{}),
	}
}

// Post enqueues an event. It never blocks the caller on loop progress
// beyond the queue's buffer filling.
func (l *Loop) Post(e Event) {
	select {
	case l.queue <- e:
	case <-l.done:
	}
}

// PostStartCaster is a convenience wrapper for the common case of
// enqueueing a StartCaster event from an HTTP request handler.
func (l *Loop) PostStartCaster(connID int64, settings model.SessionConfig) {
	l.Post(Event{Kind: EvStartCaster, ConnID: connID, Settings: settings})
}

// Run drains the queue until ctx is cancelled or a StopServer event has
// been fully handled. It must be called from exactly one goroutine.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(l.done)
			return
		case ev := <-l.queue:
			l.handle(ctx, ev)
			if ev.Kind == EvStopServer {
				close(l.done)
				return
			}
		}
	}
}

func (l *Loop) handle(ctx context.Context, ev Event) {
	l.log.Debug("event", "kind", ev.Kind, "connID", ev.ConnID)
	switch ev.Kind {
	case EvStartServer:
		urls, err := l.h.StartServer(ctx)
		if err != nil {
			l.log.Error("start server failed", "error", err)
			return
		}
		if l.h.NotifyServerStarted != nil {
			l.h.NotifyServerStarted(urls)
		}

	case EvStartCaster:
		l.stopActiveCaster()
		if err := l.h.StartCasterFn(ctx, ev.ConnID, ev.Settings); err != nil {
			l.log.Error("start caster failed", "connID", ev.ConnID, "error", err)
			return
		}
		l.activeCaster = true
		l.activeConnID = ev.ConnID

	case EvStopCaster:
		l.stopActiveCaster()

	case EvCasterStarted:
		if l.h.NotifyCasterStarted != nil {
			l.h.NotifyCasterStarted(ev.ConnID)
		}

	case EvCasterEnded:
		if l.h.NotifyCasterEnded != nil {
			l.h.NotifyCasterEnded()
		}

	case EvStopServer:
		l.stopActiveCaster()
		l.h.StopServer()
		if l.h.NotifyServerEnded != nil {
			l.h.NotifyServerEnded()
		}
	}
}

func (l *Loop) stopActiveCaster() {
	if !l.activeCaster {
		return
	}
	l.h.StopCasterFn()
	if l.h.NotifyCasterEnded != nil {
		l.h.NotifyCasterEnded()
	}
	l.activeCaster = false
	l.activeConnID = 0
}
