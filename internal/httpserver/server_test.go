package httpserver

import (
	"context"
	"net/url"
	"testing"
	"time"
)

func newTestServer() *Server {
	return New(nil, Config{URLPath: "session"}, nil, nil, nil)
}

func TestPushDataReturnsFalseForUnknownConnection(t *testing.T) {
	t.Parallel()
	s := newTestServer()
	if s.PushData(999, []byte("x")) {
		t.Fatalf("expected push to an unknown connection id to fail")
	}
}

func TestPushDataDeliversToTheRightConnection(t *testing.T) {
	t.Parallel()
	s := newTestServer()
	conn := newConnection(1, "127.0.0.1:1", url.Values{})
	s.connMu.Lock()
	s.conns[1] = conn
	s.connMu.Unlock()

	if !s.PushData(1, []byte("frame")) {
		t.Fatalf("expected push to succeed for a known connection")
	}
	n, _, _ := conn.tryRead(make([]byte, 16))
	if n != len("frame") {
		t.Fatalf("expected the connection buffer to contain the pushed bytes")
	}
}

func TestPushDataFailsAfterShutdown(t *testing.T) {
	t.Parallel()
	s := newTestServer()
	conn := newConnection(1, "127.0.0.1:1", url.Values{})
	s.connMu.Lock()
	s.conns[1] = conn
	s.connMu.Unlock()
	s.shuttingDown.Store(true)

	if s.PushData(1, []byte("x")) {
		t.Fatalf("expected push to fail once the server is shutting down")
	}
}

func TestQueryValueReadsConnectionQueryString(t *testing.T) {
	t.Parallel()
	s := newTestServer()
	q := url.Values{"stream-format": {"mp4"}}
	conn := newConnection(1, "127.0.0.1:1", q)
	s.connMu.Lock()
	s.conns[1] = conn
	s.connMu.Unlock()

	v, ok := s.QueryValue(1, "stream-format")
	if !ok || v != "mp4" {
		t.Fatalf("got %q, %v; want mp4, true", v, ok)
	}

	_, ok = s.QueryValue(1, "missing-key")
	if ok {
		t.Fatalf("expected missing-key to be absent")
	}
}

func TestDropConnectionMarksConnectionRemoved(t *testing.T) {
	t.Parallel()
	s := newTestServer()
	conn := newConnection(1, "127.0.0.1:1", url.Values{})
	s.connMu.Lock()
	s.conns[1] = conn
	s.connMu.Unlock()

	s.DropConnection(1)
	if !conn.isRemoved() {
		t.Fatalf("expected DropConnection to mark the connection removed")
	}
}

func TestShutdownResumesAllConnections(t *testing.T) {
	t.Parallel()
	s := newTestServer()
	conn := newConnection(1, "127.0.0.1:1", url.Values{})
	conn.tryRead(make([]byte, 4)) // force it into suspended state
	s.connMu.Lock()
	s.conns[1] = conn
	s.connMu.Unlock()

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
	if !conn.isRemoved() {
		t.Fatalf("expected shutdown to mark every connection removed")
	}
	if !s.shuttingDown.Load() {
		t.Fatalf("expected the shutting-down flag to be set")
	}
}

func TestResolveBindAddressDefaultsToAllInterfaces(t *testing.T) {
	t.Parallel()
	addr, err := resolveBindAddress("", "")
	if err != nil || addr != "0.0.0.0" {
		t.Fatalf("got %q, %v; want 0.0.0.0, nil", addr, err)
	}
}

func TestResolveBindAddressPrefersExplicitAddress(t *testing.T) {
	t.Parallel()
	addr, err := resolveBindAddress("", "192.168.1.5")
	if err != nil || addr != "192.168.1.5" {
		t.Fatalf("got %q, %v; want 192.168.1.5, nil", addr, err)
	}
}

func TestReaperMarksLongSuspendedConnectionsRemoved(t *testing.T) {
	t.Parallel()
	s := newTestServer()
	conn := newConnection(1, "127.0.0.1:1", url.Values{})
	conn.tryRead(make([]byte, 4))
	conn.mu.Lock()
	conn.suspendInstant = time.Now().Add(-2 * maxSuspendTime)
	conn.mu.Unlock()
	s.connMu.Lock()
	s.conns[1] = conn
	s.connMu.Unlock()

	s.connMu.Lock()
	var ghosts []*Connection
	for _, c := range s.conns {
		if c.ghostFor(maxSuspendTime) {
			ghosts = append(ghosts, c)
		}
	}
	s.connMu.Unlock()
	for _, c := range ghosts {
		c.markRemoved()
	}

	if len(ghosts) != 1 {
		t.Fatalf("expected exactly one ghost, got %d", len(ghosts))
	}
	if !conn.isRemoved() {
		t.Fatalf("expected the ghost connection to be marked removed")
	}
}
