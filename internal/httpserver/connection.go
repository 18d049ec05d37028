// Package httpserver implements the long-lived streaming HTTP server:
// per-connection ring buffers, suspend/resume based on buffer fullness,
// and ghost-connection reaping, per spec.md §4.8.
package httpserver

import (
	"net/url"
	"sync"
	"time"

	"github.com/kamkast/kamkast/internal/databuffer"
)

// connInitialCapacity and connHardMax are the per-connection DataBuffer
// sizing rule from spec.md §4.8.
const (
	connInitialCapacity = 16 << 20
	connHardMax         = 160 << 20
)

// Connection tracks one streaming HTTP response, per spec.md §3.
type Connection struct {
	ID         int64
	RemoteAddr string
	Query      url.Values

	mu             sync.Mutex
	buf            *databuffer.DataBuffer
	suspended      bool
	suspendInstant time.Time
	removed        bool
	resume         chan struct{}
}

func newConnection(id int64, remoteAddr string, query url.Values) *Connection {
	return &Connection{
		ID:         id,
		RemoteAddr: remoteAddr,
		Query:      query,
		buf:        databuffer.New(connInitialCapacity, connHardMax),
		suspended:  true,
		resume:     make(chan struct{}, 1),
	}
}

// push writes bytes with force semantics and resumes the connection, per
// spec.md §4.8's pushData contract.
func (c *Connection) push(data []byte) {
	c.mu.Lock()
	c.buf.PushExactForce(data)
	wasSuspended := c.suspended
	c.suspended = false
	c.mu.Unlock()

	if wasSuspended {
		c.wake()
	}
}

func (c *Connection) wake() {
	select {
	case c.resume <- struct{}{}:
	default:
	}
}

// tryRead is the non-blocking content-reader callback: it acquires the
// lock with sync.Mutex.TryLock, returning zero bytes if the lock is held,
// and pulls at most len(dst) bytes. If the buffer is empty it suspends
// the connection.
func (c *Connection) tryRead(dst []byte) (n int, suspended bool, removed bool) {
	if !c.mu.TryLock() {
		return 0, false, false
	}
	defer c.mu.Unlock()

	if c.removed {
		return 0, false, true
	}
	if c.buf.Size() == 0 {
		c.suspended = true
		c.suspendInstant = time.Now()
		return 0, true, false
	}
	n = c.buf.Pull(dst, len(dst))
	return n, false, false
}

// markRemoved sets the sticky removed flag and resumes the connection so
// its reader observes EOF, per spec.md §4.8's dropConnection contract.
func (c *Connection) markRemoved() {
	c.mu.Lock()
	alreadyRemoved := c.removed
	c.removed = true
	c.suspended = false
	c.mu.Unlock()
	if !alreadyRemoved {
		c.wake()
	}
}

func (c *Connection) isRemoved() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removed
}

// ghostFor reports whether the connection has been suspended for at
// least the given threshold.
func (c *Connection) ghostFor(threshold time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.suspended || c.removed {
		return false
	}
	return !c.suspendInstant.IsZero() && time.Since(c.suspendInstant) >= threshold
}
