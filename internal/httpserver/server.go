package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	maxSuspendTime = 5 * time.Second
	reaperInterval = maxSuspendTime / 5
)

// Config carries the HTTP server's bind and routing settings, per
// spec.md §4.8 and §6.
type Config struct {
	Port            int
	Address         string
	Ifname          string
	URLPath         string
	IgnoreURLParams bool
	DisableWebUI    bool
	DisableCtrlAPI  bool
	LogRequests     bool
	WebUIHTML       []byte
}

// StreamStartFunc is called when a client requests /{url-path}/stream.
// It returns an HTTP status; on < 400 the server begins streaming the
// connection's buffer to the client.
type StreamStartFunc func(connID int64, query map[string]string) int

// CtrlInfoFunc builds the JSON payload for /{url-path}/ctrl/info.
type CtrlInfoFunc func() any

// Server is the streaming HTTP server of spec.md §4.8.
type Server struct {
	log *slog.Logger
	cfg Config

	onStreamStart StreamStartFunc
	onCtrlInfo    CtrlInfoFunc
	onDisconnect  func(connID int64)

	httpServer *http.Server
	listener   net.Listener

	connMu sync.Mutex
	conns  map[int64]*Connection
	nextID int64

	shuttingDown atomic.Bool
	reaperDone   chan struct{}
}

// New constructs a Server bound to cfg's address/port/ifname. It does
// not start listening; call ListenAndServe.
func New(log *slog.Logger, cfg Config, onStreamStart StreamStartFunc, onCtrlInfo CtrlInfoFunc, onDisconnect func(int64)) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:           log.With("component", "httpserver"),
		cfg:           cfg,
		onStreamStart: onStreamStart,
		onCtrlInfo:    onCtrlInfo,
		onDisconnect:  onDisconnect,
		conns:         make(map[int64]*Connection),
		reaperDone:    make(chan struct{}),
	}
}

// resolveBindAddress implements spec.md §4.8: if ifname is set, resolve
// its IPv4 (preferred) or IPv6 address; else use the configured address;
// else 0.0.0.0.
func resolveBindAddress(ifname, address string) (string, error) {
	if ifname != "" {
		ifi, err := net.InterfaceByName(ifname)
		if err != nil {
			return "", fmt.Errorf("httpserver: interface %q: %w", ifname, err)
		}
		addrs, err := ifi.Addrs()
		if err != nil {
			return "", fmt.Errorf("httpserver: addrs for %q: %w", ifname, err)
		}
		var ipv6 string
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if ip4 := ipNet.IP.To4(); ip4 != nil {
				return ip4.String(), nil
			}
			if ipv6 == "" {
				ipv6 = ipNet.IP.String()
			}
		}
		if ipv6 != "" {
			return ipv6, nil
		}
		return "", fmt.Errorf("httpserver: interface %q has no usable address", ifname)
	}
	if address != "" {
		return address, nil
	}
	return "0.0.0.0", nil
}

// Listen resolves the configured bind address and opens a TCP listener on
// port, per spec.md §4.8's address/ifname resolution rule. Call Serve with
// the result to begin accepting connections.
func (s *Server) Listen(port int) (net.Listener, error) {
	bindAddr, err := resolveBindAddress(s.cfg.Ifname, s.cfg.Address)
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", bindAddr, port))
	if err != nil {
		return nil, fmt.Errorf("httpserver: listen: %w", err)
	}
	s.listener = ln
	return ln, nil
}

// Serve accepts and handles connections on ln until Shutdown stops the
// underlying http.Server; it also starts the ghost-reaper goroutine.
func (s *Server) Serve(ln net.Listener) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	s.httpServer = &http.Server{Handler: mux}

	go s.runReaper()

	s.log.Info("http server listening", "addr", ln.Addr().String())
	err := s.httpServer.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// ListenAndServe is a convenience wrapper combining Listen and Serve.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	ln, err := s.Listen(port)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if s.cfg.LogRequests {
		s.log.Info("request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
	}

	prefix := "/" + strings.Trim(s.cfg.URLPath, "/")
	path := r.URL.Path

	switch {
	case path == prefix:
		s.handleWebUI(w, r)
	case path == prefix+"/stream":
		s.handleStream(w, r)
	case path == prefix+"/ctrl/info":
		s.handleCtrlInfo(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleWebUI(w http.ResponseWriter, r *http.Request) {
	if s.cfg.DisableWebUI {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write(s.cfg.WebUIHTML)
}

func (s *Server) handleCtrlInfo(w http.ResponseWriter, r *http.Request) {
	if s.cfg.DisableCtrlAPI {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.onCtrlInfo())
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	query := map[string]string{}
	if !s.cfg.IgnoreURLParams {
		for k := range r.URL.Query() {
			query[k] = r.URL.Query().Get(k)
		}
	}

	id := s.newConnectionID()
	conn := newConnection(id, r.RemoteAddr, r.URL.Query())
	s.connMu.Lock()
	s.conns[id] = conn
	s.connMu.Unlock()

	status := s.onStreamStart(id, query)
	if status >= 400 {
		s.removeConn(id)
		http.Error(w, http.StatusText(status), status)
		return
	}

	w.Header().Set("Accept-Ranges", "none")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	notify := r.Context().Done()

	buf := make([]byte, 64*1024)
	for {
		n, suspended, removed := conn.tryRead(buf)
		if removed {
			s.finishConnection(id)
			return
		}
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				s.finishConnection(id)
				return
			}
			if canFlush {
				flusher.Flush()
			}
			continue
		}
		if suspended {
			select {
			case <-notify:
				s.dropConnectionLocked(id)
				s.finishConnection(id)
				return
			case <-conn.resume:
			case <-time.After(200 * time.Millisecond):
			}
		}
	}
}

func (s *Server) finishConnection(id int64) {
	s.connMu.Lock()
	delete(s.conns, id)
	s.connMu.Unlock()
	if s.onDisconnect != nil {
		s.onDisconnect(id)
	}
}

func (s *Server) newConnectionID() int64 {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.nextID++
	return s.nextID
}

// PushData implements spec.md §4.8's pushData: writes bytes into the
// connection's buffer with force semantics and resumes it. Returns
// false if the server is shutting down or the connection is absent.
func (s *Server) PushData(id int64, data []byte) bool {
	if s.shuttingDown.Load() {
		return false
	}
	s.connMu.Lock()
	conn, ok := s.conns[id]
	s.connMu.Unlock()
	if !ok {
		return false
	}
	conn.push(data)
	return true
}

// QueryValue implements spec.md §4.8's queryValue.
func (s *Server) QueryValue(id int64, key string) (string, bool) {
	s.connMu.Lock()
	conn, ok := s.conns[id]
	s.connMu.Unlock()
	if !ok {
		return "", false
	}
	v := conn.Query.Get(key)
	if v == "" && !conn.Query.Has(key) {
		return "", false
	}
	return v, true
}

// DropConnection marks the connection removed; the next read turn
// returns EOF, per spec.md §4.8 and invariant 6.
func (s *Server) DropConnection(id int64) {
	s.dropConnectionLocked(id)
}

func (s *Server) dropConnectionLocked(id int64) {
	s.connMu.Lock()
	conn, ok := s.conns[id]
	s.connMu.Unlock()
	if ok {
		conn.markRemoved()
	}
}

func (s *Server) removeConn(id int64) {
	s.connMu.Lock()
	delete(s.conns, id)
	s.connMu.Unlock()
}

// runReaper implements spec.md §4.8's ghost-reaper: wakes every
// maxSuspendTime/5, marks removed any connection suspended for at
// least maxSuspendTime, per invariant 7.
func (s *Server) runReaper() {
	defer close(s.reaperDone)
	ticker := time.NewTicker(reaperInterval)
	defer ticker.Stop()
	for range ticker.C {
		if s.shuttingDown.Load() {
			return
		}
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
	}
}

// Shutdown sets the global shutdown flag, marks every connection removed
// (which resumes it), and stops the HTTP framework. It does not wait for
// the reaper goroutine; the reaper returns on its next tick after it
// observes the flag.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shuttingDown.Store(true)

	s.connMu.Lock()
	for _, c := range s.conns {
		c.markRemoved()
	}
	s.connMu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
