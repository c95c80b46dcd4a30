// Package responder is a small embedded HTTP responder. The standard
// library server accepts connections and parses requests, but a request is
// only handled when a worker calls Poll: each request is delivered to the
// Handler as an auth event followed by a request event, and the handler's
// verdicts decide the response.
package responder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leonletto/webdemos/internal/identity"
	"github.com/leonletto/webdemos/internal/logging"
)

// Defaults for zero Options fields.
const (
	DefaultQueueSize         = 128
	DefaultMaxContentBytes   = 1 << 20
	DefaultReadHeaderTimeout = 10 * time.Second
)

// ErrServerClosed is returned by Listen and Serve after Destroy.
var ErrServerClosed = errors.New("responder: server closed")

// Record summarizes one completed request.
type Record struct {
	ID       string        `json:"id"`
	Time     time.Time     `json:"time"`
	RemoteIP string        `json:"remote_ip"`
	Method   string        `json:"method"`
	URI      string        `json:"uri"`
	Query    string        `json:"query,omitempty"`
	Status   int           `json:"status"`
	Bytes    int           `json:"bytes"`
	Duration time.Duration `json:"duration_ns"`
}

// Options configures a Server.
type Options struct {
	QueueSize         int
	MaxContentBytes   int64
	ReadHeaderTimeout time.Duration

	// OnComplete is called from the polling worker after every request.
	OnComplete func(Record)

	Logger *slog.Logger
}

// pending is a request waiting in the queue. Whoever wins the claim owns
// the response: a worker, or the HTTP goroutine answering 503 on shutdown.
type pending struct {
	conn    *Conn
	claimed atomic.Bool
	done    chan struct{}
}

func (p *pending) claim() bool {
	return p.claimed.CompareAndSwap(false, true)
}

// Server queues incoming requests until a worker polls them.
type Server struct {
	handler Handler
	opts    Options
	logger  *slog.Logger

	httpServer *http.Server
	mux        *http.ServeMux
	queue      chan *pending

	mu        sync.Mutex
	listeners []net.Listener
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a server that delivers events to handler.
func New(handler Handler, opts Options) *Server {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.MaxContentBytes <= 0 {
		opts.MaxContentBytes = DefaultMaxContentBytes
	}
	if opts.ReadHeaderTimeout <= 0 {
		opts.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	s := &Server{
		handler: handler,
		opts:    opts,
		logger:  logging.ForComponent(opts.Logger, "responder"),
		queue:   make(chan *pending, opts.QueueSize),
		done:    make(chan struct{}),
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("/", s.serveQueued)
	s.httpServer = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
	}
	return s
}

// Handle registers an http.Handler that bypasses the poll queue, such as a
// websocket endpoint. It must be called before Listen or Serve.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Listen binds addr and starts accepting connections in the background.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := s.Serve(ln); err != nil {
		_ = ln.Close()
		return err
	}
	return nil
}

// Serve starts accepting connections from ln in the background. It may be
// called more than once to serve several listeners.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	s.listeners = append(s.listeners, ln)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("serve failed", "addr", ln.Addr().String(), "error", err)
		}
	}()
	return nil
}

// Addrs returns the addresses of all listeners being served.
func (s *Server) Addrs() []net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	addrs := make([]net.Addr, 0, len(s.listeners))
	for _, ln := range s.listeners {
		addrs = append(addrs, ln.Addr())
	}
	return addrs
}

// Poll waits up to timeout for a queued request, then handles it and any
// others already waiting until timeout has passed. It returns the number of
// requests completed. A request that has started is always finished, so a
// slow handler can hold Poll past timeout. Poll is safe for concurrent use
// by multiple workers.
func (s *Server) Poll(timeout time.Duration) int {
	deadline := time.Now().Add(timeout)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	n := 0
	for {
		if s.closing() {
			return n
		}

		var p *pending
		if n > 0 {
			if !time.Now().Before(deadline) {
				return n
			}
			select {
			case p = <-s.queue:
			default:
				return n
			}
		} else {
			select {
			case p = <-s.queue:
			case <-timer.C:
				return n
			case <-s.done:
				return n
			}
		}

		// Destroy may have begun while we waited. Leave p unclaimed so its
		// HTTP goroutine answers 503.
		if s.closing() {
			return n
		}
		n += s.process(p)
	}
}

func (s *Server) closing() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Destroy stops accepting connections, answers queued requests with 503
// and waits for in-flight requests until ctx expires.
func (s *Server) Destroy(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.done) })

	err := s.httpServer.Shutdown(ctx)
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("shutdown responder: %w", err)
	}
	return nil
}

func (s *Server) serveQueued(w http.ResponseWriter, r *http.Request) {
	content, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxContentBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	p := &pending{
		conn: newConn(identity.NewRequestID(), r, content),
		done: make(chan struct{}),
	}

	select {
	case s.queue <- p:
	case <-s.done:
		s.unavailable(w, p)
		return
	case <-r.Context().Done():
		return
	}

	select {
	case <-p.done:
	case <-s.done:
		if p.claim() {
			s.unavailable(w, p)
			return
		}
		<-p.done
	case <-r.Context().Done():
		if p.claim() {
			return
		}
		<-p.done
	}
	p.conn.writeTo(w)
}

func (s *Server) unavailable(w http.ResponseWriter, p *pending) {
	p.conn.fail(http.StatusServiceUnavailable)
	p.conn.writeTo(w)
}

// process runs the handler for one request and reports whether it
// completed. A request abandoned by its client or shutdown is skipped.
func (s *Server) process(p *pending) int {
	if !p.claim() {
		return 0
	}
	defer close(p.done)

	c := p.conn
	start := time.Now()
	s.dispatch(c)

	if s.opts.OnComplete != nil {
		s.opts.OnComplete(Record{
			ID:       c.ID,
			Time:     c.Time,
			RemoteIP: c.RemoteIP,
			Method:   c.Method,
			URI:      c.URI,
			Query:    c.Query,
			Status:   c.statusCode(),
			Bytes:    c.body.Len(),
			Duration: time.Since(start),
		})
	}
	return 1
}

func (s *Server) dispatch(c *Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panic", "id", c.ID, "uri", c.URI, "panic", r)
			c.fail(http.StatusInternalServerError)
		}
	}()

	if v := s.handler(c, EventAuth); v != True {
		s.logger.Debug("auth refused", "id", c.ID, "remote_ip", c.RemoteIP, "verdict", v)
		c.fail(http.StatusUnauthorized)
		return
	}

	switch v := s.handler(c, EventRequest); v {
	case True:
	case Reject:
		c.fail(http.StatusForbidden)
	default:
		c.fail(http.StatusNotFound)
	}
}
