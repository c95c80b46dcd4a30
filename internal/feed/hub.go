// Package feed streams completed requests to websocket subscribers as
// JSON, one message per request.
package feed

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/leonletto/webdemos/internal/logging"
	"github.com/leonletto/webdemos/internal/responder"
)

// Hub tracks subscribers and fans records out to them.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			// The feed is read-only, any page may watch it
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:  logging.ForComponent(logger, "feed"),
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and subscribes the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Hold the read lock across the closed check and wg.Add so Close cannot
	// start waiting in between.
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	h.wg.Add(1)
	h.mu.RUnlock()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.wg.Done()
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	go h.handleConnection(newClient(conn))
}

func (h *Hub) handleConnection(c *client) {
	defer h.wg.Done()
	defer func() { _ = c.conn.Close() }()

	if !h.add(c) {
		return
	}
	defer h.remove(c)

	readDone := make(chan error, 1)
	writeDone := make(chan error, 1)
	go func() { readDone <- c.readLoop() }()
	go func() { writeDone <- c.writeLoop() }()

	var err error
	select {
	case err = <-readDone:
		c.close()
		<-writeDone
	case err = <-writeDone:
		// Unblock the reader
		c.close()
		_ = c.conn.Close()
		<-readDone
	}
	if err != nil {
		h.logger.Debug("subscriber disconnected", "error", err)
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish sends rec to every subscriber. Subscribers that cannot keep up
// are disconnected.
func (h *Hub) Publish(rec responder.Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		h.logger.Error("marshal record", "id", rec.ID, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if err := c.enqueue(data); err != nil {
			c.close()
		}
	}
}

// Close disconnects all subscribers and waits for their goroutines.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		c.close()
	}
	h.mu.Unlock()

	h.wg.Wait()
	return nil
}
