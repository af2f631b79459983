// Package hub fans out per-user document changes to live SSE connections.
package hub

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/couchgate/couchgate/internal/metrics"
)

// Conn is one live server-push connection. A connection belongs to at most
// one username at a time; the tag is set on Register and used for cleanup.
// The handler goroutine (pings) and the change-feed follower (broadcasts)
// both write to the same connection, so writes are serialized by mu.
type Conn struct {
	mu       sync.Mutex
	w        io.Writer
	flush    func()
	username string
}

// NewConn wraps a response writer. flush may be nil when the writer does not
// buffer (tests).
func NewConn(w io.Writer, flush func()) *Conn {
	return &Conn{w: w, flush: flush}
}

// NewResponseConn wraps an http.ResponseWriter, flushing after every frame.
func NewResponseConn(w http.ResponseWriter) *Conn {
	flush := func() {}
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	return &Conn{w: w, flush: flush}
}

// Send writes one SSE data frame to the connection. Safe for concurrent
// use; frames from different goroutines never interleave.
func (c *Conn) Send(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if c.flush != nil {
		c.flush()
	}
	return nil
}

// Stats reports the hub's current registry shape.
type Stats struct {
	Users       int `json:"users"`
	Connections int `json:"connections"`
}

// Hub is the process-wide registry mapping username to its open SSE
// connections. Constructed once at startup and handed to the HTTP layer and
// the change-feed follower; all methods are safe for concurrent use.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]map[*Conn]struct{}
	logger *slog.Logger
}

func New(logger *slog.Logger) *Hub {
	return &Hub{
		conns:  make(map[string]map[*Conn]struct{}),
		logger: logger.With("component", "hub"),
	}
}

// Register adds a connection to the set for username.
func (h *Hub) Register(username string, conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn.username = username
	set, ok := h.conns[username]
	if !ok {
		set = make(map[*Conn]struct{})
		h.conns[username] = set
	}
	set[conn] = struct{}{}
	metrics.SSEConnections.Inc()

	h.logger.Debug("sse connection registered", "username", username, "connections", len(set))
}

// Unregister removes a connection from whatever username it was registered
// under, dropping the set entirely when it empties. Unregistering an
// unknown connection is a no-op.
func (h *Hub) Unregister(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unregisterLocked(conn)
}

func (h *Hub) unregisterLocked(conn *Conn) {
	set, ok := h.conns[conn.username]
	if !ok {
		return
	}
	if _, present := set[conn]; !present {
		return
	}
	delete(set, conn)
	metrics.SSEConnections.Dec()
	if len(set) == 0 {
		delete(h.conns, conn.username)
	}
}

// BroadcastToUser delivers one SSE frame to every connection registered for
// username. A username with no connections is a silent no-op. A failed
// write is logged, the dead connection pruned, and delivery continues to
// the rest.
func (h *Hub) BroadcastToUser(username string, payload any) {
	h.mu.RLock()
	set := h.conns[username]
	targets := make([]*Conn, 0, len(set))
	for c := range set {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	var dead []*Conn
	for _, c := range targets {
		if err := c.Send(payload); err != nil {
			h.logger.Warn("sse write failed, dropping connection", "username", username, "error", err)
			dead = append(dead, c)
			continue
		}
		metrics.SSEEventsTotal.Inc()
	}

	if len(dead) > 0 {
		h.mu.Lock()
		for _, c := range dead {
			h.unregisterLocked(c)
		}
		h.mu.Unlock()
	}
}

// OnlineUsernames lists usernames with at least one live connection.
func (h *Hub) OnlineUsernames() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.conns))
	for name := range h.conns {
		names = append(names, name)
	}
	return names
}

// GetStats returns registry totals.
func (h *Hub) GetStats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, set := range h.conns {
		total += len(set)
	}
	return Stats{Users: len(h.conns), Connections: total}
}
