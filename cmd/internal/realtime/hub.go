package realtime

import (
	"log/slog"
	"sync"
)

// Hub indexes live connections by user so revocations can reach every
// device of that user.
type Hub struct {
	log *slog.Logger

	mu    sync.RWMutex
	users map[string]map[string]*Client
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:   log,
		users: make(map[string]map[string]*Client),
	}
}

// Attach registers c under its user.
func (h *Hub) Attach(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.users[c.UserID]
	if !ok {
		conns = make(map[string]*Client)
		h.users[c.UserID] = conns
	}
	conns[c.ID] = c
}

// Detach removes c. It is safe to call more than once.
func (h *Hub) Detach(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.users[c.UserID]
	if !ok {
		return
	}
	delete(conns, c.ID)
	if len(conns) == 0 {
		delete(h.users, c.UserID)
	}
}

// Connections returns the number of live connections of userID.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// Publish queues f on every connection of userID and returns how many
// accepted it. Full queues are skipped; a slow client never blocks the
// publisher. A Final frame that cannot be queued closes the client instead,
// so a revoked connection never outlives the revocation.
func (h *Hub) Publish(userID string, f Frame) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.users[userID]))
	for _, c := range h.users[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.offer(f) {
			delivered++
			continue
		}
		if f.Final {
			h.log.Warn("realtime.publish.evicted", "user_id", userID, "conn_id", c.ID, "type", f.Envelope.Type)
			h.Detach(c)
			c.Close()
			continue
		}
		h.log.Warn("realtime.publish.dropped", "user_id", userID, "conn_id", c.ID, "type", f.Envelope.Type)
	}
	return delivered
}
