package ws

import (
	"encoding/json"
	"log/slog"
	"parlor/internal/metrics"
	"slices"
	"sync"
)

// Hub is the set of sockets attached to one party, in connection order.
type Hub struct {
	kind  string
	conns []*Connection

	mu sync.RWMutex
}

func NewHub(kind string) *Hub {
	return &Hub{kind: kind}
}

func (h *Hub) Add(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if slices.Contains(h.conns, c) {
		return
	}
	h.conns = append(h.conns, c)
	metrics.ConnectedSockets.WithLabelValues(h.kind).Inc()
}

// Remove reports whether c was registered.
func (h *Hub) Remove(c *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	i := slices.Index(h.conns, c)
	if i < 0 {
		return false
	}
	h.conns = slices.Delete(h.conns, i, i+1)
	metrics.ConnectedSockets.WithLabelValues(h.kind).Dec()
	return true
}

// Connections returns a snapshot.
func (h *Hub) Connections() []*Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.conns)
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Broadcast sends data to every socket except the ids listed in without.
func (h *Hub) Broadcast(data []byte, without ...string) {
	for _, c := range h.Connections() {
		if slices.Contains(without, c.ID()) {
			continue
		}
		c.Send(data)
	}
}

func (h *Hub) BroadcastJSON(v any, without ...string) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode broadcast", "kind", h.kind, "error", err)
		return
	}
	h.Broadcast(data, without...)
}

// CloseAll closes every socket after its queued frames are written.
func (h *Hub) CloseAll() {
	for _, c := range h.Connections() {
		c.Close()
	}
}
