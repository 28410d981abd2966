package ws

import (
	"sync"
)

// Hub tracks the live session connections of this instance, keyed by user.
type Hub struct {
	users map[string]map[*Client]ConnInfo
	mu    sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{users: make(map[string]map[*Client]ConnInfo)}
}

// Add registers a connection of uid.
func (h *Hub) Add(uid string, client *Client, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.users[uid]; !ok {
		h.users[uid] = make(map[*Client]ConnInfo)
	}
	h.users[uid][client] = info
}

// Remove drops a connection of uid.
func (h *Hub) Remove(uid string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.users[uid]; ok {
		delete(conns, client)
		if len(conns) == 0 {
			delete(h.users, uid)
		}
	}
}

// Count returns the number of connections uid has on this instance.
func (h *Hub) Count(uid string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[uid])
}

// Info returns the connection info of every live connection of uid.
func (h *Hub) Info(uid string) []ConnInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]ConnInfo, 0, len(h.users[uid]))
	for _, info := range h.users[uid] {
		out = append(out, info)
	}
	return out
}

// CloseAll asks every connection to close. Hijacked connections are not closed by the HTTP
// server's shutdown, so this runs before it.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var clients []*Client
	for _, conns := range h.users {
		for c := range conns {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Close()
	}
}
