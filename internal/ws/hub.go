package ws

import (
	"sync"
)

// Hub owns the broadcast groups: the in-memory association between a session
// and the connections currently subscribed to it. Groups are not persisted;
// they are rebuilt by clients re-invoking JoinRehearsal after a restart.
//
// A client's group can change over its lifetime (join, leave, session end),
// so subscription is driven by participant lifecycle events from the
// gateway, not by raw connection registration.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool            // every connected client, grouped or not
	groups  map[string]map[*Client]bool // session token -> subscribed clients
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		groups:  make(map[string]map[*Client]bool),
	}
}

// Add registers a freshly-upgraded connection.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

// Remove unregisters a connection and closes its send channel. Safe to call
// more than once; only the first call closes the channel.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		h.removeLocked(c)
		close(c.send)
	}
}

// Subscribe adds the client to a session's broadcast group, leaving any
// previous group first.
func (h *Hub) Subscribe(c *Client, sessionToken string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return
	}
	h.leaveGroupLocked(c)
	if h.groups[sessionToken] == nil {
		h.groups[sessionToken] = make(map[*Client]bool)
	}
	h.groups[sessionToken][c] = true
	c.group = sessionToken
}

// Unsubscribe removes the client from its broadcast group. The connection
// stays registered; leaving a rehearsal does not cost the socket.
func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveGroupLocked(c)
}

// CloseGroup unsubscribes every member of a session's group. Used when a
// session ends; connections remain open.
func (h *Hub) CloseGroup(sessionToken string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.groups[sessionToken] {
		c.group = ""
	}
	delete(h.groups, sessionToken)
}

// SendTo pushes data to a single client, if it is still connected.
func (h *Hub) SendTo(c *Client, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		h.pushLocked(c, data)
	}
}

// BroadcastGroup pushes data to every connection in the session's group.
// Each push is a non-blocking send into the client's buffered channel; a
// subscriber too slow to drain its buffer is dropped rather than allowed to
// stall delivery to the rest of the group.
func (h *Hub) BroadcastGroup(sessionToken string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.groups[sessionToken] {
		h.pushLocked(c, data)
	}
}

// BroadcastOthers pushes data to every connected client except one. Used for
// lobby announcements such as NewSessionAvailable.
func (h *Hub) BroadcastOthers(except *Client, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c != except {
			h.pushLocked(c, data)
		}
	}
}

// GroupSize reports the current number of subscribers for a session.
func (h *Hub) GroupSize(sessionToken string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[sessionToken])
}

func (h *Hub) pushLocked(c *Client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.removeLocked(c)
		close(c.send)
	}
}

func (h *Hub) leaveGroupLocked(c *Client) {
	if c.group == "" {
		return
	}
	if members, ok := h.groups[c.group]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.groups, c.group)
		}
	}
	c.group = ""
}

func (h *Hub) removeLocked(c *Client) {
	h.leaveGroupLocked(c)
	delete(h.clients, c)
}
