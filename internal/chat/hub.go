package chat

import (
	"encoding/json"
	"log"
	"sync"
)

// Hub owns the live websocket clients and the transport groups they belong
// to. It is the process-local implementation of the group-addressed
// broadcast primitive: a group is just a named set of connection ids.
//
// The mutex guards only the maps; no broadcast or I/O happens while it is
// held — payloads go out through each client's buffered send channel.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client             // connection id -> client
	groups  map[string]map[string]struct{} // group name -> connection ids
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		groups:  make(map[string]map[string]struct{}),
	}
}

// Register adds a freshly upgraded client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
}

// Unregister removes the client from the hub and from every group it was
// in, and closes its send channel to stop the write pump. Safe to call
// twice.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	for group, members := range h.groups {
		delete(members, c.id)
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
	close(c.send)
}

// AddConnectionToGroup subscribes a connection to a group's broadcasts.
// Adding a connection that already dropped is a no-op.
func (h *Hub) AddConnectionToGroup(connID, group string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[connID]; !ok {
		return nil
	}
	members, ok := h.groups[group]
	if !ok {
		members = make(map[string]struct{})
		h.groups[group] = members
	}
	members[connID] = struct{}{}
	return nil
}

// RemoveConnectionFromGroup unsubscribes a connection from a group.
func (h *Hub) RemoveConnectionFromGroup(connID, group string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.groups[group]
	if !ok {
		return nil
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.groups, group)
	}
	return nil
}

// BroadcastToGroup sends an event to every connection in the group.
func (h *Hub) BroadcastToGroup(group, event string, payload any) {
	h.broadcast(group, "", event, payload)
}

// BroadcastToGroupExcept sends an event to every connection in the group
// except one, typically the caller who already has the result as a direct
// return value.
func (h *Hub) BroadcastToGroupExcept(group, exceptConnID, event string, payload any) {
	h.broadcast(group, exceptConnID, event, payload)
}

// SendToConnection delivers a pre-encoded frame to one connection: the
// reply half of the RPC surface. Reports false when the connection is gone
// or its buffer is full; the caller decides whether that matters.
func (h *Hub) SendToConnection(connID string, msg []byte) bool {
	h.mu.RLock()
	c := h.clients[connID]
	h.mu.RUnlock()
	if c == nil {
		return false
	}
	return h.trySend(c, msg)
}

func (h *Hub) broadcast(group, exceptConnID, event string, payload any) {
	msg, err := json.Marshal(Event{Event: event, Payload: payload})
	if err != nil {
		log.Printf("hub: marshal %s event: %v", event, err)
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.groups[group]))
	for connID := range h.groups[group] {
		if connID == exceptConnID {
			continue
		}
		if c, ok := h.clients[connID]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	var stalled []*Client
	for _, c := range targets {
		if !h.trySend(c, msg) {
			stalled = append(stalled, c)
		}
	}
	// A full send buffer means the reader is gone or hopelessly behind;
	// drop the client like the write pump would.
	for _, c := range stalled {
		h.Unregister(c)
	}
}

func (h *Hub) trySend(c *Client, msg []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.clients[c.id]; !ok {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// groupSize is used by tests to observe membership.
func (h *Hub) groupSize(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}
