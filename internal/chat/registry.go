package chat

import "sync"

// ConnectionRegistry maps a user id to the set of live websocket
// connections it currently owns (one user may have several tabs or devices
// open). Absence of a key means the user is offline; a key never maps to an
// empty set.
//
// All operations run under one exclusive critical section and never block
// on I/O. Reads return copies so callers cannot observe or mutate internal
// state.
type ConnectionRegistry struct {
	mu    sync.Mutex
	conns map[int]map[string]struct{}
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{conns: make(map[int]map[string]struct{})}
}

// AddConnection records connID as belonging to userID, creating the set on
// the user's first connection. Idempotent.
func (r *ConnectionRegistry) AddConnection(userID int, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		r.conns[userID] = set
	}
	set[connID] = struct{}{}
}

// RemoveConnection drops connID from userID's set. When the set becomes
// empty the user entry is removed entirely. No-op for unknown pairs.
func (r *ConnectionRegistry) RemoveConnection(userID int, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[userID]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.conns, userID)
	}
}

// Connections returns a copy of the user's live connection ids.
func (r *ConnectionRegistry) Connections(userID int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.conns[userID]
	out := make([]string, 0, len(set))
	for connID := range set {
		out = append(out, connID)
	}
	return out
}

// ConnectionCount returns how many live connections the user has.
func (r *ConnectionRegistry) ConnectionCount(userID int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns[userID])
}

// OnlineUserIDs returns a snapshot of all users with at least one live
// connection.
func (r *ConnectionRegistry) OnlineUserIDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]int, 0, len(r.conns))
	for userID := range r.conns {
		out = append(out, userID)
	}
	return out
}

// IsOnline reports whether the user has at least one live connection.
func (r *ConnectionRegistry) IsOnline(userID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[userID]
	return ok
}
