// Package presence tracks which users currently have live connections.
// A user is online iff at least one connection handle is registered for them;
// the registry reports the empty<->non-empty edges so callers can emit
// online/offline events exactly once per session.
package presence

import "sync"

// Registry maps a user id to the set of handle ids for their live connections.
// It is goroutine-safe. Entries are created lazily on first registration and
// removed when the last handle for a user is unregistered, so the map never
// holds "offline with zero sockets" entries.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]map[string]struct{} // userID -> set of handle IDs
}

// NewRegistry creates an empty Registry ready for use.
func NewRegistry() *Registry {
	return &Registry{
		handles: make(map[string]map[string]struct{}),
	}
}

// Register records a connection handle for a user and reports whether this
// was the user's first live connection (the offline->online edge).
// Registering a handle that is already registered is a no-op and never
// reports an edge.
func (r *Registry) Register(userID, handleID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.handles[userID]
	if !ok {
		set = make(map[string]struct{})
		r.handles[userID] = set
	}
	if _, dup := set[handleID]; dup {
		return false
	}
	set[handleID] = struct{}{}
	return len(set) == 1
}

// Unregister removes a connection handle for a user and reports whether the
// user became offline (the non-empty->empty edge). Unregistering an unknown
// handle or user is a no-op.
func (r *Registry) Unregister(userID, handleID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.handles[userID]
	if !ok {
		return false
	}
	if _, known := set[handleID]; !known {
		return false
	}
	delete(set, handleID)
	if len(set) == 0 {
		delete(r.handles, userID)
		return true
	}
	return false
}

// IsOnline reports whether the user has at least one registered handle.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles[userID]) > 0
}

// Connections returns the number of handles registered for a user.
func (r *Registry) Connections(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles[userID])
}

// OnlineCount returns the number of distinct online users.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}
