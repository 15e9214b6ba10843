// Package room maintains named broadcast groups of live connections and fans
// events out to their members. Two room classes exist: user:<id> rooms hold
// every socket owned by one user, conversation:<id> rooms hold the sockets of
// participants who joined. Rooms are created lazily and garbage-collected when
// their last member leaves.
package room

import (
	"log"
	"sync"

	"github.com/admitboard/realtime/internal/protocol"
)

// UserRoom returns the room id for a user's personal room.
func UserRoom(userID string) string { return "user:" + userID }

// ConversationRoom returns the room id for a conversation's room.
func ConversationRoom(conversationID string) string { return "conversation:" + conversationID }

// Handle is the narrow view of a live connection the router needs. Send must
// not block indefinitely; the transport bounds every write with a deadline,
// so a slow consumer fails its write instead of stalling the broadcast loop.
type Handle interface {
	ID() string
	Send(data []byte) error
}

// Router is a goroutine-safe registry of room memberships.
type Router struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]Handle // roomID -> handleID -> handle
	byConn  map[string]map[string]bool   // handleID -> set of roomIDs
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{
		rooms:  make(map[string]map[string]Handle),
		byConn: make(map[string]map[string]bool),
	}
}

// Join adds a handle to a room. Joining a room twice is a no-op.
func (r *Router) Join(roomID string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]Handle)
		r.rooms[roomID] = members
	}
	members[h.ID()] = h

	joined, ok := r.byConn[h.ID()]
	if !ok {
		joined = make(map[string]bool)
		r.byConn[h.ID()] = joined
	}
	joined[roomID] = true
}

// Leave removes a handle from a room. The room is deleted when it empties.
func (r *Router) Leave(roomID, handleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(roomID, handleID)
}

// LeaveAll removes a handle from every room it belongs to. Called by the
// gateway on disconnect.
func (r *Router) LeaveAll(handleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for roomID := range r.byConn[handleID] {
		r.leaveLocked(roomID, handleID)
	}
}

func (r *Router) leaveLocked(roomID, handleID string) {
	if members, ok := r.rooms[roomID]; ok {
		delete(members, handleID)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
	if joined, ok := r.byConn[handleID]; ok {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(r.byConn, handleID)
		}
	}
}

// Contains reports whether the handle is currently a member of the room.
func (r *Router) Contains(roomID, handleID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID][handleID]
	return ok
}

// MemberCount returns the number of handles in a room.
func (r *Router) MemberCount(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// Broadcast encodes the event and delivers it to every handle that is a
// member of the room at call time. Send errors on individual handles are
// logged and otherwise ignored; a dead connection is reaped by the transport
// heartbeat, not by the router.
func (r *Router) Broadcast(roomID, event string, payload interface{}) {
	r.broadcast(roomID, event, payload, "")
}

// BroadcastExcept behaves like Broadcast but skips the given handle, so a
// sender does not receive its own typing or read-state events.
func (r *Router) BroadcastExcept(roomID, excludeHandleID, event string, payload interface{}) {
	r.broadcast(roomID, event, payload, excludeHandleID)
}

// SendToUser delivers an event to every socket in the user's personal room.
func (r *Router) SendToUser(userID, event string, payload interface{}) {
	r.broadcast(UserRoom(userID), event, payload, "")
}

func (r *Router) broadcast(roomID, event string, payload interface{}, exclude string) {
	data, err := protocol.NewServerMessage(event, payload)
	if err != nil {
		log.Printf("[room] failed to encode %s for %s: %v", event, roomID, err)
		return
	}
	r.BroadcastRaw(roomID, data, exclude)
}

// BroadcastRaw delivers pre-encoded bytes to the room, skipping the excluded
// handle id if non-empty. It snapshots the member list under the read lock so
// writes happen without holding it; handles that join mid-broadcast are not
// guaranteed delivery.
func (r *Router) BroadcastRaw(roomID string, data []byte, exclude string) {
	r.mu.RLock()
	members := make([]Handle, 0, len(r.rooms[roomID]))
	for id, h := range r.rooms[roomID] {
		if id == exclude {
			continue
		}
		members = append(members, h)
	}
	r.mu.RUnlock()

	for _, h := range members {
		if err := h.Send(data); err != nil {
			log.Printf("[room] send to %s in %s failed: %v", h.ID(), roomID, err)
		}
	}
}
