package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection represents a single authenticated WebSocket client with a
// write mutex serializing outbound frames.
type Connection struct {
	UserID    string    // authenticated user behind this socket
	Conn      net.Conn  // underlying TCP connection
	CreatedAt time.Time // when the connection was established

	id           string
	writeTimeout time.Duration // bounds every outbound frame write
	writeMu      sync.Mutex
	lastSeen     atomic.Int64 // unix nanos of the last frame read
	closed       atomic.Bool
}

// ID returns the connection's unique handle id.
func (c *Connection) ID() string { return c.id }

// User returns the authenticated user id behind this connection.
func (c *Connection) User() string { return c.UserID }

// Send writes a WebSocket text frame. It satisfies room.Handle so the
// router can deliver directly to connections.
func (c *Connection) Send(data []byte) error {
	return c.WriteMessage(data)
}

// WriteMessage sends a WebSocket text frame to this connection. The write
// mutex ensures concurrent goroutines do not interleave frame bytes, and the
// write deadline keeps a stalled client from blocking the caller — broadcast
// loops and the heartbeat share this path, so an unbounded write here would
// stall every room the connection belongs to.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.setWriteDeadline()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a WebSocket protocol-level ping frame (opcode 0x9).
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.setWriteDeadline()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// WritePong answers a client ping, echoing its payload.
func (c *Connection) WritePong(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.setWriteDeadline()
	return ws.WriteFrame(c.Conn, ws.NewPongFrame(payload))
}

// setWriteDeadline arms the deadline for the next frame write. Each write
// re-arms it, so there is no need to clear between writes. Callers must hold
// writeMu.
func (c *Connection) setWriteDeadline() {
	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
}

// Touch records read activity; used for heartbeat staleness checks.
func (c *Connection) Touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen returns the time of the last frame read from this connection.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// Close closes the underlying network connection. Safe to call more
// than once.
func (c *Connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.Conn.Close()
}

// ConnectionManager is a thread-safe registry of active connections
// keyed by connection id.
type ConnectionManager struct {
	mu   sync.RWMutex
	byID map[string]*Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{byID: make(map[string]*Connection)}
}

// Add registers a connection.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.id] = conn
	cm.mu.Unlock()
}

// Remove removes a connection by id and closes the underlying socket.
// Returns false if the connection was already gone, which lets racing
// cleanup paths (read error + heartbeat timeout) settle on one winner.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// Get returns the connection for the given id, or nil if not found.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	conn := cm.byID[id]
	cm.mu.RUnlock()
	return conn
}

// Count returns the current number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// Broadcast sends a message to every connected client. Errors on
// individual connections are ignored; dead sockets are cleaned up when
// their read loop or the heartbeat notices.
func (cm *ConnectionManager) Broadcast(msg []byte) {
	for _, conn := range cm.All() {
		_ = conn.WriteMessage(msg)
	}
}

// All returns a snapshot of all current connections, safe to iterate
// without holding the lock.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
