// Package ws handles WebSocket connection management: authenticating and
// upgrading HTTP requests, maintaining active client connections, and
// feeding incoming frames to the gateway layer.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/admitboard/realtime/internal/metrics"
)

// ErrForbidden is returned by an AuthFunc when the user is known but not
// allowed to connect (e.g. banned). The server answers 403 instead of 401.
var ErrForbidden = errors.New("ws: forbidden")

// AuthFunc authenticates an upgrade request before the WebSocket
// handshake and returns the user id behind it.
type AuthFunc func(ctx context.Context, r *http.Request) (string, error)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr        string        // address to listen on, e.g. ":8080"
	MaxConnections    int           // hard cap on total connections
	WriteTimeout      time.Duration // timeout for WebSocket write operations
	HeartbeatInterval time.Duration // how often to ping clients
	HeartbeatTimeout  time.Duration // grace period after a ping before eviction
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:        ":8080",
		MaxConnections:    100000,
		WriteTimeout:      10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  10 * time.Second,
	}
}

// Server is the WebSocket gateway transport built on gobwas/ws. Each
// accepted connection gets a dedicated read goroutine so frames from one
// client are always processed in arrival order.
type Server struct {
	config       ServerConfig
	conns        *ConnectionManager
	auth         AuthFunc
	onConnect    func(conn *Connection)
	onMessage    func(conn *Connection, data []byte)
	onDisconnect func(conn *Connection)
	httpServer   *http.Server
	done         chan struct{}
	startedAt    time.Time
}

// NewServer creates a Server with the given configuration and
// authentication function.
func NewServer(config ServerConfig, auth AuthFunc) *Server {
	return &Server{
		config: config,
		conns:  NewConnectionManager(),
		auth:   auth,
		done:   make(chan struct{}),
	}
}

// SetOnConnect registers a callback invoked after a connection is
// authenticated, upgraded, and registered.
func (s *Server) SetOnConnect(fn func(conn *Connection)) { s.onConnect = fn }

// SetOnMessage registers the handler for inbound text frames. It is
// called from the connection's read goroutine, so frames from a single
// client arrive strictly in order.
func (s *Server) SetOnMessage(fn func(conn *Connection, data []byte)) { s.onMessage = fn }

// SetOnDisconnect registers a callback invoked once per connection when
// it is removed, for any reason.
func (s *Server) SetOnDisconnect(fn func(conn *Connection)) { s.onDisconnect = fn }

// Start configures the HTTP server, begins accepting WebSocket
// connections, and blocks until the listener stops.
func (s *Server) Start() error {
	s.startedAt = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: mux,
	}

	s.startHeartbeat()

	log.Printf("ws: server listening on %s (max_conns=%d)",
		s.config.ListenAddr, s.config.MaxConnections)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// handleUpgrade authenticates the request, upgrades it to a WebSocket
// connection, and spawns the per-connection read loop. Authentication
// happens before the handshake so rejected clients get a plain HTTP
// status instead of a close frame.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	userID, err := s.auth(r.Context(), r)
	if err != nil {
		if errors.Is(err, ErrForbidden) {
			http.Error(w, "forbidden", http.StatusForbidden)
		} else {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		}
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed for user %s: %v", userID, err)
		return
	}

	c := &Connection{
		UserID:       userID,
		Conn:         conn,
		CreatedAt:    time.Now(),
		id:           uuid.New().String(),
		writeTimeout: s.config.WriteTimeout,
	}
	c.Touch()

	s.conns.Add(c)
	metrics.ConnectionsTotal.Set(float64(s.conns.Count()))

	if s.onConnect != nil {
		s.onConnect(c)
	}

	log.Printf("ws: new connection conn=%s user=%s (total=%d)", c.id, userID, s.conns.Count())

	go s.readLoop(c)
}

// handleHealth responds with the server's health status as JSON,
// including the current connection count and uptime.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// readLoop reads frames from a single connection until it dies. Running
// one loop per connection keeps message handling for a client strictly
// sequential; cross-client work still runs concurrently.
func (s *Server) readLoop(c *Connection) {
	defer s.RemoveConnection(c)

	// The deadline covers one heartbeat round trip. Any frame, including
	// the client's automatic pong, pushes it forward.
	deadline := s.config.HeartbeatInterval + s.config.HeartbeatTimeout

	for {
		select {
		case <-s.done:
			return
		default:
		}

		if deadline > 0 {
			_ = c.Conn.SetReadDeadline(time.Now().Add(deadline))
		}

		header, reader, err := wsutil.NextReader(c.Conn, ws.StateServerSide)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				log.Printf("ws: read deadline expired conn=%s user=%s", c.id, c.UserID)
			}
			return
		}

		c.Touch()

		if header.OpCode.IsControl() {
			payload, err := io.ReadAll(reader)
			if err != nil {
				return
			}
			switch header.OpCode {
			case ws.OpClose:
				return
			case ws.OpPing:
				if err := c.WritePong(payload); err != nil {
					return
				}
			}
			// Pong: liveness already recorded.
			continue
		}

		data := make([]byte, header.Length)
		if header.Length > 0 {
			if _, err := io.ReadFull(reader, data); err != nil {
				return
			}
		}
		if len(data) == 0 {
			continue
		}

		if s.onMessage != nil {
			s.onMessage(c, data)
		}
	}
}

// startHeartbeat launches the background pinger that keeps idle
// connections alive and evicts the ones that stopped answering.
func (s *Server) startHeartbeat() {
	go func() {
		ticker := time.NewTicker(s.config.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.pingConnections()
			}
		}
	}()
}

// pingConnections sends a protocol-level ping to every connection and
// evicts the ones whose last read is older than a full heartbeat round.
func (s *Server) pingConnections() {
	stale := s.config.HeartbeatInterval + s.config.HeartbeatTimeout
	now := time.Now()

	for _, c := range s.conns.All() {
		if now.Sub(c.LastSeen()) > stale {
			log.Printf("ws: heartbeat timeout conn=%s user=%s last_activity=%s ago",
				c.ID(), c.UserID, now.Sub(c.LastSeen()).Round(time.Second))
			s.RemoveConnection(c)
			continue
		}

		if err := c.WritePing(); err != nil {
			log.Printf("ws: heartbeat ping failed conn=%s: %v", c.ID(), err)
			s.RemoveConnection(c)
		}
	}
}

// RemoveConnection removes a connection from the manager and closes the
// socket. Exactly one caller wins when the read loop and the heartbeat
// race to clean up the same connection.
func (s *Server) RemoveConnection(c *Connection) {
	if !s.conns.Remove(c.ID()) {
		return
	}
	metrics.ConnectionsTotal.Set(float64(s.conns.Count()))

	if s.onDisconnect != nil {
		s.onDisconnect(c)
	}

	log.Printf("ws: connection closed conn=%s user=%s (total=%d)", c.ID(), c.UserID, s.conns.Count())
}

// Connections exposes the connection manager to the gateway layer.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown gracefully stops the server: it stops the HTTP listener,
// signals the read loops and heartbeat to exit, and closes all
// connections.
func (s *Server) Shutdown() error {
	log.Println("ws: shutting down server...")

	close(s.done)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("ws: http shutdown error: %v", err)
	}

	for _, c := range s.conns.All() {
		s.RemoveConnection(c)
	}

	log.Printf("ws: server stopped, all connections closed")
	return nil
}
