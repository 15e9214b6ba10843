// Package messaging provides the NATS fanout bus that carries room and
// global broadcasts between gateway instances. Each instance delivers events
// to its local sockets directly and publishes the same envelope here; other
// instances pick it up and deliver to their own local room members. Envelopes
// are tagged with the originating instance so the publisher skips its own.
package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subjects used by the gateway.
const (
	// SubjectRoomPrefix carries room-scoped events: room.<roomID>.
	SubjectRoomPrefix = "room."

	// SubjectGlobal carries events for every connection on every instance
	// (userOnline/userOffline).
	SubjectGlobal = "broadcast.global"
)

// Envelope is the payload published for every fanned-out event.
type Envelope struct {
	Origin  string          `json:"origin"`            // publishing instance name
	Room    string          `json:"room,omitempty"`    // empty for global broadcasts
	Exclude string          `json:"exclude,omitempty"` // handle id excluded on every instance
	Data    json.RawMessage `json:"data"`              // pre-encoded server message
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client/instance name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "gateway",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// Bus wraps the NATS connection with room/global fanout helpers.
type Bus struct {
	conn *nats.Conn
	name string
	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewBus connects to NATS with the given config and returns a ready bus.
// It returns an error if the initial connection fails.
func NewBus(config Config) (*Bus, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &Bus{conn: nc, name: config.Name}, nil
}

// Name returns the instance name this bus stamps on outgoing envelopes.
func (b *Bus) Name() string { return b.name }

// PublishRoom fans a room-scoped event out to the other instances.
func (b *Bus) PublishRoom(roomID, excludeHandleID string, data []byte) error {
	return b.publish(SubjectRoomPrefix+roomID, Envelope{
		Origin:  b.name,
		Room:    roomID,
		Exclude: excludeHandleID,
		Data:    data,
	})
}

// PublishGlobal fans a gateway-wide event out to the other instances.
func (b *Bus) PublishGlobal(data []byte) error {
	return b.publish(SubjectGlobal, Envelope{Origin: b.name, Data: data})
}

func (b *Bus) publish(subject string, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("nats: marshal envelope: %w", err)
	}
	return b.conn.Publish(subject, payload)
}

// SubscribeRooms registers a handler for every room subject. Envelopes
// published by this instance are dropped: the publisher already delivered
// them locally.
func (b *Bus) SubscribeRooms(handler func(roomID, excludeHandleID string, data []byte)) error {
	return b.subscribe(SubjectRoomPrefix+">", func(msg *nats.Msg) {
		env, ok := b.decode(msg)
		if !ok || env.Origin == b.name {
			return
		}
		// The room id comes from the envelope, not the subject, so wildcard
		// token rules never truncate ids containing dots.
		handler(env.Room, env.Exclude, env.Data)
	})
}

// SubscribeGlobal registers a handler for gateway-wide events from other
// instances.
func (b *Bus) SubscribeGlobal(handler func(data []byte)) error {
	return b.subscribe(SubjectGlobal, func(msg *nats.Msg) {
		env, ok := b.decode(msg)
		if !ok || env.Origin == b.name {
			return
		}
		handler(env.Data)
	})
}

func (b *Bus) decode(msg *nats.Msg) (Envelope, bool) {
	var env Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		subject := msg.Subject
		if i := strings.Index(subject, "."); i >= 0 {
			subject = subject[:i] + ".*"
		}
		log.Printf("[nats] bad envelope on %s: %v", subject, err)
		return Envelope{}, false
	}
	return env, true
}

func (b *Bus) subscribe(subject string, handler nats.MsgHandler) error {
	sub, err := b.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", sub.Subject, err)
		}
	}
	b.subs = nil

	if err := b.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] bus closed")
}
