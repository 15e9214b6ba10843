package session

import (
	"log"

	"github.com/admitboard/realtime/internal/messaging"
	"github.com/admitboard/realtime/internal/protocol"
	"github.com/admitboard/realtime/internal/room"
)

// Fanout delivers events locally through the room router and mirrors them
// to peer gateway instances over the message bus. A nil bus degrades to
// single-instance delivery.
type Fanout struct {
	router   *room.Router
	localAll func(data []byte) // delivers to every local connection
	bus      *messaging.Bus
}

// NewFanout creates a fanout over the given router and optional bus.
// localAll is used for global events (user_online, user_offline) that are
// not scoped to a room.
func NewFanout(router *room.Router, localAll func(data []byte), bus *messaging.Bus) *Fanout {
	return &Fanout{router: router, localAll: localAll, bus: bus}
}

// Start wires the bus subscriptions that deliver events published by peer
// instances to local connections. No-op without a bus.
func (f *Fanout) Start() error {
	if f.bus == nil {
		return nil
	}
	if err := f.bus.SubscribeRooms(func(roomID, exclude string, data []byte) {
		f.router.BroadcastRaw(roomID, data, exclude)
	}); err != nil {
		return err
	}
	return f.bus.SubscribeGlobal(func(data []byte) {
		f.localAll(data)
	})
}

// Room delivers an event to every member of a room, here and on peer
// instances, skipping the excluded handle.
func (f *Fanout) Room(roomID, excludeHandleID, event string, payload interface{}) {
	data, err := protocol.NewServerMessage(event, payload)
	if err != nil {
		log.Printf("fanout: encode %s: %v", event, err)
		return
	}
	f.router.BroadcastRaw(roomID, data, excludeHandleID)
	if f.bus != nil {
		if err := f.bus.PublishRoom(roomID, excludeHandleID, data); err != nil {
			log.Printf("fanout: publish room=%s: %v", roomID, err)
		}
	}
}

// Global delivers an event to every connection on every instance.
func (f *Fanout) Global(event string, payload interface{}) {
	data, err := protocol.NewServerMessage(event, payload)
	if err != nil {
		log.Printf("fanout: encode %s: %v", event, err)
		return
	}
	f.localAll(data)
	if f.bus != nil {
		if err := f.bus.PublishGlobal(data); err != nil {
			log.Printf("fanout: publish global: %v", err)
		}
	}
}
