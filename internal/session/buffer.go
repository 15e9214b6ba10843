package session

import (
	"sync"

	"github.com/admitboard/realtime/internal/protocol"
)

// MaxBufferedMessages is the number of recent messages retained per
// conversation for replay on join.
const MaxBufferedMessages = 5

// MessageBuffer keeps the last N delivered messages per conversation in
// memory so a socket joining mid-conversation gets immediate context
// without a database round trip. It is goroutine-safe and uses a ring
// buffer internally.
type MessageBuffer struct {
	mu      sync.RWMutex
	buffers map[string]*ringBuffer // conversationID -> ring buffer
}

// ringBuffer is a fixed-size circular buffer of message payloads.
type ringBuffer struct {
	items []protocol.MessagePayload
	pos   int
	count int
}

// NewMessageBuffer creates a new empty MessageBuffer.
func NewMessageBuffer() *MessageBuffer {
	return &MessageBuffer{
		buffers: make(map[string]*ringBuffer),
	}
}

// Add appends a message to the conversation's ring buffer. If the buffer
// is full, the oldest message is overwritten.
func (mb *MessageBuffer) Add(conversationID string, msg protocol.MessagePayload) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	rb, ok := mb.buffers[conversationID]
	if !ok {
		rb = &ringBuffer{
			items: make([]protocol.MessagePayload, MaxBufferedMessages),
		}
		mb.buffers[conversationID] = rb
	}

	rb.items[rb.pos] = msg
	rb.pos = (rb.pos + 1) % MaxBufferedMessages
	if rb.count < MaxBufferedMessages {
		rb.count++
	}
}

// Get returns the buffered messages for a conversation in chronological
// order (oldest first). Returns an empty slice if nothing is buffered.
func (mb *MessageBuffer) Get(conversationID string) []protocol.MessagePayload {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	rb, ok := mb.buffers[conversationID]
	if !ok {
		return []protocol.MessagePayload{}
	}

	result := make([]protocol.MessagePayload, rb.count)
	// The oldest message is at position (pos - count) mod MaxBufferedMessages.
	start := (rb.pos - rb.count + MaxBufferedMessages) % MaxBufferedMessages
	for i := 0; i < rb.count; i++ {
		result[i] = rb.items[(start+i)%MaxBufferedMessages]
	}
	return result
}

// Remove deletes the buffer for a conversation.
func (mb *MessageBuffer) Remove(conversationID string) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	delete(mb.buffers, conversationID)
}
