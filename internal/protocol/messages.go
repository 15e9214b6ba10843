// Package protocol defines the WebSocket message types and structures used for
// communication between the client and the realtime gateway. All messages are
// serialized as JSON and follow a consistent envelope format with a type
// discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeSendMessage      = "send_message"
	TypeJoinConversation = "join_conversation"
	TypeMarkRead         = "mark_read"
	TypeTyping           = "typing"
	TypePing             = "ping"
)

// Server -> Client message types.
const (
	TypeConnected    = "connected"
	TypeAck          = "ack"
	TypeNewMessage   = "new_message"
	TypeMessagesRead = "messages_read"
	TypeUserTyping   = "user_typing"
	TypeUserOnline   = "user_online"
	TypeUserOffline  = "user_offline"
	TypeNotification = "notification"
	TypeRateLimited  = "rate_limited"
	TypeError        = "error"
	TypePong         = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// SendMessageMsg is sent by the client to post a message into a conversation.
type SendMessageMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

// JoinConversationMsg is sent by the client to join the broadcast room of a
// conversation it participates in.
type JoinConversationMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// MarkReadMsg is sent by the client to mark a conversation as read up to now.
type MarkReadMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// TypingMsg indicates whether the client is currently typing in a conversation.
type TypingMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ConnectedMsg acknowledges a fully admitted connection.
type ConnectedMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// AckMsg is the per-call reply for client events that can fail without
// terminating the connection. Op echoes the client message type that is
// being acknowledged.
type AckMsg struct {
	Type    string `json:"type"`
	Op      string `json:"op"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// MessagePayload is the persisted message carried inside NewMessageMsg.
type MessagePayload struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Content        string `json:"content"`
	CreatedAt      int64  `json:"created_at"`
}

// NewMessageMsg delivers a freshly persisted message to a conversation room.
type NewMessageMsg struct {
	Type           string         `json:"type"`
	ConversationID string         `json:"conversation_id"`
	Message        MessagePayload `json:"message"`
}

// MessagesReadMsg tells a conversation room that a participant read it.
type MessagesReadMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	ReadAt         int64  `json:"read_at"`
}

// UserTypingMsg relays a participant's typing indicator to the room.
type UserTypingMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
}

// UserOnlineMsg is broadcast globally when a user's first socket connects.
type UserOnlineMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// UserOfflineMsg is broadcast globally when a user's last socket disconnects.
type UserOfflineMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// NotificationMsg pushes a stored notification to an online recipient.
type NotificationMsg struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	UserID      string `json:"user_id"`
	ActorID     string `json:"actor_id,omitempty"`
	RelatedID   string `json:"related_id,omitempty"`
	RelatedType string `json:"related_type,omitempty"`
	Read        bool   `json:"read"`
	CreatedAt   int64  `json:"created_at"`
}

// RateLimitedMsg is sent when a client message was rejected by rate limiting.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeJoinConversation:
		var m JoinConversationMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMarkRead:
		var m MarkReadMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
