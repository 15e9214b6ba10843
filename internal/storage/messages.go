package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Message is a persisted chat message.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	CreatedAt      time.Time
}

// MessageStore persists chat messages and read cursors in PostgreSQL.
type MessageStore struct {
	db *sql.DB
}

// NewMessageStore creates a store backed by the given database handle.
func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

// Save inserts a message and fills in its database-assigned id and timestamp.
func (s *MessageStore) Save(ctx context.Context, msg *Message) error {
	const query = `
		INSERT INTO messages (id, conversation_id, sender_id, content)
		VALUES (gen_random_uuid(), $1, $2, $3)
		RETURNING id, created_at`

	err := s.db.QueryRowContext(ctx, query, msg.ConversationID, msg.SenderID, msg.Content).
		Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: save message: %w", err)
	}
	return nil
}

// Recent returns the newest messages in a conversation, newest first.
func (s *MessageStore) Recent(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT id, conversation_id, sender_id, content, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: recent messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate messages: %w", err)
	}
	return out, nil
}

// MarkAsRead advances the reader's cursor for the conversation and returns
// the new cursor timestamp. The row must already exist; readers are always
// participants by the time this runs.
func (s *MessageStore) MarkAsRead(ctx context.Context, conversationID, userID string) (time.Time, error) {
	const query = `
		UPDATE conversation_participants
		SET last_read_at = now()
		WHERE conversation_id = $1 AND user_id = $2
		RETURNING last_read_at`

	var readAt time.Time
	err := s.db.QueryRowContext(ctx, query, conversationID, userID).Scan(&readAt)
	if err == sql.ErrNoRows {
		return time.Time{}, fmt.Errorf("storage: mark read: no participant row for %s in %s", userID, conversationID)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("storage: mark read: %w", err)
	}
	return readAt, nil
}
