package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Conversation is the slim view of a conversation the gateway needs.
type Conversation struct {
	ID        string
	CreatedAt time.Time
}

// ConversationStore reads conversation membership from PostgreSQL.
type ConversationStore struct {
	db *sql.DB
}

// NewConversationStore creates a store backed by the given database handle.
func NewConversationStore(db *sql.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

// GetConversations returns every conversation the user participates in.
func (s *ConversationStore) GetConversations(ctx context.Context, userID string) ([]Conversation, error) {
	const query = `
		SELECT c.id, c.created_at
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = $1
		ORDER BY c.created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("storage: get conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan conversation: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate conversations: %w", err)
	}
	return out, nil
}

// IsParticipant reports whether the user belongs to the conversation.
func (s *ConversationStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2
		)`

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, conversationID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("storage: is participant: %w", err)
	}
	return exists, nil
}

// Participants returns the user ids of everyone in the conversation.
func (s *ConversationStore) Participants(ctx context.Context, conversationID string) ([]string, error) {
	const query = `
		SELECT user_id FROM conversation_participants
		WHERE conversation_id = $1`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("storage: participants: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan participant: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate participants: %w", err)
	}
	return out, nil
}
