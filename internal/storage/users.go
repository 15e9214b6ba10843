package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/admitboard/realtime/internal/ban"
)

// UserStore reads user profiles and ban records from PostgreSQL.
type UserStore struct {
	db *sql.DB
}

// NewUserStore creates a store backed by the given database handle.
func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

// DisplayName returns the user's display name, or the user id when the
// user row is missing.
func (s *UserStore) DisplayName(ctx context.Context, userID string) (string, error) {
	const query = `SELECT display_name FROM users WHERE id = $1`

	var name string
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&name)
	if err == sql.ErrNoRows {
		return userID, nil
	}
	if err != nil {
		return "", fmt.Errorf("storage: display name: %w", err)
	}
	return name, nil
}

// BanState returns the user's current ban record. Unknown users are
// treated as not banned.
func (s *UserStore) BanState(ctx context.Context, userID string) (ban.State, error) {
	const query = `
		SELECT is_banned, banned_at, banned_until, ban_reason
		FROM users WHERE id = $1`

	var (
		state  ban.State
		at     sql.NullTime
		until  sql.NullTime
		reason sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&state.Banned, &at, &until, &reason)
	if err == sql.ErrNoRows {
		return ban.State{}, nil
	}
	if err != nil {
		return ban.State{}, fmt.Errorf("storage: ban state: %w", err)
	}
	if at.Valid {
		state.BannedAt = at.Time
	}
	if until.Valid {
		t := until.Time
		state.BannedUntil = &t
	}
	state.Reason = reason.String
	return state, nil
}

// ClearBan removes an expired ban from the user's record.
func (s *UserStore) ClearBan(ctx context.Context, userID string) error {
	const query = `
		UPDATE users
		SET is_banned = false, banned_at = NULL, banned_until = NULL, ban_reason = NULL
		WHERE id = $1`

	if _, err := s.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("storage: clear ban: %w", err)
	}
	return nil
}

// Ban marks the user as banned until the given time; a nil until means
// the ban is indefinite.
func (s *UserStore) Ban(ctx context.Context, userID, reason string, until *time.Time) error {
	const query = `
		UPDATE users
		SET is_banned = true, banned_at = now(), banned_until = $2, ban_reason = $3
		WHERE id = $1`

	if _, err := s.db.ExecContext(ctx, query, userID, until, reason); err != nil {
		return fmt.Errorf("storage: ban user: %w", err)
	}
	return nil
}
