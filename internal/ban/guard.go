// Package ban decides whether a connecting user is admitted or rejected based
// on their suspension state. The gateway only reads and clears ban state;
// setting a ban is the admin surface's job and happens elsewhere.
package ban

import (
	"context"
	"log"
	"time"
)

// State is a user's suspension record as stored on the user row.
type State struct {
	Banned      bool
	BannedAt    time.Time
	BannedUntil *time.Time // nil means indefinite
	Reason      string
}

// Expired reports whether a temporary ban has lapsed at the given instant.
func (s State) Expired(now time.Time) bool {
	return s.Banned && s.BannedUntil != nil && s.BannedUntil.Before(now)
}

// Directory is the user-record surface the guard consumes. internal/storage
// provides the Postgres implementation.
type Directory interface {
	// BanState loads the suspension fields for a user.
	BanState(ctx context.Context, userID string) (State, error)

	// ClearBan resets all suspension fields on the user record.
	ClearBan(ctx context.Context, userID string) error
}

// Guard admits or denies connecting users.
type Guard struct {
	dir Directory
	now func() time.Time
}

// NewGuard creates a Guard over the given directory.
func NewGuard(dir Directory) *Guard {
	return &Guard{dir: dir, now: time.Now}
}

// Admit decides whether userID may connect.
//
// A ban whose expiry has already passed is stale: it is cleared from the user
// record as a side effect and the user is admitted. A ban with no expiry or a
// future expiry denies admission. Directory errors fail open with a logged
// warning, so a user-store outage degrades admission checks instead of
// locking everyone out.
func (g *Guard) Admit(ctx context.Context, userID string) (bool, error) {
	state, err := g.dir.BanState(ctx, userID)
	if err != nil {
		log.Printf("[ban] load state for user=%s: %v (failing open)", userID, err)
		return true, err
	}

	if !state.Banned {
		return true, nil
	}

	if state.Expired(g.now()) {
		if err := g.dir.ClearBan(ctx, userID); err != nil {
			// The user is admitted either way; the stale row is retried on
			// the next connect.
			log.Printf("[ban] clear stale ban for user=%s: %v", userID, err)
		}
		return true, nil
	}

	return false, nil
}
