// Package notification stores per-user notification feeds in Redis and pushes
// new entries to online recipients. Each user has a newest-first capped list
// of JSON records plus an unread counter; the counter is maintained inside
// the same Lua scripts that mutate the list, so it can never drift from the
// number of unread entries actually retained.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// ListPrefix is the Redis key prefix for per-user notification lists.
	ListPrefix = "notif:"

	// UnreadPrefix is the Redis key prefix for per-user unread counters.
	UnreadPrefix = "notif:unread:"

	// DefaultCap is the maximum number of notifications retained per user.
	DefaultCap = 100

	// DefaultTTL is how long a user's feed lives without new appends.
	DefaultTTL = 30 * 24 * time.Hour
)

// Notification is one entry in a user's feed.
type Notification struct {
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

// Pusher delivers a freshly created notification to the user's live sockets.
// Implementations must treat an offline user as a no-op, not an error.
type Pusher interface {
	PushNotification(userID string, n *Notification)
}

// StoreConfig holds feed tuning parameters.
type StoreConfig struct {
	Cap int           // max entries per user
	TTL time.Duration // feed expiry, refreshed on every append
}

// DefaultStoreConfig returns the production defaults.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{Cap: DefaultCap, TTL: DefaultTTL}
}

// Store manages notification feeds in Redis.
type Store struct {
	rdb    *redis.Client
	config StoreConfig
	pusher Pusher

	createScript      *redis.Script
	markReadScript    *redis.Script
	markAllReadScript *redis.Script
	deleteScript      *redis.Script
}

// NewStore creates a notification store backed by the given Redis client.
// pusher may be nil; realtime push is then skipped entirely.
func NewStore(rdb *redis.Client, config StoreConfig, pusher Pusher) *Store {
	if config.Cap <= 0 {
		config.Cap = DefaultCap
	}
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	return &Store{
		rdb:    rdb,
		config: config,
		pusher: pusher,

		createScript:      redis.NewScript(createLua),
		markReadScript:    redis.NewScript(markReadLua),
		markAllReadScript: redis.NewScript(markAllReadLua),
		deleteScript:      redis.NewScript(deleteLua),
	}
}

func (s *Store) keys(userID string) []string {
	return []string{ListPrefix + userID, UnreadPrefix + userID}
}

// Params carries the template placeholders and reference fields for Create.
type Params struct {
	ActorID     string
	RelatedID   string
	RelatedType string
	Vars        map[string]string // template placeholder values
}

// Create renders the template for kind, prepends the notification to the
// user's feed, trims the feed to its cap, refreshes the TTL, bumps the unread
// counter, and pushes the entry to the user's live sockets if any. Eviction
// of an unread entry decrements the counter inside the same script, so the
// invariant (counter == unread entries retained) holds through trims.
func (s *Store) Create(ctx context.Context, userID, kind string, p Params) (*Notification, error) {
	title, content, err := Render(kind, p.Vars)
	if err != nil {
		return nil, err
	}

	n := &Notification{
		ID:          uuid.New().String(),
		Kind:        kind,
		Title:       title,
		Content:     content,
		UserID:      userID,
		ActorID:     p.ActorID,
		RelatedID:   p.RelatedID,
		RelatedType: p.RelatedType,
		Read:        false,
		CreatedAt:   time.Now().Unix(),
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("notification: marshal: %w", err)
	}

	err = s.createScript.Run(ctx, s.rdb, s.keys(userID),
		payload, s.config.Cap, int(s.config.TTL.Seconds())).Err()
	if err != nil {
		return nil, fmt.Errorf("notification: create: %w", err)
	}

	// Best-effort realtime push. An offline user simply discovers the entry
	// via List later.
	if s.pusher != nil {
		s.pusher.PushNotification(userID, n)
	}

	return n, nil
}

// List returns a newest-first page of the user's feed.
func (s *Store) List(ctx context.Context, userID string, limit, offset int) ([]*Notification, error) {
	if limit <= 0 {
		limit = s.config.Cap
	}
	if offset < 0 {
		offset = 0
	}

	raw, err := s.rdb.LRange(ctx, ListPrefix+userID, int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("notification: list: %w", err)
	}

	out := make([]*Notification, 0, len(raw))
	for _, item := range raw {
		var n Notification
		if err := json.Unmarshal([]byte(item), &n); err != nil {
			log.Printf("[notify] corrupt entry for user=%s skipped: %v", userID, err)
			continue
		}
		out = append(out, &n)
	}
	return out, nil
}

// UnreadCount returns the user's unread counter. A missing key means zero.
func (s *Store) UnreadCount(ctx context.Context, userID string) (int, error) {
	count, err := s.rdb.Get(ctx, UnreadPrefix+userID).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("notification: unread count: %w", err)
	}
	if count < 0 {
		count = 0
	}
	return count, nil
}

// MarkRead flips one notification to read. Returns true if the entry existed
// and was unread; calling it again for the same id is a no-op returning
// false, and the counter is decremented at most once per notification.
func (s *Store) MarkRead(ctx context.Context, userID, id string) (bool, error) {
	res, err := s.markReadScript.Run(ctx, s.rdb, s.keys(userID), id).Int()
	if err != nil {
		return false, fmt.Errorf("notification: mark read: %w", err)
	}
	return res == 1, nil
}

// MarkAllRead flips every unread entry and zeroes the counter. Returns the
// number of entries flipped.
func (s *Store) MarkAllRead(ctx context.Context, userID string) (int, error) {
	flipped, err := s.markAllReadScript.Run(ctx, s.rdb, s.keys(userID)).Int()
	if err != nil {
		return 0, fmt.Errorf("notification: mark all read: %w", err)
	}
	return flipped, nil
}

// Delete removes one notification from the feed. If the entry was unread its
// counter contribution is removed as well. Returns true if an entry was
// removed.
func (s *Store) Delete(ctx context.Context, userID, id string) (bool, error) {
	res, err := s.deleteScript.Run(ctx, s.rdb, s.keys(userID), id).Int()
	if err != nil {
		return false, fmt.Errorf("notification: delete: %w", err)
	}
	return res == 1, nil
}

// ClearAll empties the user's feed and zeroes the counter.
func (s *Store) ClearAll(ctx context.Context, userID string) error {
	if err := s.rdb.Del(ctx, ListPrefix+userID, UnreadPrefix+userID).Err(); err != nil {
		return fmt.Errorf("notification: clear all: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Lua scripts. Every list mutation that affects read state runs as a single
// script so the unread counter stays consistent with the retained entries.
// ---------------------------------------------------------------------------

// createLua prepends the payload, bumps the counter, trims past the cap while
// correcting the counter for evicted unread entries, and refreshes both TTLs.
const createLua = `
local list = KEYS[1]
local counter = KEYS[2]
local payload = ARGV[1]
local cap = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

redis.call('LPUSH', list, payload)
redis.call('INCR', counter)

local evicted = redis.call('LRANGE', list, cap, -1)
if #evicted > 0 then
    local unread = 0
    for _, raw in ipairs(evicted) do
        local ok, n = pcall(cjson.decode, raw)
        if ok and n.read == false then
            unread = unread + 1
        end
    end
    redis.call('LTRIM', list, 0, cap - 1)
    if unread > 0 then
        local left = redis.call('DECRBY', counter, unread)
        if tonumber(left) < 0 then
            redis.call('SET', counter, 0)
        end
    end
end

redis.call('EXPIRE', list, ttl)
redis.call('EXPIRE', counter, ttl)
return 1
`

// markReadLua locates the entry by id and flips it in place. Already-read and
// missing entries return 0 without touching the counter.
const markReadLua = `
local list = KEYS[1]
local counter = KEYS[2]
local id = ARGV[1]

local items = redis.call('LRANGE', list, 0, -1)
for i, raw in ipairs(items) do
    local ok, n = pcall(cjson.decode, raw)
    if ok and n.id == id then
        if n.read then
            return 0
        end
        n.read = true
        redis.call('LSET', list, i - 1, cjson.encode(n))
        local left = redis.call('DECR', counter)
        if tonumber(left) < 0 then
            redis.call('SET', counter, 0, 'KEEPTTL')
        end
        return 1
    end
end
return 0
`

// markAllReadLua flips every unread entry and resets the counter.
const markAllReadLua = `
local list = KEYS[1]
local counter = KEYS[2]

local flipped = 0
local items = redis.call('LRANGE', list, 0, -1)
for i, raw in ipairs(items) do
    local ok, n = pcall(cjson.decode, raw)
    if ok and n.read == false then
        n.read = true
        redis.call('LSET', list, i - 1, cjson.encode(n))
        flipped = flipped + 1
    end
end
redis.call('SET', counter, 0, 'KEEPTTL')
return flipped
`

// deleteLua removes the entry by id via a tombstone LSET + LREM, correcting
// the counter when the removed entry was unread.
const deleteLua = `
local list = KEYS[1]
local counter = KEYS[2]
local id = ARGV[1]

local items = redis.call('LRANGE', list, 0, -1)
for i, raw in ipairs(items) do
    local ok, n = pcall(cjson.decode, raw)
    if ok and n.id == id then
        redis.call('LSET', list, i - 1, '__tombstone__')
        redis.call('LREM', list, 1, '__tombstone__')
        if n.read == false then
            local left = redis.call('DECR', counter)
            if tonumber(left) < 0 then
                redis.call('SET', counter, 0, 'KEEPTTL')
            end
        end
        return 1
    end
end
return 0
`
