package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestLimiter creates a Limiter connected to a local Redis instance and
// cleans up test keys. Tests that call this helper require a running Redis on
// localhost:6379 and are skipped otherwise.
func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	cleanup := func() {
		for _, pattern := range []string{"rl:msg:test_*", "rl:dup:test_*"} {
			iter := client.Scan(ctx, 0, pattern, 100).Iterator()
			for iter.Next(ctx) {
				client.Del(ctx, iter.Val())
			}
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		client.Close()
	})
	return NewLimiter(client)
}

func TestAllow_UnderLimit(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:msg:", Limit: 3, Window: 10 * time.Second}

	for i := 1; i <= 3; i++ {
		allowed, err := l.Allow(ctx, "test_under", rule)
		if err != nil {
			t.Fatalf("Allow() #%d error: %v", i, err)
		}
		if !allowed {
			t.Fatalf("Allow() #%d = false, want true", i)
		}
	}
}

func TestAllow_OverLimit(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:msg:", Limit: 2, Window: 10 * time.Second}

	for i := 1; i <= 2; i++ {
		if allowed, _ := l.Allow(ctx, "test_over", rule); !allowed {
			t.Fatalf("Allow() #%d = false, want true", i)
		}
	}

	allowed, err := l.Allow(ctx, "test_over", rule)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if allowed {
		t.Error("Allow() over the limit = true, want false")
	}
}

func TestAllow_WindowReset(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:msg:", Limit: 1, Window: 1 * time.Second}

	if allowed, _ := l.Allow(ctx, "test_reset", rule); !allowed {
		t.Fatal("first Allow() = false, want true")
	}
	if allowed, _ := l.Allow(ctx, "test_reset", rule); allowed {
		t.Fatal("second Allow() in window = true, want false")
	}

	time.Sleep(1100 * time.Millisecond)

	if allowed, _ := l.Allow(ctx, "test_reset", rule); !allowed {
		t.Error("Allow() after window lapsed = false, want true")
	}
}

func TestAllow_SeparateIdentifiers(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:msg:", Limit: 1, Window: 10 * time.Second}

	if allowed, _ := l.Allow(ctx, "test_id_a", rule); !allowed {
		t.Fatal("first identifier should be allowed")
	}
	if allowed, _ := l.Allow(ctx, "test_id_b", rule); !allowed {
		t.Error("second identifier must have its own counter")
	}
}

func TestRemaining(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:msg:", Limit: 5, Window: 10 * time.Second}

	remaining, err := l.Remaining(ctx, "test_remaining", rule)
	if err != nil {
		t.Fatalf("Remaining() error: %v", err)
	}
	if remaining != 5 {
		t.Errorf("Remaining() before any use = %d, want 5", remaining)
	}

	l.Allow(ctx, "test_remaining", rule)
	l.Allow(ctx, "test_remaining", rule)

	remaining, err = l.Remaining(ctx, "test_remaining", rule)
	if err != nil {
		t.Fatalf("Remaining() error: %v", err)
	}
	if remaining != 3 {
		t.Errorf("Remaining() after 2 uses = %d, want 3", remaining)
	}
}

func TestRetryAfter(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:msg:", Limit: 1, Window: 30 * time.Second}

	if got := l.RetryAfter(ctx, "test_retry", rule); got != 0 {
		t.Errorf("RetryAfter() before any use = %d, want 0", got)
	}

	l.Allow(ctx, "test_retry", rule)

	got := l.RetryAfter(ctx, "test_retry", rule)
	if got <= 0 || got > 30 {
		t.Errorf("RetryAfter() = %d, want in (0,30]", got)
	}
}

func TestAllow_FailsOpenOnRedisError(t *testing.T) {
	// Point at a port nothing listens on; every call errors and must allow.
	client := redis.NewClient(&redis.Options{Addr: "localhost:1", DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { client.Close() })
	l := NewLimiter(client)

	allowed, err := l.Allow(context.Background(), "test_down", RuleMessage)
	if err == nil {
		t.Fatal("expected a connection error")
	}
	if !allowed {
		t.Error("Allow() must fail open when Redis is unreachable")
	}
}
