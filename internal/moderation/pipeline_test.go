package moderation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/admitboard/realtime/internal/ratelimit"
)

// fakeGate counts increments in memory, mirroring the Redis fixed-window
// semantics without the expiry.
type fakeGate struct {
	counts map[string]int
	err    error // when set, every Allow fails open with this error
}

func newFakeGate() *fakeGate {
	return &fakeGate{counts: make(map[string]int)}
}

func (g *fakeGate) Allow(_ context.Context, identifier string, rule ratelimit.Rule) (bool, error) {
	if g.err != nil {
		// Counter store unreachable: fail open, like the Redis limiter.
		return true, g.err
	}
	key := rule.Key + identifier
	g.counts[key]++
	return g.counts[key] <= rule.Limit, nil
}

func newTestPipeline(gate Gate) *Pipeline {
	return NewPipelineWithRules(gate, NewFilterWithTerms([]string{"fuck"}),
		ratelimit.Rule{Key: "rl:msg:", Limit: 30, Window: 60 * time.Second},
		ratelimit.Rule{Key: "rl:dup:", Limit: 3, Window: 300 * time.Second},
	)
}

func TestEvaluate_RateLimit(t *testing.T) {
	p := newTestPipeline(newFakeGate())
	ctx := context.Background()

	// Vary the content so the duplicate counter stays quiet.
	for i := 0; i < 30; i++ {
		d := p.Evaluate(ctx, "u1", "message "+strings.Repeat("x", i))
		if !d.Allowed {
			t.Fatalf("message #%d rejected (%s), want allowed", i+1, d.Reason)
		}
	}

	d := p.Evaluate(ctx, "u1", "message 31")
	if d.Allowed {
		t.Fatal("31st message in window allowed, want rejected")
	}
	if d.Reason != ReasonRateLimit {
		t.Errorf("Reason = %q, want %q", d.Reason, ReasonRateLimit)
	}
}

func TestEvaluate_RepeatedContent(t *testing.T) {
	p := newTestPipeline(newFakeGate())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d := p.Evaluate(ctx, "u1", "hi")
		if !d.Allowed {
			t.Fatalf("repeat #%d rejected (%s), want allowed", i+1, d.Reason)
		}
	}

	d := p.Evaluate(ctx, "u1", "hi")
	if d.Allowed {
		t.Fatal("4th identical message allowed, want rejected")
	}
	if d.Reason != ReasonRepeated {
		t.Errorf("Reason = %q, want %q", d.Reason, ReasonRepeated)
	}
}

func TestEvaluate_TrimOnlyNormalization(t *testing.T) {
	p := newTestPipeline(newFakeGate())
	ctx := context.Background()

	// Trailing whitespace is trimmed, so these count as the same content.
	for _, content := range []string{"hi", "hi ", " hi", "hi  "} {
		d := p.Evaluate(ctx, "u1", content)
		if content != "hi  " && !d.Allowed {
			t.Fatalf("Evaluate(%q) rejected early (%s)", content, d.Reason)
		}
		if content == "hi  " {
			if d.Allowed {
				t.Error("4th trim-equivalent message allowed, want rejected")
			}
			if d.Reason != ReasonRepeated {
				t.Errorf("Reason = %q, want %q", d.Reason, ReasonRepeated)
			}
		}
	}

	// Case differs, so this is distinct content.
	if d := p.Evaluate(ctx, "u1", "HI"); !d.Allowed {
		t.Errorf("case-different content rejected (%s), want allowed", d.Reason)
	}
}

func TestEvaluate_DuplicateScopedPerUser(t *testing.T) {
	p := newTestPipeline(newFakeGate())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p.Evaluate(ctx, "u1", "hello")
	}
	if d := p.Evaluate(ctx, "u1", "hello"); d.Allowed {
		t.Fatal("u1's 4th repeat allowed, want rejected")
	}

	if d := p.Evaluate(ctx, "u2", "hello"); !d.Allowed {
		t.Errorf("u2's first message rejected (%s); duplicate window must be per user", d.Reason)
	}
}

func TestEvaluate_ScrubsAllowedContent(t *testing.T) {
	p := newTestPipeline(newFakeGate())

	d := p.Evaluate(context.Background(), "u1", "fuck this essay")
	if !d.Allowed {
		t.Fatalf("message rejected (%s); the filter must rewrite, never block", d.Reason)
	}
	if d.Content != "*** this essay" {
		t.Errorf("Content = %q, want %q", d.Content, "*** this essay")
	}
}

func TestEvaluate_DegradedModeFailsOpen(t *testing.T) {
	gate := newFakeGate()
	gate.err = errors.New("connection refused")
	p := newTestPipeline(gate)
	ctx := context.Background()

	// With the counter store down, every message passes the rate checks but
	// is still scrubbed.
	for i := 0; i < 100; i++ {
		d := p.Evaluate(ctx, "u1", "fuck this essay")
		if !d.Allowed {
			t.Fatalf("message #%d rejected in degraded mode (%s)", i+1, d.Reason)
		}
		if d.Content != "*** this essay" {
			t.Fatalf("Content = %q, scrub must still run in degraded mode", d.Content)
		}
	}
}

func TestFingerprint(t *testing.T) {
	if Fingerprint("hi") != Fingerprint("  hi  ") {
		t.Error("fingerprint must ignore surrounding whitespace")
	}
	if Fingerprint("hi") == Fingerprint("HI") {
		t.Error("fingerprint must be case sensitive")
	}
	if Fingerprint("a b") == Fingerprint("a  b") {
		t.Error("fingerprint must preserve interior whitespace")
	}
}
