package moderation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/admitboard/realtime/internal/ratelimit"
)

// Reason identifies why a message was rejected by the pipeline.
type Reason string

const (
	// ReasonRateLimit means the per-user message counter exceeded its window limit.
	ReasonRateLimit Reason = "rate_limit_exceeded"

	// ReasonRepeated means the same content was sent too many times in its window.
	ReasonRepeated Reason = "repeated_content"
)

// Decision is the outcome of evaluating one outbound message.
type Decision struct {
	Allowed bool
	Content string // scrubbed content; only meaningful when Allowed
	Reason  Reason // only set when !Allowed
}

// Gate is the counter backend consumed by the pipeline. *ratelimit.Limiter
// satisfies it; tests inject fakes.
type Gate interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// Pipeline composes the rate checks and the sensitive-term scrubber. Checks
// run in order and short-circuit on the first rejection; the scrub step only
// runs for messages that passed both counters and never rejects.
//
// When the counter store is unreachable the rate checks are skipped (the Gate
// fails open), so chat stays usable during a store outage with the scrubber
// as the only remaining gate.
type Pipeline struct {
	gate      Gate
	filter    *Filter
	msgRule   ratelimit.Rule
	dupRule   ratelimit.Rule
}

// NewPipeline creates a Pipeline with the default rate rules.
func NewPipeline(gate Gate, filter *Filter) *Pipeline {
	return &Pipeline{
		gate:    gate,
		filter:  filter,
		msgRule: ratelimit.RuleMessage,
		dupRule: ratelimit.RuleDuplicate,
	}
}

// NewPipelineWithRules creates a Pipeline with custom rate rules.
func NewPipelineWithRules(gate Gate, filter *Filter, msgRule, dupRule ratelimit.Rule) *Pipeline {
	return &Pipeline{gate: gate, filter: filter, msgRule: msgRule, dupRule: dupRule}
}

// Evaluate gates one outbound message from userID.
func (p *Pipeline) Evaluate(ctx context.Context, userID, content string) Decision {
	// Errors from the gate mean the counter store is unreachable; Allow fails
	// open in that case, so only the returned verdict matters here.
	if allowed, _ := p.gate.Allow(ctx, userID, p.msgRule); !allowed {
		return Decision{Allowed: false, Reason: ReasonRateLimit}
	}

	if allowed, _ := p.gate.Allow(ctx, userID+":"+Fingerprint(content), p.dupRule); !allowed {
		return Decision{Allowed: false, Reason: ReasonRepeated}
	}

	return Decision{Allowed: true, Content: p.filter.Scrub(content)}
}

// MessageRule returns the per-user message rule (used for retry-after replies).
func (p *Pipeline) MessageRule() ratelimit.Rule { return p.msgRule }

// Fingerprint computes the duplicate-detection key for message content.
// Normalization is trim-only: leading and trailing whitespace is ignored,
// case and interior whitespace are significant.
func Fingerprint(content string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(content)))
	return hex.EncodeToString(sum[:])
}
