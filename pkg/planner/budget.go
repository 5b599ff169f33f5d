package planner

import (
	"fmt"
	"time"
)

// Budget holds per-stage worst-case latencies. The turn deadline derived
// from it must cover a full run including every verifier retry, otherwise
// healthy turns get cut off and routed to the fallback.
type Budget struct {
	IntentParsing time.Duration
	Retrieval     time.Duration
	FanOutMember  time.Duration // slowest member; members run concurrently
	Generation    time.Duration // one full generation attempt
	Verification  time.Duration // one verifier call
	MaxRetries    int
	Slack         time.Duration
}

// Required is the smallest turn deadline that fits the worst case:
// intent + retrieval + fan-out + (generation + verification) × (1 + retries).
func (b Budget) Required() time.Duration {
	retries := b.MaxRetries
	if retries < 0 {
		retries = 0
	}
	attempt := b.Generation + b.Verification
	return b.IntentParsing + b.Retrieval + b.FanOutMember + attempt*time.Duration(1+retries) + b.Slack
}

// Effective returns configured unless it is below Required.
func (b Budget) Effective(configured time.Duration) time.Duration {
	if req := b.Required(); configured < req {
		return req
	}
	return configured
}

// Validate rejects non-positive stage budgets.
func (b Budget) Validate() error {
	stages := map[string]time.Duration{
		"intent_parsing": b.IntentParsing,
		"retrieval":      b.Retrieval,
		"fanout":         b.FanOutMember,
		"generation":     b.Generation,
		"verification":   b.Verification,
	}
	for name, d := range stages {
		if d <= 0 {
			return fmt.Errorf("budget for %s must be positive, got %s", name, d)
		}
	}
	if b.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", b.MaxRetries)
	}
	return nil
}

// FallbackDecision is recorded on the assistant message when the fallback
// responder produced the reply.
type FallbackDecision struct {
	Trigger   FallbackTrigger
	Cause     string
	DecidedAt time.Time
}

// Metadata renders the decision into message metadata keys.
func (d FallbackDecision) Metadata() map[string]any {
	return map[string]any{
		"fallback":         true,
		"fallback_trigger": string(d.Trigger),
		"fallback_cause":   d.Cause,
	}
}
