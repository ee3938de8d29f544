package input

import (
	"context"

	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/chain"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/ratelimit"
)

// RateLimitGuardrail enforces the hourly tier limit.
// This is NOT a signal - it is a hard operational control.
type RateLimitGuardrail struct {
	tracker *ratelimit.Tracker
}

// NewRateLimitGuardrail creates a new rate limit guardrail
func NewRateLimitGuardrail(tracker *ratelimit.Tracker) *RateLimitGuardrail {
	return &RateLimitGuardrail{tracker: tracker}
}

// Name returns the guardrail identifier
func (g *RateLimitGuardrail) Name() string {
	return "rate_limit"
}

// Type returns the guardrail type
func (g *RateLimitGuardrail) Type() chain.GuardrailType {
	return chain.GuardrailTypeInput
}

// Priority runs after consent and the monthly quota
func (g *RateLimitGuardrail) Priority() int {
	return PriorityRate
}

// IsEnabled returns whether this guardrail is active
func (g *RateLimitGuardrail) IsEnabled() bool {
	return g.tracker != nil
}

// Execute checks and records the request against the trailing hour
func (g *RateLimitGuardrail) Execute(ctx context.Context, gc *chain.Context) (*chain.Result, error) {
	ok, msg := g.tracker.CheckRateLimit(ctx, gc.User.ID, gc.User.Tier)
	if ok {
		return chain.Pass(), nil
	}

	return &chain.Result{
		Passed:  false,
		Action:  chain.ActionBlock,
		Message: msg,
		Violations: []chain.Violation{{
			GuardrailName: g.Name(),
			Type:          "rate_limit",
			Message:       msg,
			Severity:      chain.SeverityMedium,
			Action:        chain.ActionBlock,
			Details:       map[string]interface{}{"tier": string(gc.User.Tier)},
		}},
	}, nil
}
