package input

import (
	"context"

	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/chain"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/ratelimit"
)

// SuspiciousMessage flags a burst of requests without rejecting
const SuspiciousMessage = "Suspicious activity detected - request flagged for review"

// SuspiciousActivityGuardrail warns about request bursts in the trailing minute
type SuspiciousActivityGuardrail struct {
	tracker *ratelimit.Tracker
}

// NewSuspiciousActivityGuardrail creates the burst detector guardrail
func NewSuspiciousActivityGuardrail(tracker *ratelimit.Tracker) *SuspiciousActivityGuardrail {
	return &SuspiciousActivityGuardrail{tracker: tracker}
}

func (g *SuspiciousActivityGuardrail) Name() string              { return "suspicious_activity" }
func (g *SuspiciousActivityGuardrail) Type() chain.GuardrailType { return chain.GuardrailTypeInput }
func (g *SuspiciousActivityGuardrail) Priority() int             { return PrioritySuspicious }
func (g *SuspiciousActivityGuardrail) IsEnabled() bool           { return g.tracker != nil }
func (g *SuspiciousActivityGuardrail) Advisory() bool            { return true }

// Execute adds a warning when the user is bursting
func (g *SuspiciousActivityGuardrail) Execute(ctx context.Context, gc *chain.Context) (*chain.Result, error) {
	if !g.tracker.DetectSuspiciousActivity(ctx, gc.User.ID) {
		return chain.Pass(), nil
	}
	return &chain.Result{
		Passed:  true,
		Action:  chain.ActionWarn,
		Message: SuspiciousMessage,
		Violations: []chain.Violation{{
			GuardrailName: g.Name(),
			Type:          "burst",
			Message:       SuspiciousMessage,
			Severity:      chain.SeverityLow,
			Action:        chain.ActionWarn,
		}},
	}, nil
}
