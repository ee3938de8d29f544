package input

import (
	"context"

	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/chain"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/quota"
)

// MetadataRemainingMonthly holds the generations left after the quota check
const MetadataRemainingMonthly = "remaining_monthly"

// MonthlyQuotaGuardrail rejects users who used up this month's generations.
// It is only active when a tracker is configured.
type MonthlyQuotaGuardrail struct {
	tracker *quota.Tracker
}

// NewMonthlyQuotaGuardrail creates the monthly gate. tracker may be nil.
func NewMonthlyQuotaGuardrail(tracker *quota.Tracker) *MonthlyQuotaGuardrail {
	return &MonthlyQuotaGuardrail{tracker: tracker}
}

func (g *MonthlyQuotaGuardrail) Name() string              { return "monthly_quota" }
func (g *MonthlyQuotaGuardrail) Type() chain.GuardrailType { return chain.GuardrailTypeInput }
func (g *MonthlyQuotaGuardrail) Priority() int             { return PriorityQuota }
func (g *MonthlyQuotaGuardrail) IsEnabled() bool           { return g.tracker != nil }

// Execute checks the monthly allowance without consuming it
func (g *MonthlyQuotaGuardrail) Execute(ctx context.Context, gc *chain.Context) (*chain.Result, error) {
	ok, remaining, msg := g.tracker.CheckMonthlyLimit(ctx, gc.User.ID, gc.User.Tier)
	if !ok {
		return &chain.Result{Passed: false, Action: chain.ActionBlock, Message: msg}, nil
	}
	gc.Metadata[MetadataRemainingMonthly] = remaining
	return chain.Pass(), nil
}
