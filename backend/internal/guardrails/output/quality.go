package output

import (
	"context"

	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/chain"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/quality"
)

// QualityGuardrail blocks output whose overall score is below threshold.
// The scores are kept on the context either way.
type QualityGuardrail struct {
	scorer *quality.Scorer
}

// NewQualityGuardrail creates the quality gate
func NewQualityGuardrail(scorer *quality.Scorer) *QualityGuardrail {
	return &QualityGuardrail{scorer: scorer}
}

func (g *QualityGuardrail) Name() string              { return "quality" }
func (g *QualityGuardrail) Type() chain.GuardrailType { return chain.GuardrailTypeOutput }
func (g *QualityGuardrail) Priority() int             { return PriorityQuality }
func (g *QualityGuardrail) IsEnabled() bool           { return true }

// Execute scores the output against the generation hints
func (g *QualityGuardrail) Execute(_ context.Context, gc *chain.Context) (*chain.Result, error) {
	ok, scores := g.scorer.Validate(gc.Output, gc.Generation)
	gc.QualityScores = scores.Map()
	if ok {
		return chain.Pass(), nil
	}

	msg := quality.FailureMessage(scores.Overall)
	return &chain.Result{
		Passed:  false,
		Action:  chain.ActionBlock,
		Message: msg,
		Violations: []chain.Violation{{
			GuardrailName: g.Name(),
			Type:          "quality",
			Message:       msg,
			Severity:      chain.SeverityMedium,
			Action:        chain.ActionBlock,
			Details:       map[string]interface{}{"overall": scores.Overall, "threshold": g.scorer.Threshold()},
		}},
	}, nil
}
