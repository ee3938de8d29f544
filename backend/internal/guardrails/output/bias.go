package output

import (
	"context"

	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/analyzer"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/chain"
)

// BiasMessage is the warning attached when any category exceeds threshold
const BiasMessage = "Bias threshold exceeded - content may need review"

// BiasGuardrail warns about biased language. It never blocks.
type BiasGuardrail struct {
	detector *analyzer.BiasDetector
}

// NewBiasGuardrail creates the bias check
func NewBiasGuardrail(detector *analyzer.BiasDetector) *BiasGuardrail {
	return &BiasGuardrail{detector: detector}
}

func (g *BiasGuardrail) Name() string              { return "bias" }
func (g *BiasGuardrail) Type() chain.GuardrailType { return chain.GuardrailTypeOutput }
func (g *BiasGuardrail) Priority() int             { return PriorityBias }
func (g *BiasGuardrail) IsEnabled() bool           { return true }
func (g *BiasGuardrail) Advisory() bool            { return true }

// Execute stores the per-category scores and warns over threshold
func (g *BiasGuardrail) Execute(_ context.Context, gc *chain.Context) (*chain.Result, error) {
	exceeded, scores := g.detector.Assess(gc.Output)
	gc.BiasScores = scores
	if !exceeded {
		return chain.Pass(), nil
	}

	return &chain.Result{
		Passed:  true,
		Action:  chain.ActionWarn,
		Message: BiasMessage,
		Violations: []chain.Violation{{
			GuardrailName: g.Name(),
			Type:          "bias",
			Message:       BiasMessage,
			Severity:      chain.SeverityLow,
			Action:        chain.ActionWarn,
			Details:       map[string]interface{}{"threshold": g.detector.Threshold()},
		}},
	}, nil
}
