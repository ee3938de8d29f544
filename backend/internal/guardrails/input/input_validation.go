package input

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/analyzer"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/audit"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/chain"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/policy"
)

// InputValidationGuardrail rejects short input, prompt injection and
// inappropriate content, in that order. There is no maximum length.
type InputValidationGuardrail struct {
	policies  policy.Source
	injection *analyzer.InjectionDetector
	content   *analyzer.ContentDetector
	recorder  audit.Recorder
}

// NewInputValidationGuardrail creates the input validator
func NewInputValidationGuardrail(policies policy.Source, injection *analyzer.InjectionDetector, content *analyzer.ContentDetector, recorder audit.Recorder) *InputValidationGuardrail {
	return &InputValidationGuardrail{
		policies:  policies,
		injection: injection,
		content:   content,
		recorder:  recorder,
	}
}

func (g *InputValidationGuardrail) Name() string              { return "input_validation" }
func (g *InputValidationGuardrail) Type() chain.GuardrailType { return chain.GuardrailTypeInput }
func (g *InputValidationGuardrail) Priority() int             { return PriorityValidation }
func (g *InputValidationGuardrail) IsEnabled() bool           { return true }

// Execute validates the raw input
func (g *InputValidationGuardrail) Execute(_ context.Context, gc *chain.Context) (*chain.Result, error) {
	minLength := g.policies.Current().Thresholds.MinInputLength
	if n := utf8.RuneCountInString(gc.Input); n < minLength {
		if g.recorder != nil {
			g.recorder.Log(audit.EventInputTooShort, map[string]interface{}{
				"user_id": gc.User.ID,
				"length":  n,
			})
		}
		return reject(g.Name(), "input_length", TooShortMessage(minLength), chain.SeverityLow), nil
	}

	if found, label := g.injection.DetectWithDetails(gc.Input); found {
		return reject(g.Name(), "prompt_injection", "Security violation: "+g.injection.Reason(label), chain.SeverityHigh), nil
	}

	if found, kw := g.content.Detect(gc.Input); found {
		return reject(g.Name(), "inappropriate_content", "Content policy violation: "+g.content.Reason(kw), chain.SeverityMedium), nil
	}

	return chain.Pass(), nil
}

// TooShortMessage formats the minimum length rejection
func TooShortMessage(minLength int) string {
	return fmt.Sprintf("Input too short (minimum %d characters)", minLength)
}

func reject(name, kind, msg string, sev chain.Severity) *chain.Result {
	return &chain.Result{
		Passed:  false,
		Action:  chain.ActionBlock,
		Message: msg,
		Violations: []chain.Violation{{
			GuardrailName: name,
			Type:          kind,
			Message:       msg,
			Severity:      sev,
			Action:        chain.ActionBlock,
		}},
	}
}
