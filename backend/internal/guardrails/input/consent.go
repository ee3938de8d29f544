package input

import (
	"context"

	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/audit"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/cedar"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/chain"
)

// ConsentMessage is returned when a user has not agreed to AI processing
const ConsentMessage = "User consent required for AI usage"

// Authorizer decides whether a subject may use the generation service
type Authorizer interface {
	Authorize(ctx context.Context, subject cedar.Subject) (bool, error)
}

// ConsentGuardrail blocks users without recorded consent.
// With an Authorizer the decision is delegated to Cedar policy.
type ConsentGuardrail struct {
	authorizer Authorizer
	recorder   audit.Recorder
}

// NewConsentGuardrail creates a consent gate. authorizer may be nil.
func NewConsentGuardrail(authorizer Authorizer, recorder audit.Recorder) *ConsentGuardrail {
	return &ConsentGuardrail{authorizer: authorizer, recorder: recorder}
}

func (g *ConsentGuardrail) Name() string              { return "consent" }
func (g *ConsentGuardrail) Type() chain.GuardrailType { return chain.GuardrailTypeInput }
func (g *ConsentGuardrail) Priority() int             { return PriorityConsent }
func (g *ConsentGuardrail) IsEnabled() bool           { return true }

// Execute checks consent before anything else touches the request
func (g *ConsentGuardrail) Execute(ctx context.Context, gc *chain.Context) (*chain.Result, error) {
	allowed := gc.User.ConsentGiven
	if g.authorizer != nil {
		var err error
		allowed, err = g.authorizer.Authorize(ctx, cedar.Subject{
			ID:      gc.User.ID,
			Tier:    string(gc.User.Tier),
			Consent: gc.User.ConsentGiven,
		})
		if err != nil {
			return nil, err
		}
	}

	if allowed {
		return chain.Pass(), nil
	}

	if g.recorder != nil {
		g.recorder.Log(audit.EventConsentMissing, map[string]interface{}{"user_id": gc.User.ID})
	}
	return &chain.Result{
		Passed:  false,
		Action:  chain.ActionBlock,
		Message: ConsentMessage,
		Violations: []chain.Violation{{
			GuardrailName: g.Name(),
			Type:          "consent",
			Message:       ConsentMessage,
			Severity:      chain.SeverityMedium,
			Action:        chain.ActionBlock,
		}},
	}, nil
}
