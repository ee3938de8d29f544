package output

import (
	"context"

	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/analyzer"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/chain"
)

// ContentModerationGuardrail blocks generated text that contains
// inappropriate keywords
type ContentModerationGuardrail struct {
	detector *analyzer.ContentDetector
}

// NewContentModerationGuardrail creates a new content moderation guardrail
func NewContentModerationGuardrail(detector *analyzer.ContentDetector) *ContentModerationGuardrail {
	return &ContentModerationGuardrail{detector: detector}
}

// Name returns the guardrail identifier
func (g *ContentModerationGuardrail) Name() string {
	return "content_moderation"
}

// Type returns the guardrail type
func (g *ContentModerationGuardrail) Type() chain.GuardrailType {
	return chain.GuardrailTypeOutput
}

// Priority returns execution priority
func (g *ContentModerationGuardrail) Priority() int {
	return PriorityContent
}

// IsEnabled returns whether this guardrail is active
func (g *ContentModerationGuardrail) IsEnabled() bool {
	return true
}

// Execute moderates the output. The reason is reported without a prefix.
func (g *ContentModerationGuardrail) Execute(_ context.Context, gc *chain.Context) (*chain.Result, error) {
	found, kw := g.detector.Detect(gc.Output)
	if !found {
		return chain.Pass(), nil
	}

	msg := g.detector.Reason(kw)
	return &chain.Result{
		Passed:  false,
		Action:  chain.ActionBlock,
		Message: msg,
		Violations: []chain.Violation{{
			GuardrailName: g.Name(),
			Type:          "inappropriate_content",
			Message:       msg,
			Severity:      chain.SeverityHigh,
			Action:        chain.ActionBlock,
			Details:       map[string]interface{}{"keyword": kw},
		}},
	}, nil
}
