package input

import (
	"context"
	"regexp"
	"strings"

	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/analyzer"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/chain"
)

var (
	markupPattern     = regexp.MustCompile(`<[^>]+>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// Sanitize scrubs PII, strips markup and normalizes whitespace
func Sanitize(scrubber *analyzer.PIIScrubber, text string) string {
	text, _ = scrubber.Scrub(text)
	text = markupPattern.ReplaceAllString(text, "")
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// SanitizeGuardrail replaces the working text with its sanitized form.
// It never blocks.
type SanitizeGuardrail struct {
	scrubber *analyzer.PIIScrubber
}

// NewSanitizeGuardrail creates a sanitizer backed by the given scrubber
func NewSanitizeGuardrail(scrubber *analyzer.PIIScrubber) *SanitizeGuardrail {
	return &SanitizeGuardrail{scrubber: scrubber}
}

func (g *SanitizeGuardrail) Name() string              { return "sanitize" }
func (g *SanitizeGuardrail) Type() chain.GuardrailType { return chain.GuardrailTypeInput }
func (g *SanitizeGuardrail) Priority() int             { return PrioritySanitize }
func (g *SanitizeGuardrail) IsEnabled() bool           { return true }

// Execute redacts the working text
func (g *SanitizeGuardrail) Execute(_ context.Context, gc *chain.Context) (*chain.Result, error) {
	found := g.scrubber.Detect(gc.Sanitized)
	clean := Sanitize(g.scrubber, gc.Sanitized)

	result := &chain.Result{Passed: true, Action: chain.ActionRedact, ModifiedText: clean}
	for _, kind := range found {
		result.Violations = append(result.Violations, chain.Violation{
			GuardrailName: g.Name(),
			Type:          "pii_" + string(kind),
			Message:       "PII redacted",
			Severity:      chain.SeverityLow,
			Action:        chain.ActionRedact,
		})
	}
	return result, nil
}
