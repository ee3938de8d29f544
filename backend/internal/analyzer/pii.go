package analyzer

import (
	"regexp"

	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/audit"
)

// PIIType names a scrubbed category
type PIIType string

const (
	PIIEmail      PIIType = "email"
	PIIPhone      PIIType = "phone"
	PIISSN        PIIType = "ssn"
	PIICreditCard PIIType = "credit_card"
)

type piiRule struct {
	kind        PIIType
	re          *regexp.Regexp
	replacement string
}

// Applied in this order. Replacement tokens hold no digits or '@' so a
// second pass finds nothing new.
var piiRules = []piiRule{
	{PIIEmail, regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`), "[EMAIL_REDACTED]"},
	{PIIPhone, regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`), "[PHONE_REDACTED]"},
	{PIISSN, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[SSN_REDACTED]"},
	{PIICreditCard, regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`), "[CREDIT_CARD_REDACTED]"},
}

// PIIScrubber replaces personal data with fixed redaction tokens
type PIIScrubber struct {
	recorder audit.Recorder
}

// NewPIIScrubber creates a new PIIScrubber. recorder may be nil.
func NewPIIScrubber(recorder audit.Recorder) *PIIScrubber {
	return &PIIScrubber{recorder: recorder}
}

// Detect scans text for PII and returns the categories present, in rule order
func (p *PIIScrubber) Detect(text string) []PIIType {
	var found []PIIType
	for _, rule := range piiRules {
		if rule.re.MatchString(text) {
			found = append(found, rule.kind)
		}
	}
	return found
}

// Scrub redacts every category and returns the result with per-category counts.
// Counts are taken on the text as it stands when that category is applied.
func (p *PIIScrubber) Scrub(text string) (string, map[PIIType]int) {
	counts := make(map[PIIType]int)
	for _, rule := range piiRules {
		n := len(rule.re.FindAllStringIndex(text, -1))
		if n == 0 {
			continue
		}
		text = rule.re.ReplaceAllString(text, rule.replacement)
		counts[rule.kind] = n
		if p.recorder != nil {
			p.recorder.Log(audit.EventPIIScrubbed, map[string]interface{}{
				"type":  string(rule.kind),
				"count": n,
			})
		}
	}
	return text, counts
}
