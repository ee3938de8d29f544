package analyzer

import (
	"regexp"
	"strings"

	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/audit"
)

// Patterns checked in order against the lowercased input.
// The first match wins and its source is reported as the label.
var injectionPatterns = []string{
	`ignore\s+previous\s+instructions`,
	`disregard\s+all\s+previous`,
	`forget\s+everything`,
	`system\s+prompt`,
	`<script>`,
	`javascript:`,
	`eval\(`,
	`exec\(`,
	`__import__`,
	`subprocess`,
	`os\.system`,
}

// InjectionDetector detects prompt injection and code injection attempts
type InjectionDetector struct {
	patterns []*regexp.Regexp
	recorder audit.Recorder
}

// NewInjectionDetector creates a new InjectionDetector. recorder may be nil.
func NewInjectionDetector(recorder audit.Recorder) *InjectionDetector {
	compiled := make([]*regexp.Regexp, len(injectionPatterns))
	for i, p := range injectionPatterns {
		compiled[i] = regexp.MustCompile(p)
	}

	return &InjectionDetector{patterns: compiled, recorder: recorder}
}

// Detect returns true if prompt injection is detected
func (d *InjectionDetector) Detect(text string) bool {
	found, _ := d.DetectWithDetails(text)
	return found
}

// DetectWithDetails returns the detection result and the matched pattern source.
// A hit is recorded as a malicious_prompt_detected audit event.
func (d *InjectionDetector) DetectWithDetails(text string) (bool, string) {
	text = strings.ToLower(text)

	for _, pattern := range d.patterns {
		if pattern.MatchString(text) {
			label := pattern.String()
			if d.recorder != nil {
				d.recorder.Log(audit.EventMaliciousPrompt, map[string]interface{}{"pattern": label})
			}
			return true, label
		}
	}
	return false, ""
}

// Reason formats the user-facing rejection reason for a matched pattern
func (d *InjectionDetector) Reason(label string) string {
	return "Detected potential prompt injection: " + label
}
