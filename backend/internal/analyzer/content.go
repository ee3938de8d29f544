package analyzer

import (
	"strings"

	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/audit"
)

var inappropriateKeywords = []string{
	"profanity",
	"offensive",
	"discriminatory",
	"hate speech",
	"violent",
	"explicit",
	"illegal",
	"unethical",
}

// ContentDetector flags inappropriate content by keyword
type ContentDetector struct {
	keywords []string
	recorder audit.Recorder
}

// NewContentDetector creates a new ContentDetector. recorder may be nil.
func NewContentDetector(recorder audit.Recorder) *ContentDetector {
	return &ContentDetector{keywords: inappropriateKeywords, recorder: recorder}
}

// Detect returns the first keyword contained in text, case-insensitively.
// Matching is by substring, so "nonviolent" still trips "violent".
func (c *ContentDetector) Detect(text string) (bool, string) {
	lowered := strings.ToLower(text)

	for _, kw := range c.keywords {
		if strings.Contains(lowered, kw) {
			if c.recorder != nil {
				c.recorder.Log(audit.EventInappropriateContent, map[string]interface{}{"keyword": kw})
			}
			return true, kw
		}
	}
	return false, ""
}

// Reason formats the user-facing rejection reason for a matched keyword
func (c *ContentDetector) Reason(keyword string) string {
	return "Detected inappropriate content: " + keyword
}
