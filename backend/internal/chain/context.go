package chain

import (
	"time"

	"github.com/google/uuid"

	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/policy"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/quality"
)

// GuardrailType indicates whether the guardrail runs on input or output
type GuardrailType string

const (
	GuardrailTypeInput  GuardrailType = "input"
	GuardrailTypeOutput GuardrailType = "output"
)

// ActionType defines what action to take when a guardrail triggers
type ActionType string

const (
	ActionBlock  ActionType = "block"  // Reject the request
	ActionRedact ActionType = "redact" // Replace the working text
	ActionWarn   ActionType = "warn"   // Allow but add warning
	ActionPass   ActionType = "pass"   // Allow through
)

// Severity indicates the severity level of a violation
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Violation represents a policy violation detected by a guardrail
type Violation struct {
	GuardrailName string                 `json:"guardrail_name"`
	Type          string                 `json:"type"`
	Message       string                 `json:"message"`
	Severity      Severity               `json:"severity"`
	Action        ActionType             `json:"action"`
	Details       map[string]interface{} `json:"details,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
}

// User identifies the caller and their plan
type User struct {
	ID           string      `json:"user_id"`
	Tier         policy.Tier `json:"tier"`
	ConsentGiven bool        `json:"consent_given"`
}

// Context carries request information through the guardrail chain
type Context struct {
	// Request identification
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	User User `json:"user"`

	// Input text and its sanitized form. Sanitized starts as a copy of Input.
	Input     string `json:"-"`
	Sanitized string `json:"-"`

	// Output under review and the hints used to score it
	Output     string          `json:"-"`
	Generation quality.Context `json:"generation,omitempty"`

	QualityScores map[string]float64 `json:"quality_scores,omitempty"`
	BiasScores    map[string]float64 `json:"bias_scores,omitempty"`

	Violations []Violation `json:"violations,omitempty"`

	// Arbitrary metadata for passing data between guardrails
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewContext creates a context for an inbound request
func NewContext(user User, input string) *Context {
	return &Context{
		RequestID:  uuid.New().String(),
		Timestamp:  time.Now().UTC(),
		User:       user,
		Input:      input,
		Sanitized:  input,
		Violations: make([]Violation, 0),
		Metadata:   make(map[string]interface{}),
	}
}

// NewOutputContext creates a context for reviewing generated output
func NewOutputContext(output string, gen quality.Context) *Context {
	gc := NewContext(User{}, "")
	gc.Output = output
	gc.Generation = gen
	return gc
}

// AddViolation records a policy violation
func (c *Context) AddViolation(v Violation) {
	v.Timestamp = time.Now().UTC()
	c.Violations = append(c.Violations, v)
}

// ViolationsOfType returns the recorded violations with the given type
func (c *Context) ViolationsOfType(typ string) []Violation {
	var out []Violation
	for _, v := range c.Violations {
		if v.Type == typ {
			out = append(out, v)
		}
	}
	return out
}
