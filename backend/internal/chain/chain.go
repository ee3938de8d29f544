package chain

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/logging"
)

// ErrorMessage is reported when a blocking guardrail cannot reach a decision
const ErrorMessage = "Request could not be validated"

// ViolationGuardrailError marks a blocking guardrail that failed to run
const ViolationGuardrailError = "guardrail_error"

// Result represents the outcome of a guardrail execution
type Result struct {
	Passed     bool        `json:"passed"`
	Action     ActionType  `json:"action"`
	Message    string      `json:"message,omitempty"`
	Violations []Violation `json:"violations,omitempty"`
	// With ActionRedact, the new working text
	ModifiedText string `json:"modified_text,omitempty"`
}

// Pass is the result of a guardrail that found nothing
func Pass() *Result {
	return &Result{Passed: true, Action: ActionPass}
}

// Guardrail is the interface that all guardrails must implement
type Guardrail interface {
	// Name returns the unique identifier for this guardrail
	Name() string

	// Type returns whether this is an input or output guardrail
	Type() GuardrailType

	// Execute runs the guardrail check against the context
	Execute(ctx context.Context, gc *Context) (*Result, error)

	// Priority returns the execution order (lower = earlier)
	Priority() int

	// IsEnabled returns whether this guardrail is currently active
	IsEnabled() bool
}

// Advisory is implemented by guardrails that only ever warn. An advisory
// guardrail that errors is skipped instead of failing the request.
type Advisory interface {
	Advisory() bool
}

func isAdvisory(g Guardrail) bool {
	a, ok := g.(Advisory)
	return ok && a.Advisory()
}

// GuardrailChain manages and executes a collection of guardrails.
// Input guardrails stop at the first block; output guardrails all run and
// every block is reported.
type GuardrailChain struct {
	inputGuardrails  []Guardrail
	outputGuardrails []Guardrail
	logger           *zap.Logger
}

// NewGuardrailChain creates a new chain with the given guardrails
func NewGuardrailChain(guardrails []Guardrail, logger *zap.Logger) *GuardrailChain {
	logger = logging.OrNop(logger)
	c := &GuardrailChain{
		inputGuardrails:  make([]Guardrail, 0),
		outputGuardrails: make([]Guardrail, 0),
		logger:           logger,
	}
	for _, g := range guardrails {
		c.AddGuardrail(g)
	}
	return c
}

// AddGuardrail adds a guardrail to the chain at runtime
func (c *GuardrailChain) AddGuardrail(g Guardrail) {
	if !g.IsEnabled() {
		return
	}

	switch g.Type() {
	case GuardrailTypeInput:
		c.inputGuardrails = append(c.inputGuardrails, g)
		sortByPriority(c.inputGuardrails)
	case GuardrailTypeOutput:
		c.outputGuardrails = append(c.outputGuardrails, g)
		sortByPriority(c.outputGuardrails)
	}
}

func sortByPriority(gs []Guardrail) {
	sort.SliceStable(gs, func(i, j int) bool {
		return gs[i].Priority() < gs[j].Priority()
	})
}

// ExecuteInput runs input guardrails in priority order, stopping at the first block
func (c *GuardrailChain) ExecuteInput(ctx context.Context, gc *Context, v *Verdict) {
	c.logger.Debug("executing input guardrails",
		zap.String("request_id", gc.RequestID), zap.Int("count", len(c.inputGuardrails)))
	c.run(ctx, c.inputGuardrails, gc, v, true)
}

// ExecuteOutput runs every output guardrail and accumulates errors
func (c *GuardrailChain) ExecuteOutput(ctx context.Context, gc *Context, v *Verdict) {
	c.logger.Debug("executing output guardrails",
		zap.String("request_id", gc.RequestID), zap.Int("count", len(c.outputGuardrails)))
	c.run(ctx, c.outputGuardrails, gc, v, false)
}

func (c *GuardrailChain) run(ctx context.Context, guardrails []Guardrail, gc *Context, v *Verdict, failFast bool) {
	for _, g := range guardrails {
		result, err := c.execute(ctx, g, gc)
		if err != nil {
			if isAdvisory(g) {
				c.logger.Warn("advisory guardrail failed, skipping",
					zap.String("guardrail", g.Name()), zap.String("request_id", gc.RequestID), zap.Error(err))
				continue
			}
			c.logger.Error("guardrail failed",
				zap.String("guardrail", g.Name()), zap.String("request_id", gc.RequestID), zap.Error(err))
			gc.AddViolation(Violation{
				GuardrailName: g.Name(),
				Type:          ViolationGuardrailError,
				Message:       ErrorMessage,
				Severity:      SeverityHigh,
				Action:        ActionBlock,
				Details:       map[string]interface{}{"error": err.Error()},
			})
			v.AddError(ErrorMessage)
			if failFast {
				return
			}
			continue
		}
		if result == nil {
			continue
		}

		for _, viol := range result.Violations {
			gc.AddViolation(viol)
		}

		switch {
		case !result.Passed && result.Action == ActionBlock:
			v.AddError(result.Message)
			c.logger.Debug("blocked by guardrail",
				zap.String("guardrail", g.Name()), zap.String("request_id", gc.RequestID))
			if failFast {
				return
			}
		case result.Action == ActionRedact:
			gc.Sanitized = result.ModifiedText
		case result.Action == ActionWarn && result.Message != "":
			v.AddWarning(result.Message)
		}
	}
}

// execute converts a panicking guardrail into an error
func (c *GuardrailChain) execute(ctx context.Context, g Guardrail, gc *Context) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("guardrail %s panicked: %v", g.Name(), r)
		}
	}()
	return g.Execute(ctx, gc)
}
