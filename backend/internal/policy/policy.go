package policy

import (
	"fmt"
	"strings"
)

// Tier is a subscription plan
type Tier string

const (
	TierFree         Tier = "free"
	TierStarter      Tier = "starter"
	TierIndividual   Tier = "individual"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

// ParseTier normalizes a tier name. Unknown names map to free.
func ParseTier(s string) Tier {
	t, _ := LookupTier(s)
	return t
}

// LookupTier is ParseTier that also reports whether s named a known tier.
// Callers use it to log requests that were downgraded to free.
func LookupTier(s string) (Tier, bool) {
	switch t := Tier(strings.ToLower(strings.TrimSpace(s))); t {
	case TierFree, TierStarter, TierIndividual, TierProfessional, TierEnterprise:
		return t, true
	default:
		return TierFree, false
	}
}

// Policy holds the usage-governance tables and thresholds for a deployment
type Policy struct {
	ID                string              `yaml:"id" json:"id"`
	Name              string              `yaml:"name" json:"name"`
	Description       string              `yaml:"description" json:"description"`
	Version           string              `yaml:"version" json:"version"`
	Tiers             map[Tier]TierLimits `yaml:"tiers" json:"tiers"`
	Thresholds        Thresholds          `yaml:"thresholds" json:"thresholds"`
	FallbackTemplates map[string]string   `yaml:"fallback_templates" json:"fallback_templates"`
}

// TierLimits are the hourly and monthly allowances of one tier
type TierLimits struct {
	RequestsPerHour    int `yaml:"requests_per_hour" json:"requests_per_hour"`
	MonthlyGenerations int `yaml:"monthly_generations" json:"monthly_generations"`
}

// Thresholds configures the validation pipelines
type Thresholds struct {
	MinQualityScore             float64 `yaml:"min_quality_score" json:"min_quality_score"`
	MaxBiasScore                float64 `yaml:"max_bias_score" json:"max_bias_score"`
	MinInputLength              int     `yaml:"min_input_length" json:"min_input_length"`
	SuspiciousRequestsPerMinute int     `yaml:"suspicious_requests_per_minute" json:"suspicious_requests_per_minute"`
}

// DefaultFallbackKey selects the generic fallback template
const DefaultFallbackKey = "default"

// DefaultPolicy returns the built-in tier tables and thresholds
func DefaultPolicy() *Policy {
	return &Policy{
		ID:          "default",
		Name:        "Default Usage Policy",
		Description: "Tier limits and content thresholds for AI template generation",
		Version:     "1.0.0",
		Tiers: map[Tier]TierLimits{
			TierFree:         {RequestsPerHour: 10, MonthlyGenerations: 3},
			TierStarter:      {RequestsPerHour: 50, MonthlyGenerations: 3},
			TierIndividual:   {RequestsPerHour: 50, MonthlyGenerations: 3},
			TierProfessional: {RequestsPerHour: 200, MonthlyGenerations: 25},
			TierEnterprise:   {RequestsPerHour: 10, MonthlyGenerations: 100},
		},
		Thresholds: Thresholds{
			MinQualityScore:             0.85,
			MaxBiasScore:                0.05,
			MinInputLength:              10,
			SuspiciousRequestsPerMinute: 5,
		},
		FallbackTemplates: map[string]string{
			"project_charter":  "Professional project charter template with PMI 2025 standards...",
			"risk_register":    "Comprehensive risk register following industry best practices...",
			DefaultFallbackKey: "Professional project management template...",
		},
	}
}

// applyDefaults fills anything a policy file left out from DefaultPolicy
func (p *Policy) applyDefaults() {
	def := DefaultPolicy()

	if p.Name == "" {
		p.Name = p.ID
	}
	if p.Version == "" {
		p.Version = def.Version
	}
	if p.Tiers == nil {
		p.Tiers = make(map[Tier]TierLimits)
	}
	for tier, limits := range def.Tiers {
		if _, ok := p.Tiers[tier]; !ok {
			p.Tiers[tier] = limits
		}
	}
	if p.Thresholds.MinQualityScore <= 0 {
		p.Thresholds.MinQualityScore = def.Thresholds.MinQualityScore
	}
	if p.Thresholds.MaxBiasScore <= 0 {
		p.Thresholds.MaxBiasScore = def.Thresholds.MaxBiasScore
	}
	if p.Thresholds.MinInputLength <= 0 {
		p.Thresholds.MinInputLength = def.Thresholds.MinInputLength
	}
	if p.Thresholds.SuspiciousRequestsPerMinute <= 0 {
		p.Thresholds.SuspiciousRequestsPerMinute = def.Thresholds.SuspiciousRequestsPerMinute
	}
	if p.FallbackTemplates == nil {
		p.FallbackTemplates = make(map[string]string)
	}
	for k, v := range def.FallbackTemplates {
		if _, ok := p.FallbackTemplates[k]; !ok {
			p.FallbackTemplates[k] = v
		}
	}
}

// Validate checks that every limit is usable
func (p *Policy) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("policy ID is required")
	}
	for tier, limits := range p.Tiers {
		if limits.RequestsPerHour < 0 || limits.MonthlyGenerations < 0 {
			return fmt.Errorf("tier %s: limits must not be negative", tier)
		}
	}
	if p.Thresholds.MinQualityScore > 1 {
		return fmt.Errorf("min_quality_score must be within [0,1], got %v", p.Thresholds.MinQualityScore)
	}
	return nil
}

func (p *Policy) limits(tier Tier) TierLimits {
	if l, ok := p.Tiers[tier]; ok {
		return l
	}
	return p.Tiers[TierFree]
}

// HourlyLimit returns the requests-per-hour cap, falling back to free
func (p *Policy) HourlyLimit(tier Tier) int {
	return p.limits(tier).RequestsPerHour
}

// MonthlyLimit returns the generations-per-month cap, falling back to free
func (p *Policy) MonthlyLimit(tier Tier) int {
	return p.limits(tier).MonthlyGenerations
}

// FallbackTemplate returns the template for contentType or the default one
func (p *Policy) FallbackTemplate(contentType string) string {
	if t, ok := p.FallbackTemplates[contentType]; ok {
		return t
	}
	return p.FallbackTemplates[DefaultFallbackKey]
}

// Source yields the policy in force. *Loader implements it.
type Source interface {
	Current() *Policy
}

type staticSource struct{ p *Policy }

func (s staticSource) Current() *Policy { return s.p }

// Static wraps a fixed policy as a Source. A nil policy means DefaultPolicy.
func Static(p *Policy) Source {
	if p == nil {
		p = DefaultPolicy()
	}
	return staticSource{p: p}
}
