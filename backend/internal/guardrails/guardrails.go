// Package guardrails wires the inbound and outbound guardrail chains and
// exposes the usage-governance operations used by the HTTP surface.
package guardrails

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/analyzer"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/audit"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/chain"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/guardrails/input"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/guardrails/output"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/logging"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/metrics"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/policy"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/quality"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/quota"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/ratelimit"
)

// Metadata keys set on verdicts
const (
	MetadataDisclosure = "ai_disclosure"
	MetadataRequestID  = "request_id"
	MetadataTimestamp  = "validation_timestamp"
)

// Guardrails runs the request and response pipelines
type Guardrails struct {
	policies policy.Source
	audit    *audit.Logger
	logger   *zap.Logger
	now      func() time.Time
	timeout  time.Duration

	injection *analyzer.InjectionDetector
	content   *analyzer.ContentDetector
	pii       *analyzer.PIIScrubber
	bias      *analyzer.BiasDetector
	scorer    *quality.Scorer

	rateStore  ratelimit.WindowStore
	quotaStore quota.Store
	authorizer input.Authorizer

	rates  *ratelimit.Tracker
	quotas *quota.Tracker
	chain  *chain.GuardrailChain
}

// Option configures a Guardrails instance
type Option func(*Guardrails)

// WithLogger sets the zap logger
func WithLogger(l *zap.Logger) Option {
	return func(g *Guardrails) { g.logger = l }
}

// WithClock overrides the time source of every tracker
func WithClock(now func() time.Time) Option {
	return func(g *Guardrails) { g.now = now }
}

// WithAuditLogger replaces the in-memory audit log
func WithAuditLogger(l *audit.Logger) Option {
	return func(g *Guardrails) { g.audit = l }
}

// WithRateStore sets the sliding-window store. Defaults to process memory.
func WithRateStore(s ratelimit.WindowStore) Option {
	return func(g *Guardrails) { g.rateStore = s }
}

// WithQuotaStore enables monthly quotas backed by s
func WithQuotaStore(s quota.Store) Option {
	return func(g *Guardrails) { g.quotaStore = s }
}

// WithAuthorizer delegates the consent decision
func WithAuthorizer(a input.Authorizer) Option {
	return func(g *Guardrails) { g.authorizer = a }
}

// WithStorageTimeout bounds every store call made by the trackers
func WithStorageTimeout(d time.Duration) Option {
	return func(g *Guardrails) { g.timeout = d }
}

// New builds both pipelines. A nil policies source uses the default policy.
func New(policies policy.Source, opts ...Option) *Guardrails {
	if policies == nil {
		policies = policy.Static(nil)
	}
	g := &Guardrails{
		policies: policies,
		now:      func() time.Time { return time.Now().UTC() },
		timeout:  2 * time.Second,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logging.OrNop(g.logger)
	if g.audit == nil {
		var err error
		if g.audit, err = audit.NewLogger("", g.logger); err != nil {
			g.audit = audit.NewMemoryLogger()
		}
	}
	if g.rateStore == nil {
		g.rateStore = ratelimit.NewMemoryStore(time.Hour)
	}

	g.injection = analyzer.NewInjectionDetector(g.audit)
	g.content = analyzer.NewContentDetector(g.audit)
	g.pii = analyzer.NewPIIScrubber(g.audit)
	g.bias = analyzer.NewBiasDetector(policies, g.audit)
	g.scorer = quality.NewScorer(policies, g.audit)

	g.rates = ratelimit.NewTracker(g.rateStore, policies, g.audit,
		ratelimit.WithClock(g.now), ratelimit.WithTimeout(g.timeout), ratelimit.WithLogger(g.logger))
	if g.quotaStore != nil {
		g.quotas = quota.NewTracker(g.quotaStore, policies, g.audit,
			quota.WithClock(g.now), quota.WithTimeout(g.timeout), quota.WithLogger(g.logger))
	}

	g.chain = chain.NewGuardrailChain([]chain.Guardrail{
		input.NewConsentGuardrail(g.authorizer, g.audit),
		input.NewMonthlyQuotaGuardrail(g.quotas),
		input.NewRateLimitGuardrail(g.rates),
		input.NewInputValidationGuardrail(policies, g.injection, g.content, g.audit),
		input.NewSanitizeGuardrail(g.pii),
		input.NewSuspiciousActivityGuardrail(g.rates),
		output.NewQualityGuardrail(g.scorer),
		output.NewBiasGuardrail(g.bias),
		output.NewContentModerationGuardrail(g.content),
	}, g.logger)

	return g
}

// ValidateRequest runs the inbound pipeline. The first failing gate ends
// the run and SanitizedText stays empty.
func (g *Guardrails) ValidateRequest(ctx context.Context, user chain.User, text string) *chain.Verdict {
	start := time.Now()
	tier, known := policy.LookupTier(string(user.Tier))
	if !known && user.Tier != "" {
		g.logger.Warn("unknown tier, applying free limits",
			zap.String("user_id", user.ID), zap.String("requested_tier", string(user.Tier)))
	}
	user.Tier = tier

	gc := chain.NewContext(user, text)
	gc.Timestamp = g.now()
	v := chain.NewVerdict()
	defer func() { metrics.RecordValidation("request", v.Valid, time.Since(start).Seconds()) }()

	g.chain.ExecuteInput(ctx, gc, v)
	g.auditGuardrailErrors(gc, user.ID)

	if !v.Valid {
		g.logger.Info("request rejected",
			zap.String("request_id", gc.RequestID),
			zap.String("user_id", user.ID),
			zap.Int("errors", len(v.Errors)))
		return v
	}

	v.SanitizedText = gc.Sanitized
	v.Metadata[MetadataDisclosure] = g.GetAIDisclosure()
	v.Metadata[MetadataRequestID] = gc.RequestID
	if remaining, ok := gc.Metadata[input.MetadataRemainingMonthly]; ok {
		v.Metadata[input.MetadataRemainingMonthly] = remaining
	}

	g.audit.Log(audit.EventRequestValidated, map[string]interface{}{
		"user_id":      user.ID,
		"tier":         string(user.Tier),
		"input_length": len(text),
	})
	return v
}

// ValidateResponse runs every outbound check and reports all failures.
// An invalid verdict means the caller must serve fallback content.
func (g *Guardrails) ValidateResponse(ctx context.Context, text string, gen quality.Context) *chain.Verdict {
	start := time.Now()

	gc := chain.NewOutputContext(text, gen)
	gc.Timestamp = g.now()
	v := chain.NewVerdict()

	g.chain.ExecuteOutput(ctx, gc, v)
	g.auditGuardrailErrors(gc, "")

	v.QualityScores = gc.QualityScores
	v.BiasScores = gc.BiasScores
	v.Metadata[MetadataDisclosure] = g.GetAIDisclosure()
	v.Metadata[MetadataTimestamp] = gc.Timestamp.Format(time.RFC3339)

	g.audit.Log(audit.EventOutputValidated, map[string]interface{}{
		"quality_score": gc.QualityScores["overall"],
		"bias_detected": len(gc.ViolationsOfType("bias")) > 0,
		"valid":         v.Valid,
	})

	metrics.RecordValidation("response", v.Valid, time.Since(start).Seconds())
	return v
}

// auditGuardrailErrors records each blocking guardrail that failed to run,
// since the caller only sees chain.ErrorMessage
func (g *Guardrails) auditGuardrailErrors(gc *chain.Context, userID string) {
	for _, viol := range gc.ViolationsOfType(chain.ViolationGuardrailError) {
		details := map[string]interface{}{
			"guardrail":  viol.GuardrailName,
			"request_id": gc.RequestID,
			"error":      viol.Details["error"],
		}
		if userID != "" {
			details["user_id"] = userID
		}
		g.audit.Log(audit.EventValidationError, details)
	}
}

// GetFallbackContent returns the pre-approved template for contentType,
// or the default template for unknown types
func (g *Guardrails) GetFallbackContent(contentType string) string {
	g.audit.Log(audit.EventFallbackUsed, map[string]interface{}{"type": contentType})
	metrics.RecordFallback(contentType)
	return g.policies.Current().FallbackTemplate(contentType)
}

// Disclosure is the AI transparency block attached to every verdict
type Disclosure struct {
	AIGenerated    bool     `json:"ai_generated"`
	Disclosure     string   `json:"disclosure"`
	Limitations    []string `json:"limitations"`
	SafetyMeasures []string `json:"safety_measures"`
}

// GetAIDisclosure returns the static disclosure block
func (g *Guardrails) GetAIDisclosure() Disclosure {
	d := Disclosure{
		AIGenerated: true,
		Disclosure:  "This content was generated with AI assistance and reviewed for quality and safety.",
		Limitations: []string{
			"AI-generated content should be reviewed by professionals",
			"Content may require customization for specific use cases",
			"Human oversight is recommended for critical decisions",
		},
		SafetyMeasures: []string{
			"Content filtered for safety and appropriateness",
			"Bias detection and mitigation applied",
			"Quality assurance validation performed",
			"Privacy protection measures enforced",
		},
	}
	if g.quotas != nil {
		d.SafetyMeasures = append(d.SafetyMeasures, "Usage limits enforced per subscription tier")
	}
	return d
}

// DetectPromptInjection reports the first matching injection pattern
func (g *Guardrails) DetectPromptInjection(text string) (bool, string) {
	found, label := g.injection.DetectWithDetails(text)
	if !found {
		return false, ""
	}
	return true, g.injection.Reason(label)
}

// DetectInappropriateContent reports the first matching keyword
func (g *Guardrails) DetectInappropriateContent(text string) (bool, string) {
	found, kw := g.content.Detect(text)
	if !found {
		return false, ""
	}
	return true, g.content.Reason(kw)
}

// ScrubPII redacts every PII category
func (g *Guardrails) ScrubPII(text string) string {
	out, _ := g.pii.Scrub(text)
	return out
}

// ValidateInput applies the length, injection and content checks alone
func (g *Guardrails) ValidateInput(ctx context.Context, text string) (bool, string) {
	gv := input.NewInputValidationGuardrail(g.policies, g.injection, g.content, g.audit)
	res, err := gv.Execute(ctx, chain.NewContext(chain.User{}, text))
	if err != nil {
		return false, chain.ErrorMessage
	}
	return res.Passed, res.Message
}

// SanitizeInput scrubs PII, strips markup and normalizes whitespace
func (g *Guardrails) SanitizeInput(text string) string {
	return input.Sanitize(g.pii, text)
}

// DetectBias returns the per-category bias scores
func (g *Guardrails) DetectBias(text string) map[string]float64 {
	return g.bias.Detect(text)
}

// AssessBiasLevel reports whether any category exceeds the threshold
func (g *Guardrails) AssessBiasLevel(text string) (bool, map[string]float64) {
	return g.bias.Assess(text)
}

// AssessQuality scores text without applying the threshold
func (g *Guardrails) AssessQuality(text string, gen quality.Context) quality.Scores {
	return g.scorer.Assess(text, gen)
}

// ValidateQuality scores text and applies the threshold
func (g *Guardrails) ValidateQuality(text string, gen quality.Context) (bool, quality.Scores) {
	return g.scorer.Validate(text, gen)
}

// CheckRateLimit checks and records one request for the user
func (g *Guardrails) CheckRateLimit(ctx context.Context, userID string, tier policy.Tier) (bool, string) {
	return g.rates.CheckRateLimit(ctx, userID, policy.ParseTier(string(tier)))
}

// DetectSuspiciousActivity reports a burst in the trailing minute
func (g *Guardrails) DetectSuspiciousActivity(ctx context.Context, userID string) bool {
	return g.rates.DetectSuspiciousActivity(ctx, userID)
}

// QuotasEnabled reports whether monthly quotas are enforced
func (g *Guardrails) QuotasEnabled() bool {
	return g.quotas != nil
}

// CheckMonthlyLimit reports whether the user has generations left.
// Without a quota store every user is allowed.
func (g *Guardrails) CheckMonthlyLimit(ctx context.Context, userID string, tier policy.Tier) (bool, string) {
	if g.quotas == nil {
		return true, ""
	}
	ok, _, msg := g.quotas.CheckMonthlyLimit(ctx, userID, policy.ParseTier(string(tier)))
	return ok, msg
}

// IncrementUsage counts one successful generation
func (g *Guardrails) IncrementUsage(ctx context.Context, userID string) error {
	if g.quotas == nil {
		return nil
	}
	return g.quotas.IncrementUsage(ctx, userID)
}

// ReserveGeneration atomically claims a generation before it runs
func (g *Guardrails) ReserveGeneration(ctx context.Context, userID string, tier policy.Tier) (bool, string) {
	if g.quotas == nil {
		return true, ""
	}
	return g.quotas.Reserve(ctx, userID, policy.ParseTier(string(tier)))
}

// ReleaseGeneration returns a reservation that ended in fallback
func (g *Guardrails) ReleaseGeneration(ctx context.Context, userID string) error {
	if g.quotas == nil {
		return nil
	}
	return g.quotas.Release(ctx, userID)
}

// UsageSummary returns the user's monthly usage
func (g *Guardrails) UsageSummary(ctx context.Context, userID string, tier policy.Tier) (quota.Summary, error) {
	if g.quotas == nil {
		return quota.Summary{}, fmt.Errorf("monthly quotas are not enabled")
	}
	return g.quotas.Summary(ctx, userID, policy.ParseTier(string(tier)))
}

// VerifyUserConsent runs the consent gate alone
func (g *Guardrails) VerifyUserConsent(ctx context.Context, user chain.User) bool {
	res, err := input.NewConsentGuardrail(g.authorizer, nil).Execute(ctx, chain.NewContext(user, ""))
	if err != nil {
		g.logger.Warn("consent check failed", zap.String("user_id", user.ID), zap.Error(err))
		return false
	}
	return res.Passed
}

// GetAuditLog returns events at or after since. A zero since returns all.
func (g *Guardrails) GetAuditLog(since time.Time) []audit.Event {
	return g.audit.Events(since)
}

// PerformanceMetrics summarizes recent output quality
type PerformanceMetrics struct {
	AverageQualityScore        float64 `json:"average_quality_score"`
	TotalRequests              int     `json:"total_requests"`
	RecentRequests             int     `json:"recent_requests"`
	QualityThresholdCompliance float64 `json:"quality_threshold_compliance"`
	AuditEvents                int     `json:"audit_events"`
}

// GetPerformanceMetrics returns nil until at least one output was scored
func (g *Guardrails) GetPerformanceMetrics() *PerformanceMetrics {
	stats := g.scorer.Stats()
	if stats.TotalAssessments == 0 {
		return nil
	}
	return &PerformanceMetrics{
		AverageQualityScore:        stats.AverageQuality,
		TotalRequests:              stats.TotalAssessments,
		RecentRequests:             stats.RecentAssessments,
		QualityThresholdCompliance: stats.ThresholdCompliance,
		AuditEvents:                g.audit.Count(),
	}
}

// CheckGDPRCompliance checks consent, data minimization and transparency
func (g *Guardrails) CheckGDPRCompliance(data map[string]interface{}) (bool, []string) {
	issues := make([]string, 0)
	if !truthy(data["user_consent"]) {
		issues = append(issues, "User consent not obtained")
	}
	if strings.Contains(strings.ToLower(fmt.Sprint(data)), "pii") {
		issues = append(issues, "Potential PII present in data")
	}
	if !truthy(data["ai_disclosure"]) {
		issues = append(issues, "AI usage disclosure not provided")
	}
	return len(issues) == 0, issues
}

// CheckCCPACompliance checks opt-out and deletion capability
func (g *Guardrails) CheckCCPACompliance(data map[string]interface{}) (bool, []string) {
	issues := make([]string, 0)
	if !truthy(data["opt_out_available"]) {
		issues = append(issues, "Opt-out mechanism not available")
	}
	if !truthy(data["deletion_capability"]) {
		issues = append(issues, "Data deletion capability not implemented")
	}
	return len(issues) == 0, issues
}

// truthy follows JSON-ish truthiness: false, zero, "" and empty
// collections are false
func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	default:
		return true
	}
}

// Audit exposes the audit log
func (g *Guardrails) Audit() *audit.Logger {
	return g.audit
}

// Policies exposes the active policy source
func (g *Guardrails) Policies() policy.Source {
	return g.policies
}
