package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/chain"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/config"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/guardrails"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/logging"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/metrics"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/policy"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/provider"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/quality"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/storage"
)

// Caller identity headers. Authentication happens upstream.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserTier  = "X-User-Tier"
	HeaderConsent   = "X-User-Consent"
	HeaderRequestID = "X-Guardrail-Request-ID"
)

// HandlerConfig holds the dependencies of the HTTP surface
type HandlerConfig struct {
	Config     *config.Config
	Guardrails *guardrails.Guardrails
	Router     *provider.Router // nil or empty disables generation
	Usage      storage.UsageLog // nil disables the usage log and /history
	Breaker    *CircuitBreaker  // nil means no breaker
	Health     HealthChecker    // nil means /ready always succeeds
	Logger     *zap.Logger
}

// HealthChecker reports whether a backing store can serve requests
type HealthChecker interface {
	Health(ctx context.Context) error
}

const readyTimeout = 2 * time.Second

// GuardrailErrorResponse is returned for malformed requests and server errors
type GuardrailErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Code      string `json:"code"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id"`
}

// NewServer registers every route on a new mux
func NewServer(hc *HandlerConfig) http.Handler {
	hc.Logger = logging.OrNop(hc.Logger)
	if hc.Config == nil {
		hc.Config = config.Load()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", hc.handleHealth)
	mux.HandleFunc("GET /ready", hc.handleReady)
	mux.HandleFunc("GET /api/status", hc.handleStatus)

	mux.HandleFunc("POST /api/ai/generate", hc.handleGenerate)
	mux.HandleFunc("GET /api/ai/usage", hc.handleUsage)
	mux.HandleFunc("GET /api/ai/history", hc.handleHistory)

	mux.HandleFunc("POST /api/ai/validate/request", hc.handleValidateRequest)
	mux.HandleFunc("POST /api/ai/validate/response", hc.handleValidateResponse)
	mux.HandleFunc("GET /api/ai/disclosure", hc.handleDisclosure)
	mux.HandleFunc("GET /api/ai/audit", hc.handleAudit)
	mux.HandleFunc("GET /api/ai/performance", hc.handlePerformance)
	mux.HandleFunc("POST /api/ai/compliance/{regime}", hc.handleCompliance)

	if hc.Config.Metrics.Enabled {
		mux.Handle("GET "+hc.Config.Metrics.Endpoint, promhttp.Handler())
	}

	return hc.limitBody(mux)
}

func (hc *HandlerConfig) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if limit := hc.Config.Server.MaxRequestSize; limit > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		next.ServeHTTP(w, r)
	})
}

// userFromRequest reads the caller identity headers
func (hc *HandlerConfig) userFromRequest(r *http.Request) (chain.User, bool) {
	id := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if id == "" {
		return chain.User{}, false
	}
	consent := hc.Config.Guardrails.DefaultConsent
	if v := r.Header.Get(HeaderConsent); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			consent = b
		}
	}
	raw := r.Header.Get(HeaderUserTier)
	tier, known := policy.LookupTier(raw)
	if !known && strings.TrimSpace(raw) != "" {
		hc.Logger.Warn("unknown tier, applying free limits",
			zap.String("user_id", id), zap.String("requested_tier", raw))
	}
	return chain.User{
		ID:           id,
		Tier:         tier,
		ConsentGiven: consent,
	}, true
}

func (hc *HandlerConfig) requireUser(w http.ResponseWriter, r *http.Request) (chain.User, bool) {
	user, ok := hc.userFromRequest(r)
	if !ok {
		sendErrorResponse(w, http.StatusUnauthorized, "missing_user", "X-User-ID header is required", uuid.New().String())
	}
	return user, ok
}

func (hc *HandlerConfig) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "ai-usage-guardrail"})
}

func (hc *HandlerConfig) handleReady(w http.ResponseWriter, r *http.Request) {
	if hc.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := hc.Health.Health(ctx); err != nil {
			hc.Logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (hc *HandlerConfig) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":             "ok",
		"generation_enabled": hc.generationEnabled(),
		"monthly_quotas":     hc.Guardrails.QuotasEnabled(),
		"rate_store":         hc.Config.Guardrails.RateStore,
		"policy_version":     hc.Guardrails.Policies().Current().Version,
	}
	if hc.Router != nil {
		status["providers"] = hc.Router.ListProviders()
	}
	if hc.Breaker != nil {
		status["circuit_breaker"] = hc.Breaker.Stats()
	}
	writeJSON(w, http.StatusOK, status)
}

func (hc *HandlerConfig) handleValidateRequest(w http.ResponseWriter, r *http.Request) {
	user, ok := hc.requireUser(w, r)
	if !ok {
		return
	}
	var body struct {
		Input string `json:"input"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	writeJSON(w, http.StatusOK, hc.Guardrails.ValidateRequest(r.Context(), user, body.Input))
}

type responseValidationBody struct {
	Output       string   `json:"output"`
	TemplateType string   `json:"template_type"`
	Industry     string   `json:"industry"`
	MinLength    int      `json:"min_length"`
	KeyTerms     []string `json:"key_terms"`
}

func (hc *HandlerConfig) handleValidateResponse(w http.ResponseWriter, r *http.Request) {
	var body responseValidationBody
	if !decodeBody(w, r, &body) {
		return
	}
	gen := quality.Context{
		MinLength:    body.MinLength,
		KeyTerms:     body.KeyTerms,
		TemplateType: body.TemplateType,
		Industry:     body.Industry,
	}
	writeJSON(w, http.StatusOK, hc.Guardrails.ValidateResponse(r.Context(), body.Output, gen))
}

func (hc *HandlerConfig) handleDisclosure(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, hc.Guardrails.GetAIDisclosure())
}

func (hc *HandlerConfig) handleAudit(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			sendErrorResponse(w, http.StatusBadRequest, "invalid_since", "since must be an RFC 3339 timestamp", uuid.New().String())
			return
		}
		since = t
	}
	events := hc.Guardrails.GetAuditLog(since)
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events, "count": len(events)})
}

func (hc *HandlerConfig) handlePerformance(w http.ResponseWriter, r *http.Request) {
	m := hc.Guardrails.GetPerformanceMetrics()
	if m == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (hc *HandlerConfig) handleCompliance(w http.ResponseWriter, r *http.Request) {
	var data map[string]interface{}
	if !decodeBody(w, r, &data) {
		return
	}

	var compliant bool
	var issues []string
	switch r.PathValue("regime") {
	case "gdpr":
		compliant, issues = hc.Guardrails.CheckGDPRCompliance(data)
	case "ccpa":
		compliant, issues = hc.Guardrails.CheckCCPACompliance(data)
	default:
		sendErrorResponse(w, http.StatusNotFound, "unknown_regime", "supported regimes: gdpr, ccpa", uuid.New().String())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"compliant": compliant, "issues": issues})
}

func (hc *HandlerConfig) handleUsage(w http.ResponseWriter, r *http.Request) {
	user, ok := hc.requireUser(w, r)
	if !ok {
		return
	}
	if !hc.Guardrails.QuotasEnabled() {
		sendErrorResponse(w, http.StatusNotImplemented, "quota_disabled", "monthly quotas are not enabled", uuid.New().String())
		return
	}

	summary, err := hc.Guardrails.UsageSummary(r.Context(), user.ID, user.Tier)
	if err != nil {
		hc.Logger.Error("failed to load usage summary", zap.String("user_id", user.ID), zap.Error(err))
		sendErrorResponse(w, http.StatusInternalServerError, "usage_error", "Failed to retrieve usage statistics", uuid.New().String())
		return
	}
	resp := map[string]interface{}{
		"subscription_plan": summary.Plan,
		"used_this_month":   summary.Used,
		"monthly_limit":     summary.Limit,
		"remaining":         summary.Remaining,
		"reset_date":        nil,
		"percentage_used":   summary.PercentageUsed,
	}
	if summary.ResetDate != nil {
		resp["reset_date"] = summary.ResetDate.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "usage": resp})
}

func (hc *HandlerConfig) handleHistory(w http.ResponseWriter, r *http.Request) {
	user, ok := hc.requireUser(w, r)
	if !ok {
		return
	}
	if hc.Usage == nil {
		sendErrorResponse(w, http.StatusNotImplemented, "history_disabled", "usage log is not configured", uuid.New().String())
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		limit, _ = strconv.Atoi(s)
	}
	history, err := hc.Usage.ListUsageHistory(r.Context(), user.ID, storage.ClampHistoryLimit(limit))
	if err != nil {
		hc.Logger.Error("failed to load usage history", zap.String("user_id", user.ID), zap.Error(err))
		sendErrorResponse(w, http.StatusInternalServerError, "history_error", "Failed to retrieve usage history", uuid.New().String())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "history": history, "count": len(history)})
}

func (hc *HandlerConfig) generationEnabled() bool {
	return hc.Config.Generation.Enabled && hc.Router != nil && hc.Router.Available()
}

// logUsage appends a usage row. Failures are logged and swallowed.
func (hc *HandlerConfig) logUsage(ctx context.Context, rec *storage.UsageRecord) {
	if hc.Usage == nil {
		return
	}
	rec.Timestamp = time.Now().UTC()
	if err := hc.Usage.InsertUsageLog(ctx, rec); err != nil {
		hc.Logger.Warn("failed to write usage log", zap.String("user_id", rec.UserID), zap.Error(err))
		metrics.RecordStoreError("usage_log")
	}
}

func sendErrorResponse(w http.ResponseWriter, status int, code, message, requestID string) {
	w.Header().Set(HeaderRequestID, requestID)
	writeJSON(w, status, GuardrailErrorResponse{
		Error:     code,
		Code:      code,
		Message:   message,
		RequestID: requestID,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			sendErrorResponse(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large", uuid.New().String())
			return false
		}
		sendErrorResponse(w, http.StatusBadRequest, "invalid_request", "No data provided", uuid.New().String())
		return false
	}
	return true
}
