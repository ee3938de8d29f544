package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/chain"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/guardrails/input"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/metrics"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/provider"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/quality"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/storage"
)

const (
	defaultTemplateType = "project_charter"
	defaultIndustry     = "general"
	outputMinLength     = 200
)

// Fallback messages returned to the caller
const (
	MessageGenerationUnavailable = "AI generation not available, using pre-built template"
	MessageOutputRejected        = "AI output did not meet quality standards, using pre-built template"
)

// GenerateRequest is the body of POST /api/ai/generate
type GenerateRequest struct {
	TemplateType           string `json:"template_type"`
	ProjectDescription     string `json:"project_description"`
	Industry               string `json:"industry"`
	AdditionalRequirements string `json:"additional_requirements"`
}

// generation carries one request through the generate flow
type generation struct {
	user     chain.User
	req      GenerateRequest
	input    string
	reserved bool
}

func (g *generation) metadata(extra map[string]interface{}) map[string]interface{} {
	m := map[string]interface{}{
		"template_type": g.req.TemplateType,
		"industry":      g.req.Industry,
		"generated_at":  time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range extra {
		m[k] = v
	}
	return m
}

func (hc *HandlerConfig) handleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := hc.requireUser(w, r)
	if !ok {
		return
	}

	var body GenerateRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if body.TemplateType == "" {
		body.TemplateType = defaultTemplateType
	}
	if body.Industry == "" {
		body.Industry = defaultIndustry
	}

	gen := &generation{
		user:  user,
		req:   body,
		input: strings.TrimSpace(body.ProjectDescription + " " + body.AdditionalRequirements),
	}
	if gen.input == "" {
		sendErrorResponse(w, http.StatusBadRequest, "invalid_request", "Project description is required", uuid.New().String())
		return
	}

	verdict := hc.Guardrails.ValidateRequest(ctx, user, gen.input)
	if !verdict.Valid {
		hc.logUsage(ctx, gen.record(storage.RequestTypeGenerate, false, 0, strings.Join(verdict.Errors, "; ")))
		metrics.RecordGeneration("rejected")
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success":           false,
			"error":             "Input validation failed",
			"details":           verdict.Errors,
			"warnings":          verdict.Warnings,
			"remaining_monthly": verdict.Metadata[input.MetadataRemainingMonthly],
		})
		return
	}

	if hc.Config.Guardrails.AtomicQuota && hc.Guardrails.QuotasEnabled() {
		allowed, msg := hc.Guardrails.ReserveGeneration(ctx, user.ID, user.Tier)
		if !allowed {
			hc.logUsage(ctx, gen.record(storage.RequestTypeGenerate, false, 0, msg))
			metrics.RecordGeneration("rejected")
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"success":  false,
				"error":    "Input validation failed",
				"details":  []string{msg},
				"warnings": verdict.Warnings,
			})
			return
		}
		gen.reserved = true
	}

	if !hc.generationEnabled() {
		hc.serveFallback(ctx, w, gen, "", MessageGenerationUnavailable, nil)
		return
	}

	resp, err := hc.generate(ctx, gen, verdict.SanitizedText)
	if err != nil {
		hc.Logger.Warn("generation failed",
			zap.String("user_id", user.ID),
			zap.String("template_type", body.TemplateType),
			zap.Error(err))
		hc.serveFallback(ctx, w, gen, err.Error(), "AI generation failed: "+err.Error(), nil)
		return
	}

	outVerdict := hc.Guardrails.ValidateResponse(ctx, resp.Content, quality.Context{
		MinLength:    outputMinLength,
		KeyTerms:     []string{body.TemplateType, body.Industry, "project"},
		TemplateType: body.TemplateType,
		Industry:     body.Industry,
	})
	if !outVerdict.Valid {
		hc.serveFallback(ctx, w, gen, "Output validation failed", MessageOutputRejected, map[string]interface{}{
			"validation_details": map[string]interface{}{
				"errors":         outVerdict.Errors,
				"warnings":       outVerdict.Warnings,
				"quality_scores": outVerdict.QualityScores,
				"bias_scores":    outVerdict.BiasScores,
			},
		})
		return
	}

	if !gen.reserved {
		if err := hc.Guardrails.IncrementUsage(ctx, user.ID); err != nil {
			hc.Logger.Warn("failed to count generation", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	tokens := provider.ApproximateTokens(resp.Content)
	rec := gen.record(storage.RequestTypeGenerate, true, tokens, "")
	rec.OutputLength = len(resp.Content)
	hc.logUsage(ctx, rec)
	metrics.RecordGeneration("success")

	merged := gen.metadata(map[string]interface{}{"model": resp.Model, "tokens_used": tokens})
	for k, v := range verdict.Metadata {
		merged[k] = v
	}
	for k, v := range outVerdict.Metadata {
		merged[k] = v
	}

	out := map[string]interface{}{
		"success":        true,
		"content":        resp.Content,
		"ai_generated":   true,
		"fallback_used":  false,
		"quality_scores": outVerdict.QualityScores,
		"bias_scores":    outVerdict.BiasScores,
		"metadata":       merged,
		"warnings":       append(verdict.Warnings, outVerdict.Warnings...),
	}
	if hc.Guardrails.QuotasEnabled() {
		if summary, err := hc.Guardrails.UsageSummary(ctx, user.ID, user.Tier); err == nil {
			usage := map[string]interface{}{
				"used_this_month": summary.Used,
				"monthly_limit":   summary.Limit,
				"remaining":       summary.Remaining,
			}
			if summary.ResetDate != nil {
				usage["reset_date"] = summary.ResetDate.Format(time.RFC3339)
			}
			out["usage"] = usage
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// generate calls the routed provider behind the circuit breaker
func (hc *HandlerConfig) generate(ctx context.Context, gen *generation, sanitized string) (*provider.Response, error) {
	req := &provider.Request{
		SystemPrompt: provider.SystemPrompt,
		Prompt:       provider.BuildPrompt(gen.req.TemplateType, gen.req.Industry, sanitized),
		MaxTokens:    hc.Config.Generation.MaxTokens,
		Temperature:  hc.Config.Generation.Temperature,
	}
	p, err := hc.Router.Route(req)
	if err != nil {
		return nil, err
	}

	if hc.Config.Generation.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, hc.Config.Generation.Timeout)
		defer cancel()
	}

	var resp *provider.Response
	call := func(ctx context.Context) error {
		var err error
		resp, err = p.Generate(ctx, req)
		return err
	}
	if hc.Breaker != nil {
		err = hc.Breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			metrics.RecordGeneration("circuit_open")
		} else {
			metrics.RecordGeneration("error")
		}
		return nil, fmt.Errorf("%s: %w", p.Name(), err)
	}
	return resp, nil
}

// serveFallback answers with the pre-approved template and returns any
// reserved generation. It writes the request's only usage-log row; cause is
// empty when generation is switched off and otherwise names the failure.
func (hc *HandlerConfig) serveFallback(ctx context.Context, w http.ResponseWriter, gen *generation, cause, message string, extra map[string]interface{}) {
	if gen.reserved {
		if err := hc.Guardrails.ReleaseGeneration(ctx, gen.user.ID); err != nil {
			hc.Logger.Warn("failed to release reservation", zap.String("user_id", gen.user.ID), zap.Error(err))
		}
	}

	content := hc.Guardrails.GetFallbackContent(gen.req.TemplateType)
	rec := gen.record(storage.RequestTypeGenerateFallback, cause == "", provider.ApproximateTokens(content), cause)
	rec.OutputLength = len(content)
	hc.logUsage(ctx, rec)
	metrics.RecordGeneration("fallback")

	out := map[string]interface{}{
		"success":       true,
		"content":       content,
		"ai_generated":  false,
		"fallback_used": true,
		"message":       message,
		"metadata":      gen.metadata(map[string]interface{}{"disclosure": hc.Guardrails.GetAIDisclosure()}),
	}
	for k, v := range extra {
		out[k] = v
	}
	writeJSON(w, http.StatusOK, out)
}

func (g *generation) record(requestType string, success bool, tokens int, errMsg string) *storage.UsageRecord {
	meta, _ := json.Marshal(map[string]string{"industry": g.req.Industry, "tier": string(g.user.Tier)})
	return &storage.UsageRecord{
		UserID:       g.user.ID,
		RequestType:  requestType,
		TemplateType: g.req.TemplateType,
		Success:      success,
		TokensUsed:   tokens,
		InputLength:  len(g.input),
		ErrorMessage: errMsg,
		Metadata:     meta,
	}
}
