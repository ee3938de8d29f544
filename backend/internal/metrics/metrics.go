package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus collectors for the usage-governance service
var (
	// guardrail_validations_total{pipeline=request|response,outcome=accepted|rejected}
	ValidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardrail_validations_total",
		Help: "Number of pipeline validations by pipeline and outcome",
	}, []string{"pipeline", "outcome"})

	// guardrail_validation_seconds{pipeline}
	ValidationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "guardrail_validation_seconds",
		Help:    "Validation pipeline latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"pipeline"})

	// guardrail_audit_events_total{event_type}
	AuditEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardrail_audit_events_total",
		Help: "Audit events appended, by event type",
	}, []string{"event_type"})

	// guardrail_fallback_total{content_type}
	FallbackUsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardrail_fallback_total",
		Help: "Fallback templates served instead of generated content",
	}, []string{"content_type"})

	// guardrail_generations_total{outcome=ai_generated|fallback|error}
	Generations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardrail_generations_total",
		Help: "Generation attempts by outcome",
	}, []string{"outcome"})

	// guardrail_quality_score (histogram): overall quality of assessed output
	QualityScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "guardrail_quality_score",
		Help:    "Overall quality score of assessed output",
		Buckets: []float64{0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95, 1.0},
	})

	// guardrail_store_errors_total{store}
	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardrail_store_errors_total",
		Help: "Storage failures that degraded to the fail-open default",
	}, []string{"store"})
)

// RecordValidation counts a pipeline outcome and observes its latency
func RecordValidation(pipeline string, valid bool, seconds float64) {
	outcome := "accepted"
	if !valid {
		outcome = "rejected"
	}
	ValidationsTotal.WithLabelValues(pipeline, outcome).Inc()
	ValidationLatency.WithLabelValues(pipeline).Observe(seconds)
}

// RecordAuditEvent increments the audit event counter
func RecordAuditEvent(eventType string) {
	AuditEvents.WithLabelValues(eventType).Inc()
}

// RecordFallback increments the fallback counter
func RecordFallback(contentType string) {
	FallbackUsed.WithLabelValues(contentType).Inc()
}

// RecordGeneration increments the generation outcome counter
func RecordGeneration(outcome string) {
	Generations.WithLabelValues(outcome).Inc()
}

// RecordQuality observes an overall quality score
func RecordQuality(score float64) {
	QualityScore.Observe(score)
}

// RecordStoreError counts a degraded storage call
func RecordStoreError(store string) {
	StoreErrors.WithLabelValues(store).Inc()
}
