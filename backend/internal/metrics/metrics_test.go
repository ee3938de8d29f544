package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordValidation(t *testing.T) {
	before := testutil.ToFloat64(ValidationsTotal.WithLabelValues("request", "rejected"))
	RecordValidation("request", false, 0.01)
	after := testutil.ToFloat64(ValidationsTotal.WithLabelValues("request", "rejected"))
	assert.Equal(t, before+1, after)
}

func TestRecordAuditEvent(t *testing.T) {
	before := testutil.ToFloat64(AuditEvents.WithLabelValues("pii_scrubbed"))
	RecordAuditEvent("pii_scrubbed")
	RecordAuditEvent("pii_scrubbed")
	assert.Equal(t, before+2, testutil.ToFloat64(AuditEvents.WithLabelValues("pii_scrubbed")))
}

func TestRecordFallbackAndGeneration(t *testing.T) {
	before := testutil.ToFloat64(FallbackUsed.WithLabelValues("risk_register"))
	RecordFallback("risk_register")
	assert.Equal(t, before+1, testutil.ToFloat64(FallbackUsed.WithLabelValues("risk_register")))

	genBefore := testutil.ToFloat64(Generations.WithLabelValues("fallback"))
	RecordGeneration("fallback")
	assert.Equal(t, genBefore+1, testutil.ToFloat64(Generations.WithLabelValues("fallback")))
}
