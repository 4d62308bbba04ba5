package observer

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSanitizeErrorType(t *testing.T) {
	tests := map[string]string{
		"":                                    "none",
		"policy blocked: recipient opted out": "policy",
		"provider error: 503":                 "provider",
		"database error: connection reset":    "database",
		"validation failed: field 'to'":       "validation",
		"record not found":                    "not_found",
		"context deadline exceeded":           "timeout",
		"panic recovered: boom":               "panic",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeErrorType(in), in)
	}
}

func TestJobFinishedCountsByTenant(t *testing.T) {
	InitMetrics(true)
	before := testutil.ToFloat64(outboxJobsFinishedTotal.WithLabelValues("action.send_sms", "unknown", "retry", "provider"))
	IncJobFinished("action.send_sms", "", "retry", "provider error: 503")
	after := testutil.ToFloat64(outboxJobsFinishedTotal.WithLabelValues("action.send_sms", "unknown", "retry", "provider"))
	assert.Equal(t, before+1, after)
}

func TestDisabledMetricsAreNoops(t *testing.T) {
	InitMetrics(false)
	defer InitMetrics(true)

	before := testutil.ToFloat64(outboxClaimErrorsTotal)
	IncClaimError()
	ObserveJobDuration("call.finalize", time.Second)
	assert.Equal(t, before, testutil.ToFloat64(outboxClaimErrorsTotal))
}
