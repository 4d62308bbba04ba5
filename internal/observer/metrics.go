package observer

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsEnabled = true // Flag to control metric collection

	// Webhook intake
	WebhooksReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comms_pipeline_webhooks_received_total",
			Help: "Total number of provider webhooks received, labeled by intake outcome.",
		},
		[]string{"provider", "event_type", "outcome"},
	)
	WebhookHandlingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "comms_pipeline_webhook_handling_duration_seconds",
			Help:    "Histogram of webhook handling durations, from receipt to response.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
		},
		[]string{"provider", "event_type"},
	)

	// Outbox
	outboxJobsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comms_pipeline_outbox_jobs_enqueued_total",
			Help: "Total number of enqueue calls, labeled by whether a new job was created.",
		},
		[]string{"job_type", "tenant_id", "created"},
	)
	outboxJobsClaimedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "comms_pipeline_outbox_jobs_claimed_total",
			Help: "Total number of jobs claimed by this worker.",
		},
	)
	outboxClaimErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "comms_pipeline_outbox_claim_errors_total",
			Help: "Total number of failed claim attempts.",
		},
	)
	outboxJobsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comms_pipeline_outbox_jobs_finished_total",
			Help: "Total number of job executions by result (completed, retry, failed).",
		},
		[]string{"job_type", "tenant_id", "result", "error_type"},
	)
	outboxJobDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "comms_pipeline_outbox_job_duration_seconds",
			Help:    "Histogram of job execution durations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		[]string{"job_type"},
	)
	outboxStaleReleasedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "comms_pipeline_outbox_stale_claims_released_total",
			Help: "Total number of stale claims returned to pending.",
		},
	)
	outboxTasksDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "comms_pipeline_outbox_tasks_dropped_total",
			Help: "Total number of claimed jobs that could not be submitted to the worker pool.",
		},
	)
	outboxWorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "comms_pipeline_outbox_workers_active",
			Help: "Number of running goroutines in the outbox worker pool.",
		},
	)

	// Receipts
	receiptsWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comms_pipeline_receipts_written_total",
			Help: "Total number of receipts persisted, labeled by outcome and write mode.",
		},
		[]string{"outcome", "mode"},
	)
	receiptErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comms_pipeline_receipt_errors_total",
			Help: "Total number of receipt persistence or publish failures.",
		},
		[]string{"stage"},
	)

	// Provider client
	providerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comms_pipeline_provider_requests_total",
			Help: "Total number of provider API requests by operation and result class.",
		},
		[]string{"operation", "result"},
	)
	providerRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "comms_pipeline_provider_request_duration_seconds",
			Help:    "Histogram of provider API request durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Database
	DatabaseOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "comms_pipeline_db_operation_duration_seconds",
			Help:    "Histogram of database operation durations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
		},
		[]string{"operation", "entity", "tenant_id", "status"},
	)

	// Cache
	cacheChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comms_pipeline_cache_checks_total",
			Help: "Total number of cache lookups by result (hit, miss, error).",
		},
		[]string{"cache", "result"},
	)

	// HTTP
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comms_pipeline_http_requests_total",
			Help: "Total number of HTTP requests served.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "comms_pipeline_http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// InitMetrics toggles metric collection. Collectors are registered by promauto at init.
func InitMetrics(enabled bool) {
	metricsEnabled = enabled
}

// sanitizeTenant ensures the tenant label is valid or returns a default value.
func sanitizeTenant(tenant string) string {
	if tenant == "" {
		return "unknown"
	}
	return tenant
}

// --- Webhook Metric Helpers ---

// IncWebhookReceived counts one webhook with its intake outcome.
func IncWebhookReceived(provider, eventType, outcome string) {
	if !metricsEnabled {
		return
	}
	WebhooksReceivedTotal.WithLabelValues(provider, eventType, outcome).Inc()
}

// ObserveWebhookDuration records webhook handling latency.
func ObserveWebhookDuration(provider, eventType string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	WebhookHandlingDurationSeconds.WithLabelValues(provider, eventType).Observe(duration.Seconds())
}

// --- Outbox Metric Helpers ---

// IncJobEnqueued counts an enqueue call.
func IncJobEnqueued(jobType, tenantID string, created bool) {
	if !metricsEnabled {
		return
	}
	label := "false"
	if created {
		label = "true"
	}
	outboxJobsEnqueuedTotal.WithLabelValues(jobType, sanitizeTenant(tenantID), label).Inc()
}

// AddJobsClaimed adds n to the claimed jobs counter.
func AddJobsClaimed(n int) {
	if !metricsEnabled || n <= 0 {
		return
	}
	outboxJobsClaimedTotal.Add(float64(n))
}

// IncClaimError counts a failed claim attempt.
func IncClaimError() {
	if !metricsEnabled {
		return
	}
	outboxClaimErrorsTotal.Inc()
}

// IncJobFinished counts a job execution result.
func IncJobFinished(jobType, tenantID, result, errStr string) {
	if !metricsEnabled {
		return
	}
	outboxJobsFinishedTotal.WithLabelValues(jobType, sanitizeTenant(tenantID), result, SanitizeErrorType(errStr)).Inc()
}

// ObserveJobDuration records job execution latency.
func ObserveJobDuration(jobType string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	outboxJobDurationSeconds.WithLabelValues(jobType).Observe(duration.Seconds())
}

// AddStaleReleased adds n to the stale claim counter.
func AddStaleReleased(n int64) {
	if !metricsEnabled || n <= 0 {
		return
	}
	outboxStaleReleasedTotal.Add(float64(n))
}

// IncTasksDropped counts a job the pool refused.
func IncTasksDropped() {
	if !metricsEnabled {
		return
	}
	outboxTasksDroppedTotal.Inc()
}

// SetWorkersActive sets the number of running pool goroutines.
func SetWorkersActive(count int) {
	if !metricsEnabled {
		return
	}
	outboxWorkersActive.Set(float64(count))
}

// --- Receipt Metric Helpers ---

// IncReceiptWritten counts a persisted receipt.
func IncReceiptWritten(outcome, mode string) {
	if !metricsEnabled {
		return
	}
	receiptsWrittenTotal.WithLabelValues(outcome, mode).Inc()
}

// IncReceiptError counts a receipt failure at stage (persist, publish, submit).
func IncReceiptError(stage string) {
	if !metricsEnabled {
		return
	}
	receiptErrorsTotal.WithLabelValues(stage).Inc()
}

// --- Provider Metric Helpers ---

// ObserveProviderRequest records one provider API call.
func ObserveProviderRequest(operation, result string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	providerRequestsTotal.WithLabelValues(operation, result).Inc()
	providerRequestDurationSeconds.WithLabelValues(operation).Observe(duration.Seconds())
}

// --- Database Metric Helpers ---

// ObserveDbOperationDuration records the duration for a database operation.
func ObserveDbOperationDuration(operation, entity, tenantID string, duration time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseOperationDurationSeconds.WithLabelValues(operation, entity, sanitizeTenant(tenantID), status).Observe(duration.Seconds())
}

// --- Cache Metric Helpers ---

// IncCacheCheck counts a cache lookup.
func IncCacheCheck(cache, result string) {
	if !metricsEnabled {
		return
	}
	cacheChecksTotal.WithLabelValues(cache, result).Inc()
}

// --- HTTP Metric Helpers ---

// ObserveHTTPRequest records one served request.
func ObserveHTTPRequest(method, route, status string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SanitizeErrorType maps specific errors or provides a default category.
// Keep this simple to avoid high cardinality.
func SanitizeErrorType(errStr string) string {
	if errStr == "" || errStr == "none" {
		return "none"
	}

	lower := strings.ToLower(errStr)
	switch {
	case strings.Contains(lower, "policy"), strings.Contains(lower, "blocked"):
		return "policy"
	case strings.Contains(lower, "provider"):
		return "provider"
	case strings.Contains(lower, "database"), strings.Contains(lower, "sql"), strings.Contains(lower, "duplicate key"), strings.Contains(lower, "constraint"), strings.Contains(lower, "connection"):
		return "database"
	case strings.Contains(lower, "validation"), strings.Contains(lower, "bad request"), strings.Contains(lower, "invalid"), strings.Contains(lower, "missing field"):
		return "validation"
	case strings.Contains(lower, "not found"), strings.Contains(lower, "no rows"):
		return "not_found"
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "deadline exceeded"):
		return "timeout"
	case strings.Contains(lower, "unmarshal"), strings.Contains(lower, "json"):
		return "unmarshal"
	case strings.Contains(lower, "panic"):
		return "panic"
	default:
		return "unknown"
	}
}
