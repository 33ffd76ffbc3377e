package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// OwnershipMismatchTotal counts verification attempts where the claimed
	// recipient disagreed with the system-of-record, by which record
	// disagreed ("lease" or "account").
	OwnershipMismatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ownership_mismatch_total",
			Help: "Verification failures where the claimed recipient did not match the record owner (count)",
		},
		[]string{"stage"},
	)

	DomainAnomalyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "address_anomaly_total",
			Help: "Recipient addresses rejected by the address policy (count)",
		},
		[]string{"reason"},
	)

	TemplateValidationFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "template_validation_failed_total",
			Help: "Startup template validations that failed (count)",
		},
		[]string{"template_id", "reason"},
	)

	TemplateVersion = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "template_version",
			Help: "Version of the remote template observed at the last startup validation",
		},
		[]string{"template_id"},
	)

	NotificationsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_processed_total",
			Help: "Lifecycle events processed by the notification pipeline (count)",
		},
		[]string{"kind", "status"},
	)

	PipelineProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_processing_duration_ms",
			Help:    "End-to-end pipeline processing duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"status"},
	)

	AuditWriteFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_write_failures_total",
			Help: "Verification audit rows that could not be persisted (count)",
		},
	)

	SuppressedNotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "suppressed_notifications_total",
			Help: "Events muted by a suppression rule before verification (count)",
		},
		[]string{"rule"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Retry attempts while processing broker messages (count)",
		},
		[]string{"service", "topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Messages routed to the dead-letter topic (count)",
		},
		[]string{"service", "reason"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Requests through a circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Failed requests through a circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ratelimit_rejected_total",
			Help: "HTTP requests rejected by the ops API rate limiter (count)",
		},
	)
)

var (
	registerPipelineOnce sync.Once
	registerBrokerOnce   sync.Once
	registerBreakerOnce  sync.Once
	registerHTTPOnce     sync.Once
)

func RegisterPipelineMetrics() {
	registerPipelineOnce.Do(func() {
		prometheus.MustRegister(
			OwnershipMismatchTotal,
			DomainAnomalyTotal,
			TemplateValidationFailedTotal,
			TemplateVersion,
			NotificationsProcessedTotal,
			PipelineProcessingDuration,
			AuditWriteFailuresTotal,
			SuppressedNotificationsTotal,
		)
	})
}

func RegisterBrokerMetrics() {
	registerBrokerOnce.Do(func() {
		prometheus.MustRegister(
			RetryAttemptsTotal,
			DLQMessagesTotal,
		)
	})
}

func RegisterCircuitBreakerMetrics() {
	registerBreakerOnce.Do(func() {
		prometheus.MustRegister(
			CircuitBreakerState,
			CircuitBreakerRequests,
			CircuitBreakerFailures,
		)
	})
}

func RegisterHTTPMetrics() {
	registerHTTPOnce.Do(func() {
		prometheus.MustRegister(RateLimitRejectedTotal)
	})
}
