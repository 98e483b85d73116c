package prometheus

import (
	"time"

	"github.com/jamesmcfarland/keyforge/pkg/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	HttpRequestsTotal   *prometheus.CounterVec
	HttpRequestDuration *prometheus.HistogramVec

	// Authentication metrics
	AuthFailuresCounter *prometheus.CounterVec
	AuthSuccessCounter  prometheus.Counter

	// Provisioning metrics
	ProvisioningCounter  *prometheus.CounterVec
	ProvisioningDuration *prometheus.HistogramVec
	ProvisioningInFlight prometheus.Gauge

	// Downstream vault metrics
	VaultCallDuration *prometheus.HistogramVec

	// Database operation metrics
	DbOperationDuration *prometheus.HistogramVec

	// Audit metrics
	AuditWriteFailures prometheus.Counter
)

// InitMetrics registers every keyforge metric with the default registry.
// Metrics helpers are no-ops until it has run.
func InitMetrics(cfg *config.Config) {
	prefix := cfg.Metrics.Prefix

	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	AuthFailuresCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_auth_failures_total",
			Help: "Total number of rejected authentication attempts",
		},
		[]string{"reason"},
	)

	AuthSuccessCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_auth_success_total",
			Help: "Total number of successful token authentications",
		},
	)

	ProvisioningCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_provisioning_total",
			Help: "Total number of finished provisioning runs by outcome",
		},
		[]string{"outcome"},
	)

	ProvisioningDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_provisioning_duration_seconds",
			Help:    "Duration of provisioning runs in seconds",
			Buckets: []float64{5, 15, 30, 60, 120, 240, 480},
		},
		[]string{"outcome"},
	)

	ProvisioningInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: prefix + "_provisioning_in_flight",
			Help: "Number of provisioning runs currently executing",
		},
	)

	VaultCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_vault_call_duration_seconds",
			Help:    "Duration of calls to instance vault services in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "success"},
	)

	DbOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation_type"},
	)

	AuditWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_audit_write_failures_total",
			Help: "Total number of audit entries that could not be written",
		},
	)
}

// TrackDBOperation returns a function that records the duration of a database operation
func TrackDBOperation(operationType string) func(startTime time.Time) {
	return func(startTime time.Time) {
		if DbOperationDuration == nil {
			return
		}
		DbOperationDuration.WithLabelValues(operationType).Observe(time.Since(startTime).Seconds())
	}
}

// TrackVaultCall returns a function that records a downstream vault call
func TrackVaultCall(operation string) func(startTime time.Time, err error) {
	return func(startTime time.Time, err error) {
		if VaultCallDuration == nil {
			return
		}
		success := "true"
		if err != nil {
			success = "false"
		}
		VaultCallDuration.WithLabelValues(operation, success).Observe(time.Since(startTime).Seconds())
	}
}

// RecordHTTPRequest records one served HTTP request
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if HttpRequestsTotal == nil {
		return
	}
	HttpRequestsTotal.WithLabelValues(method, path, status).Inc()
	HttpRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordAuthFailure increments the counter for rejected authentication attempts
func RecordAuthFailure(reason string) {
	if AuthFailuresCounter == nil {
		return
	}
	AuthFailuresCounter.WithLabelValues(reason).Inc()
}

// RecordAuthSuccess increments the counter for successful authentications
func RecordAuthSuccess() {
	if AuthSuccessCounter == nil {
		return
	}
	AuthSuccessCounter.Inc()
}

// ProvisioningStarted marks a provisioning run as in flight
func ProvisioningStarted() {
	if ProvisioningInFlight == nil {
		return
	}
	ProvisioningInFlight.Inc()
}

// RecordProvisioning records the outcome of a finished provisioning run
func RecordProvisioning(outcome string, duration time.Duration) {
	if ProvisioningCounter == nil {
		return
	}
	ProvisioningInFlight.Dec()
	ProvisioningCounter.WithLabelValues(outcome).Inc()
	ProvisioningDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordAuditWriteFailure increments the counter for dropped audit entries
func RecordAuditWriteFailure() {
	if AuditWriteFailures == nil {
		return
	}
	AuditWriteFailures.Inc()
}
