// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session Metrics
	SessionsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_issued_total",
			Help: "Total number of credential pairs issued",
		},
		[]string{"forced", "impersonation"},
	)

	SessionConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_conflicts_total",
			Help: "Total number of login conflicts detected at issue time",
		},
		[]string{"kind"}, // "ip", "max_login"
	)

	SessionRenewals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_renewals_total",
			Help: "Total number of credential renewal attempts",
		},
		[]string{"result"}, // "success", "race", "invalid"
	)

	SessionRevocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_revocations_total",
			Help: "Total number of revoked credentials",
		},
		[]string{"scope"}, // "current", "others", "all", "eviction"
	)

	ActiveCredentials = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "session_active_credentials",
			Help: "Current number of stored credential pairs",
		},
	)

	// Sync Job Queue Metrics
	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncjob_enqueued_total",
			Help: "Total number of sync jobs enqueued",
		},
		[]string{"tenant"},
	)

	JobsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncjob_delivered_total",
			Help: "Total number of sync jobs delivered to satellites",
		},
		[]string{"tenant"},
	)

	JobRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncjob_retries_total",
			Help: "Total number of failed delivery attempts scheduled for retry",
		},
		[]string{"tenant"},
	)

	JobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncjob_failed_total",
			Help: "Total number of sync jobs marked failed after exhausting attempts",
		},
		[]string{"tenant"},
	)

	JobDeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "syncjob_delivery_duration_seconds",
			Help:    "Duration of satellite delivery requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "syncjob_queue_depth",
			Help: "Current number of undelivered jobs per tenant",
		},
		[]string{"tenant"},
	)

	TriggerHintsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_trigger_hints_published_total",
			Help: "Total number of wake-up hints published on the trigger channel",
		},
	)

	TriggerHintsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_trigger_hints_received_total",
			Help: "Total number of wake-up hints received from the trigger channel",
		},
	)

	// Presence Metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_connections",
			Help: "Current number of open realtime connections",
		},
	)

	OnlinePrincipals = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_online_principals",
			Help: "Current number of principals with at least one joined connection",
		},
	)

	JoinAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_join_attempts_total",
			Help: "Total number of JOIN handshake attempts",
		},
		[]string{"result"}, // "ok", "rejected"
	)

	FramesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_frames_sent_total",
			Help: "Total number of frames delivered to client send buffers",
		},
	)

	FramesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_frames_dropped_total",
			Help: "Total number of frames dropped on full client send buffers",
		},
	)

	BackplaneFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_backplane_frames_total",
			Help: "Total number of frames crossing the instance backplane",
		},
		[]string{"direction"}, // "published", "received"
	)

	PushDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_deliveries_total",
			Help: "Total number of push delivery attempts",
		},
		[]string{"result"}, // "success", "failure"
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
)

// RecordSessionIssue records a credential issue outcome.
func RecordSessionIssue(forced, impersonation bool) {
	SessionsIssued.WithLabelValues(boolLabel(forced), boolLabel(impersonation)).Inc()
}

// RecordSessionConflict records a detected login conflict.
func RecordSessionConflict(kind string) {
	SessionConflicts.WithLabelValues(kind).Inc()
}

// RecordRenewal records a credential renewal attempt outcome.
func RecordRenewal(result string) {
	SessionRenewals.WithLabelValues(result).Inc()
}

// RecordRevocation records revoked credentials under the given scope.
func RecordRevocation(scope string, count int) {
	SessionRevocations.WithLabelValues(scope).Add(float64(count))
}

// RecordJobDelivery records a satellite delivery attempt.
func RecordJobDelivery(tenant string, duration time.Duration, err error) {
	JobDeliveryDuration.Observe(duration.Seconds())
	if err == nil {
		JobsDelivered.WithLabelValues(tenant).Inc()
	}
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordPushDelivery records one push delivery attempt outcome.
func RecordPushDelivery(err error) {
	if err != nil {
		PushDeliveries.WithLabelValues("failure").Inc()
		return
	}
	PushDeliveries.WithLabelValues("success").Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
