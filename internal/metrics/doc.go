// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

/*
Package metrics provides Prometheus metrics collection and export for observability.

All collectors are registered with the default registry via promauto and
exposed at the /metrics endpoint in Prometheus text format:

	curl http://localhost:8370/metrics

# Available Metrics

Session Metrics:
  - session_issued_total: Credential pairs issued (counter)
    Labels: forced, impersonation
  - session_conflicts_total: Login conflicts detected (counter)
    Labels: kind (ip, max_login)
  - session_renewals_total: Renewal attempts (counter)
    Labels: result (success, race, invalid)
  - session_revocations_total: Revoked credentials (counter)
    Labels: scope (current, others, all, eviction)
  - session_active_credentials: Stored credential pairs (gauge)

Sync Job Queue Metrics:
  - syncjob_enqueued_total, syncjob_delivered_total, syncjob_retries_total,
    syncjob_failed_total: Job lifecycle counters, labeled by tenant
  - syncjob_delivery_duration_seconds: Satellite request latency (histogram)
  - syncjob_queue_depth: Undelivered jobs per tenant (gauge)
  - sync_trigger_hints_published_total / _received_total: Trigger channel
    traffic (counters)

Presence Metrics:
  - presence_connections: Open realtime connections (gauge)
  - presence_online_principals: Principals with a joined connection (gauge)
  - presence_join_attempts_total: JOIN handshakes (counter), labeled by result
  - presence_frames_sent_total / presence_frames_dropped_total: Fan-out
    delivery counters
  - presence_backplane_frames_total: Cross-instance frames (counter),
    labeled by direction
  - push_deliveries_total: Push attempts (counter), labeled by result

API Metrics:
  - api_requests_total: Requests (counter), labeled by method, endpoint,
    status_code
  - api_request_duration_seconds: Request latency (histogram)
  - api_active_requests: In-flight requests (gauge)
  - api_rate_limit_hits_total: Rate limit rejections (counter)

Circuit Breaker Metrics:
  - circuit_breaker_state: 0=closed, 1=half-open, 2=open (gauge)
  - circuit_breaker_requests_total: Requests through the breaker (counter)
  - circuit_breaker_state_transitions_total: State changes (counter)

# Usage

Record helpers keep call sites one-line:

	metrics.RecordSessionIssue(true, false)
	metrics.RecordJobDelivery(tenantID, elapsed, err)
	defer metrics.TrackActiveRequest(false)

Tenant-labeled collectors use the tenant ID as the label value; tenant
cardinality is bounded by the registry.
*/
package metrics
