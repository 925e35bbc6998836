// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

package syncqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/classhub/classhub/internal/logging"
	"github.com/classhub/classhub/internal/metrics"
	"github.com/classhub/classhub/internal/models"
	"github.com/classhub/classhub/internal/store"
)

// Config tunes queue behavior.
type Config struct {
	// Ephemeral skips trigger publishes. Set in tests so enqueues do not
	// wake real runners.
	Ephemeral bool

	// MaxAttempts is the delivery-try ceiling before a job is marked
	// failed-terminal.
	MaxAttempts int

	// BackoffBase is the delay after the first failed attempt; it
	// doubles per attempt.
	BackoffBase time.Duration

	// BackoffCap bounds the retry delay.
	BackoffCap time.Duration
}

// DefaultConfig returns production queue defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 8,
		BackoffBase: 5 * time.Second,
		BackoffCap:  10 * time.Minute,
	}
}

// Queue is the durable per-tenant sync job queue: persistence plus the
// trigger-channel wake-up on enqueue.
type Queue struct {
	jobs    store.SyncJobStore
	trigger Trigger
	cfg     Config
}

// New creates a queue over the given job store and trigger.
func New(jobs store.SyncJobStore, trigger Trigger, cfg Config) *Queue {
	return &Queue{jobs: jobs, trigger: trigger, cfg: cfg}
}

// Enqueue inserts a job with attempt=0 and, outside ephemeral mode,
// publishes the tenant ID on the trigger channel. A failed publish is
// logged and swallowed: the hint is best-effort, the row is not.
func (q *Queue) Enqueue(ctx context.Context, tenantID string, notify *models.NotifyPayload, sync *models.SyncPayload, priority int) (*models.SyncJob, error) {
	now := time.Now()
	job := &models.SyncJob{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		Notify:        notify,
		Sync:          sync,
		Attempt:       0,
		Priority:      priority,
		CreatedAt:     now,
		NextAttemptAt: now,
	}

	if err := q.jobs.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue sync job: %w", err)
	}
	metrics.JobsEnqueued.WithLabelValues(tenantID).Inc()

	if !q.cfg.Ephemeral {
		q.Wake(ctx, tenantID)
	}

	return job, nil
}

// Wake publishes a tenant ID on the trigger channel. Used on enqueue and
// on satellite rejoin so backlog replays immediately.
func (q *Queue) Wake(ctx context.Context, tenantID string) {
	if q.trigger == nil {
		return
	}
	if err := q.trigger.Publish(ctx, tenantID); err != nil {
		logging.Warn().
			Err(err).
			Str("tenant_id", tenantID).
			Msg("trigger publish failed")
		return
	}
	metrics.TriggerHintsPublished.Inc()
}

// Due returns the tenant's deliverable jobs in (priority, createdAt)
// order.
func (q *Queue) Due(ctx context.Context, tenantID string, limit int) ([]*models.SyncJob, error) {
	return q.jobs.Pending(ctx, tenantID, time.Now(), limit)
}

// PendingTenants returns tenants with undelivered jobs, for the poll
// sweep.
func (q *Queue) PendingTenants(ctx context.Context) ([]string, error) {
	return q.jobs.PendingTenants(ctx)
}

// MarkDelivered records a successful terminal outcome.
func (q *Queue) MarkDelivered(ctx context.Context, jobID, result string) error {
	return q.jobs.Complete(ctx, jobID, result)
}

// RetryOrFail records a failed delivery try: either schedules the next
// attempt with doubled backoff, or marks the job failed-terminal once
// the attempt ceiling is reached. Returns whether the job went terminal.
func (q *Queue) RetryOrFail(ctx context.Context, job *models.SyncJob, cause error) (bool, error) {
	if job.Attempt+1 >= q.cfg.MaxAttempts {
		return true, q.jobs.Complete(ctx, job.ID, fmt.Sprintf("failed: %v", cause))
	}
	return false, q.jobs.MarkAttempt(ctx, job.ID, time.Now().Add(q.Backoff(job.Attempt)))
}

// Backoff returns the retry delay after the given completed attempt
// count: base doubled per attempt, capped.
func (q *Queue) Backoff(attempt int) time.Duration {
	delay := q.cfg.BackoffBase
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= q.cfg.BackoffCap {
			return q.cfg.BackoffCap
		}
	}
	if delay > q.cfg.BackoffCap {
		return q.cfg.BackoffCap
	}
	return delay
}
