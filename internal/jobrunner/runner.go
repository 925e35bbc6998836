// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

// Package jobrunner drains the durable sync job queue: it listens for
// trigger hints, sweeps on an interval as the fallback, and delivers
// each tenant's jobs to its satellite in order over HTTP.
package jobrunner

import (
	"context"
	"errors"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/classhub/classhub/internal/logging"
	"github.com/classhub/classhub/internal/metrics"
	"github.com/classhub/classhub/internal/models"
	"github.com/classhub/classhub/internal/store"
	"github.com/classhub/classhub/internal/syncqueue"
)

// Deliverer hands one job to a tenant's satellite.
type Deliverer interface {
	Deliver(ctx context.Context, tenant *models.Tenant, job *models.SyncJob) error
}

// Config tunes the runner.
type Config struct {
	// PollInterval is the sweep period. Polling is the correctness
	// mechanism; trigger hints only shorten the wait.
	PollInterval time.Duration

	// BatchSize caps jobs taken per tenant per drain.
	BatchSize int

	// RatePerSecond and RateBurst pace deliveries per tenant so one
	// backlog cannot flood a satellite.
	RatePerSecond float64
	RateBurst     int
}

// DefaultConfig returns production runner defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:  30 * time.Second,
		BatchSize:     64,
		RatePerSecond: 10,
		RateBurst:     20,
	}
}

// Runner drains pending sync jobs tenant by tenant. One Runner per
// process; per-tenant drains are serialized so delivery order holds.
type Runner struct {
	queue     *syncqueue.Queue
	trigger   syncqueue.Trigger
	registry  *store.TenantRegistry
	deliverer Deliverer
	breakers  *breakerRegistry
	cfg       Config

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	draining map[string]bool
}

// New creates a runner. trigger may be nil; the runner then relies on
// the poll sweep alone.
func New(queue *syncqueue.Queue, trigger syncqueue.Trigger, registry *store.TenantRegistry, deliverer Deliverer, cfg Config) *Runner {
	return &Runner{
		queue:     queue,
		trigger:   trigger,
		registry:  registry,
		deliverer: deliverer,
		breakers:  newBreakerRegistry(),
		cfg:       cfg,
		limiters:  make(map[string]*rate.Limiter),
		draining:  make(map[string]bool),
	}
}

// String names the runner in supervisor logs.
func (r *Runner) String() string { return "sync-job-runner" }

// Serve runs the drain loop until the context is cancelled.
func (r *Runner) Serve(ctx context.Context) error {
	var hints <-chan string
	if r.trigger != nil {
		var err error
		hints, err = r.trigger.Subscribe(ctx)
		if err != nil {
			return err
		}
	}

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	// Startup sweep picks up backlog left by a previous process.
	r.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case tenantID, ok := <-hints:
			if !ok {
				hints = nil
				continue
			}
			metrics.TriggerHintsReceived.Inc()
			r.drainTenant(ctx, tenantID)

		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep drains every tenant with pending jobs.
func (r *Runner) sweep(ctx context.Context) {
	tenants, err := r.queue.PendingTenants(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("pending tenant sweep failed")
		return
	}
	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			return
		}
		r.drainTenant(ctx, tenantID)
	}
}

// drainTenant delivers the tenant's due jobs in order. The first failed
// delivery stops the drain: later jobs wait behind the retry so the
// satellite sees changes in enqueue order.
func (r *Runner) drainTenant(ctx context.Context, tenantID string) {
	if !r.beginDrain(tenantID) {
		return
	}
	defer r.endDrain(tenantID)

	tenant, err := r.registry.Get(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logging.Error().Err(err).Str("tenant_id", tenantID).Msg("tenant lookup failed")
		}
		return
	}
	if !tenant.SyncReady() {
		// Jobs accumulate while the satellite initializes.
		return
	}

	jobs, err := r.queue.Due(ctx, tenantID, r.cfg.BatchSize)
	if err != nil {
		logging.Error().Err(err).Str("tenant_id", tenantID).Msg("due job fetch failed")
		return
	}
	metrics.QueueDepth.WithLabelValues(tenantID).Set(float64(len(jobs)))

	limiter := r.limiter(tenantID)
	for _, job := range jobs {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		if !r.deliverOne(ctx, tenant, job) {
			return
		}
	}
	metrics.QueueDepth.WithLabelValues(tenantID).Set(0)
}

// deliverOne attempts one delivery through the tenant's circuit breaker
// and records the outcome. Returns whether draining may continue.
func (r *Runner) deliverOne(ctx context.Context, tenant *models.Tenant, job *models.SyncJob) bool {
	cb := r.breakers.get(tenant.ID)
	cbName := "satellite-" + tenant.ID

	start := time.Now()
	_, err := cb.Execute(func() (any, error) {
		return nil, r.deliverer.Deliver(ctx, tenant, job)
	})
	metrics.RecordJobDelivery(tenant.ID, time.Since(start), err)

	if err == nil {
		metrics.CircuitBreakerRequests.WithLabelValues(cbName, "success").Inc()
		if err := r.queue.MarkDelivered(ctx, job.ID, "delivered"); err != nil {
			logging.Error().Err(err).Str("job_id", job.ID).Msg("mark delivered failed")
			return false
		}
		logging.Debug().
			Str("job_id", job.ID).
			Str("tenant_id", tenant.ID).
			Int("attempt", job.Attempt).
			Msg("sync job delivered")
		return true
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.CircuitBreakerRequests.WithLabelValues(cbName, "rejected").Inc()
		logging.Warn().
			Err(err).
			Str("tenant_id", tenant.ID).
			Msg("delivery rejected by open circuit")
		// Do not consume an attempt; the poll sweep retries once the
		// circuit recovers.
		return false
	}

	metrics.CircuitBreakerRequests.WithLabelValues(cbName, "failure").Inc()
	failed, rerr := r.queue.RetryOrFail(ctx, job, err)
	if rerr != nil {
		logging.Error().Err(rerr).Str("job_id", job.ID).Msg("retry bookkeeping failed")
		return false
	}
	if failed {
		metrics.JobsFailed.WithLabelValues(tenant.ID).Inc()
		logging.Error().
			Err(err).
			Str("job_id", job.ID).
			Str("tenant_id", tenant.ID).
			Int("attempt", job.Attempt+1).
			Msg("sync job failed terminally")
		// A terminally failed job no longer blocks the ones behind it.
		return true
	}

	metrics.JobRetries.WithLabelValues(tenant.ID).Inc()
	logging.Warn().
		Err(err).
		Str("job_id", job.ID).
		Str("tenant_id", tenant.ID).
		Int("attempt", job.Attempt+1).
		Msg("sync job delivery failed, retry scheduled")
	return false
}

func (r *Runner) beginDrain(tenantID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.draining[tenantID] {
		return false
	}
	r.draining[tenantID] = true
	return true
}

func (r *Runner) endDrain(tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.draining, tenantID)
}

func (r *Runner) limiter(tenantID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[tenantID]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(r.cfg.RatePerSecond), r.cfg.RateBurst)
	r.limiters[tenantID] = l
	return l
}
