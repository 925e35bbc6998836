// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

package store

import (
	"context"
	"sync"
	"time"

	"github.com/classhub/classhub/internal/models"
)

// SyncJobStore persists the per-tenant durable sync job queue.
type SyncJobStore interface {
	// Enqueue stores a new job.
	Enqueue(ctx context.Context, job *models.SyncJob) error

	// Get retrieves a job by ID.
	Get(ctx context.Context, id string) (*models.SyncJob, error)

	// Pending returns non-terminal jobs for the tenant whose
	// NextAttemptAt is not in the future, ordered by priority ascending
	// then creation time. limit <= 0 means no limit.
	Pending(ctx context.Context, tenantID string, now time.Time, limit int) ([]*models.SyncJob, error)

	// PendingTenants returns the IDs of tenants with at least one
	// non-terminal job, in no particular order.
	PendingTenants(ctx context.Context) ([]string, error)

	// MarkAttempt records a failed delivery try: bumps the attempt
	// counter and schedules the next try.
	MarkAttempt(ctx context.Context, id string, nextAttemptAt time.Time) error

	// Complete marks the job terminal with the given result.
	Complete(ctx context.Context, id, result string) error

	// PurgeCompleted removes terminal jobs completed before the cutoff,
	// returning the number removed.
	PurgeCompleted(ctx context.Context, cutoff time.Time) (int, error)

	// Count returns the total number of stored jobs.
	Count(ctx context.Context) (int, error)
}

// MemorySyncJobStore is an in-memory SyncJobStore for tests and
// single-node deployments.
type MemorySyncJobStore struct {
	mu     sync.RWMutex
	jobs   map[string]*models.SyncJob
	tenant map[string]map[string]struct{}
}

// NewMemorySyncJobStore creates an empty in-memory job store.
func NewMemorySyncJobStore() *MemorySyncJobStore {
	return &MemorySyncJobStore{
		jobs:   make(map[string]*models.SyncJob),
		tenant: make(map[string]map[string]struct{}),
	}
}

// Enqueue stores a new job.
func (s *MemorySyncJobStore) Enqueue(_ context.Context, job *models.SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j := *job
	s.jobs[j.ID] = &j

	ids, ok := s.tenant[j.TenantID]
	if !ok {
		ids = make(map[string]struct{})
		s.tenant[j.TenantID] = ids
	}
	ids[j.ID] = struct{}{}

	return nil
}

// Get retrieves a job by ID.
func (s *MemorySyncJobStore) Get(_ context.Context, id string) (*models.SyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}

	j := *job
	return &j, nil
}

// Pending returns due non-terminal jobs ordered for delivery.
func (s *MemorySyncJobStore) Pending(_ context.Context, tenantID string, now time.Time, limit int) ([]*models.SyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.SyncJob
	for id := range s.tenant[tenantID] {
		job := s.jobs[id]
		if job == nil || job.IsTerminal() || job.NextAttemptAt.After(now) {
			continue
		}
		j := *job
		out = append(out, &j)
	}

	sortJobsByPriority(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PendingTenants returns tenants with at least one non-terminal job.
func (s *MemorySyncJobStore) PendingTenants(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for tenantID, ids := range s.tenant {
		for id := range ids {
			if job := s.jobs[id]; job != nil && !job.IsTerminal() {
				out = append(out, tenantID)
				break
			}
		}
	}
	return out, nil
}

// MarkAttempt records a failed delivery try.
func (s *MemorySyncJobStore) MarkAttempt(_ context.Context, id string, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}

	job.Attempt++
	job.NextAttemptAt = nextAttemptAt
	return nil
}

// Complete marks the job terminal.
func (s *MemorySyncJobStore) Complete(_ context.Context, id, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}

	now := time.Now()
	job.CompletedAt = &now
	job.Result = result
	return nil
}

// PurgeCompleted removes terminal jobs completed before the cutoff.
func (s *MemorySyncJobStore) PurgeCompleted(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doomed []string
	for id, job := range s.jobs {
		if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			doomed = append(doomed, id)
		}
	}

	for _, id := range doomed {
		job := s.jobs[id]
		delete(s.jobs, id)
		if ids, ok := s.tenant[job.TenantID]; ok {
			delete(ids, id)
			if len(ids) == 0 {
				delete(s.tenant, job.TenantID)
			}
		}
	}

	return len(doomed), nil
}

// Count returns the total number of stored jobs.
func (s *MemorySyncJobStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs), nil
}
