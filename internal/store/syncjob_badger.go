// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/classhub/classhub/internal/models"
)

// Key prefixes for BadgerDB job storage.
const (
	jobKeyPrefix       = "job:"
	jobTenantKeyPrefix = "job_tenant:"
)

// BadgerSyncJobStore implements SyncJobStore on BadgerDB. A secondary
// job_tenant:<tenant>:<id> index serves per-tenant queue scans.
type BadgerSyncJobStore struct {
	db *badger.DB
}

// NewBadgerSyncJobStore creates a BadgerDB-backed sync job store.
func NewBadgerSyncJobStore(db *badger.DB) *BadgerSyncJobStore {
	return &BadgerSyncJobStore{db: db}
}

// Enqueue stores a new job.
func (s *BadgerSyncJobStore) Enqueue(_ context.Context, job *models.SyncJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(jobKeyPrefix+job.ID), data); err != nil {
			return fmt.Errorf("set job: %w", err)
		}

		tenantKey := []byte(jobTenantKeyPrefix + job.TenantID + ":" + job.ID)
		if err := txn.Set(tenantKey, []byte(job.ID)); err != nil {
			return fmt.Errorf("set tenant mapping: %w", err)
		}

		return nil
	})
}

// Get retrieves a job by ID.
func (s *BadgerSyncJobStore) Get(_ context.Context, id string) (*models.SyncJob, error) {
	var job models.SyncJob

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(jobKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &job)
		})
	})
	if err != nil {
		return nil, err
	}

	return &job, nil
}

// Pending returns due non-terminal jobs ordered for delivery.
func (s *BadgerSyncJobStore) Pending(_ context.Context, tenantID string, now time.Time, limit int) ([]*models.SyncJob, error) {
	var jobs []*models.SyncJob

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(jobTenantKeyPrefix + tenantID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var jobID string
			err := it.Item().Value(func(val []byte) error {
				jobID = string(val)
				return nil
			})
			if err != nil {
				continue
			}

			item, err := txn.Get([]byte(jobKeyPrefix + jobID))
			if err != nil {
				continue
			}

			var job models.SyncJob
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &job)
			}); err != nil {
				continue
			}

			if !job.IsTerminal() && !job.NextAttemptAt.After(now) {
				j := job
				jobs = append(jobs, &j)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan tenant jobs: %w", err)
	}

	sortJobsByPriority(jobs)
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// PendingTenants returns tenants with at least one non-terminal job.
func (s *BadgerSyncJobStore) PendingTenants(_ context.Context) ([]string, error) {
	seen := make(map[string]bool)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(jobKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var job models.SyncJob
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &job)
			})
			if err != nil {
				continue
			}

			if !job.IsTerminal() {
				seen[job.TenantID] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan jobs: %w", err)
	}

	out := make([]string, 0, len(seen))
	for tenantID := range seen {
		out = append(out, tenantID)
	}
	return out, nil
}

// MarkAttempt records a failed delivery try.
func (s *BadgerSyncJobStore) MarkAttempt(_ context.Context, id string, nextAttemptAt time.Time) error {
	return s.updateJob(id, func(job *models.SyncJob) {
		job.Attempt++
		job.NextAttemptAt = nextAttemptAt
	})
}

// Complete marks the job terminal.
func (s *BadgerSyncJobStore) Complete(_ context.Context, id, result string) error {
	now := time.Now()
	return s.updateJob(id, func(job *models.SyncJob) {
		job.CompletedAt = &now
		job.Result = result
	})
}

func (s *BadgerSyncJobStore) updateJob(id string, mutate func(*models.SyncJob)) error {
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(jobKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}

		var job models.SyncJob
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &job)
		}); err != nil {
			return fmt.Errorf("unmarshal job: %w", err)
		}

		mutate(&job)

		data, err := json.Marshal(&job)
		if err != nil {
			return fmt.Errorf("marshal job: %w", err)
		}

		return txn.Set([]byte(jobKeyPrefix+id), data)
	})
}

// PurgeCompleted removes terminal jobs completed before the cutoff.
func (s *BadgerSyncJobStore) PurgeCompleted(_ context.Context, cutoff time.Time) (int, error) {
	type doomedJob struct {
		id       string
		tenantID string
	}
	var doomed []doomedJob

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(jobKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var job models.SyncJob
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &job)
			})
			if err != nil {
				continue
			}

			if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
				doomed = append(doomed, doomedJob{id: job.ID, tenantID: job.TenantID})
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan jobs: %w", err)
	}

	count := 0
	for _, d := range doomed {
		err := s.db.Update(func(txn *badger.Txn) error {
			if err := txn.Delete([]byte(jobKeyPrefix + d.id)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			tenantKey := []byte(jobTenantKeyPrefix + d.tenantID + ":" + d.id)
			if err := txn.Delete(tenantKey); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			return nil
		})
		if err != nil {
			continue
		}
		count++
	}

	return count, nil
}

// Count returns the total number of stored jobs.
func (s *BadgerSyncJobStore) Count(_ context.Context) (int, error) {
	count := 0

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(jobKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})

	return count, err
}

// StartPurgeRoutine launches a background sweep of old terminal jobs.
func (s *BadgerSyncJobStore) StartPurgeRoutine(ctx context.Context, interval, retention time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				//nolint:errcheck // Background cleanup - errors are non-fatal
				s.PurgeCompleted(ctx, time.Now().Add(-retention))
			}
		}
	}()
}
