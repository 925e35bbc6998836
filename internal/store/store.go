// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

// Package store provides durable persistence for credentials, sync jobs,
// tenants, and the principal directory. Every store ships a memory
// implementation for tests and a BadgerDB implementation for production.
package store

import (
	"errors"
	"sort"

	"github.com/classhub/classhub/internal/models"
)

// Sentinel errors shared by all store implementations.
var (
	// ErrNotFound is returned when the requested record does not exist or
	// has already expired.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a compare-and-swap update lost to a
	// concurrent writer.
	ErrConflict = errors.New("store: conflict")
)

// sortCredentialsMostRecentFirst orders credentials newest-activity-first.
// Ties fall back to ID so the order is deterministic.
func sortCredentialsMostRecentFirst(creds []*models.Credential) {
	sort.Slice(creds, func(i, j int) bool {
		a, b := creds[i], creds[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID > b.ID
	})
}

// sortJobsByPriority orders jobs priority-ascending, then oldest-first.
func sortJobsByPriority(jobs []*models.SyncJob) {
	sort.Slice(jobs, func(i, j int) bool {
		a, b := jobs[i], jobs[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}
