// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// NotifyPayload describes a realtime event fanned out to connected clients
// of the named users, and echoed to a satellite's own clients when queued.
type NotifyPayload struct {
	UserIDs []string `json:"user_ids"`
	Event   string   `json:"event"`
	Message string   `json:"message,omitempty"`
}

// CollectionBatch is an ordered list of opaque mutation instructions for one
// named collection. The satellite applies instructions in slice order; this
// layer never inspects them beyond JSON validity.
type CollectionBatch struct {
	Collection string            `json:"collection"`
	Ops        []json.RawMessage `json:"ops"`
}

// StorageOps lists object-storage keys the satellite should fetch or drop
// alongside the document mutations.
type StorageOps struct {
	AddObjects    []string `json:"add_objects,omitempty"`
	RemoveObjects []string `json:"remove_objects,omitempty"`
}

// SyncExtra carries side instructions that are not document mutations.
type SyncExtra struct {
	// RevokeAllCredentialsFor makes the satellite drop every cached
	// session for the named principal (logout-others, deregistration).
	RevokeAllCredentialsFor string `json:"revoke_all_credentials_for,omitempty"`
}

// SyncPayload is the replication half of a dispatch: ordered per-collection
// mutation batches plus optional storage and side instructions.
type SyncPayload struct {
	Batches []CollectionBatch `json:"batches,omitempty"`
	Storage *StorageOps       `json:"storage,omitempty"`
	Extra   *SyncExtra        `json:"extra,omitempty"`
}

// IsEmpty reports whether the payload carries nothing to replicate.
func (p *SyncPayload) IsEmpty() bool {
	if p == nil {
		return true
	}
	return len(p.Batches) == 0 && p.Storage == nil && p.Extra == nil
}

// SyncJob is one durable unit of replication work queued for a tenant's
// satellite. Mutated only by the job runner once created.
type SyncJob struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`

	Notify *NotifyPayload `json:"notify,omitempty"`
	Sync   *SyncPayload   `json:"sync,omitempty"`

	// Attempt is 0 for a freshly queued job, incremented per delivery try.
	Attempt int `json:"attempt"`

	// Priority orders delivery within a tenant: lower runs first.
	Priority int `json:"priority"`

	CreatedAt time.Time `json:"created_at"`

	// NextAttemptAt gates retries; the runner skips jobs scheduled in the
	// future.
	NextAttemptAt time.Time `json:"next_attempt_at"`

	// CompletedAt is set on terminal outcome, success or permanent failure.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      string     `json:"result,omitempty"`
}

// IsTerminal reports whether the job reached a final outcome.
func (j *SyncJob) IsTerminal() bool {
	return j.CompletedAt != nil
}
