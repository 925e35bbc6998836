// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/classhub/classhub/internal/models"
)

func TestBadgerSyncJobStoreEnqueueGet(t *testing.T) {
	s := NewBadgerSyncJobStore(openTestBadger(t))
	ctx := context.Background()

	if err := s.Enqueue(ctx, newTestJob("j1", "tenant-a", 0)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got, err := s.Get(ctx, "j1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TenantID != "tenant-a" || got.Notify.Event != "RE-AUTH" {
		t.Errorf("got %+v", got)
	}

	if _, err := s.Get(ctx, "absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestBadgerSyncJobStorePendingOrdering(t *testing.T) {
	s := NewBadgerSyncJobStore(openTestBadger(t))
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	jobs := []*models.SyncJob{
		newTestJob("low-new", "tenant-a", 5),
		newTestJob("high", "tenant-a", 0),
		newTestJob("low-old", "tenant-a", 5),
	}
	jobs[0].CreatedAt = base.Add(2 * time.Second)
	jobs[2].CreatedAt = base.Add(time.Second)
	for _, j := range jobs {
		if err := s.Enqueue(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	pending, err := s.Pending(ctx, "tenant-a", time.Now(), 0)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("len = %d, want 3", len(pending))
	}
	want := []string{"high", "low-old", "low-new"}
	for i, w := range want {
		if pending[i].ID != w {
			t.Errorf("pending[%d] = %s, want %s", i, pending[i].ID, w)
		}
	}
}

func TestBadgerSyncJobStorePendingSkipsFutureAndTerminal(t *testing.T) {
	s := NewBadgerSyncJobStore(openTestBadger(t))
	ctx := context.Background()

	due := newTestJob("due", "tenant-a", 0)
	future := newTestJob("future", "tenant-a", 0)
	future.NextAttemptAt = time.Now().Add(time.Hour)
	done := newTestJob("done", "tenant-a", 0)
	crossTenant := newTestJob("other", "tenant-b", 0)

	for _, j := range []*models.SyncJob{due, future, done, crossTenant} {
		if err := s.Enqueue(ctx, j); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Complete(ctx, "done", "delivered"); err != nil {
		t.Fatal(err)
	}

	pending, err := s.Pending(ctx, "tenant-a", time.Now(), 0)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "due" {
		t.Errorf("pending = %+v, want only the due job", pending)
	}
}

func TestBadgerSyncJobStorePendingLimit(t *testing.T) {
	s := NewBadgerSyncJobStore(openTestBadger(t))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.Enqueue(ctx, newTestJob(fmt.Sprintf("j%d", i), "tenant-a", i)); err != nil {
			t.Fatal(err)
		}
	}

	pending, err := s.Pending(ctx, "tenant-a", time.Now(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Errorf("len = %d, want 2", len(pending))
	}
}

func TestBadgerSyncJobStoreMarkAttempt(t *testing.T) {
	s := NewBadgerSyncJobStore(openTestBadger(t))
	ctx := context.Background()

	if err := s.Enqueue(ctx, newTestJob("j1", "tenant-a", 0)); err != nil {
		t.Fatal(err)
	}

	next := time.Now().Add(30 * time.Second)
	if err := s.MarkAttempt(ctx, "j1", next); err != nil {
		t.Fatalf("MarkAttempt: %v", err)
	}

	job, _ := s.Get(ctx, "j1")
	if job.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", job.Attempt)
	}
	if !job.NextAttemptAt.Equal(next) {
		t.Errorf("NextAttemptAt = %v, want %v", job.NextAttemptAt, next)
	}

	if err := s.MarkAttempt(ctx, "missing", next); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestBadgerSyncJobStoreComplete(t *testing.T) {
	s := NewBadgerSyncJobStore(openTestBadger(t))
	ctx := context.Background()

	if err := s.Enqueue(ctx, newTestJob("j1", "tenant-a", 0)); err != nil {
		t.Fatal(err)
	}
	if err := s.Complete(ctx, "j1", "delivered"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	job, _ := s.Get(ctx, "j1")
	if !job.IsTerminal() || job.Result != "delivered" {
		t.Errorf("job = %+v, want terminal with result", job)
	}
}

func TestBadgerSyncJobStorePendingTenants(t *testing.T) {
	s := NewBadgerSyncJobStore(openTestBadger(t))
	ctx := context.Background()

	if err := s.Enqueue(ctx, newTestJob("j1", "tenant-a", 0)); err != nil {
		t.Fatal(err)
	}
	if err := s.Enqueue(ctx, newTestJob("j2", "tenant-b", 0)); err != nil {
		t.Fatal(err)
	}
	if err := s.Complete(ctx, "j2", "delivered"); err != nil {
		t.Fatal(err)
	}

	tenants, err := s.PendingTenants(ctx)
	if err != nil {
		t.Fatalf("PendingTenants: %v", err)
	}
	if len(tenants) != 1 || tenants[0] != "tenant-a" {
		t.Errorf("tenants = %v, want [tenant-a]", tenants)
	}
}

func TestBadgerSyncJobStorePurgeCompleted(t *testing.T) {
	s := NewBadgerSyncJobStore(openTestBadger(t))
	ctx := context.Background()

	if err := s.Enqueue(ctx, newTestJob("old", "tenant-a", 0)); err != nil {
		t.Fatal(err)
	}
	if err := s.Enqueue(ctx, newTestJob("live", "tenant-a", 0)); err != nil {
		t.Fatal(err)
	}
	if err := s.Complete(ctx, "old", "delivered"); err != nil {
		t.Fatal(err)
	}

	count, err := s.PurgeCompleted(ctx, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("PurgeCompleted: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}

	if _, err := s.Get(ctx, "live"); err != nil {
		t.Error("non-terminal job should survive purge")
	}
	total, _ := s.Count(ctx)
	if total != 1 {
		t.Errorf("Count = %d, want 1", total)
	}
}
