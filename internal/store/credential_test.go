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

func newTestCredential(id, principalID, secret string, expiresIn time.Duration) *models.Credential {
	now := time.Now()
	return &models.Credential{
		ID:           id,
		PrincipalID:  principalID,
		Secret:       secret,
		ExpiresAt:    now.Add(expiresIn),
		IssuedFromIP: "203.0.113.1",
		UserAgent:    "test-agent",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestMemoryCredentialStoreCreateGet(t *testing.T) {
	s := NewMemoryCredentialStore()
	ctx := context.Background()

	cred := newTestCredential("c1", "alice", "secret-1", time.Hour)
	if err := s.Create(ctx, cred); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.PrincipalID != "alice" || got.Secret != "secret-1" {
		t.Errorf("got %+v", got)
	}
}

func TestMemoryCredentialStoreGetNotFound(t *testing.T) {
	s := NewMemoryCredentialStore()

	_, err := s.Get(context.Background(), "absent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryCredentialStoreFindByPrincipalOrdering(t *testing.T) {
	s := NewMemoryCredentialStore()
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 3; i++ {
		cred := newTestCredential(fmt.Sprintf("c%d", i), "alice", fmt.Sprintf("s%d", i), time.Hour)
		cred.UpdatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := s.Create(ctx, cred); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	creds, err := s.FindByPrincipal(ctx, "alice")
	if err != nil {
		t.Fatalf("FindByPrincipal: %v", err)
	}
	if len(creds) != 3 {
		t.Fatalf("len = %d, want 3", len(creds))
	}
	if creds[0].ID != "c2" || creds[2].ID != "c0" {
		t.Errorf("order = %s,%s,%s, want c2,c1,c0", creds[0].ID, creds[1].ID, creds[2].ID)
	}
}

func TestMemoryCredentialStoreFindSkipsExpired(t *testing.T) {
	s := NewMemoryCredentialStore()
	ctx := context.Background()

	live := newTestCredential("live", "alice", "s-live", time.Hour)
	dead := newTestCredential("dead", "alice", "s-dead", -time.Minute)
	if err := s.Create(ctx, live); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(ctx, dead); err != nil {
		t.Fatal(err)
	}

	creds, err := s.FindByPrincipal(ctx, "alice")
	if err != nil {
		t.Fatalf("FindByPrincipal: %v", err)
	}
	if len(creds) != 1 || creds[0].ID != "live" {
		t.Errorf("got %d creds, want only the live one", len(creds))
	}
}

func TestMemoryCredentialStoreRotate(t *testing.T) {
	s := NewMemoryCredentialStore()
	ctx := context.Background()

	cred := newTestCredential("c1", "alice", "old-secret", time.Hour)
	if err := s.Create(ctx, cred); err != nil {
		t.Fatal(err)
	}

	newExpiry := time.Now().Add(2 * time.Hour)
	rotated, err := s.Rotate(ctx, "alice", "old-secret", "new-secret", newExpiry, "198.51.100.9", "new-agent")
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if rotated.ID != "c1" {
		t.Errorf("rotated ID = %s, want c1 (in-place rotation)", rotated.ID)
	}
	if rotated.Secret != "new-secret" {
		t.Errorf("Secret = %s, want new-secret", rotated.Secret)
	}
	if rotated.IssuedFromIP != "198.51.100.9" {
		t.Errorf("IssuedFromIP = %s", rotated.IssuedFromIP)
	}

	// Old secret is consumed: a second rotation against it must fail.
	_, err = s.Rotate(ctx, "alice", "old-secret", "another", newExpiry, "", "")
	if !errors.Is(err, ErrConflict) {
		t.Errorf("second rotate err = %v, want ErrConflict", err)
	}
}

func TestMemoryCredentialStoreRotateExpired(t *testing.T) {
	s := NewMemoryCredentialStore()
	ctx := context.Background()

	cred := newTestCredential("c1", "alice", "old-secret", -time.Minute)
	if err := s.Create(ctx, cred); err != nil {
		t.Fatal(err)
	}

	_, err := s.Rotate(ctx, "alice", "old-secret", "new", time.Now().Add(time.Hour), "", "")
	if !errors.Is(err, ErrConflict) {
		t.Errorf("err = %v, want ErrConflict for expired credential", err)
	}
}

func TestMemoryCredentialStoreDeleteOthers(t *testing.T) {
	s := NewMemoryCredentialStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cred := newTestCredential(fmt.Sprintf("c%d", i), "alice", fmt.Sprintf("s%d", i), time.Hour)
		if err := s.Create(ctx, cred); err != nil {
			t.Fatal(err)
		}
	}

	count, err := s.DeleteOthers(ctx, "alice", "s1")
	if err != nil {
		t.Fatalf("DeleteOthers: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	creds, _ := s.FindByPrincipal(ctx, "alice")
	if len(creds) != 1 || creds[0].Secret != "s1" {
		t.Errorf("survivor = %+v", creds)
	}
}

func TestMemoryCredentialStoreDeleteOthersUnknownKeep(t *testing.T) {
	s := NewMemoryCredentialStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.Create(ctx, newTestCredential(fmt.Sprintf("c%d", i), "alice", fmt.Sprintf("s%d", i), time.Hour)); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := s.DeleteOthers(ctx, "alice", "not-held"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	// Nothing was deleted.
	total, _ := s.Count(ctx)
	if total != 3 {
		t.Errorf("Count = %d, want 3", total)
	}
}

func TestMemoryCredentialStoreDeleteOthersExpiredKeep(t *testing.T) {
	s := NewMemoryCredentialStore()
	ctx := context.Background()

	if err := s.Create(ctx, newTestCredential("dead", "alice", "s-dead", -time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(ctx, newTestCredential("live", "alice", "s-live", time.Hour)); err != nil {
		t.Fatal(err)
	}

	// An expired keepSecret does not anchor a deletion.
	if _, err := s.DeleteOthers(ctx, "alice", "s-dead"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound for expired keep credential", err)
	}
}

func TestMemoryCredentialStoreDeleteByPrincipal(t *testing.T) {
	s := NewMemoryCredentialStore()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := s.Create(ctx, newTestCredential(fmt.Sprintf("c%d", i), "alice", fmt.Sprintf("s%d", i), time.Hour)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Create(ctx, newTestCredential("other", "bob", "sb", time.Hour)); err != nil {
		t.Fatal(err)
	}

	count, err := s.DeleteByPrincipal(ctx, "alice")
	if err != nil {
		t.Fatalf("DeleteByPrincipal: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	if _, err := s.Get(ctx, "other"); err != nil {
		t.Error("bob's credential should survive")
	}
}

func TestMemoryCredentialStoreCleanupExpired(t *testing.T) {
	s := NewMemoryCredentialStore()
	ctx := context.Background()

	if err := s.Create(ctx, newTestCredential("old", "alice", "s1", -2*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(ctx, newTestCredential("recent", "alice", "s2", -time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(ctx, newTestCredential("live", "alice", "s3", time.Hour)); err != nil {
		t.Fatal(err)
	}

	// One hour grace keeps the recently expired credential around.
	count, err := s.CleanupExpired(ctx, time.Hour)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}

	total, _ := s.Count(ctx)
	if total != 2 {
		t.Errorf("Count = %d, want 2", total)
	}
}

func TestMemoryCredentialStoreGetBySecret(t *testing.T) {
	s := NewMemoryCredentialStore()
	ctx := context.Background()

	if err := s.Create(ctx, newTestCredential("c1", "alice", "wanted", time.Hour)); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetBySecret(ctx, "alice", "wanted")
	if err != nil {
		t.Fatalf("GetBySecret: %v", err)
	}
	if got.ID != "c1" {
		t.Errorf("ID = %s, want c1", got.ID)
	}

	if _, err := s.GetBySecret(ctx, "alice", "wrong"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetBySecret(ctx, "bob", "wanted"); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-principal lookup err = %v, want ErrNotFound", err)
	}
}
