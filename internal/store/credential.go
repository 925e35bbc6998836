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

// CredentialStore persists refresh credentials. Implementations must be
// safe for concurrent use.
type CredentialStore interface {
	// Create stores a new credential.
	Create(ctx context.Context, cred *models.Credential) error

	// Get retrieves a credential by ID regardless of expiry.
	Get(ctx context.Context, id string) (*models.Credential, error)

	// GetBySecret finds the principal's credential holding the given
	// secret. Expired credentials are treated as absent.
	GetBySecret(ctx context.Context, principalID, secret string) (*models.Credential, error)

	// FindByPrincipal returns the principal's non-expired credentials,
	// most recently active first.
	FindByPrincipal(ctx context.Context, principalID string) ([]*models.Credential, error)

	// Rotate atomically replaces the secret of the credential matching
	// (principalID, oldSecret, not expired) and extends its expiry.
	// Returns ErrConflict when no live credential holds oldSecret, which
	// means a concurrent renewal already consumed it.
	Rotate(ctx context.Context, principalID, oldSecret, newSecret string, expiresAt time.Time, ip, userAgent string) (*models.Credential, error)

	// Delete removes a credential by ID. Missing IDs are not an error.
	Delete(ctx context.Context, id string) error

	// DeleteOthers removes every credential of the principal except the
	// one holding keepSecret, returning the number removed. Returns
	// ErrNotFound when no live credential holds keepSecret; nothing is
	// deleted in that case.
	DeleteOthers(ctx context.Context, principalID, keepSecret string) (int, error)

	// DeleteByPrincipal removes all credentials of the principal,
	// returning the number removed.
	DeleteByPrincipal(ctx context.Context, principalID string) (int, error)

	// CleanupExpired removes credentials whose expiry lapsed more than
	// grace ago, returning the number removed.
	CleanupExpired(ctx context.Context, grace time.Duration) (int, error)

	// Count returns the total number of stored credentials.
	Count(ctx context.Context) (int, error)
}

// MemoryCredentialStore is an in-memory CredentialStore for tests and
// single-node deployments without durability requirements.
type MemoryCredentialStore struct {
	mu        sync.RWMutex
	creds     map[string]*models.Credential
	principal map[string]map[string]struct{}
}

// NewMemoryCredentialStore creates an empty in-memory credential store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{
		creds:     make(map[string]*models.Credential),
		principal: make(map[string]map[string]struct{}),
	}
}

// Create stores a new credential.
func (s *MemoryCredentialStore) Create(_ context.Context, cred *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *cred
	s.creds[c.ID] = &c

	ids, ok := s.principal[c.PrincipalID]
	if !ok {
		ids = make(map[string]struct{})
		s.principal[c.PrincipalID] = ids
	}
	ids[c.ID] = struct{}{}

	return nil
}

// Get retrieves a credential by ID.
func (s *MemoryCredentialStore) Get(_ context.Context, id string) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.creds[id]
	if !ok {
		return nil, ErrNotFound
	}

	c := *cred
	return &c, nil
}

// GetBySecret finds the principal's live credential holding the secret.
func (s *MemoryCredentialStore) GetBySecret(_ context.Context, principalID, secret string) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	for id := range s.principal[principalID] {
		cred := s.creds[id]
		if cred == nil || cred.Secret != secret || cred.IsExpired(now) {
			continue
		}
		c := *cred
		return &c, nil
	}

	return nil, ErrNotFound
}

// FindByPrincipal returns live credentials, most recently active first.
func (s *MemoryCredentialStore) FindByPrincipal(_ context.Context, principalID string) ([]*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	var out []*models.Credential
	for id := range s.principal[principalID] {
		cred := s.creds[id]
		if cred == nil || cred.IsExpired(now) {
			continue
		}
		c := *cred
		out = append(out, &c)
	}

	sortCredentialsMostRecentFirst(out)
	return out, nil
}

// Rotate swaps the secret in place, keyed on the old secret.
func (s *MemoryCredentialStore) Rotate(_ context.Context, principalID, oldSecret, newSecret string, expiresAt time.Time, ip, userAgent string) (*models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id := range s.principal[principalID] {
		cred := s.creds[id]
		if cred == nil || cred.Secret != oldSecret || cred.IsExpired(now) {
			continue
		}

		cred.Secret = newSecret
		cred.ExpiresAt = expiresAt
		cred.IssuedFromIP = ip
		cred.UserAgent = userAgent
		cred.UpdatedAt = now

		c := *cred
		return &c, nil
	}

	return nil, ErrConflict
}

// Delete removes a credential by ID.
func (s *MemoryCredentialStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteLocked(id)
	return nil
}

func (s *MemoryCredentialStore) deleteLocked(id string) {
	cred, ok := s.creds[id]
	if !ok {
		return
	}
	delete(s.creds, id)
	if ids, ok := s.principal[cred.PrincipalID]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(s.principal, cred.PrincipalID)
		}
	}
}

// DeleteOthers removes all of the principal's credentials except the one
// holding keepSecret.
func (s *MemoryCredentialStore) DeleteOthers(_ context.Context, principalID, keepSecret string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	keep := ""
	for id := range s.principal[principalID] {
		cred := s.creds[id]
		if cred != nil && cred.Secret == keepSecret && !cred.IsExpired(now) {
			keep = id
			break
		}
	}
	if keep == "" {
		return 0, ErrNotFound
	}

	var doomed []string
	for id := range s.principal[principalID] {
		if id != keep {
			doomed = append(doomed, id)
		}
	}

	for _, id := range doomed {
		s.deleteLocked(id)
	}

	return len(doomed), nil
}

// DeleteByPrincipal removes every credential of the principal.
func (s *MemoryCredentialStore) DeleteByPrincipal(_ context.Context, principalID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doomed []string
	for id := range s.principal[principalID] {
		doomed = append(doomed, id)
	}

	for _, id := range doomed {
		s.deleteLocked(id)
	}

	return len(doomed), nil
}

// CleanupExpired removes credentials past expiry plus grace.
func (s *MemoryCredentialStore) CleanupExpired(_ context.Context, grace time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-grace)
	var doomed []string
	for id, cred := range s.creds {
		if cred.ExpiresAt.Before(cutoff) {
			doomed = append(doomed, id)
		}
	}

	for _, id := range doomed {
		s.deleteLocked(id)
	}

	return len(doomed), nil
}

// Count returns the total number of stored credentials.
func (s *MemoryCredentialStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.creds), nil
}
