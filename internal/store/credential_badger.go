// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/classhub/classhub/internal/models"
)

// Key prefixes for BadgerDB storage.
const (
	credKeyPrefix     = "cred:"
	credUserKeyPrefix = "cred_user:"
)

// BadgerCredentialStore implements CredentialStore on BadgerDB for
// persistence across restarts. A secondary cred_user:<principal>:<id>
// index serves per-principal lookups without full scans.
type BadgerCredentialStore struct {
	db *badger.DB

	// rotateMu serializes rotations so the read-check-write inside
	// Rotate stays atomic across goroutines sharing the store.
	rotateMu sync.Mutex
}

// NewBadgerCredentialStore creates a BadgerDB-backed credential store.
func NewBadgerCredentialStore(db *badger.DB) *BadgerCredentialStore {
	return &BadgerCredentialStore{db: db}
}

// Create stores a new credential.
func (s *BadgerCredentialStore) Create(_ context.Context, cred *models.Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		credKey := []byte(credKeyPrefix + cred.ID)
		if err := txn.Set(credKey, data); err != nil {
			return fmt.Errorf("set credential: %w", err)
		}

		userKey := []byte(credUserKeyPrefix + cred.PrincipalID + ":" + cred.ID)
		if err := txn.Set(userKey, []byte(cred.ID)); err != nil {
			return fmt.Errorf("set principal mapping: %w", err)
		}

		return nil
	})
}

// Get retrieves a credential by ID regardless of expiry.
func (s *BadgerCredentialStore) Get(_ context.Context, id string) (*models.Credential, error) {
	var cred models.Credential

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(credKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get credential: %w", err)
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cred)
		})
	})
	if err != nil {
		return nil, err
	}

	return &cred, nil
}

// GetBySecret finds the principal's live credential holding the secret.
func (s *BadgerCredentialStore) GetBySecret(ctx context.Context, principalID, secret string) (*models.Credential, error) {
	creds, err := s.FindByPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}

	for _, cred := range creds {
		if cred.Secret == secret {
			return cred, nil
		}
	}

	return nil, ErrNotFound
}

// FindByPrincipal returns live credentials, most recently active first.
func (s *BadgerCredentialStore) FindByPrincipal(_ context.Context, principalID string) ([]*models.Credential, error) {
	var creds []*models.Credential
	now := time.Now()

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(credUserKeyPrefix + principalID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var credID string
			err := it.Item().Value(func(val []byte) error {
				credID = string(val)
				return nil
			})
			if err != nil {
				continue
			}

			item, err := txn.Get([]byte(credKeyPrefix + credID))
			if err != nil {
				continue // Index entry may outlive the credential briefly
			}

			var cred models.Credential
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &cred)
			}); err != nil {
				continue
			}

			if !cred.IsExpired(now) {
				c := cred
				creds = append(creds, &c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list principal credentials: %w", err)
	}

	sortCredentialsMostRecentFirst(creds)
	return creds, nil
}

// Rotate swaps the secret in place, keyed on the old secret.
func (s *BadgerCredentialStore) Rotate(ctx context.Context, principalID, oldSecret, newSecret string, expiresAt time.Time, ip, userAgent string) (*models.Credential, error) {
	s.rotateMu.Lock()
	defer s.rotateMu.Unlock()

	cred, err := s.GetBySecret(ctx, principalID, oldSecret)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}

	cred.Secret = newSecret
	cred.ExpiresAt = expiresAt
	cred.IssuedFromIP = ip
	cred.UserAgent = userAgent
	cred.UpdatedAt = time.Now()

	data, err := json.Marshal(cred)
	if err != nil {
		return nil, fmt.Errorf("marshal credential: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(credKeyPrefix+cred.ID), data)
	})
	if err != nil {
		return nil, err
	}

	return cred, nil
}

// Delete removes a credential by ID. Missing IDs are not an error.
func (s *BadgerCredentialStore) Delete(_ context.Context, id string) error {
	var cred models.Credential
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(credKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cred)
		})
	})
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(credKeyPrefix + id)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete credential: %w", err)
		}

		userKey := []byte(credUserKeyPrefix + cred.PrincipalID + ":" + id)
		if err := txn.Delete(userKey); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete principal mapping: %w", err)
		}

		return nil
	})
}

// DeleteOthers removes all of the principal's credentials except the one
// holding keepSecret.
func (s *BadgerCredentialStore) DeleteOthers(ctx context.Context, principalID, keepSecret string) (int, error) {
	keep, err := s.GetBySecret(ctx, principalID, keepSecret)
	if err != nil {
		return 0, err
	}

	creds, err := s.FindByPrincipal(ctx, principalID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, cred := range creds {
		if cred.ID == keep.ID {
			continue
		}
		if err := s.Delete(ctx, cred.ID); err != nil {
			continue
		}
		count++
	}

	return count, nil
}

// DeleteByPrincipal removes every credential of the principal.
func (s *BadgerCredentialStore) DeleteByPrincipal(ctx context.Context, principalID string) (int, error) {
	var ids []string

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(credUserKeyPrefix + principalID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				ids = append(ids, string(val))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("list principal credentials: %w", err)
	}

	count := 0
	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			continue
		}
		count++
	}

	return count, nil
}

// CleanupExpired removes credentials past expiry plus grace.
func (s *BadgerCredentialStore) CleanupExpired(ctx context.Context, grace time.Duration) (int, error) {
	cutoff := time.Now().Add(-grace)
	var doomed []string

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(credKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var cred models.Credential
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &cred)
			})
			if err != nil {
				continue
			}

			if cred.ExpiresAt.Before(cutoff) {
				doomed = append(doomed, cred.ID)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan credentials: %w", err)
	}

	count := 0
	for _, id := range doomed {
		if err := s.Delete(ctx, id); err != nil {
			continue
		}
		count++
	}

	return count, nil
}

// Count returns the total number of stored credentials.
func (s *BadgerCredentialStore) Count(_ context.Context) (int, error) {
	count := 0

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(credKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})

	return count, err
}

// StartCleanupRoutine launches a background sweep of expired credentials.
func (s *BadgerCredentialStore) StartCleanupRoutine(ctx context.Context, interval, grace time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				//nolint:errcheck // Background cleanup - errors are non-fatal
				s.CleanupExpired(ctx, grace)
			}
		}
	}()
}
