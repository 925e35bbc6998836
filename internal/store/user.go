// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

package store

import (
	"context"
	"sync"

	"github.com/classhub/classhub/internal/models"
)

// UserDirectory provides read access to principal records plus the two
// mutations this layer owns: availability overrides and push
// subscriptions. Everything else belongs to the business document store.
type UserDirectory interface {
	// Get retrieves a user by ID.
	Get(ctx context.Context, id string) (*models.User, error)

	// GetByIDs retrieves the named users, silently skipping missing IDs.
	GetByIDs(ctx context.Context, ids []string) ([]*models.User, error)

	// Put creates or replaces a user record.
	Put(ctx context.Context, user *models.User) error

	// SetAvailability sets the user's explicit presence override.
	SetAvailability(ctx context.Context, id string, av models.Availability) error

	// AddSubscription registers a push-delivery endpoint for the user,
	// replacing any prior subscription from the same channel.
	AddSubscription(ctx context.Context, id string, sub models.PushSubscription) error

	// RemoveSubscription drops the push subscription registered from the
	// given channel.
	RemoveSubscription(ctx context.Context, id, channelID string) error
}

// MemoryUserDirectory is an in-memory UserDirectory.
type MemoryUserDirectory struct {
	mu    sync.RWMutex
	users map[string]*models.User
}

// NewMemoryUserDirectory creates an empty in-memory user directory.
func NewMemoryUserDirectory() *MemoryUserDirectory {
	return &MemoryUserDirectory{users: make(map[string]*models.User)}
}

// Get retrieves a user by ID.
func (d *MemoryUserDirectory) Get(_ context.Context, id string) (*models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	user, ok := d.users[id]
	if !ok {
		return nil, ErrNotFound
	}

	u := copyUser(user)
	return u, nil
}

// GetByIDs retrieves the named users, skipping missing IDs.
func (d *MemoryUserDirectory) GetByIDs(_ context.Context, ids []string) ([]*models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*models.User, 0, len(ids))
	for _, id := range ids {
		if user, ok := d.users[id]; ok {
			out = append(out, copyUser(user))
		}
	}
	return out, nil
}

// Put creates or replaces a user record.
func (d *MemoryUserDirectory) Put(_ context.Context, user *models.User) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.users[user.ID] = copyUser(user)
	return nil
}

// SetAvailability sets the user's explicit presence override.
func (d *MemoryUserDirectory) SetAvailability(_ context.Context, id string, av models.Availability) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	user, ok := d.users[id]
	if !ok {
		return ErrNotFound
	}

	user.Availability = av
	return nil
}

// AddSubscription registers a push endpoint, replacing the channel's prior
// subscription.
func (d *MemoryUserDirectory) AddSubscription(_ context.Context, id string, sub models.PushSubscription) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	user, ok := d.users[id]
	if !ok {
		return ErrNotFound
	}

	for i, existing := range user.Subscriptions {
		if existing.ChannelID == sub.ChannelID {
			user.Subscriptions[i] = sub
			return nil
		}
	}

	user.Subscriptions = append(user.Subscriptions, sub)
	return nil
}

// RemoveSubscription drops the push subscription for the channel.
func (d *MemoryUserDirectory) RemoveSubscription(_ context.Context, id, channelID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	user, ok := d.users[id]
	if !ok {
		return ErrNotFound
	}

	for i, sub := range user.Subscriptions {
		if sub.ChannelID == channelID {
			user.Subscriptions = append(user.Subscriptions[:i], user.Subscriptions[i+1:]...)
			return nil
		}
	}
	return nil
}

func copyUser(u *models.User) *models.User {
	c := *u
	c.Roles = append([]string(nil), u.Roles...)
	c.Scopes = append([]string(nil), u.Scopes...)
	c.Tenants = append([]string(nil), u.Tenants...)
	c.Supervisors = append([]string(nil), u.Supervisors...)
	c.Staffs = append([]string(nil), u.Staffs...)
	c.Contacts = append([]string(nil), u.Contacts...)
	c.Subscriptions = append([]models.PushSubscription(nil), u.Subscriptions...)
	return &c
}
