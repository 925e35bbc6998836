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

// TenantStore provides access to tenant records. The business document
// store owns tenants; this layer reads the subset it needs and updates
// only satellite lifecycle state.
type TenantStore interface {
	// Get retrieves a tenant by ID.
	Get(ctx context.Context, id string) (*models.Tenant, error)

	// List returns all tenants.
	List(ctx context.Context) ([]*models.Tenant, error)

	// Put creates or replaces a tenant record.
	Put(ctx context.Context, tenant *models.Tenant) error

	// SetSatelliteStatus updates only the satellite lifecycle state.
	SetSatelliteStatus(ctx context.Context, id string, status models.SatelliteStatus) error
}

// MemoryTenantStore is an in-memory TenantStore.
type MemoryTenantStore struct {
	mu      sync.RWMutex
	tenants map[string]*models.Tenant
}

// NewMemoryTenantStore creates an empty in-memory tenant store.
func NewMemoryTenantStore() *MemoryTenantStore {
	return &MemoryTenantStore{tenants: make(map[string]*models.Tenant)}
}

// Get retrieves a tenant by ID.
func (s *MemoryTenantStore) Get(_ context.Context, id string) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenant, ok := s.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}

	t := *tenant
	return &t, nil
}

// List returns all tenants.
func (s *MemoryTenantStore) List(_ context.Context) ([]*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Tenant, 0, len(s.tenants))
	for _, tenant := range s.tenants {
		t := *tenant
		out = append(out, &t)
	}
	return out, nil
}

// Put creates or replaces a tenant record.
func (s *MemoryTenantStore) Put(_ context.Context, tenant *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := *tenant
	s.tenants[t.ID] = &t
	return nil
}

// SetSatelliteStatus updates only the satellite lifecycle state.
func (s *MemoryTenantStore) SetSatelliteStatus(_ context.Context, id string, status models.SatelliteStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tenant, ok := s.tenants[id]
	if !ok {
		return ErrNotFound
	}

	tenant.SatelliteStatus = status
	return nil
}
