// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/classhub/classhub/internal/cache"
	"github.com/classhub/classhub/internal/models"
)

const registryListKey = "tenants:all"

// TenantRegistry is a read-through TTL cache over a TenantStore. Lookups
// during the TTL window hit memory; Refresh drops the cache so the next
// read sees store state. Callers construct it explicitly and pass it
// where needed instead of sharing module-level state.
type TenantRegistry struct {
	store TenantStore
	cache *cache.Cache
}

// NewTenantRegistry creates a registry whose cached entries live for ttl.
func NewTenantRegistry(store TenantStore, ttl time.Duration) *TenantRegistry {
	return &TenantRegistry{
		store: store,
		cache: cache.New(ttl),
	}
}

// Init warms the cache from the store. Callers should invoke it once at
// startup so the first requests do not all miss at once.
func (r *TenantRegistry) Init(ctx context.Context) error {
	_, err := r.All(ctx)
	if err != nil {
		return fmt.Errorf("warm tenant registry: %w", err)
	}
	return nil
}

// Get retrieves a tenant, serving from cache when fresh.
func (r *TenantRegistry) Get(ctx context.Context, id string) (*models.Tenant, error) {
	if cached, ok := r.cache.Get("tenant:" + id); ok {
		t := *cached.(*models.Tenant)
		return &t, nil
	}

	tenant, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cache.Set("tenant:"+id, tenant)
	t := *tenant
	return &t, nil
}

// All returns every tenant, serving from cache when fresh.
func (r *TenantRegistry) All(ctx context.Context) ([]*models.Tenant, error) {
	if cached, ok := r.cache.Get(registryListKey); ok {
		src := cached.([]*models.Tenant)
		out := make([]*models.Tenant, len(src))
		for i, tenant := range src {
			t := *tenant
			out[i] = &t
		}
		return out, nil
	}

	tenants, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}

	r.cache.Set(registryListKey, tenants)
	for _, tenant := range tenants {
		r.cache.Set("tenant:"+tenant.ID, tenant)
	}

	out := make([]*models.Tenant, len(tenants))
	for i, tenant := range tenants {
		t := *tenant
		out[i] = &t
	}
	return out, nil
}

// QueueReady returns tenants eligible to receive queued sync jobs.
func (r *TenantRegistry) QueueReady(ctx context.Context) ([]*models.Tenant, error) {
	tenants, err := r.All(ctx)
	if err != nil {
		return nil, err
	}

	var out []*models.Tenant
	for _, tenant := range tenants {
		if tenant.QueueReady() {
			out = append(out, tenant)
		}
	}
	return out, nil
}

// Refresh drops all cached entries so subsequent reads hit the store.
func (r *TenantRegistry) Refresh() {
	r.cache.Clear()
}

// Stats exposes the underlying cache counters for metrics scraping.
func (r *TenantRegistry) Stats() cache.Stats {
	return r.cache.GetStats()
}
