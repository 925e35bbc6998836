// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/classhub/classhub/internal/models"
)

func seedTenants(t *testing.T, ts TenantStore) {
	t.Helper()
	ctx := context.Background()

	tenants := []*models.Tenant{
		{ID: "alpha", Name: "Alpha School", SatelliteURL: "https://alpha.example.com", SharedSecret: "key-a", SatelliteStatus: models.SatelliteReady},
		{ID: "beta", Name: "Beta School", SatelliteURL: "https://beta.example.com", SharedSecret: "key-b", SatelliteStatus: models.SatelliteInitializing},
		{ID: "gamma", Name: "Gamma School"},
	}
	for _, tenant := range tenants {
		if err := ts.Put(ctx, tenant); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
}

func TestTenantRegistryGet(t *testing.T) {
	ts := NewMemoryTenantStore()
	seedTenants(t, ts)
	r := NewTenantRegistry(ts, time.Minute)

	tenant, err := r.Get(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if tenant.Name != "Alpha School" {
		t.Errorf("Name = %s", tenant.Name)
	}

	if _, err := r.Get(context.Background(), "absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestTenantRegistryCachesUntilRefresh(t *testing.T) {
	ts := NewMemoryTenantStore()
	seedTenants(t, ts)
	r := NewTenantRegistry(ts, time.Minute)
	ctx := context.Background()

	if _, err := r.Get(ctx, "alpha"); err != nil {
		t.Fatal(err)
	}

	// Mutate the store behind the registry's back.
	if err := ts.Put(ctx, &models.Tenant{ID: "alpha", Name: "Renamed"}); err != nil {
		t.Fatal(err)
	}

	tenant, err := r.Get(ctx, "alpha")
	if err != nil {
		t.Fatal(err)
	}
	if tenant.Name != "Alpha School" {
		t.Errorf("cached Name = %s, want stale Alpha School", tenant.Name)
	}

	r.Refresh()

	tenant, err = r.Get(ctx, "alpha")
	if err != nil {
		t.Fatal(err)
	}
	if tenant.Name != "Renamed" {
		t.Errorf("post-refresh Name = %s, want Renamed", tenant.Name)
	}
}

func TestTenantRegistryQueueReady(t *testing.T) {
	ts := NewMemoryTenantStore()
	seedTenants(t, ts)
	r := NewTenantRegistry(ts, time.Minute)

	ready, err := r.QueueReady(context.Background())
	if err != nil {
		t.Fatalf("QueueReady: %v", err)
	}

	// alpha is ready, beta is initializing (still queue-eligible), gamma
	// has no satellite.
	if len(ready) != 2 {
		t.Fatalf("len = %d, want 2", len(ready))
	}
	for _, tenant := range ready {
		if tenant.ID == "gamma" {
			t.Error("gamma has no satellite and must not be queue-ready")
		}
	}
}

func TestTenantRegistryInit(t *testing.T) {
	ts := NewMemoryTenantStore()
	seedTenants(t, ts)
	r := NewTenantRegistry(ts, time.Minute)

	if err := r.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	stats := r.Stats()
	if stats.TotalKeys == 0 {
		t.Error("Init should warm the cache")
	}
}

func TestTenantQueueReadyStates(t *testing.T) {
	tests := []struct {
		name   string
		tenant models.Tenant
		want   bool
	}{
		{"ready", models.Tenant{SatelliteURL: "https://x", SharedSecret: "k", SatelliteStatus: models.SatelliteReady}, true},
		{"initializing", models.Tenant{SatelliteURL: "https://x", SharedSecret: "k", SatelliteStatus: models.SatelliteInitializing}, true},
		{"no url", models.Tenant{SharedSecret: "k", SatelliteStatus: models.SatelliteReady}, false},
		{"no secret", models.Tenant{SatelliteURL: "https://x", SatelliteStatus: models.SatelliteReady}, false},
		{"no status", models.Tenant{SatelliteURL: "https://x", SharedSecret: "k"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tenant.QueueReady(); got != tt.want {
				t.Errorf("QueueReady() = %v, want %v", got, tt.want)
			}
		})
	}
}
