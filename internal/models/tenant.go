// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

package models

// SatelliteStatus tracks the lifecycle of a tenant's satellite deployment.
type SatelliteStatus string

const (
	// SatelliteNone means the tenant runs no satellite.
	SatelliteNone SatelliteStatus = ""

	// SatelliteInitializing means the satellite is seeding and may queue
	// jobs but not yet serve traffic.
	SatelliteInitializing SatelliteStatus = "initializing"

	// SatelliteReady means the satellite is fully operational.
	SatelliteReady SatelliteStatus = "ready"
)

// Tenant is the subset of a tenant record this layer needs: identity plus
// satellite reachability. Business fields live in the document store.
type Tenant struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// SatelliteURL is the satellite's sync endpoint base URL; empty when
	// the tenant runs no satellite.
	SatelliteURL string `json:"satellite_url,omitempty"`

	// SharedSecret authenticates the satellite's JOIN_SATELLITE handshake
	// and outbound job delivery.
	SharedSecret string `json:"shared_secret,omitempty"`

	SatelliteStatus SatelliteStatus `json:"satellite_status,omitempty"`
}

// QueueReady reports whether the tenant may receive enqueued sync jobs.
// Initializing satellites accumulate jobs so they converge once ready.
func (t *Tenant) QueueReady() bool {
	if t.SatelliteURL == "" || t.SharedSecret == "" {
		return false
	}
	return t.SatelliteStatus == SatelliteInitializing || t.SatelliteStatus == SatelliteReady
}

// SyncReady reports whether the satellite can accept deliveries right now.
func (t *Tenant) SyncReady() bool {
	return t.SatelliteURL != "" && t.SharedSecret != "" && t.SatelliteStatus == SatelliteReady
}
