// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

package services

import (
	"context"
)

// PresenceHub matches the presence hub's run loop. Satisfied by
// *presence.Hub.
type PresenceHub interface {
	Run(ctx context.Context) error
}

// HubService runs the presence hub under supervision. A hub restart
// drops all websocket connections; clients reconnect and re-JOIN.
type HubService struct {
	hub  PresenceHub
	name string
}

// NewHubService creates the wrapper.
func NewHubService(hub PresenceHub) *HubService {
	return &HubService{hub: hub, name: "presence-hub"}
}

// Serve implements suture.Service.
func (s *HubService) Serve(ctx context.Context) error {
	return s.hub.Run(ctx)
}

// String implements fmt.Stringer for suture's log messages.
func (s *HubService) String() string {
	return s.name
}
