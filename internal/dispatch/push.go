// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

package dispatch

import (
	"context"

	"github.com/classhub/classhub/internal/models"
)

// PushProvider delivers a payload to one registered device endpoint.
// Best-effort: this layer owes no retry contract, failures are logged
// and swallowed.
type PushProvider interface {
	Send(ctx context.Context, sub models.PushSubscription, payload []byte) error
}

// NopPushProvider discards every payload. Used when no provider is
// configured.
type NopPushProvider struct{}

// Send discards the payload.
func (NopPushProvider) Send(_ context.Context, _ models.PushSubscription, _ []byte) error {
	return nil
}
