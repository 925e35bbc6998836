// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

// Package models defines the persisted and wire-level types shared across
// the session and synchronization layer.
package models

import "time"

// Credential is the durable record of one live refresh token, i.e. one
// session. The secret is large and never queried by value; lookups are
// always by principal or by expiry.
type Credential struct {
	// ID is the unique credential identifier.
	ID string `json:"id"`

	// PrincipalID is the session owner. For an impersonated session this
	// is the impersonated principal, not the operator.
	PrincipalID string `json:"principal_id"`

	// ActingAsID records the operator behind an impersonated session.
	// Empty for ordinary sessions.
	ActingAsID string `json:"acting_as_id,omitempty"`

	// Secret is the opaque refresh token value. Replaced in place on
	// renewal (rotation), never appended.
	Secret string `json:"secret"`

	// ExpiresAt is when the refresh token lapses. Moves forward only
	// through explicit renewal.
	ExpiresAt time.Time `json:"expires_at"`

	// IsPublic marks a shared-device session. The refresh window stays
	// clamped to the access window across rotations.
	IsPublic bool `json:"is_public,omitempty"`

	// IssuedFromIP is the client IP observed when the credential was
	// created or last rotated.
	IssuedFromIP string `json:"issued_from_ip"`

	// UserAgent is the client user agent at issue time.
	UserAgent string `json:"user_agent"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsExpired reports whether the credential's TTL has lapsed.
func (c *Credential) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// IsImpersonation reports whether the session was issued by an operator
// acting as the principal.
func (c *Credential) IsImpersonation() bool {
	return c.ActingAsID != ""
}
