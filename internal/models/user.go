// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

package models

import "time"

// User roles recognized by the session layer. Business roles beyond these
// are opaque strings.
const (
	RoleRoot  = "root"
	RoleAdmin = "admin"
)

// UserStatus is the account lifecycle state.
type UserStatus string

const (
	UserActive  UserStatus = "active"
	UserDeleted UserStatus = "deleted"
)

// Availability is an explicit presence override. When set, automatic
// online/offline broadcasts for the user are suppressed.
type Availability string

const (
	AvailabilityAuto      Availability = ""
	AvailabilityInvisible Availability = "invisible"
	AvailabilityBusy      Availability = "busy"
	AvailabilityAway      Availability = "away"
)

// PushSubscription is one registered push-delivery endpoint for a user
// device. The subscription is opaque to this layer and handed as-is to the
// push provider.
type PushSubscription struct {
	// ChannelID is the realtime channel the subscription was registered
	// from; used to skip push for devices that are currently connected.
	ChannelID string `json:"channel_id"`
	Endpoint  string `json:"endpoint"`
	Keys      string `json:"keys,omitempty"`
}

// User is the principal-directory contract shape: the subset of the user
// document the session and sync layer reads. The full document lives in
// the business store.
type User struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Status       UserStatus `json:"status"`
	PasswordHash string     `json:"-"`

	Roles   []string `json:"roles"`
	Scopes  []string `json:"scopes"`
	Tenants []string `json:"tenants"`

	// Supervisors may impersonate this user; Staffs are users this user
	// supervises.
	Supervisors []string `json:"supervisors,omitempty"`
	Staffs      []string `json:"staffs,omitempty"`

	// Contacts receive presence-changed broadcasts for this user.
	Contacts []string `json:"contacts,omitempty"`

	Subscriptions []PushSubscription `json:"subscriptions,omitempty"`
	Availability  Availability       `json:"availability,omitempty"`

	SuspendedUntil *time.Time `json:"suspended_until,omitempty"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// IsActive reports whether the user may authenticate and receive events.
func (u *User) IsActive(now time.Time) bool {
	if u.Status != UserActive || u.DeletedAt != nil {
		return false
	}
	if u.SuspendedUntil != nil && now.Before(*u.SuspendedUntil) {
		return false
	}
	return true
}

// HasRole reports whether the user carries the named role.
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsRoot reports whether the user holds the highest-privilege role.
func (u *User) IsRoot() bool { return u.HasRole(RoleRoot) }

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool { return u.HasRole(RoleAdmin) }

// Supervises reports whether the user supervises the given principal.
func (u *User) Supervises(principalID string) bool {
	for _, s := range u.Staffs {
		if s == principalID {
			return true
		}
	}
	return false
}

// PrimaryTenant returns the user's first tenant, or "" when unattached.
func (u *User) PrimaryTenant() string {
	if len(u.Tenants) == 0 {
		return ""
	}
	return u.Tenants[0]
}
