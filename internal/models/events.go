// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

package models

// Realtime event names shared by the session manager, dispatcher, and
// presence gateway.
const (
	// EventReauthenticate tells connected clients to drop cached session
	// state and authenticate again. Emitted on forced credential issue.
	EventReauthenticate = "RE-AUTH"

	// EventLoadAuth tells same-principal clients to reload the rotated
	// token pair from shared storage after a renewal.
	EventLoadAuth = "LOAD-AUTH"

	// EventContactStatus carries presence transitions to a user's
	// contacts.
	EventContactStatus = "CONTACT_STATUS"
)
