// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

package auth

import (
	"errors"
	"fmt"
)

// Sentinel errors for the session manager. Policy conflicts are NOT in
// this list: a conflict is a structured success outcome (see Conflict),
// not an error.
var (
	// ErrInvalidCredential covers missing, garbled, or expired access and
	// refresh tokens. Surfaced as an authentication failure, never retried.
	ErrInvalidCredential = errors.New("auth: invalid credential")

	// ErrRenewalRace means the old refresh token no longer matches a live
	// row: a concurrent renewal won, or the token was revoked. The caller
	// must re-authenticate.
	ErrRenewalRace = errors.New("auth: refresh token no longer valid")

	// ErrImpersonationDenied covers every forbidden impersonation case:
	// unprivileged operator, root target, nested impersonation, mobile
	// client.
	ErrImpersonationDenied = errors.New("auth: impersonation denied")

	// ErrNotImpersonating is returned by ImpersonationStop when the
	// current session carries no acting-as operator.
	ErrNotImpersonating = errors.New("auth: session is not an impersonation")
)

// StoreError wraps a credential-store failure so callers can distinguish
// infrastructure trouble (retryable at their discretion) from credential
// validity failures (never retryable).
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("auth: store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// IsStoreError reports whether err originated in the credential store.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
