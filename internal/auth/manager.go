// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/classhub/classhub/internal/logging"
	"github.com/classhub/classhub/internal/metrics"
	"github.com/classhub/classhub/internal/models"
	"github.com/classhub/classhub/internal/store"
)

const (
	// accessSafetyMargin shortens the advertised access expiry so clients
	// renew before the signed claim actually lapses.
	accessSafetyMargin = 5 * time.Second

	// publicRefreshMargin bounds how long a public/shared-device refresh
	// token outlives its access window.
	publicRefreshMargin = 60 * time.Second

	notifyTimeout = 5 * time.Second
)

// Notifier fans a realtime event out to the named users. Delivery is
// best-effort; the session manager logs failures and moves on.
type Notifier interface {
	Notify(ctx context.Context, userIDs []string, event, message string) error
}

// Config holds the session policy knobs.
type Config struct {
	// MaxAccessTTL caps the signed lifetime of access credentials.
	MaxAccessTTL time.Duration

	// RefreshTTL is the lifetime of refresh credentials.
	RefreshTTL time.Duration

	// MaxLogin caps concurrent live sessions per principal. Zero
	// disables the cap.
	MaxLogin int

	// SameIPOnly rejects new sessions whose IP differs from the most
	// recent live credential's IP unless forced.
	SameIPOnly bool
}

// Conflict is the structured alternative success outcome of Issue: which
// policy condition fired and with what quantities. It is not an error;
// the login flow branches on it and may re-request with Force.
type Conflict struct {
	// IP is the most recent live credential's IP when it differs from
	// the requesting device's.
	IP string `json:"ip,omitempty"`

	// MaxLogin echoes the configured session cap when it was exceeded.
	MaxLogin int `json:"max_login,omitempty"`

	// ExceedLogin counts the live sessions at or beyond the cap.
	ExceedLogin int `json:"exceed_login,omitempty"`
}

// TokenPair is a freshly minted access/refresh credential pair.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// IssueResult carries either a token pair or a conflict, never both.
type IssueResult struct {
	Pair     *TokenPair `json:"pair,omitempty"`
	Conflict *Conflict  `json:"conflict,omitempty"`
}

// IssueOptions tunes a single Issue call.
type IssueOptions struct {
	// ExpiresIn requests a shorter access lifetime than the configured
	// max. Zero means use the max.
	ExpiresIn time.Duration

	// IsPublic marks a shared-device session: the refresh lifetime is
	// clamped to barely outlive the access window.
	IsPublic bool

	// Force evicts conflicting sessions instead of returning a Conflict.
	Force bool

	// ActingAs records the operator behind an impersonated session.
	ActingAs string
}

// Manager implements the session operations over a credential store and
// a principal directory.
type Manager struct {
	tokens   *TokenManager
	creds    store.CredentialStore
	users    store.UserDirectory
	notifier Notifier
	cfg      Config
}

// NewManager creates a session manager. notifier may be nil; realtime
// hints are then skipped.
func NewManager(tokens *TokenManager, creds store.CredentialStore, users store.UserDirectory, notifier Notifier, cfg Config) *Manager {
	return &Manager{
		tokens:   tokens,
		creds:    creds,
		users:    users,
		notifier: notifier,
		cfg:      cfg,
	}
}

// Issue mints a new access/refresh pair for the user, enforcing the
// max-concurrent-session and same-IP policies. A policy hit without
// Force returns a Conflict result and issues nothing.
//
// The conflict check is read-then-write without a principal lock: two
// concurrent calls can both pass and briefly exceed the cap. The next
// forced Issue re-evaluates and trims the excess (eventual enforcement).
func (m *Manager) Issue(ctx context.Context, user *models.User, device DeviceContext, opts IssueOptions) (*IssueResult, error) {
	now := time.Now()

	accessTTL := m.cfg.MaxAccessTTL
	if opts.ExpiresIn > 0 && opts.ExpiresIn < accessTTL {
		accessTTL = opts.ExpiresIn
	}
	accessExpiresAt := now.Add(accessTTL - accessSafetyMargin)

	refreshTTL := m.cfg.RefreshTTL
	if opts.IsPublic {
		refreshTTL = accessTTL + publicRefreshMargin
	}
	refreshExpiresAt := now.Add(refreshTTL)

	live, err := m.creds.FindByPrincipal(ctx, user.ID)
	if err != nil {
		return nil, storeErr("find", err)
	}

	var excess []*models.Credential
	if m.cfg.MaxLogin > 0 && len(live) >= m.cfg.MaxLogin {
		excess = live[m.cfg.MaxLogin-1:]
	}

	// IP policy compares only the most recent credential, preserving the
	// single-primary-device assumption.
	ipConflict := m.cfg.SameIPOnly && len(live) > 0 && live[0].IssuedFromIP != device.IP

	if (len(excess) > 0 || ipConflict) && !opts.Force {
		conflict := &Conflict{}
		if ipConflict {
			conflict.IP = live[0].IssuedFromIP
			metrics.RecordSessionConflict("ip")
		}
		if len(excess) > 0 {
			conflict.MaxLogin = m.cfg.MaxLogin
			conflict.ExceedLogin = len(excess)
			metrics.RecordSessionConflict("max_login")
		}
		return &IssueResult{Conflict: conflict}, nil
	}

	// Forced eviction: an IP conflict displaces every other session; a
	// plain cap overflow trims only the oldest excess rows.
	if opts.Force {
		switch {
		case ipConflict:
			evicted, err := m.creds.DeleteByPrincipal(ctx, user.ID)
			if err != nil {
				return nil, storeErr("delete all", err)
			}
			metrics.RecordRevocation("eviction", evicted)
		case len(excess) > 0:
			for _, cred := range excess {
				if err := m.creds.Delete(ctx, cred.ID); err != nil {
					return nil, storeErr("delete excess", err)
				}
			}
			metrics.RecordRevocation("eviction", len(excess))
		}
	}

	accessToken, err := m.tokens.GenerateAccessToken(user, opts.ActingAs, device, accessExpiresAt)
	if err != nil {
		return nil, err
	}

	secret, err := NewRefreshSecret()
	if err != nil {
		return nil, err
	}

	cred := &models.Credential{
		ID:           uuid.NewString(),
		PrincipalID:  user.ID,
		ActingAsID:   opts.ActingAs,
		Secret:       secret,
		ExpiresAt:    refreshExpiresAt,
		IsPublic:     opts.IsPublic,
		IssuedFromIP: device.IP,
		UserAgent:    device.UserAgent,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.creds.Create(ctx, cred); err != nil {
		return nil, storeErr("create", err)
	}

	metrics.RecordSessionIssue(opts.Force, opts.ActingAs != "")

	if opts.Force {
		m.notifyAsync(user.ID, models.EventReauthenticate, "")
	}

	return &IssueResult{Pair: &TokenPair{
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExpiresAt,
		RefreshToken:     secret,
		RefreshExpiresAt: refreshExpiresAt,
	}}, nil
}

// Renew rotates the refresh credential in place: the same row's secret
// and expiry are replaced, so a stolen pre-rotation token can never be
// replayed. Exactly one concurrent Renew holding a given old token wins;
// losers get ErrRenewalRace.
func (m *Manager) Renew(ctx context.Context, principalID, oldRefreshToken string, device DeviceContext) (*TokenPair, error) {
	user, err := m.users.Get(ctx, principalID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredential
	}
	if err != nil {
		return nil, storeErr("get user", err)
	}

	now := time.Now()
	if !user.IsActive(now) {
		return nil, ErrInvalidCredential
	}

	secret, err := NewRefreshSecret()
	if err != nil {
		return nil, err
	}

	current, err := m.creds.GetBySecret(ctx, principalID, oldRefreshToken)
	if errors.Is(err, store.ErrNotFound) {
		metrics.RecordRenewal("race")
		return nil, ErrRenewalRace
	}
	if err != nil {
		return nil, storeErr("get", err)
	}

	// A public session keeps its clamped refresh window across rotations;
	// renewal must not widen it to the full configured TTL.
	refreshTTL := m.cfg.RefreshTTL
	if current.IsPublic {
		refreshTTL = m.cfg.MaxAccessTTL + publicRefreshMargin
	}

	refreshExpiresAt := now.Add(refreshTTL)
	rotated, err := m.creds.Rotate(ctx, principalID, oldRefreshToken, secret, refreshExpiresAt, device.IP, device.UserAgent)
	if errors.Is(err, store.ErrConflict) {
		metrics.RecordRenewal("race")
		return nil, ErrRenewalRace
	}
	if err != nil {
		return nil, storeErr("rotate", err)
	}
	metrics.RecordRenewal("success")

	accessExpiresAt := now.Add(m.cfg.MaxAccessTTL - accessSafetyMargin)
	accessToken, err := m.tokens.GenerateAccessToken(user, rotated.ActingAsID, device, accessExpiresAt)
	if err != nil {
		return nil, err
	}

	m.notifyAsync(principalID, models.EventLoadAuth, "")

	return &TokenPair{
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExpiresAt,
		RefreshToken:     secret,
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}

// RevokeCurrent removes exactly the credential holding refreshToken.
func (m *Manager) RevokeCurrent(ctx context.Context, principalID, refreshToken string) error {
	cred, err := m.creds.GetBySecret(ctx, principalID, refreshToken)
	if errors.Is(err, store.ErrNotFound) {
		return ErrInvalidCredential
	}
	if err != nil {
		return storeErr("get", err)
	}

	if err := m.creds.Delete(ctx, cred.ID); err != nil {
		return storeErr("delete", err)
	}
	metrics.RecordRevocation("current", 1)
	return nil
}

// RevokeOthers removes every credential of the principal except the one
// holding exceptToken, returning the count removed.
func (m *Manager) RevokeOthers(ctx context.Context, principalID, exceptToken string) (int, error) {
	count, err := m.creds.DeleteOthers(ctx, principalID, exceptToken)
	if errors.Is(err, store.ErrNotFound) {
		return 0, ErrInvalidCredential
	}
	if err != nil {
		return 0, storeErr("delete others", err)
	}
	metrics.RecordRevocation("others", count)
	return count, nil
}

// RevokeAll removes every credential of the principal. Used on
// deregistration and password reset.
func (m *Manager) RevokeAll(ctx context.Context, principalID string) (int, error) {
	count, err := m.creds.DeleteByPrincipal(ctx, principalID)
	if err != nil {
		return 0, storeErr("delete all", err)
	}
	metrics.RecordRevocation("all", count)
	return count, nil
}

// List returns the principal's live credentials, most recent first.
func (m *Manager) List(ctx context.Context, principalID string) ([]*models.Credential, error) {
	creds, err := m.creds.FindByPrincipal(ctx, principalID)
	if err != nil {
		return nil, storeErr("find", err)
	}
	return creds, nil
}

// ImpersonationStart issues a session for the target principal with the
// operator recorded as acting-as. Always forced: impersonation is an
// administrative override of the target's own conflict policy.
func (m *Manager) ImpersonationStart(ctx context.Context, operator *models.User, operatorClaims *AccessClaims, targetID string, device DeviceContext) (*IssueResult, error) {
	if device.IsMobile {
		return nil, fmt.Errorf("%w: not available on mobile clients", ErrImpersonationDenied)
	}
	if operatorClaims.IsImpersonation() {
		return nil, fmt.Errorf("%w: nested impersonation", ErrImpersonationDenied)
	}

	target, err := m.users.Get(ctx, targetID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredential
	}
	if err != nil {
		return nil, storeErr("get user", err)
	}

	if target.IsRoot() {
		return nil, fmt.Errorf("%w: target holds the root role", ErrImpersonationDenied)
	}
	if !m.operatorMayImpersonate(operator, target) {
		return nil, fmt.Errorf("%w: operator is neither admin nor a supervisor of the target", ErrImpersonationDenied)
	}

	return m.Issue(ctx, target, device, IssueOptions{
		Force:    true,
		ActingAs: operator.ID,
	})
}

func (m *Manager) operatorMayImpersonate(operator, target *models.User) bool {
	if operator.IsAdmin() {
		return true
	}
	for _, supervisorID := range target.Supervisors {
		if supervisorID == operator.ID {
			return true
		}
	}
	return operator.Supervises(target.ID)
}

// ImpersonationStop revokes exactly the current impersonated credential.
// Valid only when the session carries an acting-as operator.
func (m *Manager) ImpersonationStop(ctx context.Context, principalID, refreshToken string) error {
	cred, err := m.creds.GetBySecret(ctx, principalID, refreshToken)
	if errors.Is(err, store.ErrNotFound) {
		return ErrInvalidCredential
	}
	if err != nil {
		return storeErr("get", err)
	}

	if !cred.IsImpersonation() {
		return ErrNotImpersonating
	}

	if err := m.creds.Delete(ctx, cred.ID); err != nil {
		return storeErr("delete", err)
	}
	return nil
}

// VerifyAccess exposes access-token verification to the transport and
// presence layers without handing out the token manager.
func (m *Manager) VerifyAccess(tokenString string) (*AccessClaims, error) {
	return m.tokens.VerifyAccessToken(tokenString)
}

func (m *Manager) notifyAsync(principalID, event, message string) {
	if m.notifier == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		if err := m.notifier.Notify(ctx, []string{principalID}, event, message); err != nil {
			logging.Warn().
				Err(err).
				Str("principal_id", principalID).
				Str("event", event).
				Msg("session event fan-out failed")
		}
	}()
}
