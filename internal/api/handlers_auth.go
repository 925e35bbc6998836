// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/classhub/classhub/internal/auth"
	"github.com/classhub/classhub/internal/models"
	"github.com/classhub/classhub/internal/store"
)

// sessionView is the redacted list shape: everything about a live
// session except its secret.
type sessionView struct {
	ID           string    `json:"id"`
	ActingAsID   string    `json:"acting_as_id,omitempty"`
	IssuedFromIP string    `json:"issued_from_ip"`
	UserAgent    string    `json:"user_agent"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func newSessionView(c *models.Credential) sessionView {
	return sessionView{
		ID:           c.ID,
		ActingAsID:   c.ActingAsID,
		IssuedFromIP: c.IssuedFromIP,
		UserAgent:    c.UserAgent,
		ExpiresAt:    c.ExpiresAt,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

type loginInput struct {
	UserID   string `json:"user_id" validate:"required"`
	Password string `json:"password" validate:"required"`

	// ExpiresIn requests a shorter access lifetime, in seconds. Zero
	// means the configured maximum.
	ExpiresIn int `json:"expires_in" validate:"min=0"`

	IsPublic bool `json:"is_public"`
	Force    bool `json:"force"`
}

type renewInput struct {
	PrincipalID  string `json:"principal_id" validate:"required"`
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type refreshTokenInput struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type impersonateInput struct {
	TargetID string `json:"target_id" validate:"required"`
}

type availabilityInput struct {
	// Availability is the explicit presence override. Empty restores
	// automatic online/offline broadcasts.
	Availability string `json:"availability" validate:"omitempty,oneof=invisible busy away"`
}

type subscribeInput struct {
	ChannelID string `json:"channel_id" validate:"required"`
	Endpoint  string `json:"endpoint" validate:"required"`
	Keys      string `json:"keys"`
}

type unsubscribeInput struct {
	ChannelID string `json:"channel_id" validate:"required"`
}

type revokedOutput struct {
	Revoked int `json:"revoked"`
}

// NewCommandTable registers every auth action against the session
// manager and the principal directory.
func NewCommandTable(manager *auth.Manager, users store.UserDirectory) CommandTable {
	table := make(CommandTable)

	table.register(&Command{
		Name:   "login",
		Method: http.MethodPost,
		Public: true,
		Handle: func(ctx context.Context, req *CommandRequest) (interface{}, error) {
			var in loginInput
			if err := decodeInput(req.Body, &in); err != nil {
				return nil, err
			}

			user, err := users.Get(ctx, in.UserID)
			if errors.Is(err, store.ErrNotFound) {
				return nil, auth.ErrInvalidCredential
			}
			if err != nil {
				return nil, err
			}
			if !user.IsActive(time.Now()) {
				return nil, auth.ErrInvalidCredential
			}
			if err := auth.VerifyPassword(user.PasswordHash, in.Password); err != nil {
				return nil, err
			}

			return manager.Issue(ctx, user, req.Device, auth.IssueOptions{
				ExpiresIn: time.Duration(in.ExpiresIn) * time.Second,
				IsPublic:  in.IsPublic,
				Force:     in.Force,
			})
		},
	})

	table.register(&Command{
		Name:   "renew",
		Method: http.MethodPost,
		Public: true,
		Handle: func(ctx context.Context, req *CommandRequest) (interface{}, error) {
			var in renewInput
			if err := decodeInput(req.Body, &in); err != nil {
				return nil, err
			}
			return manager.Renew(ctx, in.PrincipalID, in.RefreshToken, req.Device)
		},
	})

	table.register(&Command{
		Name:   "logout",
		Method: http.MethodPost,
		Handle: func(ctx context.Context, req *CommandRequest) (interface{}, error) {
			var in refreshTokenInput
			if err := decodeInput(req.Body, &in); err != nil {
				return nil, err
			}
			if err := manager.RevokeCurrent(ctx, req.Claims.PrincipalID(), in.RefreshToken); err != nil {
				return nil, err
			}
			return revokedOutput{Revoked: 1}, nil
		},
	})

	table.register(&Command{
		Name:   "revoke-others",
		Method: http.MethodPost,
		Handle: func(ctx context.Context, req *CommandRequest) (interface{}, error) {
			var in refreshTokenInput
			if err := decodeInput(req.Body, &in); err != nil {
				return nil, err
			}
			count, err := manager.RevokeOthers(ctx, req.Claims.PrincipalID(), in.RefreshToken)
			if err != nil {
				return nil, err
			}
			return revokedOutput{Revoked: count}, nil
		},
	})

	table.register(&Command{
		Name:   "revoke-all",
		Method: http.MethodPost,
		Handle: func(ctx context.Context, req *CommandRequest) (interface{}, error) {
			count, err := manager.RevokeAll(ctx, req.Claims.PrincipalID())
			if err != nil {
				return nil, err
			}
			return revokedOutput{Revoked: count}, nil
		},
	})

	table.register(&Command{
		Name:   "sessions",
		Method: http.MethodGet,
		Handle: func(ctx context.Context, req *CommandRequest) (interface{}, error) {
			creds, err := manager.List(ctx, req.Claims.PrincipalID())
			if err != nil {
				return nil, err
			}
			views := make([]sessionView, 0, len(creds))
			for _, cred := range creds {
				views = append(views, newSessionView(cred))
			}
			return views, nil
		},
	})

	table.register(&Command{
		Name:   "impersonate",
		Method: http.MethodPost,
		Handle: func(ctx context.Context, req *CommandRequest) (interface{}, error) {
			var in impersonateInput
			if err := decodeInput(req.Body, &in); err != nil {
				return nil, err
			}

			operator, err := users.Get(ctx, req.Claims.PrincipalID())
			if errors.Is(err, store.ErrNotFound) {
				return nil, auth.ErrInvalidCredential
			}
			if err != nil {
				return nil, err
			}

			return manager.ImpersonationStart(ctx, operator, req.Claims, in.TargetID, req.Device)
		},
	})

	table.register(&Command{
		Name:   "impersonate-stop",
		Method: http.MethodPost,
		Handle: func(ctx context.Context, req *CommandRequest) (interface{}, error) {
			var in refreshTokenInput
			if err := decodeInput(req.Body, &in); err != nil {
				return nil, err
			}
			if err := manager.ImpersonationStop(ctx, req.Claims.PrincipalID(), in.RefreshToken); err != nil {
				return nil, err
			}
			return revokedOutput{Revoked: 1}, nil
		},
	})

	table.register(&Command{
		Name:   "availability",
		Method: http.MethodPost,
		Handle: func(ctx context.Context, req *CommandRequest) (interface{}, error) {
			var in availabilityInput
			if err := decodeInput(req.Body, &in); err != nil {
				return nil, err
			}
			err := users.SetAvailability(ctx, req.Claims.PrincipalID(), models.Availability(in.Availability))
			if errors.Is(err, store.ErrNotFound) {
				return nil, auth.ErrInvalidCredential
			}
			if err != nil {
				return nil, err
			}
			return map[string]string{"availability": in.Availability}, nil
		},
	})

	table.register(&Command{
		Name:   "subscribe",
		Method: http.MethodPost,
		Handle: func(ctx context.Context, req *CommandRequest) (interface{}, error) {
			var in subscribeInput
			if err := decodeInput(req.Body, &in); err != nil {
				return nil, err
			}
			err := users.AddSubscription(ctx, req.Claims.PrincipalID(), models.PushSubscription{
				ChannelID: in.ChannelID,
				Endpoint:  in.Endpoint,
				Keys:      in.Keys,
			})
			if errors.Is(err, store.ErrNotFound) {
				return nil, auth.ErrInvalidCredential
			}
			if err != nil {
				return nil, err
			}
			return map[string]string{"channel_id": in.ChannelID}, nil
		},
	})

	table.register(&Command{
		Name:   "unsubscribe",
		Method: http.MethodPost,
		Handle: func(ctx context.Context, req *CommandRequest) (interface{}, error) {
			var in unsubscribeInput
			if err := decodeInput(req.Body, &in); err != nil {
				return nil, err
			}
			err := users.RemoveSubscription(ctx, req.Claims.PrincipalID(), in.ChannelID)
			if errors.Is(err, store.ErrNotFound) {
				return nil, auth.ErrInvalidCredential
			}
			if err != nil {
				return nil, err
			}
			return map[string]string{"channel_id": in.ChannelID}, nil
		},
	})

	return table
}
