// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

// Package auth implements the session manager: rotating access/refresh
// credential pairs with device and IP conflict detection, cascading
// revocation, and an impersonation overlay.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/classhub/classhub/internal/models"
)

// AccessClaims is the self-verifying access credential. It is never
// persisted; expiry is enforced at verification time.
type AccessClaims struct {
	Name      string   `json:"name,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
	Tenants   []string `json:"tenants,omitempty"`
	ActingAs  string   `json:"acting_as,omitempty"`
	IP        string   `json:"ip,omitempty"`
	UserAgent string   `json:"ua,omitempty"`
	jwt.RegisteredClaims
}

// PrincipalID returns the session owner (the JWT subject).
func (c *AccessClaims) PrincipalID() string { return c.Subject }

// IsImpersonation reports whether the claims carry an acting operator.
func (c *AccessClaims) IsImpersonation() bool { return c.ActingAs != "" }

// TokenManager mints and verifies access credentials and generates opaque
// refresh secrets. Uses HMAC-SHA256 signing.
type TokenManager struct {
	secret []byte
	issuer string
}

// NewTokenManager creates a token manager. The secret must be at least 32
// characters.
func NewTokenManager(secret, issuer string) (*TokenManager, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("token secret must be at least 32 characters")
	}

	return &TokenManager{
		secret: []byte(secret),
		issuer: issuer,
	}, nil
}

// GenerateAccessToken mints a signed access credential for the user,
// expiring at expiresAt.
func (m *TokenManager) GenerateAccessToken(user *models.User, actingAs string, device DeviceContext, expiresAt time.Time) (string, error) {
	now := time.Now()
	claims := &AccessClaims{
		Name:      user.Name,
		Roles:     user.Roles,
		Scopes:    user.Scopes,
		Tenants:   user.Tenants,
		ActingAs:  actingAs,
		IP:        device.IP,
		UserAgent: device.UserAgent,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    m.issuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}

	return signed, nil
}

// VerifyAccessToken validates a signed access credential. Any ambiguity
// about validity fails closed as ErrInvalidCredential.
func (m *TokenManager) VerifyAccessToken(tokenString string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidCredential
	}

	return claims, nil
}

// NewRefreshSecret generates an opaque refresh token value. 48 random
// bytes, URL-safe base64.
func NewRefreshSecret() (string, error) {
	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashPassword produces a bcrypt hash for storage in the principal
// directory.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword compares a candidate password against a stored bcrypt
// hash. Returns ErrInvalidCredential on mismatch.
func VerifyPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredential
	}
	return nil
}
