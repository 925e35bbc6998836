// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// minJWTSecretLength matches the token manager's signing requirement.
const minJWTSecretLength = 32

var validate = validator.New()

// Validate checks structural constraints via struct tags, then the
// cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			ve := verrs[0]
			return fmt.Errorf("field %s failed rule %q", ve.Namespace(), ve.Tag())
		}
		return err
	}

	if len(c.Session.JWTSecret) > 0 && len(c.Session.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("session.jwt_secret must be at least %d characters", minJWTSecretLength)
	}
	if c.IsProduction() && c.Session.JWTSecret == "" {
		return errors.New("session.jwt_secret is required in production")
	}

	if c.Session.AccessTTL <= 0 {
		return errors.New("session.access_ttl must be positive")
	}
	if c.Session.RefreshTTL < c.Session.AccessTTL {
		return errors.New("session.refresh_ttl must not be shorter than session.access_ttl")
	}

	if c.Queue.BackoffBase <= 0 || c.Queue.BackoffCap <= 0 {
		return errors.New("queue backoff durations must be positive")
	}
	if c.Queue.BackoffBase > c.Queue.BackoffCap {
		return errors.New("queue.backoff_base must not exceed queue.backoff_cap")
	}

	if c.Runner.PollInterval <= 0 {
		return errors.New("runner.poll_interval must be positive")
	}
	if c.Runner.RatePerSecond <= 0 {
		return errors.New("runner.rate_per_second must be positive")
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.New("nats.url is required when nats is enabled")
	}
	if c.Store.Backend == "badger" && c.Store.Path == "" {
		return errors.New("store.path is required for the badger backend")
	}

	return nil
}
