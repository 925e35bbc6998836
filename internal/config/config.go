// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

// Package config loads and validates Classhub configuration from layered
// sources: built-in defaults, an optional YAML file, then environment
// variables.
package config

import (
	"time"
)

// Process modes. A hub owns the tenant registry and broadcasts; a
// satellite serves one tenant and never broadcasts.
const (
	ModeHub       = "hub"
	ModeSatellite = "satellite"
)

// Config is the root configuration tree.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Session  SessionConfig  `koanf:"session"`
	Store    StoreConfig    `koanf:"store"`
	Queue    QueueConfig    `koanf:"queue"`
	Runner   RunnerConfig   `koanf:"runner"`
	NATS     NATSConfig     `koanf:"nats"`
	Presence PresenceConfig `koanf:"presence"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout"`

	// Mode selects hub or satellite behavior.
	Mode string `koanf:"mode" validate:"oneof=hub satellite"`

	// Environment gates production-only checks such as secret strength.
	Environment string `koanf:"environment"`

	CORSOrigins    []string `koanf:"cors_origins"`
	TrustedProxies []string `koanf:"trusted_proxies"`

	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// SessionConfig holds the session policy.
type SessionConfig struct {
	// JWTSecret signs access tokens. Minimum 32 characters.
	JWTSecret string `koanf:"jwt_secret"`

	Issuer string `koanf:"issuer"`

	AccessTTL  time.Duration `koanf:"access_ttl"`
	RefreshTTL time.Duration `koanf:"refresh_ttl"`

	// MaxLogin caps concurrent sessions per principal. Zero disables.
	MaxLogin int `koanf:"max_login" validate:"min=0"`

	// SameIPOnly rejects unforced logins from a second IP.
	SameIPOnly bool `koanf:"same_ip_only"`

	// CleanupInterval and CleanupGrace drive the expired-credential
	// reaper.
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
	CleanupGrace    time.Duration `koanf:"cleanup_grace"`
}

// StoreConfig selects and tunes the persistence layer.
type StoreConfig struct {
	// Backend is "badger" or "memory".
	Backend string `koanf:"backend" validate:"oneof=badger memory"`

	// Path is the badger data directory.
	Path string `koanf:"path"`

	// RegistryCacheTTL bounds tenant registry staleness.
	RegistryCacheTTL time.Duration `koanf:"registry_cache_ttl"`

	// PurgeCompletedAfter controls how long delivered and failed jobs
	// are kept for inspection.
	PurgeCompletedAfter time.Duration `koanf:"purge_completed_after"`
	PurgeInterval       time.Duration `koanf:"purge_interval"`
}

// QueueConfig tunes the durable sync job queue.
type QueueConfig struct {
	MaxAttempts int           `koanf:"max_attempts" validate:"min=1"`
	BackoffBase time.Duration `koanf:"backoff_base"`
	BackoffCap  time.Duration `koanf:"backoff_cap"`
}

// RunnerConfig tunes the job runner.
type RunnerConfig struct {
	PollInterval   time.Duration `koanf:"poll_interval"`
	BatchSize      int           `koanf:"batch_size" validate:"min=1"`
	RatePerSecond  float64       `koanf:"rate_per_second"`
	RateBurst      int           `koanf:"rate_burst"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// NATSConfig configures the trigger channel and presence backplane.
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`

	// EmbeddedServer starts an in-process NATS server; single-binary
	// deployments need no external broker.
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`

	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
	CloseTimeout  time.Duration `koanf:"close_timeout"`
}

// PresenceConfig tunes the realtime gateway.
type PresenceConfig struct {
	// InstanceID distinguishes this process on the backplane. Empty
	// means generate one at startup.
	InstanceID string `koanf:"instance_id"`

	WelcomeMessage string `koanf:"welcome_message"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8370,
			Timeout:         30 * time.Second,
			Mode:            ModeHub,
			Environment:     "development",
			CORSOrigins:     []string{"*"},
			TrustedProxies:  []string{},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Session: SessionConfig{
			JWTSecret:       "",
			Issuer:          "classhub",
			AccessTTL:       15 * time.Minute,
			RefreshTTL:      30 * 24 * time.Hour,
			MaxLogin:        0,
			SameIPOnly:      false,
			CleanupInterval: time.Hour,
			CleanupGrace:    24 * time.Hour,
		},
		Store: StoreConfig{
			Backend:             "badger",
			Path:                "/data/classhub",
			RegistryCacheTTL:    5 * time.Minute,
			PurgeCompletedAfter: 72 * time.Hour,
			PurgeInterval:       time.Hour,
		},
		Queue: QueueConfig{
			MaxAttempts: 8,
			BackoffBase: 5 * time.Second,
			BackoffCap:  10 * time.Minute,
		},
		Runner: RunnerConfig{
			PollInterval:   30 * time.Second,
			BatchSize:      64,
			RatePerSecond:  10,
			RateBurst:      20,
			RequestTimeout: 30 * time.Second,
		},
		NATS: NATSConfig{
			Enabled:        true,
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: true,
			StoreDir:       "/data/nats",
			MaxReconnects:  -1,
			ReconnectWait:  2 * time.Second,
			CloseTimeout:   10 * time.Second,
		},
		Presence: PresenceConfig{
			InstanceID:     "",
			WelcomeMessage: "connected to classhub",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// IsProduction reports whether production-only checks apply.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// IsHub reports whether this process runs in hub mode.
func (c *Config) IsHub() bool {
	return c.Server.Mode == ModeHub
}
