// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"classhub.yaml",
	"classhub.yml",
	"/etc/classhub/config.yaml",
	"/etc/classhub/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "CLASSHUB_CONFIG"

// Load builds the configuration from layered sources:
//  1. Defaults: built-in values
//  2. Config file: optional YAML file (if one exists)
//  3. Environment variables: highest priority, CLASSHUB_ prefixed
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// CLASSHUB_SESSION_MAX_LOGIN -> session.max_login
	envProvider := env.Provider("CLASSHUB_", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths lists config paths parsed as comma-separated slices
// when set from env vars.
var sliceConfigPaths = []string{
	"server.cors_origins",
	"server.trusted_proxies",
}

// processSliceFields converts comma-separated string values to slices
// for known slice fields. Env vars arrive as strings; the config
// expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice (from YAML or defaults): nothing to do.
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps CLASSHUB_ environment variable names to koanf
// config paths. Unmapped keys are skipped so random environment
// variables cannot pollute the config.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, "CLASSHUB_"))

	envMappings := map[string]string{
		// Server mappings
		"http_host":           "server.host",
		"http_port":           "server.port",
		"http_timeout":        "server.timeout",
		"mode":                "server.mode",
		"environment":         "server.environment",
		"cors_origins":        "server.cors_origins",
		"trusted_proxies":     "server.trusted_proxies",
		"rate_limit_requests": "server.rate_limit_reqs",
		"rate_limit_window":   "server.rate_limit_window",
		"disable_rate_limit":  "server.rate_limit_disabled",

		// Session mappings
		"jwt_secret":               "session.jwt_secret",
		"jwt_issuer":               "session.issuer",
		"session_access_ttl":       "session.access_ttl",
		"session_refresh_ttl":      "session.refresh_ttl",
		"session_max_login":        "session.max_login",
		"session_same_ip_only":     "session.same_ip_only",
		"session_cleanup_interval": "session.cleanup_interval",
		"session_cleanup_grace":    "session.cleanup_grace",

		// Store mappings
		"store_backend":       "store.backend",
		"store_path":          "store.path",
		"registry_cache_ttl":  "store.registry_cache_ttl",
		"jobs_purge_after":    "store.purge_completed_after",
		"jobs_purge_interval": "store.purge_interval",

		// Queue mappings
		"queue_max_attempts": "queue.max_attempts",
		"queue_backoff_base": "queue.backoff_base",
		"queue_backoff_cap":  "queue.backoff_cap",

		// Runner mappings
		"runner_poll_interval":   "runner.poll_interval",
		"runner_batch_size":      "runner.batch_size",
		"runner_rate_per_second": "runner.rate_per_second",
		"runner_rate_burst":      "runner.rate_burst",
		"runner_request_timeout": "runner.request_timeout",

		// NATS mappings
		"nats_enabled":        "nats.enabled",
		"nats_url":            "nats.url",
		"nats_embedded":       "nats.embedded_server",
		"nats_store_dir":      "nats.store_dir",
		"nats_max_reconnects": "nats.max_reconnects",
		"nats_reconnect_wait": "nats.reconnect_wait",
		"nats_close_timeout":  "nats.close_timeout",

		// Presence mappings
		"presence_instance_id": "presence.instance_id",
		"presence_welcome":     "presence.welcome_message",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
