// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/classhub/classhub/internal/api"
	"github.com/classhub/classhub/internal/auth"
	"github.com/classhub/classhub/internal/config"
	"github.com/classhub/classhub/internal/dispatch"
	"github.com/classhub/classhub/internal/jobrunner"
	"github.com/classhub/classhub/internal/logging"
	"github.com/classhub/classhub/internal/natsembed"
	"github.com/classhub/classhub/internal/presence"
	"github.com/classhub/classhub/internal/store"
	"github.com/classhub/classhub/internal/supervisor"
	"github.com/classhub/classhub/internal/supervisor/services"
	"github.com/classhub/classhub/internal/syncqueue"
)

// tokenVerifier adapts the token manager to the presence gateway, which
// only needs stateless access-token checks.
type tokenVerifier struct {
	tokens *auth.TokenManager
}

func (v tokenVerifier) VerifyAccess(token string) (*auth.AccessClaims, error) {
	return v.tokens.VerifyAccessToken(token)
}

func main() {
	// === CONFIGURATION AND LOGGING ===

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})

	logging.Info().
		Str("mode", cfg.Server.Mode).
		Str("store", cfg.Store.Backend).
		Int("port", cfg.Server.Port).
		Msg("Starting Classhub session layer")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === STORES ===

	var (
		creds store.CredentialStore
		jobs  store.SyncJobStore
	)
	if cfg.Store.Backend == "badger" {
		opts := badger.DefaultOptions(cfg.Store.Path).WithLogger(nil)
		db, err := badger.Open(opts)
		if err != nil {
			logging.Fatal().Err(err).Str("path", cfg.Store.Path).Msg("Failed to open badger store")
		}
		defer func() {
			if err := db.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing badger store")
			}
		}()
		creds = store.NewBadgerCredentialStore(db)
		jobs = store.NewBadgerSyncJobStore(db)
		logging.Info().Str("path", cfg.Store.Path).Msg("Badger store opened")
	} else {
		logging.Warn().Msg("Memory store selected: sessions and queued jobs will not survive a restart")
		creds = store.NewMemoryCredentialStore()
		jobs = store.NewMemorySyncJobStore()
	}

	// Tenant records and user lookups come from the platform's business
	// database; this process only caches them. The in-memory
	// implementations are the integration seam.
	tenants := store.NewMemoryTenantStore()
	users := store.NewMemoryUserDirectory()

	registry := store.NewTenantRegistry(tenants, cfg.Store.RegistryCacheTTL)
	if err := registry.Init(ctx); err != nil {
		logging.Fatal().Err(err).Msg("Failed to warm tenant registry")
	}

	// === MESSAGING ===

	var broker *natsembed.Server
	natsURL := cfg.NATS.URL
	if cfg.NATS.Enabled && cfg.NATS.EmbeddedServer {
		// The broker must accept connections before the trigger and
		// backplane dial it, so it starts ahead of the supervisor tree.
		brokerCfg := natsembed.DefaultConfig()
		brokerCfg.StoreDir = cfg.NATS.StoreDir
		broker, err = natsembed.New(brokerCfg)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to start embedded NATS server")
		}
		natsURL = broker.ClientURL()
		logging.Info().Str("url", natsURL).Msg("Embedded NATS server started")
	}

	var trigger syncqueue.Trigger
	var backplane presence.Backplane
	if cfg.NATS.Enabled {
		triggerCfg := syncqueue.NATSTriggerConfig{
			URL:           natsURL,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
			CloseTimeout:  cfg.NATS.CloseTimeout,
		}
		trigger, err = syncqueue.NewNATSTrigger(triggerCfg)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to connect sync trigger to NATS")
		}

		backplaneCfg := presence.NATSBackplaneConfig{
			URL:           natsURL,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
			CloseTimeout:  cfg.NATS.CloseTimeout,
		}
		backplane, err = presence.NewNATSBackplane(backplaneCfg)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to connect presence backplane to NATS")
		}
	} else {
		logging.Warn().Msg("NATS disabled: trigger and backplane are process-local, multi-instance deployments will not converge")
		trigger = syncqueue.NewInProcessTrigger()
		backplane = presence.NewInProcessBackplane()
	}
	defer func() {
		if err := trigger.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing sync trigger")
		}
		if err := backplane.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing presence backplane")
		}
	}()

	queue := syncqueue.New(jobs, trigger, syncqueue.Config{
		MaxAttempts: cfg.Queue.MaxAttempts,
		BackoffBase: cfg.Queue.BackoffBase,
		BackoffCap:  cfg.Queue.BackoffCap,
	})

	// === DOMAIN COMPONENTS ===

	secret := cfg.Session.JWTSecret
	if secret == "" {
		secret, err = auth.NewRefreshSecret()
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to generate signing secret")
		}
		logging.Warn().Msg("SESSION_JWT_SECRET not set: generated an ephemeral signing secret, access tokens will not survive a restart")
	}
	tokens, err := auth.NewTokenManager(secret, cfg.Session.Issuer)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize token manager")
	}

	hub := presence.NewHub(tokenVerifier{tokens}, registry, users, queue, backplane, presence.Config{
		InstanceID:     cfg.Presence.InstanceID,
		WelcomeMessage: cfg.Presence.WelcomeMessage,
	})

	dispatcher := dispatch.New(hub, nil, queue, registry, users, cfg.IsHub())

	manager := auth.NewManager(tokens, creds, users, dispatcher, auth.Config{
		MaxAccessTTL: cfg.Session.AccessTTL,
		RefreshTTL:   cfg.Session.RefreshTTL,
		MaxLogin:     cfg.Session.MaxLogin,
		SameIPOnly:   cfg.Session.SameIPOnly,
	})

	runner := jobrunner.New(queue, trigger, registry,
		jobrunner.NewSatelliteClient(cfg.Runner.RequestTimeout),
		jobrunner.Config{
			PollInterval:  cfg.Runner.PollInterval,
			BatchSize:     cfg.Runner.BatchSize,
			RatePerSecond: cfg.Runner.RatePerSecond,
			RateBurst:     cfg.Runner.RateBurst,
		})

	// === HTTP SURFACE ===

	commands := api.NewCommandTable(manager, users)
	router := api.NewRouter(commands, manager, hub.ServeWS, promhttp.Handler(), api.RouterConfig{
		CORSOrigins:       cfg.Server.CORSOrigins,
		RateLimitReqs:     cfg.Server.RateLimitReqs,
		RateLimitWindow:   cfg.Server.RateLimitWindow,
		RateLimitDisabled: cfg.Server.RateLimitDisabled,
	})
	if cfg.Server.RateLimitDisabled {
		logging.Warn().Msg("Rate limiting is DISABLED")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	// === SUPERVISOR TREE ===

	tree, err := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	// Data layer: periodic maintenance over the stores.
	tree.AddDataService(services.NewSweeperService("credential-sweeper", cfg.Session.CleanupInterval,
		func(ctx context.Context) error {
			n, err := creds.CleanupExpired(ctx, cfg.Session.CleanupGrace)
			if n > 0 {
				logging.Info().Int("removed", n).Msg("Expired credentials swept")
			}
			return err
		}))
	tree.AddDataService(services.NewSweeperService("job-sweeper", cfg.Store.PurgeInterval,
		func(ctx context.Context) error {
			n, err := jobs.PurgeCompleted(ctx, time.Now().Add(-cfg.Store.PurgeCompletedAfter))
			if n > 0 {
				logging.Info().Int("purged", n).Msg("Completed sync jobs purged")
			}
			return err
		}))
	tree.AddDataService(services.NewSweeperService("registry-sweeper", cfg.Store.RegistryCacheTTL,
		func(ctx context.Context) error {
			registry.Refresh()
			return nil
		}))

	// Messaging layer: broker first so it outlives its clients on restart.
	if broker != nil {
		tree.AddMessagingService(services.NewBrokerService(broker, cfg.NATS.CloseTimeout))
	}
	tree.AddMessagingService(services.NewHubService(hub))
	tree.AddMessagingService(runner)
	logging.Info().Msg("Presence hub and job runner added to supervisor tree")

	// API layer.
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	// === START SUPERVISOR TREE ===

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Application stopped gracefully")
}
