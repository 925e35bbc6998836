// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

// Package natsembed runs an in-process NATS server so single-binary
// deployments need no external broker. The trigger channel and the
// presence backplane connect to it like any other NATS endpoint.
package natsembed

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// readyTimeout bounds how long startup waits for the listener.
const readyTimeout = 30 * time.Second

// Config tunes the embedded server.
type Config struct {
	Host string
	Port int

	// StoreDir is the JetStream storage directory. JetStream is enabled
	// on the broker for operators that attach durable consumers; the
	// session layer itself uses core NATS only.
	StoreDir string

	MaxPayload int32
}

// DefaultConfig returns the single-binary defaults.
func DefaultConfig() Config {
	return Config{
		Host:       "127.0.0.1",
		Port:       4222,
		MaxPayload: 8 * 1024 * 1024,
	}
}

// Server wraps the NATS server with lifecycle management.
type Server struct {
	server    *server.Server
	clientURL string
}

// New creates and starts an embedded NATS server, blocking until it
// accepts connections.
func New(cfg Config) (*Server, error) {
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = 8 * 1024 * 1024
	}

	opts := &server.Options{
		ServerName: "classhub",
		Host:       cfg.Host,
		Port:       cfg.Port,
		JetStream:  cfg.StoreDir != "",
		StoreDir:   cfg.StoreDir,
		MaxPayload: cfg.MaxPayload,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create NATS server: %w", err)
	}

	ns.ConfigureLogger()
	go ns.Start()

	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready within %s", readyTimeout)
	}

	return &Server{
		server:    ns,
		clientURL: ns.ClientURL(),
	}, nil
}

// ClientURL returns the connection URL for in-process clients.
func (s *Server) ClientURL() string {
	return s.clientURL
}

// IsRunning reports broker health.
func (s *Server) IsRunning() bool {
	return s.server.Running()
}

// Shutdown stops the server, waiting for completion unless the context
// lapses first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.server.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.WaitForShutdown()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
