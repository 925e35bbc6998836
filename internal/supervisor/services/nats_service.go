// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

package services

import (
	"context"
	"time"
)

// Broker matches the embedded NATS server lifecycle. Satisfied by
// *natsembed.Server, which is already running when handed in: the
// trigger and backplane connections made at startup need it live before
// the tree starts.
type Broker interface {
	Shutdown(ctx context.Context) error
	IsRunning() bool
}

// BrokerService holds the embedded broker under supervision: it blocks
// until shutdown, then stops the broker with a bounded grace period.
type BrokerService struct {
	broker          Broker
	shutdownTimeout time.Duration
	name            string
}

// NewBrokerService creates the wrapper.
func NewBrokerService(broker Broker, shutdownTimeout time.Duration) *BrokerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &BrokerService{
		broker:          broker,
		shutdownTimeout: shutdownTimeout,
		name:            "nats-broker",
	}
}

// Serve implements suture.Service.
func (s *BrokerService) Serve(ctx context.Context) error {
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.broker.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return ctx.Err()
}

// String implements fmt.Stringer for suture's log messages.
func (s *BrokerService) String() string {
	return s.name
}
