// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

package services

import (
	"context"
	"time"

	"github.com/classhub/classhub/internal/logging"
)

// SweeperService runs a maintenance function on a fixed interval:
// credential garbage collection, completed-job purging, registry cache
// refresh. A failing sweep is logged and retried on the next tick; it
// never crashes the service.
type SweeperService struct {
	name     string
	interval time.Duration
	sweep    func(ctx context.Context) error
}

// NewSweeperService creates a periodic sweeper.
func NewSweeperService(name string, interval time.Duration, sweep func(ctx context.Context) error) *SweeperService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &SweeperService{
		name:     name,
		interval: interval,
		sweep:    sweep,
	}
}

// Serve implements suture.Service. The first sweep runs after one full
// interval, not at startup, so process restarts do not stampede the
// store.
func (s *SweeperService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				logging.Warn().
					Err(err).
					Str("sweeper", s.name).
					Msg("maintenance sweep failed")
			}
		}
	}
}

// String implements fmt.Stringer for suture's log messages.
func (s *SweeperService) String() string {
	return s.name
}
