// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSweeperRunsOnInterval(t *testing.T) {
	var sweeps atomic.Int32
	svc := NewSweeperService("test-sweeper", 10*time.Millisecond, func(ctx context.Context) error {
		sweeps.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	deadline := time.After(time.Second)
	for sweeps.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("sweeps = %d, want >= 3", sweeps.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("service did not stop")
	}
}

func TestSweeperSurvivesFailures(t *testing.T) {
	var sweeps atomic.Int32
	svc := NewSweeperService("flaky-sweeper", 10*time.Millisecond, func(ctx context.Context) error {
		sweeps.Add(1)
		return errors.New("store unavailable")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Serve(ctx) //nolint:errcheck

	deadline := time.After(time.Second)
	for sweeps.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("sweeps = %d, want >= 2 despite failures", sweeps.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSweeperDefaultsInterval(t *testing.T) {
	svc := NewSweeperService("s", 0, func(ctx context.Context) error { return nil })
	if svc.interval != time.Hour {
		t.Errorf("interval = %v, want 1h default", svc.interval)
	}
}
