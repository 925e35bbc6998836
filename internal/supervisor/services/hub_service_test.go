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

type mockHub struct {
	runs atomic.Int32
}

func (m *mockHub) Run(ctx context.Context) error {
	m.runs.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func TestHubServiceDelegatesRun(t *testing.T) {
	hub := &mockHub{}
	svc := NewHubService(hub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("service did not stop")
	}

	if hub.runs.Load() != 1 {
		t.Errorf("runs = %d, want 1", hub.runs.Load())
	}
	if svc.String() != "presence-hub" {
		t.Errorf("name = %q", svc.String())
	}
}

type mockBroker struct {
	running  atomic.Bool
	shutdown atomic.Bool
}

func (m *mockBroker) Shutdown(_ context.Context) error {
	m.shutdown.Store(true)
	m.running.Store(false)
	return nil
}

func (m *mockBroker) IsRunning() bool { return m.running.Load() }

func TestBrokerServiceStopsOnCancel(t *testing.T) {
	broker := &mockBroker{}
	broker.running.Store(true)
	svc := NewBrokerService(broker, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	if broker.shutdown.Load() {
		t.Fatal("broker must stay up until cancellation")
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

	if !broker.shutdown.Load() {
		t.Error("broker was never shut down")
	}
}
