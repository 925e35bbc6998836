// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

// Package syncqueue implements the durable per-tenant sync job queue and
// its trigger channel. The trigger is a wake-up hint only; the job
// runner also polls, so correctness never depends on a published message
// actually arriving.
package syncqueue

import (
	"context"
	"sync"
)

// Trigger is the pub/sub wake-up channel carrying tenant IDs.
type Trigger interface {
	// Publish signals that work may be pending for the tenant.
	Publish(ctx context.Context, tenantID string) error

	// Subscribe returns a channel of tenant IDs. The channel is closed
	// when the context is cancelled or the trigger is closed.
	Subscribe(ctx context.Context) (<-chan string, error)

	// Close releases the trigger's resources.
	Close() error
}

// InProcessTrigger is a Trigger for single-process deployments and
// tests. Slow subscribers drop hints rather than block publishers.
type InProcessTrigger struct {
	mu     sync.Mutex
	subs   map[chan string]struct{}
	closed bool
}

// NewInProcessTrigger creates an in-process trigger.
func NewInProcessTrigger() *InProcessTrigger {
	return &InProcessTrigger{subs: make(map[chan string]struct{})}
}

// Publish fans the tenant ID out to all live subscribers.
func (t *InProcessTrigger) Publish(_ context.Context, tenantID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}

	for ch := range t.subs {
		select {
		case ch <- tenantID:
		default:
			// Hint dropped; the subscriber's poll loop covers it.
		}
	}
	return nil
}

// Subscribe registers a new subscriber channel.
func (t *InProcessTrigger) Subscribe(ctx context.Context) (<-chan string, error) {
	ch := make(chan string, 16)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		close(ch)
		return ch, nil
	}
	t.subs[ch] = struct{}{}
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		t.mu.Lock()
		if _, ok := t.subs[ch]; ok {
			delete(t.subs, ch)
			close(ch)
		}
		t.mu.Unlock()
	}()

	return ch, nil
}

// Close closes every subscriber channel.
func (t *InProcessTrigger) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	for ch := range t.subs {
		close(ch)
		delete(t.subs, ch)
	}
	return nil
}
