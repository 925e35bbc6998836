// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

// Package dispatch is the single write-side entry point business
// controllers call after a mutation: realtime fan-out to connected
// clients plus durable job enqueue for satellite tenants.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/classhub/classhub/internal/logging"
	"github.com/classhub/classhub/internal/metrics"
	"github.com/classhub/classhub/internal/models"
	"github.com/classhub/classhub/internal/store"
	"github.com/classhub/classhub/internal/syncqueue"
)

// Emitter is the presence fan-out surface the dispatcher needs: emit an
// event to the named users' rooms and answer whether a user has any
// joined realtime channel.
type Emitter interface {
	Emit(ctx context.Context, userIDs []string, event, message string) error
	HasConnections(userID string) bool
}

// Dispatcher implements dispatch(tenant|none, notify|none, sync|none).
//
// A dispatch runs as an explicit list of named tasks. Best-effort tasks
// (realtime emit, push) log their failures and never abort siblings;
// the durable enqueue task surfaces its error to the caller.
type Dispatcher struct {
	emitter  Emitter
	push     PushProvider
	queue    *syncqueue.Queue
	registry *store.TenantRegistry
	users    store.UserDirectory

	// hubMode enables the tenant-less broadcast path. Satellites never
	// broadcast to other satellites.
	hubMode bool
}

// New creates a dispatcher. push may be nil (push delivery skipped).
func New(emitter Emitter, push PushProvider, queue *syncqueue.Queue, registry *store.TenantRegistry, users store.UserDirectory, hubMode bool) *Dispatcher {
	if push == nil {
		push = NopPushProvider{}
	}
	return &Dispatcher{
		emitter:  emitter,
		push:     push,
		queue:    queue,
		registry: registry,
		users:    users,
		hubMode:  hubMode,
	}
}

type dispatchTask struct {
	name       string
	bestEffort bool
	run        func(ctx context.Context) error
}

// Dispatch fans out a notification and/or enqueues replication work.
//
// Within one call the realtime notification is always attempted before
// the durable enqueue, but the two are independent: a crash between them
// is an accepted gap in this at-least-once, order-insensitive model.
func (d *Dispatcher) Dispatch(ctx context.Context, tenantID string, notify *models.NotifyPayload, sync *models.SyncPayload) error {
	var tasks []dispatchTask

	if notify != nil && len(notify.UserIDs) > 0 {
		tasks = append(tasks,
			dispatchTask{name: "realtime emit", bestEffort: true, run: func(ctx context.Context) error {
				return d.emitter.Emit(ctx, notify.UserIDs, notify.Event, notify.Message)
			}},
			dispatchTask{name: "push delivery", bestEffort: true, run: func(ctx context.Context) error {
				return d.pushOffline(ctx, notify)
			}},
		)
	}

	// A notify-only dispatch never queues: in-process fan-out suffices.
	if sync != nil && !sync.IsEmpty() {
		switch {
		case tenantID != "":
			tasks = append(tasks, dispatchTask{name: "enqueue sync job", run: func(ctx context.Context) error {
				return d.enqueueForTenant(ctx, tenantID, notify, sync)
			}})
		case d.hubMode:
			tasks = append(tasks, dispatchTask{name: "broadcast sync job", run: func(ctx context.Context) error {
				return d.broadcast(ctx, notify, sync)
			}})
		}
	}

	var firstErr error
	for _, task := range tasks {
		err := task.run(ctx)
		if err == nil {
			continue
		}
		if task.bestEffort {
			logging.Warn().
				Err(err).
				Str("task", task.name).
				Str("tenant_id", tenantID).
				Msg("best-effort dispatch task failed")
			continue
		}
		logging.Error().
			Err(err).
			Str("task", task.name).
			Str("tenant_id", tenantID).
			Msg("dispatch task failed")
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Notify is the realtime-only convenience used by the session manager
// for RE-AUTH / LOAD-AUTH hints.
func (d *Dispatcher) Notify(ctx context.Context, userIDs []string, event, message string) error {
	return d.Dispatch(ctx, "", &models.NotifyPayload{UserIDs: userIDs, Event: event, Message: message}, nil)
}

// pushOffline hands the message to the push provider for active users
// that registered subscriptions and currently hold no realtime channel.
// Recipients are attempted independently and concurrently.
func (d *Dispatcher) pushOffline(ctx context.Context, notify *models.NotifyPayload) error {
	if notify.Message == "" {
		return nil
	}

	users, err := d.users.GetByIDs(ctx, notify.UserIDs)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]string{
		"event":   notify.Event,
		"message": notify.Message,
	})
	if err != nil {
		return err
	}

	now := time.Now()
	var wg sync.WaitGroup
	for _, user := range users {
		if !user.IsActive(now) || len(user.Subscriptions) == 0 {
			continue
		}
		// HasConnections sees only this instance's connections; a user
		// joined on another instance may receive both the emit and a
		// push. Push is a best-effort hint, duplicates are tolerated.
		if d.emitter.HasConnections(user.ID) {
			continue // Connected clients already got the realtime emit.
		}

		for _, sub := range user.Subscriptions {
			wg.Add(1)
			go func(userID string, sub models.PushSubscription) {
				defer wg.Done()
				err := d.push.Send(ctx, sub, payload)
				metrics.RecordPushDelivery(err)
				if err != nil {
					logging.Warn().
						Err(err).
						Str("user_id", userID).
						Str("channel_id", sub.ChannelID).
						Msg("push delivery failed")
				}
			}(user.ID, sub)
		}
	}
	wg.Wait()
	return nil
}

// enqueueForTenant queues one job when the tenant is satellite-and-
// queue-ready; otherwise it is a silent no-op so tenants without a
// satellite never build backlog.
func (d *Dispatcher) enqueueForTenant(ctx context.Context, tenantID string, notify *models.NotifyPayload, sync *models.SyncPayload) error {
	tenant, err := d.registry.Get(ctx, tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if !tenant.QueueReady() {
		return nil
	}

	_, err = d.queue.Enqueue(ctx, tenantID, notify, sync, 0)
	return err
}

// broadcast queues one copy of the payload per queue-ready tenant, for
// globally-shared reference data with no single owning tenant.
func (d *Dispatcher) broadcast(ctx context.Context, notify *models.NotifyPayload, sync *models.SyncPayload) error {
	tenants, err := d.registry.QueueReady(ctx)
	if err != nil {
		return err
	}

	var firstErr error
	for _, tenant := range tenants {
		if _, err := d.queue.Enqueue(ctx, tenant.ID, notify, sync, 0); err != nil {
			logging.Error().
				Err(err).
				Str("tenant_id", tenant.ID).
				Msg("broadcast enqueue failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
