// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

package syncqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/classhub/classhub/internal/logging"
)

// TriggerTopic is the shared trigger channel subject.
const TriggerTopic = "classhub.sync.trigger"

// NATSTriggerConfig configures the NATS-backed trigger.
type NATSTriggerConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
	CloseTimeout  time.Duration
}

// DefaultNATSTriggerConfig returns production defaults.
func DefaultNATSTriggerConfig(url string) NATSTriggerConfig {
	return NATSTriggerConfig{
		URL:           url,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		CloseTimeout:  10 * time.Second,
	}
}

// NATSTrigger implements Trigger over core NATS via watermill. Plain
// pub/sub, no JetStream: the trigger is a hint, not a durable queue, and
// every listening runner should receive every hint.
type NATSTrigger struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     watermill.LoggerAdapter

	mu     sync.Mutex
	closed bool
}

// NewNATSTrigger connects a trigger publisher and subscriber to NATS.
func NewNATSTrigger(cfg NATSTriggerConfig) (*NATSTrigger, error) {
	logger := logging.NewWatermillAdapter()

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("trigger channel disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("trigger channel reconnected", watermill.LogFields{
				"url": nc.ConnectedUrl(),
			})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create trigger publisher: %w", err)
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:          cfg.URL,
		CloseTimeout: cfg.CloseTimeout,
		NatsOptions:  natsOpts,
		Unmarshaler:  &wmNats.NATSMarshaler{},
		JetStream:    wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		pub.Close()
		return nil, fmt.Errorf("create trigger subscriber: %w", err)
	}

	return &NATSTrigger{
		publisher:  pub,
		subscriber: sub,
		logger:     logger,
	}, nil
}

// Publish sends a tenant wake-up hint on the shared subject.
func (t *NATSTrigger) Publish(_ context.Context, tenantID string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("trigger is closed")
	}
	t.mu.Unlock()

	msg := message.NewMessage(watermill.NewUUID(), []byte(tenantID))
	return t.publisher.Publish(TriggerTopic, msg)
}

// Subscribe returns a channel of tenant IDs published on the trigger
// subject.
func (t *NATSTrigger) Subscribe(ctx context.Context) (<-chan string, error) {
	messages, err := t.subscriber.Subscribe(ctx, TriggerTopic)
	if err != nil {
		return nil, fmt.Errorf("subscribe trigger: %w", err)
	}

	out := make(chan string, 16)
	go func() {
		defer close(out)
		for msg := range messages {
			tenantID := string(msg.Payload)
			msg.Ack()

			select {
			case out <- tenantID:
			case <-ctx.Done():
				return
			default:
				// Hint dropped; polling covers it.
			}
		}
	}()

	return out, nil
}

// Close shuts down both halves of the trigger.
func (t *NATSTrigger) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	pubErr := t.publisher.Close()
	subErr := t.subscriber.Close()
	if pubErr != nil {
		return pubErr
	}
	return subErr
}
