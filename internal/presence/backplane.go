// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"

	"github.com/classhub/classhub/internal/logging"
)

// EmitTopic is the cross-instance fan-out subject.
const EmitTopic = "classhub.presence.emit"

// Envelope is one emitted event crossing instance boundaries. Origin
// lets the publishing instance skip its own frame, which it already
// delivered locally.
type Envelope struct {
	Origin  string   `json:"origin"`
	UserIDs []string `json:"user_ids"`
	Event   string   `json:"event"`
	Message string   `json:"message,omitempty"`
}

// Backplane carries emitted events between hub instances. Delivery is
// best-effort fire-and-forget: a missed frame means a missed realtime
// hint, never lost durable state.
type Backplane interface {
	Publish(ctx context.Context, env Envelope) error
	Subscribe(ctx context.Context, handle func(Envelope)) error
	Close() error
}

// NATSBackplaneConfig configures the NATS-backed backplane.
type NATSBackplaneConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
	CloseTimeout  time.Duration
}

// DefaultNATSBackplaneConfig returns production defaults.
func DefaultNATSBackplaneConfig(url string) NATSBackplaneConfig {
	return NATSBackplaneConfig{
		URL:           url,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		CloseTimeout:  10 * time.Second,
	}
}

// NATSBackplane implements Backplane over core NATS via watermill.
// Plain pub/sub, no JetStream: every instance must see every frame, and
// frames for a restarting instance are worthless by the time it is back.
type NATSBackplane struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     watermill.LoggerAdapter

	mu     sync.Mutex
	closed bool
}

// NewNATSBackplane connects the backplane publisher and subscriber.
func NewNATSBackplane(cfg NATSBackplaneConfig) (*NATSBackplane, error) {
	logger := logging.NewWatermillAdapter()

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("presence backplane disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("presence backplane reconnected", watermill.LogFields{
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
		return nil, fmt.Errorf("create backplane publisher: %w", err)
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
		return nil, fmt.Errorf("create backplane subscriber: %w", err)
	}

	return &NATSBackplane{
		publisher:  pub,
		subscriber: sub,
		logger:     logger,
	}, nil
}

// Publish broadcasts one envelope to every hub instance.
func (b *NATSBackplane) Publish(_ context.Context, env Envelope) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("backplane is closed")
	}
	b.mu.Unlock()

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal backplane envelope: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	return b.publisher.Publish(EmitTopic, msg)
}

// Subscribe routes incoming envelopes to handle until ctx is cancelled.
// Malformed frames are dropped.
func (b *NATSBackplane) Subscribe(ctx context.Context, handle func(Envelope)) error {
	messages, err := b.subscriber.Subscribe(ctx, EmitTopic)
	if err != nil {
		return fmt.Errorf("subscribe backplane: %w", err)
	}

	go func() {
		for msg := range messages {
			var env Envelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				b.logger.Error("malformed backplane envelope", err, watermill.LogFields{
					"message_id": msg.UUID,
				})
				msg.Ack()
				continue
			}
			msg.Ack()
			handle(env)
		}
	}()

	return nil
}

// Close shuts down both halves of the backplane.
func (b *NATSBackplane) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	pubErr := b.publisher.Close()
	subErr := b.subscriber.Close()
	if pubErr != nil {
		return pubErr
	}
	return subErr
}

// InProcessBackplane links hubs inside one process, used in tests and
// single-binary deployments with multiple hub instances.
type InProcessBackplane struct {
	mu       sync.Mutex
	handlers []func(Envelope)
	closed   bool
}

// NewInProcessBackplane creates an empty in-process backplane.
func NewInProcessBackplane() *InProcessBackplane {
	return &InProcessBackplane{}
}

// Publish synchronously hands the envelope to every subscriber.
func (b *InProcessBackplane) Publish(_ context.Context, env Envelope) error {
	b.mu.Lock()
	handlers := make([]func(Envelope), len(b.handlers))
	copy(handlers, b.handlers)
	closed := b.closed
	b.mu.Unlock()

	if closed {
		return nil
	}
	for _, handle := range handlers {
		handle(env)
	}
	return nil
}

// Subscribe registers a handler.
func (b *InProcessBackplane) Subscribe(_ context.Context, handle func(Envelope)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handle)
	return nil
}

// Close drops all handlers.
func (b *InProcessBackplane) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = nil
	b.closed = true
	return nil
}
