// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

// Package presence is the realtime fan-out gateway: websocket clients
// join per-principal rooms after a JOIN handshake, satellite processes
// attach with JOIN_SATELLITE, and events emitted for a set of users are
// delivered to every connection in their rooms across all instances.
package presence

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/classhub/classhub/internal/auth"
	"github.com/classhub/classhub/internal/logging"
	"github.com/classhub/classhub/internal/metrics"
	"github.com/classhub/classhub/internal/models"
	"github.com/classhub/classhub/internal/store"
	"github.com/classhub/classhub/internal/syncqueue"
)

const presenceTimeout = 5 * time.Second

// TokenVerifier checks a JOIN access token and returns its claims.
type TokenVerifier interface {
	VerifyAccess(tokenString string) (*auth.AccessClaims, error)
}

// contactStatus is the CONTACT_STATUS payload sent to a user's contacts
// when their first connection joins or their last one leaves.
type contactStatus struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

// Config carries hub construction options.
type Config struct {
	// InstanceID distinguishes this process on the backplane so it can
	// skip its own published frames. Defaults to a random id.
	InstanceID string

	// WelcomeMessage is echoed in successful JOIN replies.
	WelcomeMessage string
}

// Hub maintains the set of active connections and the per-principal
// rooms they joined, and routes emitted events to them.
type Hub struct {
	verifier  TokenVerifier
	tenants   *store.TenantRegistry
	users     store.UserDirectory
	queue     *syncqueue.Queue
	backplane Backplane

	instanceID string
	welcome    string

	// Register and Unregister carry connection lifecycle events from the
	// client pumps into the hub loop.
	Register   chan *Client
	Unregister chan *Client

	mu      sync.RWMutex
	clients map[*Client]bool
	rooms   map[string]map[*Client]bool
}

// NewHub creates a hub. queue and backplane may be nil: without a queue
// satellite joins skip the backlog wake, without a backplane emits stay
// local to this instance.
func NewHub(verifier TokenVerifier, tenants *store.TenantRegistry, users store.UserDirectory, queue *syncqueue.Queue, backplane Backplane, cfg Config) *Hub {
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	return &Hub{
		verifier:   verifier,
		tenants:    tenants,
		users:      users,
		queue:      queue,
		backplane:  backplane,
		instanceID: cfg.InstanceID,
		welcome:    cfg.WelcomeMessage,
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
	}
}

func newChannelID() string { return uuid.NewString() }

// Run processes connection lifecycle events until the context is
// cancelled, then closes every remaining client.
func (h *Hub) Run(ctx context.Context) error {
	if h.backplane != nil {
		if err := h.backplane.Subscribe(ctx, h.handleRemote); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return ctx.Err()
		case client := <-h.Register:
			h.addClient(client)
		case client := <-h.Unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnections.Set(float64(total))
	logging.Debug().
		Uint64("client_id", c.id).
		Int("total_clients", total).
		Msg("client registered")
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)

	wentOffline := false
	principalID := c.principalID
	if principalID != "" {
		room := h.rooms[principalID]
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, principalID)
			wentOffline = true
		}
	}
	total := len(h.clients)
	online := len(h.rooms)
	h.mu.Unlock()

	metrics.WSConnections.Set(float64(total))
	metrics.OnlinePrincipals.Set(float64(online))

	logging.Debug().
		Uint64("client_id", c.id).
		Str("principal_id", principalID).
		Msg("client unregistered")

	if wentOffline {
		h.presenceChanged(principalID, false)
	}
}

// handleJoin verifies the access token and binds the connection to the
// principal's room. A failed join leaves the connection open; the client
// may retry with a fresh token.
func (h *Hub) handleJoin(c *Client, req JoinRequest) {
	claims, err := h.verifier.VerifyAccess(req.AccessToken)
	if err != nil {
		metrics.JoinAttempts.WithLabelValues("rejected").Inc()
		logging.Debug().Err(err).Uint64("client_id", c.id).Msg("join rejected")
		c.reply(Message{Type: MessageTypeJoined, Data: JoinReply{
			AccessToken: req.AccessToken,
			Error:       "invalid access token",
		}})
		return
	}

	principalID := claims.PrincipalID()

	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	if c.principalID != "" {
		// A joined connection cannot rebind to another room; answer with
		// an error frame like the failed-token path does.
		h.mu.Unlock()
		metrics.JoinAttempts.WithLabelValues("rejected").Inc()
		c.reply(Message{Type: MessageTypeJoined, Data: JoinReply{
			AccessToken: req.AccessToken,
			Error:       "connection already joined",
		}})
		return
	}
	cameOnline := len(h.rooms[principalID]) == 0
	c.principalID = principalID
	if h.rooms[principalID] == nil {
		h.rooms[principalID] = make(map[*Client]bool)
	}
	h.rooms[principalID][c] = true
	online := len(h.rooms)
	h.mu.Unlock()

	metrics.JoinAttempts.WithLabelValues("ok").Inc()
	metrics.OnlinePrincipals.Set(float64(online))

	c.reply(Message{Type: MessageTypeJoined, Data: JoinReply{
		ChannelID:      c.channelID,
		AccessToken:    req.AccessToken,
		WelcomeMessage: h.welcome,
	}})

	logging.Info().
		Str("principal_id", principalID).
		Str("channel_id", c.channelID).
		Bool("came_online", cameOnline).
		Msg("client joined")

	if cameOnline {
		h.presenceChanged(principalID, true)
	}
}

// handleJoinSatellite attaches a satellite process connection. A secret
// mismatch or unknown tenant is silently ignored so probing reveals
// nothing.
func (h *Hub) handleJoinSatellite(c *Client, req JoinSatelliteRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()

	tenant, err := h.tenants.Get(ctx, req.TenantID)
	if err != nil || tenant.SharedSecret == "" || tenant.SharedSecret != req.SharedSecret {
		logging.Debug().
			Str("tenant_id", req.TenantID).
			Uint64("client_id", c.id).
			Msg("satellite join ignored")
		return
	}

	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	c.tenantID = req.TenantID
	h.mu.Unlock()

	c.reply(Message{Type: MessageTypeJoined, Data: JoinReply{
		ChannelID:      c.channelID,
		TenantID:       req.TenantID,
		WelcomeMessage: h.welcome,
	}})

	logging.Info().
		Str("tenant_id", req.TenantID).
		Str("channel_id", c.channelID).
		Msg("satellite joined")

	// A reconnecting satellite may have missed trigger hints; wake the
	// runner so any backlog drains promptly.
	if h.queue != nil {
		h.queue.Wake(ctx, req.TenantID)
	}
}

// presenceChanged tells a user's contacts they went online or offline.
// An explicit availability override suppresses the broadcast.
func (h *Hub) presenceChanged(principalID string, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()

	user, err := h.users.Get(ctx, principalID)
	if err != nil {
		logging.Debug().Err(err).Str("principal_id", principalID).Msg("presence lookup failed")
		return
	}
	if user.Availability != models.AvailabilityAuto || len(user.Contacts) == 0 {
		return
	}

	payload, err := json.Marshal(contactStatus{UserID: principalID, Online: online})
	if err != nil {
		return
	}

	if err := h.Emit(ctx, user.Contacts, models.EventContactStatus, string(payload)); err != nil {
		logging.Warn().Err(err).Str("principal_id", principalID).Msg("presence broadcast failed")
	}
}

// Emit delivers an event to every connection in the named users' rooms,
// here and on every other instance via the backplane.
func (h *Hub) Emit(ctx context.Context, userIDs []string, event, message string) error {
	h.emitLocal(userIDs, event, message)

	if h.backplane == nil {
		return nil
	}
	metrics.BackplaneFrames.WithLabelValues("published").Inc()
	return h.backplane.Publish(ctx, Envelope{
		Origin:  h.instanceID,
		UserIDs: userIDs,
		Event:   event,
		Message: message,
	})
}

// handleRemote delivers frames published by other instances.
func (h *Hub) handleRemote(env Envelope) {
	if env.Origin == h.instanceID {
		return
	}
	metrics.BackplaneFrames.WithLabelValues("received").Inc()
	h.emitLocal(env.UserIDs, env.Event, env.Message)
}

func (h *Hub) emitLocal(userIDs []string, event, message string) {
	h.mu.RLock()
	var targets []*Client
	for _, userID := range userIDs {
		for client := range h.rooms[userID] {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	// Deterministic delivery order; slow clients are skipped, not waited on.
	sort.Slice(targets, func(i, j int) bool { return targets[i].id < targets[j].id })

	msg := Message{Type: event, Data: message}
	for _, client := range targets {
		select {
		case client.send <- msg:
			metrics.FramesSent.Inc()
		default:
			metrics.FramesDropped.Inc()
			logging.Warn().
				Uint64("client_id", client.id).
				Str("event", event).
				Msg("client send buffer full, frame dropped")
		}
	}
}

// HasConnections reports whether the user has at least one joined
// realtime connection on this instance.
func (h *Hub) HasConnections(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[userID]) > 0
}

// Channels returns the channel ids of the user's joined connections.
func (h *Hub) Channels(userID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	room := h.rooms[userID]
	ids := make([]string, 0, len(room))
	for client := range room {
		ids = append(ids, client.channelID)
	}
	sort.Strings(ids)
	return ids
}

// ClientCount returns the number of open connections, joined or not.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// OnlineCount returns the number of principals with at least one joined
// connection on this instance.
func (h *Hub) OnlineCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.rooms = make(map[string]map[*Client]bool)

	logging.Info().Msg("all clients closed")
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ServeWS upgrades an HTTP request and hands the connection to the hub.
// Authentication happens afterwards via the JOIN handshake, not here.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(h, conn)
	h.Register <- client
	client.Start()
}
