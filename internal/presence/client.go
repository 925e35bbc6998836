// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

package presence

import (
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/classhub/classhub/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024 // 512 KB
)

// clientIDCounter generates unique, monotonically increasing client IDs
// so broadcast iteration order is deterministic.
var clientIDCounter atomic.Uint64

// Message is the wire frame exchanged with realtime clients.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// inboundMessage defers data decoding until the type is known.
type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Message types for the realtime handshake and keepalive.
const (
	MessageTypeJoin          = "JOIN"
	MessageTypeJoinSatellite = "JOIN_SATELLITE"
	MessageTypeJoined        = "JOINED"
	MessageTypePing          = "ping"
	MessageTypePong          = "pong"
)

// JoinRequest is the JOIN handshake payload.
type JoinRequest struct {
	AccessToken string `json:"access_token"`
}

// JoinSatelliteRequest is the JOIN_SATELLITE handshake payload.
type JoinSatelliteRequest struct {
	TenantID     string `json:"tenant_id"`
	SharedSecret string `json:"shared_secret"`
}

// JoinReply answers a JOIN: channel plus welcome on success, the echoed
// token plus an error string on failure.
type JoinReply struct {
	ChannelID      string `json:"channel_id,omitempty"`
	TenantID       string `json:"tenant_id,omitempty"`
	AccessToken    string `json:"access_token,omitempty"`
	WelcomeMessage string `json:"welcome_message,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Client is the middleman between one websocket connection and the hub.
// A connection starts unjoined; a successful JOIN binds it to a
// principal's room, a JOIN_SATELLITE marks it as a satellite process.
type Client struct {
	id   uint64
	hub  *Hub
	conn *websocket.Conn
	send chan Message

	// channelID identifies this connection across the handshake reply
	// and presence listings.
	channelID string

	// principalID is set by a successful JOIN; empty while unjoined.
	principalID string

	// tenantID is set by a successful JOIN_SATELLITE.
	tenantID string
}

// NewClient creates an unjoined client for an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:        clientIDCounter.Add(1),
		hub:       hub,
		conn:      conn,
		send:      make(chan Message, 256),
		channelID: newChannelID(),
	}
}

// ID returns the client's unique identifier.
func (c *Client) ID() uint64 { return c.id }

// ChannelID returns the connection's channel handle.
func (c *Client) ChannelID() string { return c.channelID }

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg inboundMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Error().Err(err).Msg("unexpected websocket close error")
			}
			break
		}

		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg inboundMessage) {
	switch msg.Type {
	case MessageTypeJoin:
		var req JoinRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			c.reply(Message{Type: MessageTypeJoined, Data: JoinReply{Error: "malformed join request"}})
			return
		}
		c.hub.handleJoin(c, req)

	case MessageTypeJoinSatellite:
		var req JoinSatelliteRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return // Silently ignored, like a secret mismatch.
		}
		c.hub.handleJoinSatellite(c, req)

	case MessageTypePing:
		c.reply(Message{Type: MessageTypePong})
	}
}

func (c *Client) reply(msg Message) {
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}

			if !ok {
				// The hub closed the channel.
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					logging.Error().Err(err).Msg("failed to write close message")
				}
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				logging.Error().Err(err).Msg("failed to write JSON message")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline for ping")
				return
			}

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start begins the client's read and write pumps.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}
