// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

package presence

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/classhub/classhub/internal/auth"
	"github.com/classhub/classhub/internal/logging"
	"github.com/classhub/classhub/internal/models"
	"github.com/classhub/classhub/internal/store"
	"github.com/classhub/classhub/internal/syncqueue"
)

func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

// fakeVerifier accepts tokens of the form "tok:<principal>".
type fakeVerifier struct{}

func (fakeVerifier) VerifyAccess(tokenString string) (*auth.AccessClaims, error) {
	const prefix = "tok:"
	if len(tokenString) <= len(prefix) || tokenString[:len(prefix)] != prefix {
		return nil, auth.ErrInvalidCredential
	}
	return &auth.AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: tokenString[len(prefix):]},
	}, nil
}

type hubFixture struct {
	hub     *Hub
	tenants *store.MemoryTenantStore
	users   *store.MemoryUserDirectory
	queue   *syncqueue.Queue
	trigger *syncqueue.InProcessTrigger
}

func setupHub(t *testing.T, backplane Backplane) *hubFixture {
	t.Helper()

	tenants := store.NewMemoryTenantStore()
	registry := store.NewTenantRegistry(tenants, 50*time.Millisecond)
	users := store.NewMemoryUserDirectory()
	trigger := syncqueue.NewInProcessTrigger()
	t.Cleanup(func() { trigger.Close() })
	queue := syncqueue.New(store.NewMemorySyncJobStore(), trigger, syncqueue.DefaultConfig())

	hub := NewHub(fakeVerifier{}, registry, users, queue, backplane, Config{
		WelcomeMessage: "welcome to classhub",
	})
	return &hubFixture{hub: hub, tenants: tenants, users: users, queue: queue, trigger: trigger}
}

func seedPresenceUser(t *testing.T, f *hubFixture, id string, contacts ...string) {
	t.Helper()
	err := f.users.Put(context.Background(), &models.User{
		ID:       id,
		Status:   models.UserActive,
		Contacts: contacts,
	})
	if err != nil {
		t.Fatal(err)
	}
}

// joinedClient registers a fresh client and joins it as the principal.
func joinedClient(t *testing.T, f *hubFixture, principalID string) *Client {
	t.Helper()

	c := NewClient(f.hub, nil)
	f.hub.addClient(c)
	f.hub.handleJoin(c, JoinRequest{AccessToken: "tok:" + principalID})
	reply := readFrame(t, c)
	if reply.Type != MessageTypeJoined {
		t.Fatalf("reply type = %s, want JOINED", reply.Type)
	}
	return c
}

func readFrame(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("no frame received")
		return Message{}
	}
}

func assertNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("unexpected frame %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestJoinBindsRoomAndReplies(t *testing.T) {
	f := setupHub(t, nil)
	seedPresenceUser(t, f, "alice")

	c := NewClient(f.hub, nil)
	f.hub.addClient(c)
	f.hub.handleJoin(c, JoinRequest{AccessToken: "tok:alice"})

	reply := readFrame(t, c)
	join, ok := reply.Data.(JoinReply)
	if !ok {
		t.Fatalf("reply data = %T, want JoinReply", reply.Data)
	}
	if join.Error != "" || join.ChannelID != c.ChannelID() || join.WelcomeMessage == "" {
		t.Errorf("join reply = %+v", join)
	}
	if !f.hub.HasConnections("alice") {
		t.Error("alice must have a connection after join")
	}
	if f.hub.OnlineCount() != 1 {
		t.Errorf("OnlineCount = %d, want 1", f.hub.OnlineCount())
	}
}

func TestJoinInvalidTokenRejected(t *testing.T) {
	f := setupHub(t, nil)

	c := NewClient(f.hub, nil)
	f.hub.addClient(c)
	f.hub.handleJoin(c, JoinRequest{AccessToken: "garbage"})

	reply := readFrame(t, c)
	join := reply.Data.(JoinReply)
	if join.Error == "" || join.ChannelID != "" {
		t.Errorf("join reply = %+v, want error without channel", join)
	}
	if join.AccessToken != "garbage" {
		t.Errorf("failed join must echo the token, got %q", join.AccessToken)
	}
	if f.hub.ClientCount() != 1 {
		t.Error("failed join must leave the connection open")
	}
	if f.hub.OnlineCount() != 0 {
		t.Error("failed join must not bind a room")
	}
}

func TestJoinTwiceAnsweredWithError(t *testing.T) {
	f := setupHub(t, nil)
	seedPresenceUser(t, f, "alice")

	c := joinedClient(t, f, "alice")
	f.hub.handleJoin(c, JoinRequest{AccessToken: "tok:mallory"})

	reply := readFrame(t, c)
	join, ok := reply.Data.(JoinReply)
	if !ok {
		t.Fatalf("reply data = %T, want JoinReply", reply.Data)
	}
	if join.Error == "" || join.ChannelID != "" {
		t.Errorf("rejoin reply = %+v, want error without channel", join)
	}
	if f.hub.HasConnections("mallory") {
		t.Error("rejoin must not bind a second room")
	}
	if !f.hub.HasConnections("alice") {
		t.Error("rejoin must keep the original room binding")
	}
}

func TestPresenceBroadcastToContacts(t *testing.T) {
	f := setupHub(t, nil)
	seedPresenceUser(t, f, "bob")
	seedPresenceUser(t, f, "alice", "bob")

	bob := joinedClient(t, f, "bob")
	_ = joinedClient(t, f, "alice")

	frame := readFrame(t, bob)
	if frame.Type != models.EventContactStatus {
		t.Fatalf("frame type = %s, want %s", frame.Type, models.EventContactStatus)
	}
	msg, _ := frame.Data.(string)
	if msg == "" {
		t.Fatal("contact status frame carries no payload")
	}
}

func TestOfflineOnlyOnLastDisconnect(t *testing.T) {
	f := setupHub(t, nil)
	seedPresenceUser(t, f, "bob")
	seedPresenceUser(t, f, "alice", "bob")

	bob := joinedClient(t, f, "bob")
	first := joinedClient(t, f, "alice")
	second := joinedClient(t, f, "alice")
	readFrame(t, bob) // online broadcast from alice's first join

	f.hub.removeClient(first)
	assertNoFrame(t, bob)
	if !f.hub.HasConnections("alice") {
		t.Fatal("alice still has a connection")
	}

	f.hub.removeClient(second)
	frame := readFrame(t, bob)
	if frame.Type != models.EventContactStatus {
		t.Fatalf("frame type = %s, want %s", frame.Type, models.EventContactStatus)
	}
	if f.hub.HasConnections("alice") {
		t.Error("alice must be offline after last disconnect")
	}
}

func TestAvailabilityOverrideSuppressesBroadcast(t *testing.T) {
	f := setupHub(t, nil)
	seedPresenceUser(t, f, "bob")
	err := f.users.Put(context.Background(), &models.User{
		ID:           "alice",
		Status:       models.UserActive,
		Contacts:     []string{"bob"},
		Availability: models.AvailabilityInvisible,
	})
	if err != nil {
		t.Fatal(err)
	}

	bob := joinedClient(t, f, "bob")
	_ = joinedClient(t, f, "alice")

	assertNoFrame(t, bob)
	// Suppression hides the transition, not the connection.
	if !f.hub.HasConnections("alice") {
		t.Error("invisible user still holds a connection")
	}
}

func TestEmitReachesAllRoomConnections(t *testing.T) {
	f := setupHub(t, nil)
	seedPresenceUser(t, f, "alice")
	seedPresenceUser(t, f, "carol")

	a1 := joinedClient(t, f, "alice")
	a2 := joinedClient(t, f, "alice")
	carol := joinedClient(t, f, "carol")

	if err := f.hub.Emit(context.Background(), []string{"alice"}, "RE-AUTH", ""); err != nil {
		t.Fatal(err)
	}

	for _, c := range []*Client{a1, a2} {
		frame := readFrame(t, c)
		if frame.Type != "RE-AUTH" {
			t.Errorf("frame type = %s, want RE-AUTH", frame.Type)
		}
	}
	assertNoFrame(t, carol)
}

func TestEmitCrossesBackplane(t *testing.T) {
	backplane := NewInProcessBackplane()
	defer backplane.Close()

	fa := setupHub(t, backplane)
	fb := setupHub(t, backplane)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := fa.hub.backplane.Subscribe(ctx, fa.hub.handleRemote); err != nil {
		t.Fatal(err)
	}
	if err := fb.hub.backplane.Subscribe(ctx, fb.hub.handleRemote); err != nil {
		t.Fatal(err)
	}

	seedPresenceUser(t, fa, "alice")
	seedPresenceUser(t, fb, "alice")
	local := joinedClient(t, fa, "alice")
	remote := joinedClient(t, fb, "alice")

	if err := fa.hub.Emit(ctx, []string{"alice"}, "LOAD-AUTH", ""); err != nil {
		t.Fatal(err)
	}

	if frame := readFrame(t, remote); frame.Type != "LOAD-AUTH" {
		t.Errorf("remote frame type = %s, want LOAD-AUTH", frame.Type)
	}
	// The origin instance delivers locally exactly once: its own
	// backplane frame is skipped.
	if frame := readFrame(t, local); frame.Type != "LOAD-AUTH" {
		t.Errorf("local frame type = %s, want LOAD-AUTH", frame.Type)
	}
	assertNoFrame(t, local)
}

func TestJoinSatelliteValidSecret(t *testing.T) {
	f := setupHub(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := f.tenants.Put(ctx, &models.Tenant{
		ID:              "tenant-a",
		SatelliteURL:    "https://a.example.com",
		SharedSecret:    "s3cret",
		SatelliteStatus: models.SatelliteReady,
	})
	if err != nil {
		t.Fatal(err)
	}

	hints, err := f.trigger.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}

	c := NewClient(f.hub, nil)
	f.hub.addClient(c)
	f.hub.handleJoinSatellite(c, JoinSatelliteRequest{TenantID: "tenant-a", SharedSecret: "s3cret"})

	reply := readFrame(t, c)
	join := reply.Data.(JoinReply)
	if join.TenantID != "tenant-a" || join.ChannelID == "" {
		t.Errorf("satellite join reply = %+v", join)
	}

	select {
	case tenantID := <-hints:
		if tenantID != "tenant-a" {
			t.Errorf("wake hint = %s, want tenant-a", tenantID)
		}
	case <-time.After(time.Second):
		t.Fatal("satellite join must wake the runner")
	}
}

func TestJoinSatelliteMismatchSilentlyIgnored(t *testing.T) {
	f := setupHub(t, nil)
	ctx := context.Background()

	err := f.tenants.Put(ctx, &models.Tenant{
		ID:           "tenant-a",
		SatelliteURL: "https://a.example.com",
		SharedSecret: "s3cret",
	})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		req  JoinSatelliteRequest
	}{
		{"wrong secret", JoinSatelliteRequest{TenantID: "tenant-a", SharedSecret: "wrong"}},
		{"unknown tenant", JoinSatelliteRequest{TenantID: "ghost", SharedSecret: "s3cret"}},
		{"empty secret", JoinSatelliteRequest{TenantID: "tenant-a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(f.hub, nil)
			f.hub.addClient(c)
			f.hub.handleJoinSatellite(c, tt.req)
			assertNoFrame(t, c)
		})
	}
}

func TestChannelsListsJoinedConnections(t *testing.T) {
	f := setupHub(t, nil)
	seedPresenceUser(t, f, "alice")

	a1 := joinedClient(t, f, "alice")
	a2 := joinedClient(t, f, "alice")

	channels := f.hub.Channels("alice")
	if len(channels) != 2 {
		t.Fatalf("channels = %v, want 2 entries", channels)
	}
	want := map[string]bool{a1.ChannelID(): true, a2.ChannelID(): true}
	for _, ch := range channels {
		if !want[ch] {
			t.Errorf("unexpected channel %s", ch)
		}
	}
}
