// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

package auth

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/classhub/classhub/internal/logging"
	"github.com/classhub/classhub/internal/models"
	"github.com/classhub/classhub/internal/store"
)

func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

const testSecret = "test-secret-that-is-long-enough-0123456789"

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(_ context.Context, _ []string, event, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) seen(event string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e == event {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func setupManager(t *testing.T, cfg Config) (*Manager, *store.MemoryUserDirectory, *recordingNotifier) {
	t.Helper()

	tokens, err := NewTokenManager(testSecret, "classhub-test")
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}

	if cfg.MaxAccessTTL == 0 {
		cfg.MaxAccessTTL = time.Hour
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = 24 * time.Hour
	}

	users := store.NewMemoryUserDirectory()
	notifier := &recordingNotifier{}
	m := NewManager(tokens, store.NewMemoryCredentialStore(), users, notifier, cfg)
	return m, users, notifier
}

func testUser(id string, roles ...string) *models.User {
	return &models.User{
		ID:     id,
		Name:   "Test " + id,
		Status: models.UserActive,
		Roles:  roles,
	}
}

func seedUser(t *testing.T, users *store.MemoryUserDirectory, u *models.User) {
	t.Helper()
	if err := users.Put(context.Background(), u); err != nil {
		t.Fatal(err)
	}
}

func testDevice(ip string) DeviceContext {
	return DeviceContext{IP: ip, UserAgent: "Mozilla/5.0 test"}
}

func TestIssueFirstSession(t *testing.T) {
	m, users, _ := setupManager(t, Config{MaxLogin: 3})
	alice := testUser("alice")
	seedUser(t, users, alice)

	res, err := m.Issue(context.Background(), alice, testDevice("203.0.113.1"), IssueOptions{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if res.Conflict != nil {
		t.Fatalf("unexpected conflict: %+v", res.Conflict)
	}
	if res.Pair == nil || res.Pair.AccessToken == "" || res.Pair.RefreshToken == "" {
		t.Fatalf("incomplete pair: %+v", res.Pair)
	}

	creds, err := m.List(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(creds) != 1 {
		t.Errorf("live credentials = %d, want 1", len(creds))
	}
}

func TestIssueAccessExpirySafetyMargin(t *testing.T) {
	m, users, _ := setupManager(t, Config{MaxAccessTTL: time.Hour})
	alice := testUser("alice")
	seedUser(t, users, alice)

	before := time.Now()
	res, err := m.Issue(context.Background(), alice, testDevice("203.0.113.1"), IssueOptions{})
	if err != nil {
		t.Fatal(err)
	}

	want := before.Add(time.Hour - accessSafetyMargin)
	diff := res.Pair.AccessExpiresAt.Sub(want)
	if diff < 0 {
		diff = -diff
	}
	if diff > time.Second {
		t.Errorf("AccessExpiresAt = %v, want ~%v", res.Pair.AccessExpiresAt, want)
	}
}

func TestIssuePublicClampsRefresh(t *testing.T) {
	m, users, _ := setupManager(t, Config{MaxAccessTTL: time.Hour, RefreshTTL: 30 * 24 * time.Hour})
	alice := testUser("alice")
	seedUser(t, users, alice)

	res, err := m.Issue(context.Background(), alice, testDevice("203.0.113.1"), IssueOptions{IsPublic: true})
	if err != nil {
		t.Fatal(err)
	}

	// Public refresh lifetime is access TTL + 60s, far below the
	// configured month.
	maxWant := time.Now().Add(time.Hour + publicRefreshMargin + time.Second)
	if res.Pair.RefreshExpiresAt.After(maxWant) {
		t.Errorf("RefreshExpiresAt = %v, want clamped near %v", res.Pair.RefreshExpiresAt, maxWant)
	}
}

func TestIssueMaxLoginConflict(t *testing.T) {
	m, users, _ := setupManager(t, Config{MaxLogin: 2})
	alice := testUser("alice")
	seedUser(t, users, alice)
	ctx := context.Background()
	device := testDevice("203.0.113.1")

	for i := 0; i < 2; i++ {
		if _, err := m.Issue(ctx, alice, device, IssueOptions{}); err != nil {
			t.Fatal(err)
		}
	}

	res, err := m.Issue(ctx, alice, device, IssueOptions{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if res.Conflict == nil {
		t.Fatal("expected conflict result")
	}
	if res.Conflict.MaxLogin != 2 || res.Conflict.ExceedLogin != 1 {
		t.Errorf("conflict = %+v, want MaxLogin=2 ExceedLogin=1", res.Conflict)
	}
	if res.Pair != nil {
		t.Error("conflict result must not carry a pair")
	}

	// Nothing issued, nothing deleted.
	creds, _ := m.List(ctx, "alice")
	if len(creds) != 2 {
		t.Errorf("live credentials = %d, want 2", len(creds))
	}
}

func TestIssueForcedTrimsExcess(t *testing.T) {
	m, users, notifier := setupManager(t, Config{MaxLogin: 2})
	alice := testUser("alice")
	seedUser(t, users, alice)
	ctx := context.Background()
	device := testDevice("203.0.113.1")

	for i := 0; i < 2; i++ {
		if _, err := m.Issue(ctx, alice, device, IssueOptions{}); err != nil {
			t.Fatal(err)
		}
		time.Sleep(2 * time.Millisecond) // distinct UpdatedAt ordering
	}

	res, err := m.Issue(ctx, alice, device, IssueOptions{Force: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Pair == nil {
		t.Fatal("forced issue must return a pair")
	}

	creds, _ := m.List(ctx, "alice")
	if len(creds) != 2 {
		t.Errorf("live credentials = %d, want exactly MaxLogin", len(creds))
	}

	waitFor(t, func() bool { return notifier.seen(models.EventReauthenticate) })
}

func TestIssueIPConflict(t *testing.T) {
	m, users, _ := setupManager(t, Config{MaxLogin: 5, SameIPOnly: true})
	alice := testUser("alice")
	seedUser(t, users, alice)
	ctx := context.Background()

	if _, err := m.Issue(ctx, alice, testDevice("203.0.113.1"), IssueOptions{}); err != nil {
		t.Fatal(err)
	}

	res, err := m.Issue(ctx, alice, testDevice("198.51.100.7"), IssueOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Conflict == nil || res.Conflict.IP != "203.0.113.1" {
		t.Fatalf("conflict = %+v, want IP=203.0.113.1", res.Conflict)
	}
}

func TestIssueForcedIPConflictEvictsAllOthers(t *testing.T) {
	m, users, _ := setupManager(t, Config{MaxLogin: 5, SameIPOnly: true})
	alice := testUser("alice")
	seedUser(t, users, alice)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := m.Issue(ctx, alice, testDevice("203.0.113.1"), IssueOptions{}); err != nil {
			t.Fatal(err)
		}
	}

	res, err := m.Issue(ctx, alice, testDevice("198.51.100.7"), IssueOptions{Force: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Pair == nil {
		t.Fatal("forced issue must return a pair")
	}

	creds, _ := m.List(ctx, "alice")
	if len(creds) != 1 {
		t.Errorf("live credentials = %d, want only the new session", len(creds))
	}
	if creds[0].IssuedFromIP != "198.51.100.7" {
		t.Errorf("survivor IP = %s", creds[0].IssuedFromIP)
	}
}

func TestRenewRotatesInPlace(t *testing.T) {
	m, users, notifier := setupManager(t, Config{})
	alice := testUser("alice")
	seedUser(t, users, alice)
	ctx := context.Background()
	device := testDevice("203.0.113.1")

	res, err := m.Issue(ctx, alice, device, IssueOptions{})
	if err != nil {
		t.Fatal(err)
	}
	oldToken := res.Pair.RefreshToken

	pair, err := m.Renew(ctx, "alice", oldToken, device)
	if err != nil {
		t.Fatalf("Renew: %v", err)
	}
	if pair.RefreshToken == oldToken {
		t.Error("rotation must replace the secret")
	}

	// Still one row: rotation, not append.
	creds, _ := m.List(ctx, "alice")
	if len(creds) != 1 {
		t.Errorf("live credentials = %d, want 1", len(creds))
	}

	// The rotated-out token is spent.
	if _, err := m.Renew(ctx, "alice", oldToken, device); !errors.Is(err, ErrRenewalRace) {
		t.Errorf("replayed renew err = %v, want ErrRenewalRace", err)
	}

	waitFor(t, func() bool { return notifier.seen(models.EventLoadAuth) })
}

func TestRenewPreservesPublicClamp(t *testing.T) {
	m, users, _ := setupManager(t, Config{MaxAccessTTL: 15 * time.Minute, RefreshTTL: 30 * 24 * time.Hour})
	alice := testUser("alice")
	seedUser(t, users, alice)
	ctx := context.Background()
	device := testDevice("203.0.113.1")

	res, err := m.Issue(ctx, alice, device, IssueOptions{IsPublic: true})
	if err != nil {
		t.Fatal(err)
	}

	pair, err := m.Renew(ctx, "alice", res.Pair.RefreshToken, device)
	if err != nil {
		t.Fatalf("Renew: %v", err)
	}

	// A shared-device session must stay clamped after rotation instead
	// of being promoted to the configured month-long TTL.
	maxWant := time.Now().Add(15*time.Minute + publicRefreshMargin + time.Second)
	if pair.RefreshExpiresAt.After(maxWant) {
		t.Errorf("RefreshExpiresAt = %v, want clamped near %v", pair.RefreshExpiresAt, maxWant)
	}

	// The flag survives the rotation, so a second renewal stays clamped
	// too.
	pair, err = m.Renew(ctx, "alice", pair.RefreshToken, device)
	if err != nil {
		t.Fatalf("second Renew: %v", err)
	}
	maxWant = time.Now().Add(15*time.Minute + publicRefreshMargin + time.Second)
	if pair.RefreshExpiresAt.After(maxWant) {
		t.Errorf("second RefreshExpiresAt = %v, want clamped near %v", pair.RefreshExpiresAt, maxWant)
	}
}

func TestRenewUnknownPrincipal(t *testing.T) {
	m, _, _ := setupManager(t, Config{})

	_, err := m.Renew(context.Background(), "ghost", "whatever", testDevice("203.0.113.1"))
	if !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("err = %v, want ErrInvalidCredential", err)
	}
}

func TestRenewSuspendedUser(t *testing.T) {
	m, users, _ := setupManager(t, Config{})
	alice := testUser("alice")
	until := time.Now().Add(time.Hour)
	alice.SuspendedUntil = &until
	seedUser(t, users, alice)

	_, err := m.Renew(context.Background(), "alice", "token", testDevice("203.0.113.1"))
	if !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("err = %v, want ErrInvalidCredential for suspended user", err)
	}
}

func TestRevokeCurrent(t *testing.T) {
	m, users, _ := setupManager(t, Config{})
	alice := testUser("alice")
	seedUser(t, users, alice)
	ctx := context.Background()

	res, err := m.Issue(ctx, alice, testDevice("203.0.113.1"), IssueOptions{})
	if err != nil {
		t.Fatal(err)
	}

	if err := m.RevokeCurrent(ctx, "alice", res.Pair.RefreshToken); err != nil {
		t.Fatalf("RevokeCurrent: %v", err)
	}

	creds, _ := m.List(ctx, "alice")
	if len(creds) != 0 {
		t.Errorf("live credentials = %d, want 0", len(creds))
	}

	if err := m.RevokeCurrent(ctx, "alice", res.Pair.RefreshToken); !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("second revoke err = %v, want ErrInvalidCredential", err)
	}
}

func TestRevokeOthersCount(t *testing.T) {
	m, users, _ := setupManager(t, Config{MaxLogin: 10})
	alice := testUser("alice")
	seedUser(t, users, alice)
	ctx := context.Background()
	device := testDevice("203.0.113.1")

	var keep string
	for i := 0; i < 4; i++ {
		res, err := m.Issue(ctx, alice, device, IssueOptions{})
		if err != nil {
			t.Fatal(err)
		}
		keep = res.Pair.RefreshToken
	}

	count, err := m.RevokeOthers(ctx, "alice", keep)
	if err != nil {
		t.Fatalf("RevokeOthers: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want previousLive-1 = 3", count)
	}

	creds, _ := m.List(ctx, "alice")
	if len(creds) != 1 || creds[0].Secret != keep {
		t.Errorf("survivor = %+v", creds)
	}
}

func TestRevokeOthersUnknownToken(t *testing.T) {
	m, users, _ := setupManager(t, Config{MaxLogin: 10})
	alice := testUser("alice")
	seedUser(t, users, alice)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := m.Issue(ctx, alice, testDevice("203.0.113.1"), IssueOptions{}); err != nil {
			t.Fatal(err)
		}
	}

	_, err := m.RevokeOthers(ctx, "alice", "not-a-live-token")
	if !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("err = %v, want ErrInvalidCredential", err)
	}

	// Nothing was deleted.
	creds, _ := m.List(ctx, "alice")
	if len(creds) != 3 {
		t.Errorf("live credentials = %d, want 3", len(creds))
	}
}

func TestRevokeAll(t *testing.T) {
	m, users, _ := setupManager(t, Config{MaxLogin: 10})
	alice := testUser("alice")
	seedUser(t, users, alice)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := m.Issue(ctx, alice, testDevice("203.0.113.1"), IssueOptions{}); err != nil {
			t.Fatal(err)
		}
	}

	count, err := m.RevokeAll(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}

func TestImpersonationStart(t *testing.T) {
	m, users, _ := setupManager(t, Config{MaxLogin: 3})
	admin := testUser("admin-1", models.RoleAdmin)
	target := testUser("student-1")
	seedUser(t, users, admin)
	seedUser(t, users, target)
	ctx := context.Background()
	device := testDevice("203.0.113.1")

	res, err := m.ImpersonationStart(ctx, admin, &AccessClaims{}, "student-1", device)
	if err != nil {
		t.Fatalf("ImpersonationStart: %v", err)
	}
	if res.Pair == nil {
		t.Fatal("expected a token pair (impersonation is always forced)")
	}

	claims, err := m.VerifyAccess(res.Pair.AccessToken)
	if err != nil {
		t.Fatal(err)
	}
	if claims.PrincipalID() != "student-1" {
		t.Errorf("subject = %s, want the impersonated principal", claims.PrincipalID())
	}
	if claims.ActingAs != "admin-1" {
		t.Errorf("ActingAs = %s, want the operator", claims.ActingAs)
	}

	creds, _ := m.List(ctx, "student-1")
	if len(creds) != 1 || creds[0].ActingAsID != "admin-1" {
		t.Errorf("credential = %+v, want acting-as recorded", creds)
	}
}

func TestImpersonationStartDenied(t *testing.T) {
	m, users, _ := setupManager(t, Config{MaxLogin: 3})
	admin := testUser("admin-1", models.RoleAdmin)
	plain := testUser("plain-1")
	root := testUser("root-1", models.RoleRoot)
	student := testUser("student-1")
	for _, u := range []*models.User{admin, plain, root, student} {
		seedUser(t, users, u)
	}
	ctx := context.Background()

	tests := []struct {
		name     string
		operator *models.User
		claims   *AccessClaims
		target   string
		device   DeviceContext
		want     error
	}{
		{"root target", admin, &AccessClaims{}, "root-1", testDevice("203.0.113.1"), ErrImpersonationDenied},
		{"nested", admin, &AccessClaims{ActingAs: "someone"}, "student-1", testDevice("203.0.113.1"), ErrImpersonationDenied},
		{"mobile", admin, &AccessClaims{}, "student-1", DeviceContext{IP: "203.0.113.1", IsMobile: true}, ErrImpersonationDenied},
		{"unprivileged", plain, &AccessClaims{}, "student-1", testDevice("203.0.113.1"), ErrImpersonationDenied},
		{"missing target", admin, &AccessClaims{}, "ghost", testDevice("203.0.113.1"), ErrInvalidCredential},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.ImpersonationStart(ctx, tt.operator, tt.claims, tt.target, tt.device)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestImpersonationStartSupervisor(t *testing.T) {
	m, users, _ := setupManager(t, Config{MaxLogin: 3})
	supervisor := testUser("sup-1")
	target := testUser("student-1")
	target.Supervisors = []string{"sup-1"}
	seedUser(t, users, supervisor)
	seedUser(t, users, target)

	res, err := m.ImpersonationStart(context.Background(), supervisor, &AccessClaims{}, "student-1", testDevice("203.0.113.1"))
	if err != nil {
		t.Fatalf("supervisor impersonation should be allowed: %v", err)
	}
	if res.Pair == nil {
		t.Fatal("expected a pair")
	}
}

func TestImpersonationStop(t *testing.T) {
	m, users, _ := setupManager(t, Config{MaxLogin: 3})
	admin := testUser("admin-1", models.RoleAdmin)
	target := testUser("student-1")
	seedUser(t, users, admin)
	seedUser(t, users, target)
	ctx := context.Background()
	device := testDevice("203.0.113.1")

	res, err := m.ImpersonationStart(ctx, admin, &AccessClaims{}, "student-1", device)
	if err != nil {
		t.Fatal(err)
	}

	if err := m.ImpersonationStop(ctx, "student-1", res.Pair.RefreshToken); err != nil {
		t.Fatalf("ImpersonationStop: %v", err)
	}

	creds, _ := m.List(ctx, "student-1")
	if len(creds) != 0 {
		t.Errorf("live credentials = %d, want 0", len(creds))
	}
}

func TestImpersonationStopOnPlainSession(t *testing.T) {
	m, users, _ := setupManager(t, Config{MaxLogin: 3})
	alice := testUser("alice")
	seedUser(t, users, alice)
	ctx := context.Background()

	res, err := m.Issue(ctx, alice, testDevice("203.0.113.1"), IssueOptions{})
	if err != nil {
		t.Fatal(err)
	}

	err = m.ImpersonationStop(ctx, "alice", res.Pair.RefreshToken)
	if !errors.Is(err, ErrNotImpersonating) {
		t.Errorf("err = %v, want ErrNotImpersonating", err)
	}
}

func TestConcurrentRenewSingleWinner(t *testing.T) {
	m, users, _ := setupManager(t, Config{})
	alice := testUser("alice")
	seedUser(t, users, alice)
	ctx := context.Background()
	device := testDevice("203.0.113.1")

	res, err := m.Issue(ctx, alice, device, IssueOptions{})
	if err != nil {
		t.Fatal(err)
	}
	oldToken := res.Pair.RefreshToken

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = m.Renew(ctx, "alice", oldToken, device)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrRenewalRace):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
}
