package store

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/authgate/authgate/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Open("", logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createUser(t *testing.T, s *Store, email, role string) *model.User {
	t.Helper()
	u := &model.User{Name: "Test User", Email: email, PasswordHash: "hash", Role: role}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

func TestUserLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := createUser(t, s, "ada@example.com", model.RoleStudent)
	if u.ID == 0 {
		t.Fatal("CreateUser did not populate ID")
	}
	if u.CreatedAt.IsZero() || u.UpdatedAt.IsZero() {
		t.Error("CreateUser did not populate timestamps")
	}

	byID, err := s.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if byID.Email != "ada@example.com" {
		t.Errorf("email: got %q", byID.Email)
	}

	byEmail, err := s.GetUserByEmail(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if byEmail.ID != u.ID {
		t.Errorf("ID mismatch: %d vs %d", byEmail.ID, u.ID)
	}

	if err := s.UpdateUserRole(ctx, u.ID, model.RoleTeacher); err != nil {
		t.Fatalf("UpdateUserRole: %v", err)
	}
	updated, _ := s.GetUserByID(ctx, u.ID)
	if updated.Role != model.RoleTeacher {
		t.Errorf("role after update: got %q", updated.Role)
	}

	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 1 {
		t.Errorf("ListUsers: got %d, want 1", len(users))
	}
}

func TestUserSoftDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s, "gone@example.com", model.RoleStudent)

	if err := s.DeleteUser(ctx, u.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}

	// A deleted user is invisible to every lookup.
	if _, err := s.GetUserByID(ctx, u.ID); err != ErrNotFound {
		t.Errorf("GetUserByID after delete: got %v, want ErrNotFound", err)
	}
	if _, err := s.GetUserByEmail(ctx, "gone@example.com"); err != ErrNotFound {
		t.Errorf("GetUserByEmail after delete: got %v, want ErrNotFound", err)
	}
	users, _ := s.ListUsers(ctx)
	if len(users) != 0 {
		t.Errorf("ListUsers after delete: got %d, want 0", len(users))
	}

	// Deleting twice reports not found.
	if err := s.DeleteUser(ctx, u.ID); err != ErrNotFound {
		t.Errorf("double delete: got %v, want ErrNotFound", err)
	}
}

func TestUserLookupsNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetUserByID(ctx, 42); err != ErrNotFound {
		t.Errorf("GetUserByID: got %v, want ErrNotFound", err)
	}
	if _, err := s.GetUserByEmail(ctx, "nobody@example.com"); err != ErrNotFound {
		t.Errorf("GetUserByEmail: got %v, want ErrNotFound", err)
	}
	if err := s.UpdateUserRole(ctx, 42, model.RoleAdmin); err != ErrNotFound {
		t.Errorf("UpdateUserRole: got %v, want ErrNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// Refresh tokens
// ---------------------------------------------------------------------------

func TestRefreshTokenValidity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s, "ada@example.com", model.RoleStudent)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	rt := &model.RefreshToken{
		Token:     "fresh-token",
		UserID:    u.ID,
		UserAgent: "test/1.0",
		IPAddress: "203.0.113.5",
		ExpiresAt: now.Add(24 * time.Hour),
	}
	if err := s.CreateRefreshToken(ctx, rt); err != nil {
		t.Fatalf("CreateRefreshToken: %v", err)
	}

	got, err := s.GetValidRefreshToken(ctx, "fresh-token", now)
	if err != nil {
		t.Fatalf("GetValidRefreshToken: %v", err)
	}
	if got.UserID != u.ID || got.IPAddress != "203.0.113.5" {
		t.Errorf("unexpected record: %+v", got)
	}

	// Past expiry the same token is gone.
	if _, err := s.GetValidRefreshToken(ctx, "fresh-token", now.Add(25*time.Hour)); err != ErrNotFound {
		t.Errorf("expired lookup: got %v, want ErrNotFound", err)
	}

	// Revocation removes it immediately.
	if err := s.RevokeRefreshToken(ctx, "fresh-token"); err != nil {
		t.Fatalf("RevokeRefreshToken: %v", err)
	}
	if _, err := s.GetValidRefreshToken(ctx, "fresh-token", now); err != ErrNotFound {
		t.Errorf("revoked lookup: got %v, want ErrNotFound", err)
	}

	// Revoking a token that never existed is a quiet no-op.
	if err := s.RevokeRefreshToken(ctx, "never-issued"); err != nil {
		t.Errorf("revoke unknown: %v", err)
	}
}

func TestRevokeUserRefreshTokens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s, "ada@example.com", model.RoleStudent)
	other := createUser(t, s, "bea@example.com", model.RoleStudent)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i, userID := range []int64{u.ID, u.ID, other.ID} {
		rt := &model.RefreshToken{
			Token:     "token-" + string(rune('a'+i)),
			UserID:    userID,
			ExpiresAt: now.Add(24 * time.Hour),
		}
		if err := s.CreateRefreshToken(ctx, rt); err != nil {
			t.Fatalf("CreateRefreshToken: %v", err)
		}
	}

	if err := s.RevokeUserRefreshTokens(ctx, u.ID); err != nil {
		t.Fatalf("RevokeUserRefreshTokens: %v", err)
	}

	if _, err := s.GetValidRefreshToken(ctx, "token-a", now); err != ErrNotFound {
		t.Error("user token survived bulk revocation")
	}
	if _, err := s.GetValidRefreshToken(ctx, "token-c", now); err != nil {
		t.Errorf("other user's token affected: %v", err)
	}
}

func TestDeleteExpiredRefreshTokens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s, "ada@example.com", model.RoleStudent)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	old := &model.RefreshToken{Token: "old", UserID: u.ID, ExpiresAt: now.Add(-time.Hour)}
	live := &model.RefreshToken{Token: "live", UserID: u.ID, ExpiresAt: now.Add(time.Hour)}
	for _, rt := range []*model.RefreshToken{old, live} {
		if err := s.CreateRefreshToken(ctx, rt); err != nil {
			t.Fatalf("CreateRefreshToken: %v", err)
		}
	}

	n, err := s.DeleteExpiredRefreshTokens(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpiredRefreshTokens: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted: got %d, want 1", n)
	}
	if _, err := s.GetValidRefreshToken(ctx, "live", now); err != nil {
		t.Errorf("live token removed: %v", err)
	}
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

func TestAPIKeyRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	k := &model.APIKey{
		Name:        "ci-bot",
		KeyHash:     "$2a$04$fakehash",
		KeyPrefix:   "ak_0123456789",
		Permissions: []string{"courses:read", "courses:write"},
		IPWhitelist: []string{"10.0.0.0/24", "192.168.1.*"},
		IsActive:    true,
	}
	if err := s.CreateAPIKey(ctx, k); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	keys, err := s.ListActiveAPIKeys(ctx, now)
	if err != nil {
		t.Fatalf("ListActiveAPIKeys: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("got %d keys, want 1", len(keys))
	}
	got := keys[0]
	if len(got.Permissions) != 2 || got.Permissions[0] != "courses:read" {
		t.Errorf("permissions: %v", got.Permissions)
	}
	if len(got.IPWhitelist) != 2 || got.IPWhitelist[1] != "192.168.1.*" {
		t.Errorf("whitelist: %v", got.IPWhitelist)
	}
}

func TestAPIKeyActiveFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	active := &model.APIKey{Name: "active", KeyHash: "h1", KeyPrefix: "ak_aaaa", Permissions: []string{}, IPWhitelist: []string{}, IsActive: true}
	inactive := &model.APIKey{Name: "inactive", KeyHash: "h2", KeyPrefix: "ak_bbbb", Permissions: []string{}, IPWhitelist: []string{}, IsActive: false}
	expired := &model.APIKey{Name: "expired", KeyHash: "h3", KeyPrefix: "ak_cccc", Permissions: []string{}, IPWhitelist: []string{}, IsActive: true, ExpiresAt: &past}
	expiring := &model.APIKey{Name: "expiring", KeyHash: "h4", KeyPrefix: "ak_dddd", Permissions: []string{}, IPWhitelist: []string{}, IsActive: true, ExpiresAt: &future}
	for _, k := range []*model.APIKey{active, inactive, expired, expiring} {
		if err := s.CreateAPIKey(ctx, k); err != nil {
			t.Fatalf("CreateAPIKey %s: %v", k.Name, err)
		}
	}

	candidates, err := s.ListActiveAPIKeys(ctx, now)
	if err != nil {
		t.Fatalf("ListActiveAPIKeys: %v", err)
	}
	names := make(map[string]bool, len(candidates))
	for _, k := range candidates {
		names[k.Name] = true
	}
	if len(candidates) != 2 || !names["active"] || !names["expiring"] {
		t.Errorf("candidate set: %v", names)
	}

	// The admin listing still shows everything not deleted.
	all, err := s.ListAPIKeys(ctx)
	if err != nil {
		t.Fatalf("ListAPIKeys: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("ListAPIKeys: got %d, want 4", len(all))
	}
}

func TestAPIKeyRevoke(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	k := &model.APIKey{Name: "doomed", KeyHash: "h", KeyPrefix: "ak_dead", Permissions: []string{}, IPWhitelist: []string{}, IsActive: true}
	if err := s.CreateAPIKey(ctx, k); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	if err := s.RevokeAPIKey(ctx, k.ID); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}
	if keys, _ := s.ListActiveAPIKeys(ctx, now); len(keys) != 0 {
		t.Error("revoked key still in candidate set")
	}
	if keys, _ := s.ListAPIKeys(ctx); len(keys) != 0 {
		t.Error("revoked key still in admin listing")
	}

	if err := s.RevokeAPIKey(ctx, k.ID); err != ErrNotFound {
		t.Errorf("double revoke: got %v, want ErrNotFound", err)
	}
	if err := s.RevokeAPIKey(ctx, 999); err != ErrNotFound {
		t.Errorf("revoke unknown: got %v, want ErrNotFound", err)
	}
}

func TestMalformedJSONColumnDecodesEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	k := &model.APIKey{Name: "corrupt", KeyHash: "h", KeyPrefix: "ak_ffff", Permissions: []string{"a"}, IPWhitelist: []string{"*"}, IsActive: true}
	if err := s.CreateAPIKey(ctx, k); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	if _, err := s.db.Exec(`UPDATE api_keys SET permissions_json = 'not json' WHERE id = ?`, k.ID); err != nil {
		t.Fatalf("corrupt column: %v", err)
	}

	keys, err := s.ListActiveAPIKeys(ctx, now)
	if err != nil {
		t.Fatalf("ListActiveAPIKeys: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("got %d keys, want 1", len(keys))
	}
	if len(keys[0].Permissions) != 0 {
		t.Errorf("corrupt permissions decoded as %v, want empty", keys[0].Permissions)
	}
	if len(keys[0].IPWhitelist) != 1 {
		t.Errorf("intact whitelist lost: %v", keys[0].IPWhitelist)
	}
}
