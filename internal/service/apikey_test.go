package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/authgate/authgate/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open("", logger)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// createTestKey persists a key and returns its plaintext.
func createTestKey(t *testing.T, st *store.Store, name string, permissions, whitelist []string) string {
	t.Helper()
	plaintext, hash, prefix, err := GenerateKey(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	record := NewAPIKeyRecord(name, hash, prefix, permissions, whitelist, nil)
	if err := st.CreateAPIKey(context.Background(), record); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	return plaintext
}

func TestVerifyValidKey(t *testing.T) {
	st := newTestStore(t)
	v := NewKeyVerifier(st, nil)

	plaintext := createTestKey(t, st, "ci-pipeline", []string{"courses:read"}, nil)

	principal, err := v.Verify(context.Background(), plaintext, "203.0.113.9")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if principal.Name != "ci-pipeline" {
		t.Errorf("Name: got %q, want %q", principal.Name, "ci-pipeline")
	}
	if !principal.HasPermission("courses:read") {
		t.Error("expected courses:read permission")
	}
	if principal.HasPermission("courses:write") {
		t.Error("unexpected courses:write permission")
	}
}

func TestVerifyUnknownKey(t *testing.T) {
	st := newTestStore(t)
	v := NewKeyVerifier(st, nil)

	createTestKey(t, st, "some-key", nil, nil)

	_, err := v.Verify(context.Background(), "ak_0000000000000000000000000000000000000000000000000000000000000000", "")
	if !errors.Is(err, ErrKeyInvalid) {
		t.Fatalf("expected ErrKeyInvalid, got %v", err)
	}
}

func TestVerifyNoCrossKeyMatch(t *testing.T) {
	st := newTestStore(t)
	v := NewKeyVerifier(st, nil)

	createTestKey(t, st, "alpha", nil, nil)
	wanted := createTestKey(t, st, "bravo", nil, nil)
	createTestKey(t, st, "charlie", nil, nil)

	principal, err := v.Verify(context.Background(), wanted, "")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if principal.Name != "bravo" {
		t.Errorf("matched wrong key: got %q, want %q", principal.Name, "bravo")
	}
}

func TestVerifyIPWhitelist(t *testing.T) {
	st := newTestStore(t)
	v := NewKeyVerifier(st, nil)

	plaintext := createTestKey(t, st, "internal", nil, []string{"192.168.1.*", "10.0.0.0/24"})

	if _, err := v.Verify(context.Background(), plaintext, "192.168.1.50"); err != nil {
		t.Errorf("wildcard-covered IP rejected: %v", err)
	}
	if _, err := v.Verify(context.Background(), plaintext, "10.0.0.7"); err != nil {
		t.Errorf("CIDR-covered IP rejected: %v", err)
	}
	_, err := v.Verify(context.Background(), plaintext, "203.0.113.9")
	if !errors.Is(err, ErrKeyIPBlocked) {
		t.Errorf("uncovered IP: got %v, want ErrKeyIPBlocked", err)
	}
}

func TestVerifyAllowAllWhitelist(t *testing.T) {
	st := newTestStore(t)
	v := NewKeyVerifier(st, nil)

	plaintext := createTestKey(t, st, "open", nil, []string{"*"})

	if _, err := v.Verify(context.Background(), plaintext, "203.0.113.9"); err != nil {
		t.Errorf("allow-all whitelist rejected: %v", err)
	}
}

func TestVerifyEmptyWhitelistAllowsAnyIP(t *testing.T) {
	st := newTestStore(t)
	v := NewKeyVerifier(st, nil)

	plaintext := createTestKey(t, st, "unrestricted", nil, nil)

	if _, err := v.Verify(context.Background(), plaintext, "203.0.113.9"); err != nil {
		t.Errorf("empty whitelist rejected an IP: %v", err)
	}
}

func TestVerifyRevokedKey(t *testing.T) {
	st := newTestStore(t)
	v := NewKeyVerifier(st, nil)
	ctx := context.Background()

	plaintext := createTestKey(t, st, "doomed", nil, nil)
	keys, err := st.ListAPIKeys(ctx)
	if err != nil {
		t.Fatalf("ListAPIKeys: %v", err)
	}
	if err := st.RevokeAPIKey(ctx, keys[0].ID); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}

	_, err = v.Verify(ctx, plaintext, "")
	if !errors.Is(err, ErrKeyInvalid) {
		t.Fatalf("expected ErrKeyInvalid for revoked key, got %v", err)
	}
}

func TestVerifyExpiredKey(t *testing.T) {
	st := newTestStore(t)
	clock := &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	v := NewKeyVerifier(st, clock.now)
	ctx := context.Background()

	plaintext, hash, prefix, err := GenerateKey(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	expiry := clock.t.Add(time.Hour)
	record := NewAPIKeyRecord("short-lived", hash, prefix, nil, nil, &expiry)
	if err := st.CreateAPIKey(ctx, record); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	if _, err := v.Verify(ctx, plaintext, ""); err != nil {
		t.Fatalf("pre-expiry Verify: %v", err)
	}

	clock.advance(2 * time.Hour)

	_, err = v.Verify(ctx, plaintext, "")
	if !errors.Is(err, ErrKeyInvalid) {
		t.Fatalf("expected ErrKeyInvalid for expired key, got %v", err)
	}
}

func TestValidateWhitelist(t *testing.T) {
	if err := ValidateWhitelist([]string{"192.168.1.*", "10.0.0.0/24", "*"}); err != nil {
		t.Errorf("valid whitelist rejected: %v", err)
	}
	if err := ValidateWhitelist([]string{"192.168.1.*", "not-an-ip"}); err == nil {
		t.Error("invalid whitelist accepted")
	}
}
