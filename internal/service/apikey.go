package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/authgate/authgate/internal/ipmatch"
	"github.com/authgate/authgate/internal/model"
	"github.com/authgate/authgate/internal/store"
)

var (
	// ErrKeyInvalid is returned when no active key matches the presented one.
	ErrKeyInvalid = errors.New("invalid api key")
	// ErrKeyIPBlocked is returned when the key matched but the caller's IP
	// is not covered by the key's whitelist.
	ErrKeyIPBlocked = errors.New("api key not authorized from this IP")
)

// KeyPrefixLen is how many characters of the plaintext key are stored for
// identification and used to pre-filter the verification scan.
const KeyPrefixLen = 12

// APIKeyPrincipal is the resolved identity of a machine client.
type APIKeyPrincipal struct {
	ID          int64
	Name        string
	Permissions []string
	IPWhitelist []string
}

// HasPermission reports whether the key carries the given capability string.
func (p *APIKeyPrincipal) HasPermission(perm string) bool {
	for _, have := range p.Permissions {
		if have == perm {
			return true
		}
	}
	return false
}

// KeyVerifier validates presented API keys against stored hashes, enforcing
// per-key IP whitelists and expiry.
type KeyVerifier struct {
	store *store.Store
	now   func() time.Time
}

// NewKeyVerifier creates a KeyVerifier. A nil clock defaults to time.Now.
func NewKeyVerifier(st *store.Store, clock func() time.Time) *KeyVerifier {
	if clock == nil {
		clock = time.Now
	}
	return &KeyVerifier{store: st, now: clock}
}

// Verify checks a presented plaintext key against all active, non-expired
// key records. The stored prefix narrows the candidate set, but only the
// bcrypt comparison decides a match; a plaintext equality check never does.
// On success the key's last-used timestamp is updated and its parsed
// permissions are returned.
func (v *KeyVerifier) Verify(ctx context.Context, presentedKey, clientIP string) (*APIKeyPrincipal, error) {
	if presentedKey == "" {
		return nil, ErrKeyInvalid
	}

	keys, err := v.store.ListActiveAPIKeys(ctx, v.now())
	if err != nil {
		return nil, fmt.Errorf("load api keys: %w", err)
	}

	for i := range keys {
		k := &keys[i]
		if !strings.HasPrefix(presentedKey, k.KeyPrefix) {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(presentedKey)) != nil {
			continue
		}

		if len(k.IPWhitelist) > 0 && clientIP != "" {
			if !whitelisted(clientIP, k.IPWhitelist) {
				return nil, fmt.Errorf("%w: %s is not in [%s]",
					ErrKeyIPBlocked, clientIP, strings.Join(k.IPWhitelist, ", "))
			}
		}

		// Update last used timestamp (fire and forget)
		go v.store.TouchAPIKeyLastUsed(context.Background(), k.ID)

		return &APIKeyPrincipal{
			ID:          k.ID,
			Name:        k.Name,
			Permissions: k.Permissions,
			IPWhitelist: k.IPWhitelist,
		}, nil
	}

	return nil, ErrKeyInvalid
}

func whitelisted(clientIP string, patterns []string) bool {
	for _, pattern := range patterns {
		if ipmatch.Matches(clientIP, pattern) {
			return true
		}
	}
	return false
}

// GenerateKey creates a new API key credential. The plaintext is shown once
// by the caller and never stored; only the bcrypt hash and the prefix are.
func GenerateKey(bcryptCost int) (plaintext, hash, prefix string, err error) {
	raw := make([]byte, 32)
	if _, err = rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("generate key: %w", err)
	}
	plaintext = "ak_" + hex.EncodeToString(raw)

	h, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcryptCost)
	if err != nil {
		return "", "", "", fmt.Errorf("hash key: %w", err)
	}
	return plaintext, string(h), plaintext[:KeyPrefixLen], nil
}

// ValidateWhitelist checks every pattern in a prospective whitelist so
// invalid entries are rejected before they can be persisted.
func ValidateWhitelist(patterns []string) error {
	for _, p := range patterns {
		if err := ipmatch.ValidatePattern(p); err != nil {
			return fmt.Errorf("whitelist entry %q: %w", p, err)
		}
	}
	return nil
}

// NewAPIKeyRecord assembles a model.APIKey from a generated credential and
// the admin-supplied metadata.
func NewAPIKeyRecord(name, hash, prefix string, permissions, whitelist []string, expiresAt *time.Time) *model.APIKey {
	if permissions == nil {
		permissions = []string{}
	}
	if whitelist == nil {
		whitelist = []string{}
	}
	return &model.APIKey{
		Name:        name,
		KeyHash:     hash,
		KeyPrefix:   prefix,
		Permissions: permissions,
		IPWhitelist: whitelist,
		IsActive:    true,
		ExpiresAt:   expiresAt,
	}
}
