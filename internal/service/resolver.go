package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/authgate/authgate/internal/model"
	"github.com/authgate/authgate/internal/store"
)

// ErrUnauthenticated is returned when a request carries no credential at all.
var ErrUnauthenticated = errors.New("authentication required")

// Credentials are the raw credential material extracted from a request.
// At most one of the API-key and session paths is taken: a present APIKey
// makes the token fields irrelevant.
type Credentials struct {
	APIKey        string
	BearerToken   string
	AccessCookie  string
	RefreshCookie string
	ClientIP      string
	UserAgent     string
}

// Identity is the resolved principal of an authenticated request. Exactly
// one of User and Key is set. When TokenRenewed is true, NewAccessToken
// carries a freshly minted access token the caller must hand back to the
// client as a new cookie.
type Identity struct {
	User           *model.User
	Key            *APIKeyPrincipal
	TokenRenewed   bool
	NewAccessToken string
}

// Resolver decides, per request, who the caller is. It orchestrates the
// token service, the key verifier, and the store.
type Resolver struct {
	store  *store.Store
	tokens *TokenService
	keys   *KeyVerifier
	now    func() time.Time
}

// NewResolver creates a Resolver. A nil clock defaults to time.Now.
func NewResolver(st *store.Store, tokens *TokenService, keys *KeyVerifier, clock func() time.Time) *Resolver {
	if clock == nil {
		clock = time.Now
	}
	return &Resolver{store: st, tokens: tokens, keys: keys, now: clock}
}

// Resolve runs the per-request authentication state machine:
//
//  1. An API key present delegates entirely to the key verifier.
//  2. Otherwise the access token comes from the bearer header, then the
//     cookie. No token at all rejects with ErrUnauthenticated.
//  3. A valid token resolves the user, who must exist and not be
//     soft-deleted.
//  4. A token that failed with ErrTokenExpired, and only that failure,
//     attempts silent renewal from the refresh-token cookie. The renewed
//     token carries the role currently stored for the user, not the role
//     embedded in the expired token.
//  5. Any other failure (bad signature, malformed, blacklisted) rejects
//     without a renewal attempt.
func (r *Resolver) Resolve(ctx context.Context, creds Credentials) (*Identity, error) {
	if creds.APIKey != "" {
		principal, err := r.keys.Verify(ctx, creds.APIKey, creds.ClientIP)
		if err != nil {
			return nil, err
		}
		return &Identity{Key: principal}, nil
	}

	tokenStr := creds.BearerToken
	if tokenStr == "" {
		tokenStr = creds.AccessCookie
	}
	if tokenStr == "" {
		return nil, ErrUnauthenticated
	}

	claims, err := r.tokens.VerifyAccessToken(tokenStr)
	if err == nil {
		user, lookupErr := r.lookupUser(ctx, claims.UserID)
		if lookupErr != nil {
			return nil, lookupErr
		}
		return &Identity{User: user}, nil
	}

	if errors.Is(err, ErrTokenExpired) {
		return r.renew(ctx, creds)
	}

	return nil, err
}

// renew mints a fresh access token from a valid persisted refresh token.
// Every failure collapses into ErrTokenExpired: the client's recourse is
// the same either way, logging in again.
func (r *Resolver) renew(ctx context.Context, creds Credentials) (*Identity, error) {
	if creds.RefreshCookie == "" {
		return nil, ErrTokenExpired
	}

	rt, err := r.store.GetValidRefreshToken(ctx, creds.RefreshCookie, r.now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("refresh token lookup: %w", err)
	}

	user, err := r.lookupUser(ctx, rt.UserID)
	if err != nil {
		return nil, ErrTokenExpired
	}

	newToken, err := r.tokens.IssueAccessToken(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, fmt.Errorf("issue renewed token: %w", err)
	}
	if _, err := r.tokens.VerifyAccessToken(newToken); err != nil {
		return nil, fmt.Errorf("verify renewed token: %w", err)
	}

	return &Identity{
		User:           user,
		TokenRenewed:   true,
		NewAccessToken: newToken,
	}, nil
}

func (r *Resolver) lookupUser(ctx context.Context, id int64) (*model.User, error) {
	user, err := r.store.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown user", ErrTokenInvalid)
		}
		return nil, fmt.Errorf("user lookup: %w", err)
	}
	return user, nil
}
