package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/authgate/authgate/internal/model"
	"github.com/authgate/authgate/internal/ratelimit"
	"github.com/authgate/authgate/internal/service"
)

type contextKeyAuth string

// AuthPrincipalKey is the context key for the authenticated principal.
const AuthPrincipalKey contextKeyAuth = "auth_principal"

// APIKeyHeader carries machine-client credentials.
const APIKeyHeader = "X-API-Key"

// Principal is the resolved identity attached to the request context.
// Exactly one of User and Key is set.
type Principal struct {
	User *model.User
	Key  *service.APIKeyPrincipal
}

// Role returns the user's role, or empty for API-key principals.
func (p *Principal) Role() string {
	if p.User != nil {
		return p.User.Role
	}
	return ""
}

// Authenticate returns a middleware that resolves the request's identity.
// It supports two mutually exclusive methods:
//
//  1. API key via the X-API-Key header (machine clients)
//  2. Session token via Authorization: Bearer or the accessToken cookie
//
// A session whose access token expired but whose refresh token is still
// valid is renewed transparently; the fresh access token is handed back as
// a new cookie. On failure a 401 envelope is returned.
func Authenticate(resolver *service.Resolver, cookies CookiePolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := resolver.Resolve(r.Context(), extractCredentials(r))
			if err != nil {
				writeAuthFailure(w, err)
				return
			}

			if identity.TokenRenewed {
				cookies.SetAccessCookie(w, identity.NewAccessToken)
			}

			principal := &Principal{User: identity.User, Key: identity.Key}
			ctx := context.WithValue(r.Context(), AuthPrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractCredentials(r *http.Request) service.Credentials {
	creds := service.Credentials{
		APIKey:    r.Header.Get(APIKeyHeader),
		ClientIP:  ratelimit.ClientIP(r),
		UserAgent: r.UserAgent(),
	}

	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		creds.BearerToken = strings.TrimPrefix(auth, "Bearer ")
	}
	if c, err := r.Cookie(AccessTokenCookie); err == nil {
		creds.AccessCookie = c.Value
	}
	if c, err := r.Cookie(RefreshTokenCookie); err == nil {
		creds.RefreshCookie = c.Value
	}
	return creds
}

func writeAuthFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		writeEnvelope(w, model.ErrTypeAuthentication,
			"Authentication required. Provide an X-API-Key header, Bearer token, or session cookie.", nil)
	case errors.Is(err, service.ErrTokenExpired):
		writeEnvelope(w, model.ErrTypeAuthentication,
			"Session expired, please log in again", nil)
	case errors.Is(err, service.ErrTokenInvalidated):
		writeEnvelope(w, model.ErrTypeAuthentication, "Session has been logged out", nil)
	case errors.Is(err, service.ErrTokenInvalid):
		writeEnvelope(w, model.ErrTypeAuthentication, "Invalid token", nil)
	case errors.Is(err, service.ErrKeyInvalid):
		writeEnvelope(w, model.ErrTypeAuthentication, "Invalid API key", nil)
	case errors.Is(err, service.ErrKeyIPBlocked):
		writeEnvelope(w, model.ErrTypeAuthentication, err.Error(), nil)
	default:
		writeEnvelope(w, model.ErrTypeInternal, "Authentication error", nil)
	}
}

// RequireRole returns a middleware that only lets session principals with
// one of the given roles through. API-key principals are rejected: keys
// carry permissions, not roles. Must run after Authenticate.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil || principal.User == nil || !allowed[principal.User.Role] {
				writeEnvelope(w, model.ErrTypeAuthorization, "Insufficient role for this resource", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission returns a middleware gating an endpoint on an API-key
// capability string. Session principals pass: their access is governed by
// role checks instead. Must run after Authenticate.
func RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil {
				writeEnvelope(w, model.ErrTypeAuthentication, "Authentication required", nil)
				return
			}
			if principal.Key != nil && !principal.Key.HasPermission(perm) {
				writeEnvelope(w, model.ErrTypeAuthorization,
					"API key lacks required permission: "+perm, nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil for unauthenticated requests.
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}
