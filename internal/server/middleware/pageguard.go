package middleware

import (
	"net/http"
	"strings"

	"github.com/authgate/authgate/internal/service"
)

// GuardRoutes describes page-route authorization: paths that are always
// public, the prefixes that require a session, and the role → allowed-prefix
// matrix.
type GuardRoutes struct {
	PublicPaths       map[string]bool
	ProtectedPrefixes []string
	Groups            map[string][]string
}

// PageGuard returns a middleware enforcing session authorization on page
// routes. API paths are untouched: API authentication is each endpoint's own
// responsibility through Authenticate. For a protected page the session
// cookie is verified without the renewal fallback; a failed page navigation
// simply redirects to login, and an authenticated-but-unauthorized role
// redirects home.
func PageGuard(tokens *service.TokenService, routes GuardRoutes) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path

			if strings.HasPrefix(path, "/api/") || routes.PublicPaths[path] {
				next.ServeHTTP(w, r)
				return
			}
			if !underAny(path, routes.ProtectedPrefixes) {
				next.ServeHTTP(w, r)
				return
			}

			cookie, err := r.Cookie(AccessTokenCookie)
			if err != nil {
				http.Redirect(w, r, "/login", http.StatusFound)
				return
			}
			claims, err := tokens.VerifyAccessToken(cookie.Value)
			if err != nil {
				http.Redirect(w, r, "/login", http.StatusFound)
				return
			}

			if !underAny(path, routes.Groups[claims.Role]) {
				http.Redirect(w, r, "/", http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// underAny reports whether path equals one of the prefixes or sits below it
// on a path-segment boundary, so "/admin" covers "/admin/users" but not
// "/administrator".
func underAny(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}
