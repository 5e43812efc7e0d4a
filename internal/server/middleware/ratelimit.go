package middleware

import (
	"net/http"
	"strconv"

	"github.com/authgate/authgate/internal/model"
	"github.com/authgate/authgate/internal/ratelimit"
)

// RoutePolicies maps route classes to throttle policies. The class is
// selected by exact path match: sensitive paths first, then auth paths,
// then the general policy for everything else.
type RoutePolicies struct {
	General   ratelimit.Policy
	Auth      ratelimit.Policy
	Sensitive ratelimit.Policy

	AuthPaths      map[string]bool
	SensitivePaths map[string]bool
}

// Select returns the policy applicable to a request path.
func (p RoutePolicies) Select(path string) ratelimit.Policy {
	if p.SensitivePaths[path] {
		return p.Sensitive
	}
	if p.AuthPaths[path] {
		return p.Auth
	}
	return p.General
}

// RateLimit returns a middleware that throttles requests per client IP and
// path. Rejections are always visible: a 429 with the standard envelope and
// a Retry-After header, never a silent drop.
func RateLimit(limiter *ratelimit.Limiter, policies RoutePolicies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ratelimit.ClientIP(r)
			policy := policies.Select(r.URL.Path)

			result := limiter.Check(ip, r.URL.Path, policy)
			if !result.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
				writeEnvelope(w, model.ErrTypeRateLimit,
					"Too many requests, slow down", map[string]interface{}{
						"retry_after_seconds": result.RetryAfter,
					})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
