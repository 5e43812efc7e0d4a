package middleware

import (
	"net/http"
	"time"
)

// Cookie names used for browser sessions.
const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"
)

// CookiePolicy controls the attributes of the session cookies. Secure is
// enabled in production; SameSite is always Strict.
type CookiePolicy struct {
	Domain        string
	Secure        bool
	AccessMaxAge  time.Duration
	RefreshMaxAge time.Duration
}

// SetAccessCookie writes the access-token cookie.
func (p CookiePolicy) SetAccessCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     AccessTokenCookie,
		Value:    token,
		Path:     "/",
		Domain:   p.Domain,
		MaxAge:   int(p.AccessMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   p.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// SetRefreshCookie writes the refresh-token cookie.
func (p CookiePolicy) SetRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshTokenCookie,
		Value:    token,
		Path:     "/",
		Domain:   p.Domain,
		MaxAge:   int(p.RefreshMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   p.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearAuthCookies expires both session cookies, used on logout.
func (p CookiePolicy) ClearAuthCookies(w http.ResponseWriter) {
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Domain:   p.Domain,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   p.Secure,
			SameSite: http.SameSiteStrictMode,
		})
	}
}
