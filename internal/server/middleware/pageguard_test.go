package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/authgate/authgate/internal/model"
	"github.com/authgate/authgate/internal/service"
)

func newGuardFixture(t *testing.T) (*service.TokenService, http.Handler) {
	t.Helper()
	clock := func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	tokens := service.NewTokenService("guard-secret", time.Hour, 7*24*time.Hour, bcrypt.MinCost, clock)

	routes := GuardRoutes{
		PublicPaths:       map[string]bool{"/": true, "/login": true},
		ProtectedPrefixes: []string{"/admin", "/teacher", "/student", "/dashboard"},
		Groups: map[string][]string{
			model.RoleAdmin:   {"/admin", "/teacher", "/student", "/dashboard"},
			model.RoleTeacher: {"/teacher", "/dashboard"},
			model.RoleStudent: {"/student", "/dashboard"},
		},
	}
	return tokens, PageGuard(tokens, routes)(okHandler())
}

func guardGet(t *testing.T, handler http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: token})
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestPageGuardSkipsPublicAndAPIPaths(t *testing.T) {
	_, handler := newGuardFixture(t)

	for _, path := range []string{"/", "/login", "/api/v1/auth/login", "/about"} {
		if rr := guardGet(t, handler, path, ""); rr.Code != http.StatusOK {
			t.Errorf("%s: got %d, want 200", path, rr.Code)
		}
	}
}

func TestPageGuardRedirectsAnonymousToLogin(t *testing.T) {
	_, handler := newGuardFixture(t)

	rr := guardGet(t, handler, "/dashboard", "")
	if rr.Code != http.StatusFound {
		t.Fatalf("got %d, want 302", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "/login" {
		t.Errorf("Location: got %q, want /login", loc)
	}

	rr = guardGet(t, handler, "/admin/users", "not-a-jwt")
	if rr.Code != http.StatusFound || rr.Header().Get("Location") != "/login" {
		t.Errorf("invalid cookie: got %d → %q, want 302 → /login", rr.Code, rr.Header().Get("Location"))
	}
}

func TestPageGuardEnforcesRoleMatrix(t *testing.T) {
	tokens, handler := newGuardFixture(t)

	student, err := tokens.IssueAccessToken(1, "s@example.com", model.RoleStudent)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	admin, err := tokens.IssueAccessToken(2, "a@example.com", model.RoleAdmin)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	cases := []struct {
		token string
		path  string
		code  int
	}{
		{student, "/student/courses", http.StatusOK},
		{student, "/dashboard", http.StatusOK},
		{student, "/admin/users", http.StatusFound},
		{student, "/teacher", http.StatusFound},
		{admin, "/admin/users", http.StatusOK},
		{admin, "/student/courses", http.StatusOK},
	}
	for _, tc := range cases {
		rr := guardGet(t, handler, tc.path, tc.token)
		if rr.Code != tc.code {
			t.Errorf("%s: got %d, want %d", tc.path, rr.Code, tc.code)
		}
		if tc.code == http.StatusFound {
			if loc := rr.Header().Get("Location"); loc != "/" {
				t.Errorf("%s: redirect to %q, want /", tc.path, loc)
			}
		}
	}
}

func TestPageGuardPrefixBoundaries(t *testing.T) {
	_, handler := newGuardFixture(t)

	// "/administrator" is not under "/admin" and needs no session.
	if rr := guardGet(t, handler, "/administrator", ""); rr.Code != http.StatusOK {
		t.Errorf("/administrator: got %d, want 200", rr.Code)
	}
	if rr := guardGet(t, handler, "/admin", ""); rr.Code != http.StatusFound {
		t.Errorf("/admin: got %d, want 302", rr.Code)
	}
}
