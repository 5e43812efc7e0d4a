package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/authgate/authgate/internal/model"
	"github.com/authgate/authgate/internal/ratelimit"
	"github.com/authgate/authgate/internal/server/middleware"
	"github.com/authgate/authgate/internal/service"
	"github.com/authgate/authgate/internal/store"
)

// AuthHandler serves the session endpoints: login, registration, token
// refresh, logout, and the current-identity probe.
type AuthHandler struct {
	store   *store.Store
	tokens  *service.TokenService
	cookies middleware.CookiePolicy
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(st *store.Store, tokens *service.TokenService, cookies middleware.CookiePolicy) *AuthHandler {
	return &AuthHandler{store: st, tokens: tokens, cookies: cookies}
}

// loginRequest is the expected payload for the Login endpoint.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// sessionResponse is returned by Login, Register, and Refresh. The tokens
// themselves travel in HttpOnly cookies; the body carries the user identity
// for the client UI.
type sessionResponse struct {
	Success   bool        `json:"success"`
	User      *model.User `json:"user"`
	ExpiresIn int         `json:"expires_in"`
}

// Login authenticates a user with email and password and starts a session.
// POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, model.ErrTypeValidation, "Invalid request body: "+err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, model.ErrTypeValidation, "Email and password are required")
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Same message for unknown email and wrong password.
			writeError(w, model.ErrTypeAuthentication, "Invalid email or password")
			return
		}
		writeError(w, model.ErrTypeDatabase, "Authentication error: "+err.Error())
		return
	}

	if !h.tokens.CheckPassword(req.Password, user.PasswordHash) {
		writeError(w, model.ErrTypeAuthentication, "Invalid email or password")
		return
	}

	h.startSession(w, r, user)
}

// registerRequest is the expected payload for the Register endpoint.
type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates a new user account and starts a session. New accounts
// always get the student role; promotion is an admin operation.
// POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, model.ErrTypeValidation, "Invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, model.ErrTypeValidation, "Name is required")
		return
	}
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		writeError(w, model.ErrTypeValidation, "A valid email is required")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, model.ErrTypeValidation, "Password must be at least 8 characters")
		return
	}

	if _, err := h.store.GetUserByEmail(r.Context(), req.Email); err == nil {
		writeError(w, model.ErrTypeConflict, "An account with this email already exists")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		writeError(w, model.ErrTypeDatabase, "Registration error: "+err.Error())
		return
	}

	hash, err := h.tokens.HashPassword(req.Password)
	if err != nil {
		writeError(w, model.ErrTypeInternal, "Registration error: "+err.Error())
		return
	}

	user := &model.User{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         model.RoleStudent,
	}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		writeError(w, model.ErrTypeDatabase, "Failed to create account: "+err.Error())
		return
	}

	h.startSession(w, r, user)
}

// Refresh exchanges a valid refresh token for a fresh access token. The
// refresh token is rotated: the presented one is revoked and a new one
// issued, so a replayed old token fails.
// POST /api/v1/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.RefreshTokenCookie)
	if err != nil || cookie.Value == "" {
		writeError(w, model.ErrTypeAuthentication, "Refresh token required")
		return
	}

	rt, err := h.store.GetValidRefreshToken(r.Context(), cookie.Value, h.tokens.Now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, model.ErrTypeAuthentication, "Session expired, please log in again")
			return
		}
		writeError(w, model.ErrTypeDatabase, "Refresh error: "+err.Error())
		return
	}

	user, err := h.store.GetUserByID(r.Context(), rt.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, model.ErrTypeAuthentication, "Account no longer exists")
			return
		}
		writeError(w, model.ErrTypeDatabase, "Refresh error: "+err.Error())
		return
	}

	if err := h.store.RevokeRefreshToken(r.Context(), cookie.Value); err != nil {
		writeError(w, model.ErrTypeDatabase, "Refresh error: "+err.Error())
		return
	}

	h.startSession(w, r, user)
}

// Logout ends the session. The access token is blacklisted so it fails
// verification immediately, the refresh token is revoked, and both cookies
// are cleared. Logging out without a session is not an error.
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if access := bearerOrCookie(r); access != "" {
		h.tokens.Invalidate(access)
	}
	if c, err := r.Cookie(middleware.RefreshTokenCookie); err == nil && c.Value != "" {
		if err := h.store.RevokeRefreshToken(r.Context(), c.Value); err != nil {
			writeError(w, model.ErrTypeDatabase, "Logout error: "+err.Error())
			return
		}
	}

	h.cookies.ClearAuthCookies(w)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Logged out",
	})
}

// changePasswordRequest is the expected payload for ChangePassword.
type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePassword replaces the session user's password after re-verifying the
// current one, then revokes every refresh token the account holds: other
// devices must log in again with the new credential. Must run behind
// Authenticate; API-key principals have no password to change.
// POST /api/v1/auth/password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil || principal.User == nil {
		writeError(w, model.ErrTypeAuthentication, "A user session is required")
		return
	}

	var req changePasswordRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, model.ErrTypeValidation, "Invalid request body: "+err.Error())
		return
	}
	if len(req.NewPassword) < 8 {
		writeError(w, model.ErrTypeValidation, "Password must be at least 8 characters")
		return
	}
	if !h.tokens.CheckPassword(req.CurrentPassword, principal.User.PasswordHash) {
		writeError(w, model.ErrTypeAuthentication, "Current password is incorrect")
		return
	}

	hash, err := h.tokens.HashPassword(req.NewPassword)
	if err != nil {
		writeError(w, model.ErrTypeInternal, "Password change error: "+err.Error())
		return
	}
	if err := h.store.UpdateUserPassword(r.Context(), principal.User.ID, hash); err != nil {
		writeError(w, model.ErrTypeDatabase, "Failed to update password: "+err.Error())
		return
	}
	if err := h.store.RevokeUserRefreshTokens(r.Context(), principal.User.ID); err != nil {
		writeError(w, model.ErrTypeDatabase, "Failed to revoke sessions: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Password updated; other sessions have been signed out",
	})
}

// Me returns the authenticated identity. For sessions that is the user
// record; for API keys the key's name and permissions. Must run behind
// Authenticate.
// GET /api/v1/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		writeError(w, model.ErrTypeAuthentication, "Authentication required")
		return
	}

	if principal.Key != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"api_key": map[string]interface{}{
				"id":          principal.Key.ID,
				"name":        principal.Key.Name,
				"permissions": principal.Key.Permissions,
			},
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user":    principal.User,
	})
}

// startSession issues the access and refresh token pair for user, persists
// the refresh record, and sets both session cookies.
func (h *AuthHandler) startSession(w http.ResponseWriter, r *http.Request, user *model.User) {
	access, err := h.tokens.IssueAccessToken(user.ID, user.Email, user.Role)
	if err != nil {
		writeError(w, model.ErrTypeInternal, "Failed to issue token: "+err.Error())
		return
	}
	refresh, err := h.tokens.NewRefreshToken()
	if err != nil {
		writeError(w, model.ErrTypeInternal, "Failed to issue token: "+err.Error())
		return
	}

	rt := &model.RefreshToken{
		Token:     refresh,
		UserID:    user.ID,
		UserAgent: r.UserAgent(),
		IPAddress: ratelimit.ClientIP(r),
		ExpiresAt: h.tokens.Now().Add(h.tokens.RefreshTTL()),
	}
	if err := h.store.CreateRefreshToken(r.Context(), rt); err != nil {
		writeError(w, model.ErrTypeDatabase, "Failed to persist session: "+err.Error())
		return
	}

	h.cookies.SetAccessCookie(w, access)
	h.cookies.SetRefreshCookie(w, refresh)

	writeJSON(w, http.StatusOK, sessionResponse{
		Success:   true,
		User:      user,
		ExpiresIn: int(h.tokens.AccessTTL().Seconds()),
	})
}

// bearerOrCookie extracts the access token from the Authorization header or,
// failing that, the session cookie.
func bearerOrCookie(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if c, err := r.Cookie(middleware.AccessTokenCookie); err == nil {
		return c.Value
	}
	return ""
}
