package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/authgate/authgate/internal/model"
	"github.com/authgate/authgate/internal/server/middleware"
	"github.com/authgate/authgate/internal/store"
)

// UserHandler serves the admin endpoints for account management.
type UserHandler struct {
	store *store.Store
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(st *store.Store) *UserHandler {
	return &UserHandler{store: st}
}

// List returns all active user accounts.
// GET /api/v1/admin/users
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		writeError(w, model.ErrTypeDatabase, "Failed to list users: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"users":   users,
		"count":   len(users),
	})
}

// updateRoleRequest is the expected payload for UpdateRole.
type updateRoleRequest struct {
	Role string `json:"role"`
}

// UpdateRole changes a user's role. The change takes effect on the user's
// next token issue or silent renewal; outstanding access tokens keep the old
// role until they expire.
// PUT /api/v1/admin/users/{userID}/role
func (h *UserHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		writeError(w, model.ErrTypeValidation, "Invalid user ID")
		return
	}

	var req updateRoleRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, model.ErrTypeValidation, "Invalid request body: "+err.Error())
		return
	}
	switch req.Role {
	case model.RoleAdmin, model.RoleTeacher, model.RoleStudent:
	default:
		writeError(w, model.ErrTypeValidation, "Unknown role: "+req.Role)
		return
	}

	if err := h.store.UpdateUserRole(r.Context(), id, req.Role); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, model.ErrTypeNotFound, "User not found")
			return
		}
		writeError(w, model.ErrTypeDatabase, "Failed to update role: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Role updated",
	})
}

// Delete soft-deletes a user account and revokes its refresh tokens, ending
// every session the account holds. Admins cannot delete themselves.
// DELETE /api/v1/admin/users/{userID}
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		writeError(w, model.ErrTypeValidation, "Invalid user ID")
		return
	}

	if p := middleware.GetPrincipal(r.Context()); p != nil && p.User != nil && p.User.ID == id {
		writeError(w, model.ErrTypeValidation, "Cannot delete your own account")
		return
	}

	if err := h.store.DeleteUser(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, model.ErrTypeNotFound, "User not found")
			return
		}
		writeError(w, model.ErrTypeDatabase, "Failed to delete user: "+err.Error())
		return
	}
	if err := h.store.RevokeUserRefreshTokens(r.Context(), id); err != nil {
		writeError(w, model.ErrTypeDatabase, "Failed to revoke sessions: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "User deleted",
	})
}
