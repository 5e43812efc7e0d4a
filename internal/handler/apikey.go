package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/authgate/authgate/internal/model"
	"github.com/authgate/authgate/internal/service"
	"github.com/authgate/authgate/internal/store"
)

// APIKeyHandler serves the admin endpoints for machine-client credentials.
type APIKeyHandler struct {
	store      *store.Store
	bcryptCost int
}

// NewAPIKeyHandler creates a new APIKeyHandler.
func NewAPIKeyHandler(st *store.Store, bcryptCost int) *APIKeyHandler {
	return &APIKeyHandler{store: st, bcryptCost: bcryptCost}
}

// List returns every API key record, active and revoked. Only the prefix is
// ever exposed; hashes never leave the store.
// GET /api/v1/admin/keys
func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.ListAPIKeys(r.Context())
	if err != nil {
		writeError(w, model.ErrTypeDatabase, "Failed to list API keys: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"keys":    keys,
		"count":   len(keys),
	})
}

// createKeyRequest is the expected payload for Create.
type createKeyRequest struct {
	Name        string     `json:"name"`
	Permissions []string   `json:"permissions"`
	IPWhitelist []string   `json:"ip_whitelist"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// createKeyResponse includes the plaintext key, shown once only.
type createKeyResponse struct {
	Success bool          `json:"success"`
	Key     string        `json:"key"`
	Record  *model.APIKey `json:"record"`
}

// Create generates a new API key, stores its hash, and returns the plaintext
// exactly once. Whitelist patterns are validated before anything persists.
// POST /api/v1/admin/keys
func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, model.ErrTypeValidation, "Invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, model.ErrTypeValidation, "Key name is required")
		return
	}
	if err := service.ValidateWhitelist(req.IPWhitelist); err != nil {
		writeError(w, model.ErrTypeValidation, "Invalid IP whitelist: "+err.Error())
		return
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		writeError(w, model.ErrTypeValidation, "Expiry must be in the future")
		return
	}

	plaintext, hash, prefix, err := service.GenerateKey(h.bcryptCost)
	if err != nil {
		writeError(w, model.ErrTypeInternal, "Failed to generate key: "+err.Error())
		return
	}

	record := service.NewAPIKeyRecord(req.Name, hash, prefix, req.Permissions, req.IPWhitelist, req.ExpiresAt)
	if err := h.store.CreateAPIKey(r.Context(), record); err != nil {
		writeError(w, model.ErrTypeDatabase, "Failed to save API key: "+err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, createKeyResponse{
		Success: true,
		Key:     plaintext,
		Record:  record,
	})
}

// Revoke deactivates an API key by ID. Revocation is soft so the audit trail
// survives.
// DELETE /api/v1/admin/keys/{keyID}
func (h *APIKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "keyID")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, model.ErrTypeValidation, "Invalid key ID: "+idStr)
		return
	}

	if err := h.store.RevokeAPIKey(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, model.ErrTypeNotFound, "API key not found: "+idStr)
			return
		}
		writeError(w, model.ErrTypeDatabase, "Failed to revoke API key: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "API key revoked",
	})
}
