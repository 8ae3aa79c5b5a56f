package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"stockd/internal/models"
	"stockd/internal/storage"
)

// updateAPIKeyRequest is the request body for PATCH /api/v1/keys/{id}.
// All fields are optional.
type updateAPIKeyRequest struct {
	Name        *string  `json:"name"`
	Permissions []string `json:"permissions"`
	Enabled     *bool    `json:"enabled"`
}

// ListAPIKeys handles GET /api/v1/keys
// Requires 'admin' permission. Returns metadata only — no raw keys, no
// hashes.
func (h *Handlers) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.storage.ListAPIKeys(r.Context())
	if err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to list keys")
		return
	}

	infos := make([]models.KeyInfo, len(keys))
	for i, k := range keys {
		infos[i].FromAPIKey(k)
	}

	h.writeJSONResponse(w, http.StatusOK, &models.ListKeysResponse{
		Keys:       infos,
		TotalCount: len(infos),
	})
}

// CreateAPIKey handles POST /api/v1/keys
// Requires 'admin' permission. The raw key appears in this response and
// nowhere else.
func (h *Handlers) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req models.CreateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "invalid request body")
		return
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, err.Error())
		return
	}

	rawKey, err := models.GenerateAPIKey()
	if err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to generate key")
		return
	}

	key := models.NewAPIKey(models.NewKeyID(), req.Name, rawKey, req.Permissions)
	if err := h.storage.CreateAPIKey(r.Context(), key); err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to create key")
		return
	}

	slog.Info("api key created",
		"event", "security_audit",
		"action", "create",
		"key_id", key.ID,
		"key_name", key.Name,
		"actor_key_id", actorKeyID(r),
	)

	h.writeJSONResponse(w, http.StatusCreated, &models.CreateKeyResponse{
		ID:        key.ID,
		Name:      key.Name,
		Key:       rawKey,
		Prefix:    key.Prefix,
		CreatedAt: key.CreatedAt,
	})
}

// UpdateAPIKey handles PATCH /api/v1/keys/{id}
// Requires 'admin' permission.
func (h *Handlers) UpdateAPIKey(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req updateAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "invalid request body")
		return
	}
	for _, p := range req.Permissions {
		switch p {
		case "read", "write", "admin":
		default:
			h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, fmt.Sprintf("invalid permission: %s", p))
			return
		}
	}

	// Fetch the existing key by scanning the list (no GetByID method).
	keys, err := h.storage.ListAPIKeys(r.Context())
	if err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to fetch keys")
		return
	}
	var key *models.APIKey
	for _, k := range keys {
		if k.ID == id {
			c := *k
			key = &c
			break
		}
	}
	if key == nil {
		h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound, "key not found")
		return
	}

	if req.Name != nil {
		key.Name = *req.Name
	}
	if req.Permissions != nil {
		key.Permissions = req.Permissions
	}
	if req.Enabled != nil {
		key.Enabled = *req.Enabled
	}
	key.UpdatedAt = time.Now().UTC()

	if err := h.storage.UpdateAPIKey(r.Context(), key); err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to update key")
		return
	}

	slog.Info("api key updated",
		"event", "security_audit",
		"action", "update",
		"key_id", key.ID,
		"key_name", key.Name,
		"actor_key_id", actorKeyID(r),
	)

	var info models.KeyInfo
	info.FromAPIKey(key)
	h.writeJSONResponse(w, http.StatusOK, info)
}

// DeleteAPIKey handles DELETE /api/v1/keys/{id}
// Requires 'admin' permission.
func (h *Handlers) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.storage.DeleteAPIKey(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound, "key not found")
		} else {
			h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to delete key")
		}
		return
	}

	slog.Info("api key deleted",
		"event", "security_audit",
		"action", "delete",
		"key_id", id,
		"actor_key_id", actorKeyID(r),
	)

	w.WriteHeader(http.StatusNoContent)
}
