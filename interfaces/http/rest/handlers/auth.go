package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"acecore/application/core"
	pkgerrors "acecore/pkg/errors"
	"acecore/pkg/utils"
)

// AuthHandler manages api key credentials
type AuthHandler struct {
	core   *core.CoreSystem
	logger *zap.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(core *core.CoreSystem, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{core: core, logger: logger}
}

// CreateKeyRequest represents the request body for creating an api key
type CreateKeyRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=64"`
	Description string `json:"description,omitempty" validate:"max=256"`
	IsAdmin     bool   `json:"is_admin,omitempty"`
}

// CreateKeyResponse carries the plaintext key. It is returned exactly once;
// only the key's digest is stored.
type CreateKeyResponse struct {
	Name   string `json:"name"`
	APIKey string `json:"api_key"`
}

// CreateKey handles POST /auth
func (h *AuthHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req CreateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(h.logger, w, "invalid request body: "+err.Error())
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		respondBadRequest(h.logger, w, "validation error: "+err.Error())
		return
	}

	key, err := h.core.CreateAPIKey(r.Context(), req.Name, req.Description, req.IsAdmin)
	if err != nil {
		h.logger.Error("failed to create api key",
			zap.String("name", req.Name),
			zap.Error(err),
		)
		respondError(h.logger, w, err)
		return
	}

	respondJSON(h.logger, w, http.StatusCreated, CreateKeyResponse{
		Name:   req.Name,
		APIKey: key,
	})
}

// DeleteKey handles DELETE /auth/{name}
func (h *AuthHandler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	deleted, err := h.core.DeleteAPIKey(r.Context(), name)
	if err != nil {
		respondError(h.logger, w, err)
		return
	}
	if !deleted {
		respondNotFound(h.logger, w, pkgerrors.CodeUnknownAPIKey,
			fmt.Sprintf("api key named %q does not exist", name))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
