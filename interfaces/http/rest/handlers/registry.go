package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"acecore/application/core"
	"acecore/domain/analysis"
	pkgerrors "acecore/pkg/errors"
)

// RegistryHandler handles analysis module type registration requests
type RegistryHandler struct {
	core   *core.CoreSystem
	logger *zap.Logger
}

// NewRegistryHandler creates a new registry handler
func NewRegistryHandler(core *core.CoreSystem, logger *zap.Logger) *RegistryHandler {
	return &RegistryHandler{core: core, logger: logger}
}

// Register handles POST /amt
func (h *RegistryHandler) Register(w http.ResponseWriter, r *http.Request) {
	var amt analysis.ModuleType
	if err := json.NewDecoder(r.Body).Decode(&amt); err != nil {
		respondBadRequest(h.logger, w, "invalid request body: "+err.Error())
		return
	}
	if amt.Name == "" {
		respondBadRequest(h.logger, w, "module type name is required")
		return
	}

	registered, err := h.core.RegisterModuleType(r.Context(), &amt)
	if err != nil {
		h.logger.Error("failed to register module type",
			zap.String("amt", amt.Name),
			zap.Error(err),
		)
		respondError(h.logger, w, err)
		return
	}

	respondJSON(h.logger, w, http.StatusOK, registered)
}

// Get handles GET /amt/{name}
func (h *RegistryHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	amt, err := h.core.GetModuleType(r.Context(), name)
	if err != nil {
		respondError(h.logger, w, err)
		return
	}
	if amt == nil {
		respondNotFound(h.logger, w, pkgerrors.CodeUnknownAMT,
			fmt.Sprintf("unknown analysis module type %q", name))
		return
	}

	respondJSON(h.logger, w, http.StatusOK, amt)
}

// List handles GET /amt
func (h *RegistryHandler) List(w http.ResponseWriter, r *http.Request) {
	amts, err := h.core.ListModuleTypes(r.Context())
	if err != nil {
		respondError(h.logger, w, err)
		return
	}
	if amts == nil {
		amts = []*analysis.ModuleType{}
	}

	respondJSON(h.logger, w, http.StatusOK, amts)
}

// Delete handles DELETE /amt/{name}
func (h *RegistryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	deleted, err := h.core.DeleteModuleType(r.Context(), name)
	if err != nil {
		respondError(h.logger, w, err)
		return
	}
	if !deleted {
		respondNotFound(h.logger, w, pkgerrors.CodeUnknownAMT,
			fmt.Sprintf("unknown analysis module type %q", name))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
