package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"acecore/application/core"
	"acecore/application/ports"
	pkgerrors "acecore/pkg/errors"
)

// ConfigHandler serves runtime configuration settings
type ConfigHandler struct {
	core   *core.CoreSystem
	logger *zap.Logger
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(core *core.CoreSystem, logger *zap.Logger) *ConfigHandler {
	return &ConfigHandler{core: core, logger: logger}
}

// Get handles GET /config?key=...
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		respondBadRequest(h.logger, w, `query parameter "key" is required`)
		return
	}

	setting, err := h.core.GetConfig(r.Context(), key)
	if err != nil {
		respondError(h.logger, w, err)
		return
	}
	if setting == nil {
		respondNotFound(h.logger, w, pkgerrors.CodeUnknownConfig,
			fmt.Sprintf("unknown configuration key %q", key))
		return
	}

	respondJSON(h.logger, w, http.StatusOK, setting)
}

// Set handles PUT /config. A new key responds 201, an overwrite 200.
func (h *ConfigHandler) Set(w http.ResponseWriter, r *http.Request) {
	var setting ports.ConfigSetting
	if err := json.NewDecoder(r.Body).Decode(&setting); err != nil {
		respondBadRequest(h.logger, w, "invalid request body: "+err.Error())
		return
	}
	if setting.Name == "" {
		respondBadRequest(h.logger, w, "configuration key name is required")
		return
	}
	if len(setting.Value) == 0 {
		respondBadRequest(h.logger, w, "configuration value is required")
		return
	}

	existing, err := h.core.GetConfig(r.Context(), setting.Name)
	if err != nil {
		respondError(h.logger, w, err)
		return
	}

	if err := h.core.SetConfig(r.Context(), &setting); err != nil {
		h.logger.Error("failed to set config",
			zap.String("key", setting.Name),
			zap.Error(err),
		)
		respondError(h.logger, w, err)
		return
	}

	status := http.StatusOK
	if existing == nil {
		status = http.StatusCreated
	}
	respondJSON(h.logger, w, status, setting)
}

// Delete handles DELETE /config?key=...
func (h *ConfigHandler) Delete(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		respondBadRequest(h.logger, w, `query parameter "key" is required`)
		return
	}

	deleted, err := h.core.DeleteConfig(r.Context(), key)
	if err != nil {
		respondError(h.logger, w, err)
		return
	}
	if !deleted {
		respondNotFound(h.logger, w, pkgerrors.CodeUnknownConfig,
			fmt.Sprintf("unknown configuration key %q", key))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
