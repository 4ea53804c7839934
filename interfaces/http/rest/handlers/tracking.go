package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"acecore/application/core"
	pkgerrors "acecore/pkg/errors"
)

// TrackingHandler serves tracked roots and their details payloads
type TrackingHandler struct {
	core   *core.CoreSystem
	logger *zap.Logger
}

// NewTrackingHandler creates a new tracking handler
func NewTrackingHandler(core *core.CoreSystem, logger *zap.Logger) *TrackingHandler {
	return &TrackingHandler{core: core, logger: logger}
}

// GetRoot handles GET /analysis_tracking/root/{uuid}. Details payloads are
// excluded; fetch them per analysis through GetDetails.
func (h *TrackingHandler) GetRoot(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")

	root, err := h.core.GetRoot(r.Context(), uuid)
	if err != nil {
		respondError(h.logger, w, err)
		return
	}
	if root == nil {
		respondNotFound(h.logger, w, pkgerrors.CodeUnknownRoot,
			fmt.Sprintf("unknown root analysis %s", uuid))
		return
	}

	respondJSON(h.logger, w, http.StatusOK, root)
}

// GetDetails handles GET /analysis_tracking/details/{uuid}
func (h *TrackingHandler) GetDetails(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")

	details, err := h.core.GetDetails(r.Context(), uuid)
	if err != nil {
		respondError(h.logger, w, err)
		return
	}
	if details == nil {
		respondNotFound(h.logger, w, pkgerrors.CodeUnknownDetails,
			fmt.Sprintf("unknown analysis details %s", uuid))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(details); err != nil {
		h.logger.Error("failed to write details response", zap.Error(err))
	}
}
