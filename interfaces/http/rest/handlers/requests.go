package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"acecore/application/core"
	"acecore/domain/analysis"
	"acecore/pkg/utils"
)

// RequestHandler handles analysis request submission and work polling
type RequestHandler struct {
	core    *core.CoreSystem
	maxPoll time.Duration
	logger  *zap.Logger
}

// NewRequestHandler creates a new request handler. maxPoll caps the blocking
// timeout a worker may ask for on /work_queue.
func NewRequestHandler(core *core.CoreSystem, maxPoll time.Duration, logger *zap.Logger) *RequestHandler {
	return &RequestHandler{core: core, maxPoll: maxPoll, logger: logger}
}

// WorkRequest represents the request body for polling the work queue
type WorkRequest struct {
	Owner           string   `json:"owner" validate:"required"`
	AMT             string   `json:"amt" validate:"required"`
	Timeout         int      `json:"timeout" validate:"gte=0"`
	Version         string   `json:"version" validate:"required"`
	ExtendedVersion []string `json:"extended_version,omitempty"`
}

// Process handles POST /process_request
func (h *RequestHandler) Process(w http.ResponseWriter, r *http.Request) {
	var ar analysis.AnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&ar); err != nil {
		respondBadRequest(h.logger, w, "invalid request body: "+err.Error())
		return
	}
	if ar.Root == nil {
		respondBadRequest(h.logger, w, "analysis request requires a root")
		return
	}
	if ar.ID == "" {
		respondBadRequest(h.logger, w, "analysis request requires an id")
		return
	}

	if err := h.core.ProcessAnalysisRequest(r.Context(), &ar); err != nil {
		h.logger.Error("failed to process analysis request",
			zap.String("id", ar.ID),
			zap.String("root", ar.Root.UUID),
			zap.Error(err),
		)
		respondError(h.logger, w, err)
		return
	}

	respondJSON(h.logger, w, http.StatusOK, map[string]string{
		"id":      ar.ID,
		"message": "analysis request processed",
	})
}

// GetWork handles POST /work_queue. An empty poll responds 204.
func (h *RequestHandler) GetWork(w http.ResponseWriter, r *http.Request) {
	var req WorkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(h.logger, w, "invalid request body: "+err.Error())
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		respondBadRequest(h.logger, w, "validation error: "+err.Error())
		return
	}

	timeout := time.Duration(req.Timeout) * time.Second
	if h.maxPoll > 0 && timeout > h.maxPoll {
		timeout = h.maxPoll
	}

	ar, err := h.core.GetNextWork(r.Context(), req.Owner, req.AMT, timeout, req.Version, req.ExtendedVersion)
	if err != nil {
		respondError(h.logger, w, err)
		return
	}
	if ar == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	respondJSON(h.logger, w, http.StatusOK, ar)
}
