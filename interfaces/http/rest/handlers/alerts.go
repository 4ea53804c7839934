package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"acecore/application/core"
	pkgerrors "acecore/pkg/errors"
)

// AlertHandler serves alert system registration and alert polling
type AlertHandler struct {
	core    *core.CoreSystem
	maxPoll time.Duration
	logger  *zap.Logger
}

// NewAlertHandler creates a new alert handler. maxPoll caps the blocking
// timeout a consumer may ask for when polling alerts.
func NewAlertHandler(core *core.CoreSystem, maxPoll time.Duration, logger *zap.Logger) *AlertHandler {
	return &AlertHandler{core: core, maxPoll: maxPoll, logger: logger}
}

// Register handles PUT /ams/{name}. A new registration responds 201, an
// existing one 200.
func (h *AlertHandler) Register(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	created, err := h.core.RegisterAlertSystem(r.Context(), name)
	if err != nil {
		h.logger.Error("failed to register alert system",
			zap.String("name", name),
			zap.Error(err),
		)
		respondError(h.logger, w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondJSON(h.logger, w, status, map[string]string{"name": name})
}

// Unregister handles DELETE /ams/{name}
func (h *AlertHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	deleted, err := h.core.UnregisterAlertSystem(r.Context(), name)
	if err != nil {
		respondError(h.logger, w, err)
		return
	}
	if !deleted {
		respondNotFound(h.logger, w, pkgerrors.CodeUnknownAlertSystem,
			fmt.Sprintf("unknown alert system %q", name))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetAlerts handles GET /ams/{name}. Without a timeout query parameter every
// queued alert is drained; with one the call blocks up to that many seconds
// for a single alert.
func (h *AlertHandler) GetAlerts(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var timeout *time.Duration
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds < 0 {
			respondBadRequest(h.logger, w, `query parameter "timeout" must be a non-negative integer`)
			return
		}
		d := time.Duration(seconds) * time.Second
		if h.maxPoll > 0 && d > h.maxPoll {
			d = h.maxPoll
		}
		timeout = &d
	}

	alerts, err := h.core.GetAlerts(r.Context(), name, timeout)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeUnknownAlertSystem) {
			respondNotFound(h.logger, w, pkgerrors.CodeUnknownAlertSystem,
				fmt.Sprintf("unknown alert system %q", name))
			return
		}
		respondError(h.logger, w, err)
		return
	}
	if alerts == nil {
		alerts = []string{}
	}

	respondJSON(h.logger, w, http.StatusOK, alerts)
}
