// Package handlers implements the HTTP endpoint groups of the analysis core.
// Each handler translates between the JSON surface and CoreSystem calls;
// domain errors carry their own status codes through the shared envelope.
package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	pkgerrors "acecore/pkg/errors"
)

// errorEnvelope is the body of every non-2xx response.
type errorEnvelope struct {
	Code    string `json:"code"`
	Details string `json:"details"`
}

func respondJSON(logger *zap.Logger, w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
	}
}

// respondError maps a domain error onto its envelope. Errors outside the
// taxonomy become an opaque 500.
func respondError(logger *zap.Logger, w http.ResponseWriter, err error) {
	if e := pkgerrors.GetError(err); e != nil {
		respondJSON(logger, w, pkgerrors.HTTPStatus(err), errorEnvelope{
			Code:    string(e.Code),
			Details: e.Message,
		})
		return
	}
	logger.Error("unhandled error", zap.Error(err))
	respondJSON(logger, w, http.StatusInternalServerError, errorEnvelope{
		Code:    string(pkgerrors.CodeInternal),
		Details: "internal error",
	})
}

// respondNotFound writes a 404 envelope. Lookup misses on GET routes are 404s
// even where the originating domain error is a 400.
func respondNotFound(logger *zap.Logger, w http.ResponseWriter, code pkgerrors.Code, details string) {
	respondJSON(logger, w, http.StatusNotFound, errorEnvelope{
		Code:    string(code),
		Details: details,
	})
}

func respondBadRequest(logger *zap.Logger, w http.ResponseWriter, details string) {
	respondJSON(logger, w, http.StatusBadRequest, errorEnvelope{
		Code:    string(pkgerrors.CodeInvalidRequest),
		Details: details,
	})
}
