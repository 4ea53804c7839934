package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"acecore/application/core"
	"acecore/domain/analysis"
	pkgerrors "acecore/pkg/errors"
)

// maxUploadMemory bounds how much of a multipart upload is buffered in
// memory before spilling to disk.
const maxUploadMemory = 32 << 20

// StorageHandler serves the content-addressed blob store
type StorageHandler struct {
	core   *core.CoreSystem
	logger *zap.Logger
}

// NewStorageHandler creates a new storage handler
func NewStorageHandler(core *core.CoreSystem, logger *zap.Logger) *StorageHandler {
	return &StorageHandler{core: core, logger: logger}
}

// Store handles POST /storage. The multipart body carries the payload under
// "file" and an optional ContentMetadata JSON document under "meta".
func (h *StorageHandler) Store(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		respondBadRequest(h.logger, w, "invalid multipart body: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondBadRequest(h.logger, w, `multipart field "file" is required`)
		return
	}
	defer file.Close()

	meta := &analysis.ContentMetadata{}
	if raw := r.FormValue("meta"); raw != "" {
		if err := json.Unmarshal([]byte(raw), meta); err != nil {
			respondBadRequest(h.logger, w, "invalid meta document: "+err.Error())
			return
		}
	}
	if meta.Name == "" {
		meta.Name = header.Filename
	}

	sha, err := h.core.StoreContent(r.Context(), file, meta)
	if err != nil {
		h.logger.Error("failed to store content",
			zap.String("name", meta.Name),
			zap.Error(err),
		)
		respondError(h.logger, w, err)
		return
	}

	stored, err := h.core.GetContentMeta(r.Context(), sha)
	if err != nil {
		respondError(h.logger, w, err)
		return
	}

	respondJSON(h.logger, w, http.StatusOK, stored)
}

// Stream handles GET /storage/{sha256}
func (h *StorageHandler) Stream(w http.ResponseWriter, r *http.Request) {
	sha := chi.URLParam(r, "sha256")

	meta, err := h.core.GetContentMeta(r.Context(), sha)
	if err != nil {
		respondError(h.logger, w, err)
		return
	}
	if meta == nil {
		respondNotFound(h.logger, w, pkgerrors.CodeUnknownFile, fmt.Sprintf("unknown file %s", sha))
		return
	}

	rc, err := h.core.OpenContent(r.Context(), sha)
	if err != nil {
		respondError(h.logger, w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", meta.Name))
	if meta.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		// Headers are already gone; all we can do is log.
		h.logger.Error("failed to stream content",
			zap.String("sha256", sha),
			zap.Error(err),
		)
	}
}

// GetMeta handles GET /storage/meta/{sha256}
func (h *StorageHandler) GetMeta(w http.ResponseWriter, r *http.Request) {
	sha := chi.URLParam(r, "sha256")

	meta, err := h.core.GetContentMeta(r.Context(), sha)
	if err != nil {
		respondError(h.logger, w, err)
		return
	}
	if meta == nil {
		respondNotFound(h.logger, w, pkgerrors.CodeUnknownFile, fmt.Sprintf("unknown file %s", sha))
		return
	}

	respondJSON(h.logger, w, http.StatusOK, meta)
}
