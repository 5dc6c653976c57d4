package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/buildsense/buildsense-backend/internal/engine/cache"
	"github.com/buildsense/buildsense-backend/internal/models"
	"github.com/buildsense/buildsense-backend/internal/pkg/logger"
	"github.com/buildsense/buildsense-backend/internal/pkg/validate"
	"github.com/buildsense/buildsense-backend/internal/service"
)

// RunDetection handles POST /api/v1/detections
func (h *Handler) RunDetection(w http.ResponseWriter, r *http.Request) {
	reqID := logger.FromContext(r.Context())

	var req models.DetectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorWithCode(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body", reqID)
		return
	}
	if err := validate.DetectionRequest(&req); err != nil {
		respondErrorWithCode(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error(), reqID)
		return
	}

	result, err := h.detections.Detect(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidInput):
			respondErrorWithCode(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error(), reqID)
		case errors.Is(err, cache.ErrComputePending):
			// The analysis outlived the caller's patience but is still
			// running; an identical request collects it once finished.
			respondErrorWithCode(w, http.StatusAccepted, ErrCodeDetectionPending, "analysis still running, retry shortly", reqID)
		case errors.Is(err, service.ErrUpstreamUnavailable):
			respondErrorWithCode(w, http.StatusServiceUnavailable, ErrCodeUpstreamUnavailable, "reading store unavailable", reqID)
		default:
			respondErrorWithCode(w, http.StatusInternalServerError, ErrCodeInternalError, "detection failed", reqID)
		}
		return
	}

	respondJSON(w, http.StatusOK, result)
}
