package rest

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/buildsense/buildsense-backend/internal/models"
	"github.com/buildsense/buildsense-backend/internal/pkg/logger"
)

// ListSensors handles GET /api/v1/sensors
func (h *Handler) ListSensors(w http.ResponseWriter, r *http.Request) {
	reqID := logger.FromContext(r.Context())

	sensors, err := h.sensors.ListSensors(r.Context())
	if err != nil {
		respondErrorWithCode(w, http.StatusServiceUnavailable, ErrCodeUpstreamUnavailable, "sensor store unavailable", reqID)
		return
	}
	if sensors == nil {
		sensors = []models.Sensor{}
	}
	respondJSON(w, http.StatusOK, sensors)
}

// GetSensor handles GET /api/v1/sensors/{id}
func (h *Handler) GetSensor(w http.ResponseWriter, r *http.Request) {
	reqID := logger.FromContext(r.Context())
	id := mux.Vars(r)["id"]

	sensor, err := h.sensors.GetSensor(r.Context(), id)
	if err != nil {
		respondErrorWithCode(w, http.StatusServiceUnavailable, ErrCodeUpstreamUnavailable, "sensor store unavailable", reqID)
		return
	}
	if sensor == nil {
		respondErrorWithCode(w, http.StatusNotFound, ErrCodeNotFound, "sensor not found", reqID)
		return
	}
	respondJSON(w, http.StatusOK, sensor)
}

// CreateSensor handles POST /api/v1/sensors
func (h *Handler) CreateSensor(w http.ResponseWriter, r *http.Request) {
	reqID := logger.FromContext(r.Context())

	var sensor models.Sensor
	if err := json.NewDecoder(r.Body).Decode(&sensor); err != nil {
		respondErrorWithCode(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body", reqID)
		return
	}
	if sensor.Name == "" {
		respondErrorWithCode(w, http.StatusBadRequest, ErrCodeInvalidRequest, "name is required", reqID)
		return
	}

	if err := h.sensors.CreateSensor(r.Context(), &sensor); err != nil {
		respondErrorWithCode(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to create sensor", reqID)
		return
	}
	respondJSON(w, http.StatusCreated, sensor)
}
