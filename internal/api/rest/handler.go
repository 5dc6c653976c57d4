package rest

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/buildsense/buildsense-backend/internal/api/middleware"
	"github.com/buildsense/buildsense-backend/internal/repository"
	"github.com/buildsense/buildsense-backend/internal/service"
)

// Handler manages HTTP request handlers
type Handler struct {
	detections *service.DetectionService
	sensors    repository.SensorRepository
}

// NewHandler creates a new HTTP handler
func NewHandler(detections *service.DetectionService, sensors repository.SensorRepository) *Handler {
	return &Handler{
		detections: detections,
		sensors:    sensors,
	}
}

// NewRouter builds the full router: API routes under /api/v1, health probes,
// Prometheus metrics, and the standard middleware chain. ws may be nil.
func NewRouter(h *Handler, healthz *HealthzHandler, ws http.Handler) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Tracing)
	router.Use(middleware.StructuredLog)
	router.Use(middleware.RateLimit())

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/detections", h.RunDetection).Methods("POST")
	api.HandleFunc("/sensors", h.ListSensors).Methods("GET")
	api.HandleFunc("/sensors/{id}", h.GetSensor).Methods("GET")
	api.HandleFunc("/sensors", h.CreateSensor).Methods("POST")

	if ws != nil {
		router.Handle("/ws/alerts", ws)
	}

	router.HandleFunc("/healthz/live", healthz.Live).Methods("GET")
	router.HandleFunc("/healthz/ready", healthz.Ready).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return router
}
