package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/buildsense/buildsense-backend/internal/models"
	"github.com/buildsense/buildsense-backend/internal/pkg/metrics"
)

// AlertMessage is the wire envelope sent to dashboard clients.
type AlertMessage struct {
	Type      string                 `json:"type"`
	Pattern   models.DetectedPattern `json:"pattern"`
	Timestamp time.Time              `json:"timestamp"`
}

// Hub maintains active WebSocket connections and broadcasts pattern alerts
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Outbound alert payloads
	broadcast chan []byte

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	mu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a new WebSocket hub
func NewHub(ctx context.Context) *Hub {
	hubCtx, cancel := context.WithCancel(ctx)
	return &Hub{
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		ctx:        hubCtx,
		cancel:     cancel,
	}
}

// Run starts the hub
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			metrics.WebSocketConnectionsActive.Set(float64(len(h.clients)))
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			metrics.WebSocketConnectionsActive.Set(float64(len(h.clients)))
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client buffer full, close connection
					close(client.send)
					delete(h.clients, client)
				}
			}
			metrics.WebSocketConnectionsActive.Set(float64(len(h.clients)))
			h.mu.Unlock()
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	metrics.WebSocketConnectionsActive.Set(0)
}

// BroadcastPatterns sends one alert per pattern to every connected client.
// Implements the detection service's broadcaster; drops alerts once the hub
// is shut down.
func (h *Hub) BroadcastPatterns(patterns []models.DetectedPattern) {
	for _, pattern := range patterns {
		msg := AlertMessage{
			Type:      "pattern_alert",
			Pattern:   pattern,
			Timestamp: time.Now().UTC(),
		}
		data, err := json.Marshal(msg)
		if err != nil {
			slog.Error("failed to marshal alert", "pattern_id", pattern.ID, "error", err)
			continue
		}
		select {
		case h.broadcast <- data:
		case <-h.ctx.Done():
			return
		}
	}
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
