package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildsense/buildsense-backend/internal/models"
)

func TestHubBroadcastReachesRegisteredClients(t *testing.T) {
	hub := NewHub(context.Background())
	go hub.Run()
	defer hub.Stop()

	client := &Client{send: make(chan []byte, 8), hub: hub}
	hub.register <- client

	// Registration goes through the run loop; wait for it to land.
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.BroadcastPatterns([]models.DetectedPattern{{
		ID:          "p1",
		SensorID:    "pump-1",
		PatternType: models.PatternSustainedFailure,
		Severity:    models.SeverityCritical,
	}})

	select {
	case raw := <-client.send:
		var msg AlertMessage
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, "pattern_alert", msg.Type)
		assert.Equal(t, "p1", msg.Pattern.ID)
		assert.Equal(t, models.SeverityCritical, msg.Pattern.Severity)
	case <-time.After(time.Second):
		t.Fatal("expected an alert on the client channel")
	}
}

func TestHubDropsSlowClients(t *testing.T) {
	hub := NewHub(context.Background())
	go hub.Run()
	defer hub.Stop()

	// Zero-buffer channel with no reader: the first broadcast cannot be
	// delivered and the client is evicted.
	client := &Client{send: make(chan []byte), hub: hub}
	hub.register <- client
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.BroadcastPatterns([]models.DetectedPattern{{ID: "p1"}})
	assert.Eventually(t, func() bool { return hub.GetClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHubStopDisconnectsAll(t *testing.T) {
	hub := NewHub(context.Background())
	go hub.Run()

	client := &Client{send: make(chan []byte, 8), hub: hub}
	hub.register <- client
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Stop()
	assert.Equal(t, 0, hub.GetClientCount())

	// Broadcasting after stop must not block.
	done := make(chan struct{})
	go func() {
		hub.BroadcastPatterns([]models.DetectedPattern{{ID: "p2"}})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast after stop blocked")
	}
}
