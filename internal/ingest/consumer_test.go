package ingest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildsense/buildsense-backend/internal/models"
)

// failingSource always returns a broker-style error from FetchMessage.
type failingSource struct {
	fetches atomic.Int64
}

func (s *failingSource) FetchMessage(context.Context) (kafka.Message, error) {
	s.fetches.Add(1)
	return kafka.Message{}, errors.New("dial tcp 10.0.0.1:9092: connect: connection refused")
}

func (s *failingSource) CommitMessages(context.Context, ...kafka.Message) error { return nil }

func TestDecodeReading(t *testing.T) {
	raw := []byte(`{"sensor_id":"temp-01","timestamp":"2026-03-01T12:00:00Z","value":21.5,"unit":"C","quality":"ok"}`)
	reading, err := decodeReading(raw)
	require.NoError(t, err)
	assert.Equal(t, "temp-01", reading.SensorID)
	assert.Equal(t, 21.5, reading.Value)
	assert.Equal(t, models.QualityOK, reading.Quality)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), reading.Timestamp)
}

func TestDecodeReadingDefaultsQuality(t *testing.T) {
	raw := []byte(`{"sensor_id":"temp-01","timestamp":"2026-03-01T12:00:00Z","value":21.5}`)
	reading, err := decodeReading(raw)
	require.NoError(t, err)
	assert.Equal(t, models.QualityOK, reading.Quality)
}

func TestDecodeReadingRejectsBadInput(t *testing.T) {
	cases := map[string][]byte{
		"not json":         []byte(`{`),
		"missing sensor":   []byte(`{"timestamp":"2026-03-01T12:00:00Z","value":1}`),
		"missing time":     []byte(`{"sensor_id":"a","value":1}`),
		"non-finite value": []byte(`{"sensor_id":"a","timestamp":"2026-03-01T12:00:00Z","value":"NaN"}`),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := decodeReading(raw)
			assert.Error(t, err)
		})
	}
}

func TestRunBacksOffOnPersistentFetchErrors(t *testing.T) {
	source := &failingSource{}
	c := &Consumer{
		source:  source,
		cfg:     Config{}.withDefaults(),
		backoff: 20 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := c.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Each error waits out the backoff, so the loop turns over a handful of
	// times instead of thousands.
	fetches := source.fetches.Load()
	assert.GreaterOrEqual(t, fetches, int64(2))
	assert.LessOrEqual(t, fetches, int64(10))
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 500, cfg.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.FlushInterval)
}
