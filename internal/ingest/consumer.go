package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/buildsense/buildsense-backend/internal/models"
	"github.com/buildsense/buildsense-backend/internal/pkg/metrics"
	"github.com/buildsense/buildsense-backend/internal/repository"
)

// Config holds Kafka consumer settings.
type Config struct {
	Brokers       []string
	Topic         string
	GroupID       string
	BatchSize     int
	FlushInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Second
	}
	return c
}

// messageSource is the slice of kafka.Reader the consume loop uses.
type messageSource interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Consumer drains sensor readings from Kafka and writes them to the reading
// store in batches. Offsets are committed only after a successful write, so a
// crash between write and commit replays readings; the store's conflict
// handling makes the replay harmless.
type Consumer struct {
	reader  *kafka.Reader
	source  messageSource
	store   repository.ReadingStore
	cfg     Config
	backoff time.Duration // wait after a broker fetch error
}

// NewConsumer creates a batch-writing reading consumer.
func NewConsumer(cfg Config, store repository.ReadingStore) *Consumer {
	cfg = cfg.withDefaults()
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit after write
		StartOffset:    kafka.LastOffset,
	})
	return &Consumer{
		reader:  reader,
		source:  reader,
		store:   store,
		cfg:     cfg,
		backoff: time.Second,
	}
}

// Run consumes until ctx is cancelled. A batch is flushed when it reaches
// BatchSize or when FlushInterval elapses with messages pending.
func (c *Consumer) Run(ctx context.Context) error {
	batch := make([]models.Reading, 0, c.cfg.BatchSize)
	var pending []kafka.Message

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if len(batch) > 0 {
			if err := c.store.InsertReadings(ctx, batch); err != nil {
				return err
			}
			metrics.ReadingsIngestedTotal.Add(float64(len(batch)))
		}
		if err := c.source.CommitMessages(ctx, pending...); err != nil {
			return err
		}
		batch = batch[:0]
		pending = pending[:0]
		return nil
	}

	for {
		fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FlushInterval)
		msg, err := c.source.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				// Flush what we have before shutting down.
				if ferr := flush(); ferr != nil {
					slog.Error("failed to flush readings on shutdown", "error", ferr)
				}
				return ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				if err := flush(); err != nil {
					slog.Error("failed to flush reading batch", "error", err)
				}
				continue
			}
			// Broker errors return immediately; without a pause this loop
			// would spin hot while the broker is down.
			slog.Error("failed to fetch message", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(c.backoff):
			}
			continue
		}

		reading, err := decodeReading(msg.Value)
		if err != nil {
			slog.Warn("dropping malformed reading", "error", err, "offset", msg.Offset)
			metrics.ReadingsRejectedTotal.WithLabelValues("malformed").Inc()
			pending = append(pending, msg)
			continue
		}

		batch = append(batch, reading)
		pending = append(pending, msg)
		if len(pending) >= c.cfg.BatchSize {
			if err := flush(); err != nil {
				slog.Error("failed to flush reading batch", "error", err)
			}
		}
	}
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func decodeReading(raw []byte) (models.Reading, error) {
	var reading models.Reading
	if err := json.Unmarshal(raw, &reading); err != nil {
		return models.Reading{}, err
	}
	if reading.SensorID == "" {
		return models.Reading{}, errors.New("missing sensor_id")
	}
	if reading.Timestamp.IsZero() {
		return models.Reading{}, errors.New("missing timestamp")
	}
	if math.IsNaN(reading.Value) || math.IsInf(reading.Value, 0) {
		return models.Reading{}, errors.New("non-finite value")
	}
	if reading.Quality == "" {
		reading.Quality = models.QualityOK
	}
	return reading, nil
}
