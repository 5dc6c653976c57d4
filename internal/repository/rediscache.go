package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/buildsense/buildsense-backend/internal/models"
)

// CachedReadingStore is a read-through cache over a ReadingStore. Window
// queries are keyed by sensor set and time range and held for a short TTL so
// repeated detection runs over the same window skip the database. Writes pass
// straight through; cached windows age out rather than being invalidated.
type CachedReadingStore struct {
	inner ReadingStore
	redis *redis.Client
	ttl   time.Duration
}

// NewCachedReadingStore wraps inner with a Redis read-through cache.
func NewCachedReadingStore(inner ReadingStore, redisClient *redis.Client, ttl time.Duration) *CachedReadingStore {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &CachedReadingStore{inner: inner, redis: redisClient, ttl: ttl}
}

// windowKey is order-insensitive in the sensor set, matching the detection
// result cache: a reordered but identical request hits the same entry.
func windowKey(sensorIDs []string, from, to time.Time) string {
	ids := make([]string, len(sensorIDs))
	copy(ids, sensorIDs)
	sort.Strings(ids)

	key := fmt.Sprintf("readings:%d:%d", from.UnixNano(), to.UnixNano())
	for _, id := range ids {
		key += ":" + id
	}
	return key
}

func (s *CachedReadingStore) QueryReadings(ctx context.Context, sensorIDs []string, from, to time.Time) ([]models.Reading, error) {
	key := windowKey(sensorIDs, from, to)

	data, err := s.redis.Get(ctx, key).Result()
	if err == nil {
		var readings []models.Reading
		if err := json.Unmarshal([]byte(data), &readings); err == nil {
			return readings, nil
		}
		// Corrupt entry; fall through to the store and overwrite it.
		slog.Warn("discarding unreadable cached window", "key", key)
	} else if err != redis.Nil {
		slog.Warn("redis read failed, falling back to store", "error", err)
	}

	readings, err := s.inner.QueryReadings(ctx, sensorIDs, from, to)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(readings); err == nil {
		if err := s.redis.Set(ctx, key, payload, s.ttl).Err(); err != nil {
			slog.Warn("failed to cache readings window", "key", key, "error", err)
		}
	}
	return readings, nil
}

func (s *CachedReadingStore) InsertReadings(ctx context.Context, readings []models.Reading) error {
	return s.inner.InsertReadings(ctx, readings)
}
