package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildsense/buildsense-backend/internal/engine/cache"
	"github.com/buildsense/buildsense-backend/internal/engine/classify"
	"github.com/buildsense/buildsense-backend/internal/engine/confidence"
	"github.com/buildsense/buildsense-backend/internal/engine/correlate"
	"github.com/buildsense/buildsense-backend/internal/engine/risk"
	"github.com/buildsense/buildsense-backend/internal/models"
)

type fakeReadingStore struct {
	mu       sync.Mutex
	readings []models.Reading
	err      error
	queries  int
}

func (f *fakeReadingStore) QueryReadings(_ context.Context, sensorIDs []string, from, to time.Time) ([]models.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.err != nil {
		return nil, f.err
	}
	want := map[string]bool{}
	for _, id := range sensorIDs {
		want[id] = true
	}
	var out []models.Reading
	for _, r := range f.readings {
		if want[r.SensorID] && !r.Timestamp.Before(from) && !r.Timestamp.After(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeReadingStore) InsertReadings(_ context.Context, readings []models.Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readings = append(f.readings, readings...)
	return nil
}

func (f *fakeReadingStore) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries
}

type fakeSensorRepo struct {
	groups map[string]string
}

func (f *fakeSensorRepo) ListSensors(context.Context) ([]models.Sensor, error) { return nil, nil }
func (f *fakeSensorRepo) GetSensor(context.Context, string) (*models.Sensor, error) {
	return nil, nil
}
func (f *fakeSensorRepo) CreateSensor(context.Context, *models.Sensor) error { return nil }
func (f *fakeSensorRepo) EquipmentGroups(_ context.Context, sensorIDs []string) (map[string]string, error) {
	out := map[string]string{}
	for _, id := range sensorIDs {
		if g, ok := f.groups[id]; ok {
			out[id] = g
		}
	}
	return out, nil
}

type fakeBroadcaster struct {
	mu       sync.Mutex
	received []models.DetectedPattern
}

func (f *fakeBroadcaster) BroadcastPatterns(patterns []models.DetectedPattern) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, patterns...)
}

func newTestService(t *testing.T, store *fakeReadingStore, sensors *fakeSensorRepo, alerts AlertBroadcaster) *DetectionService {
	t.Helper()
	resultCache := cache.New[*models.DetectionResult](cache.Config{})
	t.Cleanup(resultCache.Close)
	return NewDetectionService(
		store,
		sensors,
		classify.New(classify.Config{}),
		risk.New(risk.Config{}),
		correlate.New(correlate.Config{}),
		confidence.New(confidence.Config{}),
		resultCache,
		alerts,
		nil,
		Config{},
	)
}

var windowBase = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

func offlineReadings(sensorID string, n int) []models.Reading {
	readings := make([]models.Reading, n)
	for i := range readings {
		readings[i] = models.Reading{
			SensorID:  sensorID,
			Timestamp: windowBase.Add(time.Duration(i) * time.Minute),
			Quality:   models.QualityOffline,
		}
	}
	return readings
}

func steadyReadings(sensorID string, n int) []models.Reading {
	readings := make([]models.Reading, n)
	for i := range readings {
		value := 20.0
		if i%2 == 1 {
			value = 20.2
		}
		readings[i] = models.Reading{
			SensorID:  sensorID,
			Timestamp: windowBase.Add(time.Duration(i) * time.Minute),
			Value:     value,
			Unit:      "C",
			Quality:   models.QualityOK,
		}
	}
	return readings
}

func TestDetectEndToEnd(t *testing.T) {
	store := &fakeReadingStore{}
	store.readings = append(store.readings, offlineReadings("pump-1", 12)...)
	store.readings = append(store.readings, steadyReadings("temp-1", 50)...)
	svc := newTestService(t, store, &fakeSensorRepo{}, nil)

	req := models.DetectionRequest{
		SensorIDs:   []string{"pump-1", "temp-1"},
		WindowStart: windowBase,
		WindowEnd:   windowBase.Add(time.Hour),
	}
	result, err := svc.Detect(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, result.Patterns, 1)
	pattern := result.Patterns[0]
	assert.Equal(t, models.PatternSustainedFailure, pattern.PatternType)
	assert.Equal(t, "pump-1", pattern.SensorID)
	require.NotNil(t, pattern.Risk)
	assert.GreaterOrEqual(t, pattern.Risk.RiskScore, 0.0)
	assert.LessOrEqual(t, pattern.Risk.RiskScore, 1.0)

	assert.Equal(t, 1, result.Summary.Total)
	assert.Equal(t, 1, result.Summary.ByType[models.PatternSustainedFailure])
	assert.Empty(t, result.Omissions)
	assert.Equal(t, 2, result.Metadata.SensorsAnalyzed)
	assert.False(t, result.Metadata.CacheHit)

	names := map[string]bool{}
	for _, m := range result.Metrics {
		names[m.Name] = true
		assert.GreaterOrEqual(t, m.Interval.Value, m.Interval.Lower)
		assert.LessOrEqual(t, m.Interval.Value, m.Interval.Upper)
	}
	assert.True(t, names["reading_failure_rate"])
	assert.True(t, names["sensors_with_patterns_rate"])
}

func TestDetectSecondCallHitsCache(t *testing.T) {
	store := &fakeReadingStore{}
	store.readings = append(store.readings, steadyReadings("temp-1", 50)...)
	svc := newTestService(t, store, &fakeSensorRepo{}, nil)

	req := models.DetectionRequest{
		SensorIDs:   []string{"temp-1"},
		WindowStart: windowBase,
		WindowEnd:   windowBase.Add(time.Hour),
	}

	first, err := svc.Detect(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Metadata.CacheHit)

	second, err := svc.Detect(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Metadata.CacheHit)
	assert.Equal(t, 1, store.queryCount())

	// The cached copy must not be mutated by the hit marking.
	third, err := svc.Detect(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, third.Metadata.CacheHit)
}

func TestDetectReorderedSensorSetSharesCacheEntry(t *testing.T) {
	store := &fakeReadingStore{}
	store.readings = append(store.readings, steadyReadings("a", 50)...)
	store.readings = append(store.readings, steadyReadings("b", 50)...)
	svc := newTestService(t, store, &fakeSensorRepo{}, nil)

	_, err := svc.Detect(context.Background(), models.DetectionRequest{
		SensorIDs:   []string{"a", "b"},
		WindowStart: windowBase,
		WindowEnd:   windowBase.Add(time.Hour),
	})
	require.NoError(t, err)

	result, err := svc.Detect(context.Background(), models.DetectionRequest{
		SensorIDs:   []string{"b", "a"},
		WindowStart: windowBase,
		WindowEnd:   windowBase.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.True(t, result.Metadata.CacheHit)
	assert.Equal(t, 1, store.queryCount())
}

func TestDetectRejectsInvalidRequests(t *testing.T) {
	svc := newTestService(t, &fakeReadingStore{}, &fakeSensorRepo{}, nil)

	cases := []models.DetectionRequest{
		{WindowStart: windowBase, WindowEnd: windowBase.Add(time.Hour)},
		{SensorIDs: []string{"a"}},
		{SensorIDs: []string{"a"}, WindowStart: windowBase.Add(time.Hour), WindowEnd: windowBase},
	}
	for _, req := range cases {
		_, err := svc.Detect(context.Background(), req)
		assert.ErrorIs(t, err, ErrInvalidInput)
	}
}

func TestDetectStoreFailureIsUpstreamUnavailable(t *testing.T) {
	store := &fakeReadingStore{err: errors.New("connection refused")}
	svc := newTestService(t, store, &fakeSensorRepo{}, nil)

	_, err := svc.Detect(context.Background(), models.DetectionRequest{
		SensorIDs:   []string{"a"},
		WindowStart: windowBase,
		WindowEnd:   windowBase.Add(time.Hour),
	})
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestDetectRecordsOmissions(t *testing.T) {
	store := &fakeReadingStore{}
	store.readings = append(store.readings, steadyReadings("sparse", 3)...)
	svc := newTestService(t, store, &fakeSensorRepo{}, nil)

	result, err := svc.Detect(context.Background(), models.DetectionRequest{
		SensorIDs:   []string{"sparse", "ghost"},
		WindowStart: windowBase,
		WindowEnd:   windowBase.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Empty(t, result.Patterns)

	reasons := map[string]string{}
	for _, o := range result.Omissions {
		reasons[o.SensorID] = o.Reason
	}
	assert.Contains(t, reasons["sparse"], "10")
	assert.Equal(t, "no readings in window", reasons["ghost"])
}

func TestDetectSeverityFilter(t *testing.T) {
	store := &fakeReadingStore{}
	// An 11-minute run is a warning; the critical floor filters it out.
	store.readings = append(store.readings, offlineReadings("pump-1", 12)...)
	svc := newTestService(t, store, &fakeSensorRepo{}, nil)

	result, err := svc.Detect(context.Background(), models.DetectionRequest{
		SensorIDs:   []string{"pump-1"},
		WindowStart: windowBase,
		WindowEnd:   windowBase.Add(time.Hour),
		Options:     &models.DetectionOptions{SeverityFilter: models.SeverityCritical},
	})
	require.NoError(t, err)
	assert.Empty(t, result.Patterns)
	assert.Equal(t, 0, result.Summary.Total)
}

func TestDetectPatternTypeFilter(t *testing.T) {
	store := &fakeReadingStore{}
	store.readings = append(store.readings, offlineReadings("pump-1", 12)...)
	svc := newTestService(t, store, &fakeSensorRepo{}, nil)

	result, err := svc.Detect(context.Background(), models.DetectionRequest{
		SensorIDs:   []string{"pump-1"},
		WindowStart: windowBase,
		WindowEnd:   windowBase.Add(time.Hour),
		Options: &models.DetectionOptions{
			PatternTypeFilter: []models.PatternType{models.PatternThresholdBreach},
		},
	})
	require.NoError(t, err)
	assert.Empty(t, result.Patterns)
}

func TestDetectBroadcastsCriticalPatterns(t *testing.T) {
	store := &fakeReadingStore{}
	// A 24-minute outage crosses the critical duration bar.
	store.readings = append(store.readings, offlineReadings("pump-1", 25)...)
	alerts := &fakeBroadcaster{}
	svc := newTestService(t, store, &fakeSensorRepo{}, alerts)

	result, err := svc.Detect(context.Background(), models.DetectionRequest{
		SensorIDs:   []string{"pump-1"},
		WindowStart: windowBase,
		WindowEnd:   windowBase.Add(time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, result.Patterns, 1)
	assert.Equal(t, models.SeverityCritical, result.Patterns[0].Severity)

	alerts.mu.Lock()
	defer alerts.mu.Unlock()
	require.Len(t, alerts.received, 1)
	assert.Equal(t, "pump-1", alerts.received[0].SensorID)
}
