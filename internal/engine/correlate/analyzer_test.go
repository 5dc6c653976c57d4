package correlate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildsense/buildsense-backend/internal/models"
)

var batchStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func pat(id string, start, end time.Time, peak float64, values []float64) models.DetectedPattern {
	return models.DetectedPattern{
		ID:            id,
		SensorID:      "sensor-" + id,
		PatternType:   models.PatternThresholdBreach,
		Severity:      models.SeverityWarning,
		WindowStart:   start,
		WindowEnd:     end,
		PeakDeviation: peak,
		Values:        values,
	}
}

func ramp(n int, slope, offset float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = offset + slope*float64(i)
	}
	return out
}

func TestPearsonBoundsAndSign(t *testing.T) {
	a := New(Config{MinOverlap: 5})
	end := batchStart.Add(10 * time.Minute)

	up := pat("up", batchStart, end, 3, ramp(20, 1, 0))
	alsoUp := pat("also-up", batchStart, end, 3.1, ramp(20, 2, 5))
	down := pat("down", batchStart, end, 2.9, ramp(20, -1, 100))

	results, _ := a.Analyze([]models.DetectedPattern{up, alsoUp, down})
	require.Len(t, results, 3)
	for _, r := range results {
		require.True(t, r.CoefficientDefined)
		assert.GreaterOrEqual(t, r.CorrelationCoefficient, -1.0)
		assert.LessOrEqual(t, r.CorrelationCoefficient, 1.0)
	}

	byPair := map[string]models.CorrelationResult{}
	for _, r := range results {
		byPair[r.PatternAID+"/"+r.PatternBID] = r
	}
	assert.InDelta(t, 1.0, byPair["up/also-up"].CorrelationCoefficient, 1e-12)
	assert.InDelta(t, -1.0, byPair["up/down"].CorrelationCoefficient, 1e-12)
}

func TestZeroVarianceIsUndefinedNotZero(t *testing.T) {
	a := New(Config{MinOverlap: 5})
	end := batchStart.Add(10 * time.Minute)

	flat := pat("flat", batchStart, end, 1, ramp(20, 0, 42))
	moving := pat("moving", batchStart, end, 2, ramp(20, 1, 0))

	results, _ := a.Analyze([]models.DetectedPattern{flat, moving})
	require.Len(t, results, 1)
	assert.False(t, results[0].CoefficientDefined)
	assert.Zero(t, results[0].CorrelationCoefficient)
}

func TestPairsBelowMinOverlapAreSkipped(t *testing.T) {
	a := New(Config{MinOverlap: 10})
	end := batchStart.Add(10 * time.Minute)

	short := pat("short", batchStart, end, 1, ramp(4, 1, 0))
	long := pat("long", batchStart, end, 2, ramp(50, 1, 0))

	results, _ := a.Analyze([]models.DetectedPattern{short, long})
	assert.Empty(t, results, "a 4-sample overlap must be skipped, not scored")
}

func TestDisjointDistantWindowsAreNotPaired(t *testing.T) {
	a := New(Config{MinOverlap: 5, AdjacencyGap: 5 * time.Minute})

	early := pat("early", batchStart, batchStart.Add(5*time.Minute), 1, ramp(20, 1, 0))
	lateStart := batchStart.Add(time.Hour)
	late := pat("late", lateStart, lateStart.Add(5*time.Minute), 2, ramp(20, 1, 0))

	results, _ := a.Analyze([]models.DetectedPattern{early, late})
	assert.Empty(t, results)
}

func TestAdjacentWindowsWithinGapArePaired(t *testing.T) {
	a := New(Config{MinOverlap: 5, AdjacencyGap: 5 * time.Minute})

	first := pat("first", batchStart, batchStart.Add(5*time.Minute), 1, ramp(20, 1, 0))
	secondStart := batchStart.Add(8 * time.Minute) // 3m gap
	second := pat("second", secondStart, secondStart.Add(5*time.Minute), 2, ramp(20, 1, 0))

	results, _ := a.Analyze([]models.DetectedPattern{first, second})
	require.Len(t, results, 1)
	assert.Equal(t, 20, results[0].SampleOverlap)
}

func TestWithZScoreThresholdKeepsOverlapSettings(t *testing.T) {
	// MinOverlap 3 is far below the package default; the z override must not
	// reset it, so a 4-sample pair stays scored.
	a := New(Config{MinOverlap: 3, AdjacencyGap: 20 * time.Minute}).WithZScoreThreshold(1.5)
	end := batchStart.Add(10 * time.Minute)

	short := pat("short", batchStart, end, 1, ramp(4, 1, 0))
	long := pat("long", batchStart, end, 2, ramp(50, 1, 0))

	results, _ := a.Analyze([]models.DetectedPattern{short, long})
	require.Len(t, results, 1)
	assert.Equal(t, 4, results[0].SampleOverlap)

	// The override itself takes effect.
	assert.Equal(t, 1.5, a.cfg.ZScoreThreshold)
	assert.Equal(t, 3, a.cfg.MinOverlap)
	assert.Equal(t, 20*time.Minute, a.cfg.AdjacencyGap)
}

func TestBatchZScoreFlagsOutlier(t *testing.T) {
	a := New(Config{MinOverlap: 5, ZScoreThreshold: 2.0})
	end := batchStart.Add(10 * time.Minute)

	// Nine ordinary patterns plus one with a far larger peak deviation.
	var patterns []models.DetectedPattern
	for i := 0; i < 9; i++ {
		peak := 3.0 + 0.1*float64(i%3)
		patterns = append(patterns, pat("p"+string(rune('0'+i)), batchStart, end, peak, ramp(20, 1, float64(i))))
	}
	patterns = append(patterns, pat("outlier", batchStart, end, 12.0, ramp(20, 1, 99)))

	_, anomalies := a.Analyze(patterns)
	require.Len(t, anomalies, 10)

	byID := map[string]models.PatternAnomaly{}
	for _, an := range anomalies {
		byID[an.PatternID] = an
	}
	assert.True(t, byID["outlier"].IsAnomalous)
	assert.Greater(t, byID["outlier"].ZScore, 2.0)
	for id, an := range byID {
		if id != "outlier" {
			assert.False(t, an.IsAnomalous, "pattern %s should not be anomalous", id)
		}
	}
}

func TestNoZScoresForTinyBatch(t *testing.T) {
	a := New(Config{MinOverlap: 5, MinBatch: 3})
	end := batchStart.Add(10 * time.Minute)
	patterns := []models.DetectedPattern{
		pat("a", batchStart, end, 1, ramp(20, 1, 0)),
		pat("b", batchStart, end, 9, ramp(20, 1, 0)),
	}
	_, anomalies := a.Analyze(patterns)
	assert.Empty(t, anomalies, "two patterns have no meaningful population spread")
}

func TestCorrelatedCascadePairFlaggedAnomalous(t *testing.T) {
	// Two strongly correlated breach patterns five minutes apart, with the
	// batch outlier among healthy peers: the pair result carries the anomaly.
	a := New(Config{MinOverlap: 10, ZScoreThreshold: 2.0, AdjacencyGap: 5 * time.Minute})

	base := ramp(30, 1, 0)
	shifted := make([]float64, len(base))
	for i, v := range base {
		shifted[i] = v*1.05 + 2 // still Pearson r = 1 against base
	}

	var patterns []models.DetectedPattern
	for i := 0; i < 8; i++ {
		patterns = append(patterns, pat("bg"+string(rune('0'+i)), batchStart, batchStart.Add(10*time.Minute), 3.0+0.05*float64(i), ramp(30, -1, float64(i))))
	}
	pa := pat("breach-a", batchStart, batchStart.Add(10*time.Minute), 20.0, base)
	pb := pat("breach-b", batchStart.Add(15*time.Minute), batchStart.Add(25*time.Minute), 3.5, shifted)
	patterns = append(patterns, pa, pb)

	results, _ := a.Analyze(patterns)
	var pair *models.CorrelationResult
	for i := range results {
		if results[i].PatternAID == "breach-a" && results[i].PatternBID == "breach-b" {
			pair = &results[i]
		}
	}
	require.NotNil(t, pair, "expected the adjacent breach pair to be scored")
	assert.True(t, pair.CoefficientDefined)
	assert.Greater(t, pair.CorrelationCoefficient, 0.9)
	assert.True(t, pair.IsAnomalous)
}
