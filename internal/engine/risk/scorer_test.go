package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildsense/buildsense-backend/internal/models"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return now }

func pattern(typ models.PatternType, sev models.Severity) models.DetectedPattern {
	return models.DetectedPattern{
		ID:              "p-" + string(typ),
		SensorID:        "s1",
		PatternType:     typ,
		Severity:        sev,
		ConfidenceScore: 75,
		DataQuality:     0.9,
		WindowStart:     now.Add(-30 * time.Minute),
		WindowEnd:       now.Add(-5 * time.Minute),
		AffectedSensors: []string{"s1"},
	}
}

func TestScoreStaysInUnitInterval(t *testing.T) {
	s := New(Config{Now: fixedNow})
	for _, typ := range models.AllPatternTypes {
		for _, sev := range []models.Severity{models.SeverityInfo, models.SeverityWarning, models.SeverityCritical} {
			p := pattern(typ, sev)
			a := s.Score(&p)
			assert.GreaterOrEqual(t, a.RiskScore, 0.0)
			assert.LessOrEqual(t, a.RiskScore, 1.0)
			for _, f := range []float64{a.Factors.SeverityWeight, a.Factors.DataQualityWeight, a.Factors.TemporalWeight, a.Factors.ImpactWeight} {
				assert.GreaterOrEqual(t, f, 0.0)
				assert.LessOrEqual(t, f, 1.0)
			}
			require.NotNil(t, p.Risk)
			assert.Equal(t, a, *p.Risk)
		}
	}
}

func TestSeverityOrderingWithinType(t *testing.T) {
	s := New(Config{Now: fixedNow})
	info := pattern(models.PatternThresholdBreach, models.SeverityInfo)
	warning := pattern(models.PatternThresholdBreach, models.SeverityWarning)
	critical := pattern(models.PatternThresholdBreach, models.SeverityCritical)

	assert.Less(t, s.Score(&info).RiskScore, s.Score(&warning).RiskScore)
	assert.Less(t, s.Score(&warning).RiskScore, s.Score(&critical).RiskScore)
}

func TestStaleFindingsAreLessUrgent(t *testing.T) {
	s := New(Config{Now: fixedNow, TemporalReference: time.Hour})
	fresh := pattern(models.PatternSustainedFailure, models.SeverityCritical)
	stale := pattern(models.PatternSustainedFailure, models.SeverityCritical)
	stale.WindowStart = now.Add(-26 * time.Hour)
	stale.WindowEnd = now.Add(-25 * time.Hour)

	assert.Greater(t, s.Score(&fresh).RiskScore, s.Score(&stale).RiskScore)
}

func TestWiderBlastRadiusScoresHigher(t *testing.T) {
	s := New(Config{Now: fixedNow, ImpactSaturation: 5})
	single := pattern(models.PatternCascadeRisk, models.SeverityCritical)
	wide := pattern(models.PatternCascadeRisk, models.SeverityCritical)
	wide.AffectedSensors = []string{"s1", "s2", "s3", "s4", "s5", "s6"}

	wideScore := s.Score(&wide)
	assert.Greater(t, wideScore.RiskScore, s.Score(&single).RiskScore)
	assert.Equal(t, 1.0, wideScore.Factors.ImpactWeight, "impact saturates at the configured count")
}

func TestCustomWeightsChangeTheBlend(t *testing.T) {
	p1 := pattern(models.PatternIntermittent, models.SeverityWarning)
	p1.DataQuality = 0.1
	p2 := p1

	balanced := New(Config{Now: fixedNow})
	qualityHeavy := New(Config{Now: fixedNow, Weights: Weights{Severity: 0.1, DataQuality: 0.7, Temporal: 0.1, Impact: 0.1}})

	assert.Greater(t, balanced.Score(&p1).RiskScore, qualityHeavy.Score(&p2).RiskScore,
		"weighting data quality heavily should punish a low-quality window harder")
}

func TestUnknownPatternTypePanics(t *testing.T) {
	s := New(Config{Now: fixedNow})
	p := pattern("made_up", models.SeverityInfo)
	assert.Panics(t, func() { s.Score(&p) })
}

func TestSortDeterministicOrdering(t *testing.T) {
	mk := func(id string, score float64, sev models.Severity, conf float64, start time.Time) models.DetectedPattern {
		return models.DetectedPattern{
			ID:              id,
			Severity:        sev,
			ConfidenceScore: conf,
			WindowStart:     start,
			Risk:            &models.RiskAssessment{PatternID: id, RiskScore: score},
		}
	}
	early := now.Add(-time.Hour)
	late := now

	patterns := []models.DetectedPattern{
		mk("d", 0.5, models.SeverityWarning, 60, late),
		mk("a", 0.9, models.SeverityInfo, 10, late),
		mk("c", 0.5, models.SeverityCritical, 60, late),
		mk("b", 0.5, models.SeverityCritical, 60, early),
		mk("e", 0.5, models.SeverityCritical, 90, late),
	}
	Sort(patterns)

	ids := make([]string, len(patterns))
	for i, p := range patterns {
		ids[i] = p.ID
	}
	// score desc, then severity, then confidence, then earlier start first.
	assert.Equal(t, []string{"a", "e", "b", "c", "d"}, ids)
}
