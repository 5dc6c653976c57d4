// Package risk derives a composite risk score for each detected pattern from
// four normalized factors: severity, data quality, temporal urgency and
// business impact. The factor weights are configuration, not constants baked
// into the scorer; operators tune them per deployment.
package risk

import (
	"fmt"
	"sort"
	"time"

	"github.com/buildsense/buildsense-backend/internal/models"
)

// Weights combine the four factors. They need not sum to one; the scorer
// normalizes by their sum.
type Weights struct {
	Severity    float64 `mapstructure:"severity" json:"severity"`
	DataQuality float64 `mapstructure:"data_quality" json:"data_quality"`
	Temporal    float64 `mapstructure:"temporal" json:"temporal"`
	Impact      float64 `mapstructure:"impact" json:"impact"`
}

// DefaultWeights is the shipped tuning. Not validated against field outcomes;
// treat as a starting point.
var DefaultWeights = Weights{Severity: 0.4, DataQuality: 0.2, Temporal: 0.2, Impact: 0.2}

// Config tunes the scorer. Zero values fall back to defaults.
type Config struct {
	Weights Weights
	// ImpactSaturation is the affected-sensor count at which the impact
	// factor reaches 1 (default 5).
	ImpactSaturation int
	// TemporalReference is the age at which a finding's urgency decays to
	// zero, and the duration at which its persistence saturates (default 1h).
	TemporalReference time.Duration
	// Now is injectable for tests.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	zero := Weights{}
	if c.Weights == zero {
		c.Weights = DefaultWeights
	}
	if c.ImpactSaturation <= 0 {
		c.ImpactSaturation = 5
	}
	if c.TemporalReference <= 0 {
		c.TemporalReference = time.Hour
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Scorer computes RiskAssessments. Safe for concurrent use.
type Scorer struct {
	cfg Config
}

// New returns a scorer with defaults filled in.
func New(cfg Config) *Scorer {
	return &Scorer{cfg: cfg.withDefaults()}
}

// Score derives the composite risk for one pattern and attaches it.
func (s *Scorer) Score(pattern *models.DetectedPattern) models.RiskAssessment {
	factors := models.RiskFactors{
		SeverityWeight:    s.severityFactor(pattern),
		DataQualityWeight: clamp01(pattern.DataQuality),
		TemporalWeight:    s.temporalFactor(pattern),
		ImpactWeight:      clamp01(float64(len(pattern.AffectedSensors)) / float64(s.cfg.ImpactSaturation)),
	}

	w := s.cfg.Weights
	total := w.Severity + w.DataQuality + w.Temporal + w.Impact
	score := (w.Severity*factors.SeverityWeight +
		w.DataQuality*factors.DataQualityWeight +
		w.Temporal*factors.TemporalWeight +
		w.Impact*factors.ImpactWeight) / total

	assessment := models.RiskAssessment{
		PatternID: pattern.ID,
		RiskScore: clamp01(score),
		Factors:   factors,
	}
	pattern.Risk = &assessment
	return assessment
}

// severityFactor maps pattern type and severity tier to [0,1]. The switch is
// exhaustive over the closed pattern-type set; an unknown type is a
// programming error and panics rather than scoring silently.
func (s *Scorer) severityFactor(p *models.DetectedPattern) float64 {
	var typeWeight float64
	switch p.PatternType {
	case models.PatternSustainedFailure, models.PatternCascadeRisk:
		typeWeight = 1.0
	case models.PatternThresholdBreach:
		typeWeight = 0.9
	case models.PatternGradualDegradation:
		typeWeight = 0.7
	case models.PatternIntermittent:
		typeWeight = 0.6
	default:
		panic(fmt.Sprintf("risk: unknown pattern type %q", p.PatternType))
	}
	tier := (float64(p.Severity.Rank()) + 1) / 3
	return clamp01(typeWeight * tier)
}

// temporalFactor blends recency (how recently the anomaly ended) with
// persistence (how long it lasted). A fresh long-running anomaly is the most
// urgent.
func (s *Scorer) temporalFactor(p *models.DetectedPattern) float64 {
	ref := float64(s.cfg.TemporalReference)
	age := float64(s.cfg.Now().Sub(p.WindowEnd))
	recency := clamp01(1 - age/ref)
	persistence := clamp01(float64(p.WindowEnd.Sub(p.WindowStart)) / ref)
	return clamp01(0.7*recency + 0.3*persistence)
}

// Sort orders patterns deterministically for listings: risk score descending,
// then severity rank, then confidence, then earlier window start.
func Sort(patterns []models.DetectedPattern) {
	sort.SliceStable(patterns, func(i, j int) bool {
		a, b := patterns[i], patterns[j]
		as, bs := riskOf(a), riskOf(b)
		if as != bs {
			return as > bs
		}
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.ConfidenceScore != b.ConfidenceScore {
			return a.ConfidenceScore > b.ConfidenceScore
		}
		return a.WindowStart.Before(b.WindowStart)
	})
}

func riskOf(p models.DetectedPattern) float64 {
	if p.Risk == nil {
		return 0
	}
	return p.Risk.RiskScore
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
