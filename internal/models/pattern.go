package models

import "time"

// PatternType is the closed set of failure pattern categories the classifier
// can emit. Adding a type means updating the switches in the risk scorer and
// correlation analyzer; they match exhaustively and fail loudly on unknowns.
type PatternType string

const (
	PatternSustainedFailure   PatternType = "sustained_failure"
	PatternCascadeRisk        PatternType = "cascade_risk"
	PatternIntermittent       PatternType = "intermittent"
	PatternGradualDegradation PatternType = "gradual_degradation"
	PatternThresholdBreach    PatternType = "threshold_breach"
)

// AllPatternTypes lists every valid pattern type, in classification order.
var AllPatternTypes = []PatternType{
	PatternSustainedFailure,
	PatternCascadeRisk,
	PatternIntermittent,
	PatternGradualDegradation,
	PatternThresholdBreach,
}

// Valid reports whether t is a recognized pattern type.
func (t PatternType) Valid() bool {
	switch t {
	case PatternSustainedFailure, PatternCascadeRisk, PatternIntermittent,
		PatternGradualDegradation, PatternThresholdBreach:
		return true
	}
	return false
}

// Severity tiers a pattern for display and alerting.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for deterministic sorting: critical > warning > info.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Valid reports whether s is a recognized severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// DetectedPattern is one classified finding for a sensor window. Created by
// the classifier, enriched with risk fields by the risk scorer, read-only
// afterwards.
type DetectedPattern struct {
	ID              string      `json:"id"`
	SensorID        string      `json:"sensor_id"`
	PatternType     PatternType `json:"pattern_type"`
	ConfidenceScore float64     `json:"confidence_score"` // [0,100]
	Severity        Severity    `json:"severity"`
	WindowStart     time.Time   `json:"window_start"`
	WindowEnd       time.Time   `json:"window_end"`
	// PeakDeviation is the largest |value-mean|/stddev observed inside the
	// window. Used by batch-level anomaly scoring.
	PeakDeviation float64 `json:"peak_deviation"`
	// DataQuality is the fraction of non-missing readings in the window.
	DataQuality          float64            `json:"data_quality"`
	SupportingStatistics StatisticsSnapshot `json:"supporting_statistics"`
	AffectedSensors      []string           `json:"affected_sensors"`
	// Values holds the raw value sequence backing the pattern, retained for
	// pairwise correlation. Not serialized to API responses.
	Values []float64 `json:"-"`
	// Risk fields are populated by the risk scorer.
	Risk *RiskAssessment `json:"risk,omitempty"`
}
