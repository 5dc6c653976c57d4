package models

import "time"

// DetectionRequest asks the engine to analyze a sensor set over a window.
// Options are all optional; defaults come from configuration.
type DetectionRequest struct {
	SensorIDs   []string          `json:"sensor_ids"`
	WindowStart time.Time         `json:"window_start"`
	WindowEnd   time.Time         `json:"window_end"`
	Options     *DetectionOptions `json:"options,omitempty"`
}

// DetectionOptions narrows or tunes one detection run. Zero values mean "use
// the configured default". Validation happens at the API boundary before the
// request enters the pipeline.
type DetectionOptions struct {
	ConfidenceThreshold *float64         `json:"confidence_threshold,omitempty"` // [0,100]
	SeverityFilter      Severity         `json:"severity_filter,omitempty"`
	PatternTypeFilter   []PatternType    `json:"pattern_type_filter,omitempty"`
	ZScoreThreshold     *float64         `json:"z_score_threshold,omitempty"`
	Correction          CorrectionMethod `json:"correction_method,omitempty"`
	IncludeCorrelations bool             `json:"include_correlations,omitempty"`
}

// DetectionSummary aggregates the pattern set for dashboard tiles.
type DetectionSummary struct {
	Total      int                 `json:"total"`
	BySeverity map[Severity]int    `json:"by_severity"`
	ByType     map[PatternType]int `json:"by_type"`
}

// AnalysisMetadata describes how a detection result was produced.
type AnalysisMetadata struct {
	AnalysisDurationMs int64 `json:"analysis_duration_ms"`
	SensorsAnalyzed    int   `json:"sensors_analyzed"`
	CacheHit           bool  `json:"cache_hit"`
}

// SensorOmission explains why a sensor produced no findings. Distinguishes
// "no pattern found" (a confident negative) from "could not determine".
type SensorOmission struct {
	SensorID string `json:"sensor_id"`
	Reason   string `json:"reason"`
}

// AggregateMetric is a derived business claim. The engine never exposes a
// point estimate without its interval and p-value attached.
type AggregateMetric struct {
	Name     string             `json:"name"`
	Interval ConfidenceInterval `json:"interval"`
}

// DetectionResult is the full output of one detection run.
type DetectionResult struct {
	Patterns     []DetectedPattern   `json:"patterns"`
	Correlations []CorrelationResult `json:"correlations,omitempty"`
	Anomalies    []PatternAnomaly    `json:"anomalies,omitempty"`
	Metrics      []AggregateMetric   `json:"metrics,omitempty"`
	Summary      DetectionSummary    `json:"summary"`
	Omissions    []SensorOmission    `json:"omissions,omitempty"`
	Metadata     AnalysisMetadata    `json:"analysis_metadata"`
}
