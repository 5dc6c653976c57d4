package models

// CorrelationResult relates two detected patterns. CoefficientDefined is
// false when either underlying series has zero variance; the coefficient is
// not meaningful in that state and is reported as undefined, never as zero.
type CorrelationResult struct {
	PatternAID             string  `json:"pattern_a_id"`
	PatternBID             string  `json:"pattern_b_id"`
	CorrelationCoefficient float64 `json:"correlation_coefficient"` // [-1,1]
	CoefficientDefined     bool    `json:"coefficient_defined"`
	ZScore                 float64 `json:"z_score"`
	IsAnomalous            bool    `json:"is_anomalous"`
	SampleOverlap          int     `json:"sample_overlap"`
}

// PatternAnomaly flags a pattern whose peak deviation is an outlier relative
// to the other patterns detected in the same batch.
type PatternAnomaly struct {
	PatternID   string  `json:"pattern_id"`
	ZScore      float64 `json:"z_score"`
	IsAnomalous bool    `json:"is_anomalous"`
}
