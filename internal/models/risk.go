package models

// RiskFactors are the four normalized inputs to a composite risk score, each
// in [0,1] before weighting.
type RiskFactors struct {
	SeverityWeight    float64 `json:"severity_weight"`
	DataQualityWeight float64 `json:"data_quality_weight"`
	TemporalWeight    float64 `json:"temporal_weight"`
	ImpactWeight      float64 `json:"impact_weight"`
}

// RiskAssessment is the scored output for one detected pattern.
type RiskAssessment struct {
	PatternID string      `json:"pattern_id"`
	RiskScore float64     `json:"risk_score"` // [0,1]
	Factors   RiskFactors `json:"factors"`
}
