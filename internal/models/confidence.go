package models

// CorrectionMethod selects the multiple-comparison adjustment applied before
// any claim from one detection run is reported as significant.
type CorrectionMethod string

const (
	CorrectionNone       CorrectionMethod = "none"
	CorrectionBonferroni CorrectionMethod = "bonferroni"
)

// Valid reports whether m is a recognized correction method.
func (m CorrectionMethod) Valid() bool {
	return m == CorrectionNone || m == CorrectionBonferroni
}

// ConfidenceInterval backs a business claim with its statistical range.
// Invariant: Lower <= Value <= Upper and PValue in [0,1]. An interval is never
// produced for a sample below the configured minimum; callers get a typed
// error instead of a defaulted struct.
type ConfidenceInterval struct {
	Value           float64          `json:"value"`
	Lower           float64          `json:"lower"`
	Upper           float64          `json:"upper"`
	ConfidenceLevel float64          `json:"confidence_level"`
	PValue          float64          `json:"p_value"`
	SampleSize      int              `json:"sample_size"`
	Correction      CorrectionMethod `json:"correction_method,omitempty"`
	// Significant is only set after correction; a raw interval reports false
	// until the batch-level threshold has been applied.
	Significant bool `json:"significant"`
}
