package models

// StatisticsSnapshot is the frozen output of a streaming statistics pass over
// one window of readings. Count, Mean and M2 are sufficient to recombine two
// snapshots without re-reading raw values, which is what lets partitioned
// computation and downstream reuse share one pass over the data.
type StatisticsSnapshot struct {
	Count int64   `json:"count"`
	Mean  float64 `json:"mean"`
	// M2 is the running sum of squared deviations from the mean.
	M2       float64 `json:"m2"`
	Variance float64 `json:"variance"`
	StdDev   float64 `json:"stddev"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	// VarianceDefined is false when Count <= 1. Variance and StdDev hold no
	// meaning in that state and must not be read as zero.
	VarianceDefined bool `json:"variance_defined"`
}
