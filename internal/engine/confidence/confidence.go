// Package confidence produces statistically defensible backing for aggregate
// claims: Wilson score intervals for binomial proportions, p-values from the
// same score statistic, and Bonferroni correction when several claims come
// out of one detection run. The Wilson interval is used instead of the normal
// approximation because proportions near 0 or 1 (the usual shape of
// rare-failure metrics) push the normal interval outside [0,1].
package confidence

import (
	"errors"
	"fmt"
	"math"

	"github.com/buildsense/buildsense-backend/internal/models"
)

var (
	// ErrInvalidInput covers impossible counts or a confidence level outside
	// (0,1).
	ErrInvalidInput = errors.New("confidence: invalid input")
)

// InsufficientSampleError reports a sample too small for the requested
// interval. The interval is undefined in that state, never defaulted.
type InsufficientSampleError struct {
	Got  int
	Need int
}

func (e *InsufficientSampleError) Error() string {
	return fmt.Sprintf("confidence: sample size %d below minimum %d", e.Got, e.Need)
}

// Config tunes the engine. Zero values fall back to defaults.
type Config struct {
	// MinSampleSize is the smallest total for which an interval is computed
	// (default 2).
	MinSampleSize int
	// NullProportion is the null-hypothesis proportion the p-value tests
	// against (default 0.5).
	NullProportion float64
}

func (c Config) withDefaults() Config {
	if c.MinSampleSize <= 0 {
		c.MinSampleSize = 2
	}
	if c.NullProportion <= 0 || c.NullProportion >= 1 {
		c.NullProportion = 0.5
	}
	return c
}

// Engine computes intervals and corrections. Safe for concurrent use.
type Engine struct {
	cfg Config
}

// New returns an engine with defaults filled in.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults()}
}

// Interval computes the Wilson score interval for successes out of total at
// the given confidence level, with a score-test p-value against the
// configured null proportion. Both use the same test statistic, so "is this
// significant" and "what is the range" can never disagree.
func (e *Engine) Interval(successes, total int, confidenceLevel float64) (models.ConfidenceInterval, error) {
	if total < 0 || successes < 0 || successes > total {
		return models.ConfidenceInterval{}, fmt.Errorf("%w: %d successes out of %d", ErrInvalidInput, successes, total)
	}
	if confidenceLevel <= 0 || confidenceLevel >= 1 {
		return models.ConfidenceInterval{}, fmt.Errorf("%w: confidence level %v outside (0,1)", ErrInvalidInput, confidenceLevel)
	}
	if total < e.cfg.MinSampleSize {
		return models.ConfidenceInterval{}, &InsufficientSampleError{Got: total, Need: e.cfg.MinSampleSize}
	}

	n := float64(total)
	p := float64(successes) / n
	z := normalQuantileTwoSided(confidenceLevel)

	z2 := z * z
	denom := 1 + z2/n
	center := (p + z2/(2*n)) / denom
	half := z * math.Sqrt(p*(1-p)/n+z2/(4*n*n)) / denom

	lower := center - half
	upper := center + half
	if lower < 0 {
		lower = 0
	}
	if upper > 1 {
		upper = 1
	}

	// Score test against the null proportion: same statistic family as the
	// interval above.
	p0 := e.cfg.NullProportion
	score := (p - p0) / math.Sqrt(p0*(1-p0)/n)
	pValue := 2 * (1 - normalCDF(math.Abs(score)))
	if pValue > 1 {
		pValue = 1
	}

	return models.ConfidenceInterval{
		Value:           p,
		Lower:           lower,
		Upper:           upper,
		ConfidenceLevel: confidenceLevel,
		PValue:          pValue,
		SampleSize:      total,
	}, nil
}

// CorrectForMultipleComparisons applies the chosen correction to a batch of
// intervals from one detection run and marks which claims survive. Bonferroni
// divides the significance threshold by the number of comparisons: blunt but
// trivial to audit, which is the point when many pattern types are tested at
// once.
func (e *Engine) CorrectForMultipleComparisons(intervals []models.ConfidenceInterval, method models.CorrectionMethod) ([]models.ConfidenceInterval, error) {
	if !method.Valid() {
		return nil, fmt.Errorf("%w: unknown correction method %q", ErrInvalidInput, method)
	}
	if len(intervals) == 0 {
		return nil, nil
	}

	out := make([]models.ConfidenceInterval, len(intervals))
	m := float64(len(intervals))
	for i, ci := range intervals {
		alpha := 1 - ci.ConfidenceLevel
		if method == models.CorrectionBonferroni {
			alpha /= m
		}
		ci.Correction = method
		ci.Significant = ci.PValue < alpha
		out[i] = ci
	}
	return out, nil
}

// normalQuantileTwoSided returns z such that the standard normal holds the
// given central probability mass, e.g. 0.95 -> 1.96.
func normalQuantileTwoSided(confidenceLevel float64) float64 {
	return math.Sqrt2 * math.Erfinv(confidenceLevel)
}

func normalCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}
