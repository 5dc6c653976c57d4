// Package correlate relates detected patterns across sensors: pairwise
// Pearson correlation of the underlying value sequences for patterns whose
// windows overlap or sit adjacent, and a batch-level Z-score flagging
// patterns whose peak deviation is an outlier among their peers.
package correlate

import (
	"math"
	"time"

	"github.com/buildsense/buildsense-backend/internal/engine/stats"
	"github.com/buildsense/buildsense-backend/internal/models"
)

// Config tunes the analyzer. Zero values fall back to defaults.
type Config struct {
	// MinOverlap is the minimum shared sample count for a pair to be scored
	// at all (default 10). Pairs below it are skipped, never scored zero.
	MinOverlap int
	// ZScoreThreshold flags a pattern as a batch-level anomaly when its
	// |z-score| exceeds it (default 2.5).
	ZScoreThreshold float64
	// AdjacencyGap is the maximum gap between two pattern windows that still
	// counts as adjacent (default 5m).
	AdjacencyGap time.Duration
	// MinBatch is the minimum batch size for Z-score anomaly detection
	// (default 3). A population of two has no meaningful spread.
	MinBatch int
}

func (c Config) withDefaults() Config {
	if c.MinOverlap <= 0 {
		c.MinOverlap = 10
	}
	if c.ZScoreThreshold <= 0 {
		c.ZScoreThreshold = 2.5
	}
	if c.AdjacencyGap <= 0 {
		c.AdjacencyGap = 5 * time.Minute
	}
	if c.MinBatch <= 0 {
		c.MinBatch = 3
	}
	return c
}

// Analyzer computes pairwise and batch-level relationships. Safe for
// concurrent use.
type Analyzer struct {
	cfg Config
}

// New returns an analyzer with defaults filled in.
func New(cfg Config) *Analyzer {
	return &Analyzer{cfg: cfg.withDefaults()}
}

// WithZScoreThreshold derives an analyzer that differs only in the anomaly
// threshold. MinOverlap, AdjacencyGap and MinBatch keep their configured
// values; a non-positive z returns the receiver unchanged.
func (a *Analyzer) WithZScoreThreshold(z float64) *Analyzer {
	if z <= 0 || z == a.cfg.ZScoreThreshold {
		return a
	}
	cfg := a.cfg
	cfg.ZScoreThreshold = z
	return &Analyzer{cfg: cfg}
}

// Analyze runs over the complete pattern set of one detection batch. It is
// the pipeline's synchronization point: callers must not invoke it until all
// per-sensor classification has joined.
func (a *Analyzer) Analyze(patterns []models.DetectedPattern) ([]models.CorrelationResult, []models.PatternAnomaly) {
	zscores := a.batchZScores(patterns)

	var results []models.CorrelationResult
	for i := 0; i < len(patterns); i++ {
		for j := i + 1; j < len(patterns); j++ {
			pa, pb := patterns[i], patterns[j]
			if !windowsRelated(pa, pb, a.cfg.AdjacencyGap) {
				continue
			}
			overlap := min(len(pa.Values), len(pb.Values))
			if overlap < a.cfg.MinOverlap {
				continue
			}
			r, defined := pearson(pa.Values[:overlap], pb.Values[:overlap])

			za, zb := zscores[pa.ID], zscores[pb.ID]
			pairZ := za.ZScore
			if math.Abs(zb.ZScore) > math.Abs(za.ZScore) {
				pairZ = zb.ZScore
			}
			results = append(results, models.CorrelationResult{
				PatternAID:             pa.ID,
				PatternBID:             pb.ID,
				CorrelationCoefficient: r,
				CoefficientDefined:     defined,
				ZScore:                 pairZ,
				IsAnomalous:            za.IsAnomalous || zb.IsAnomalous,
				SampleOverlap:          overlap,
			})
		}
	}

	anomalies := make([]models.PatternAnomaly, 0, len(patterns))
	for _, p := range patterns {
		if z, ok := zscores[p.ID]; ok {
			anomalies = append(anomalies, z)
		}
	}
	return results, anomalies
}

// batchZScores scores each pattern's peak deviation against the population of
// all patterns in the batch. A pattern can be anomalous relative to its peers
// even when unremarkable against its own history.
func (a *Analyzer) batchZScores(patterns []models.DetectedPattern) map[string]models.PatternAnomaly {
	out := make(map[string]models.PatternAnomaly, len(patterns))
	if len(patterns) < a.cfg.MinBatch {
		return out
	}

	acc := stats.New()
	for _, p := range patterns {
		if err := acc.Update(p.PeakDeviation); err != nil {
			return out
		}
	}
	snap := acc.Snapshot()
	if !snap.VarianceDefined || snap.StdDev == 0 {
		return out
	}

	for _, p := range patterns {
		z := (p.PeakDeviation - snap.Mean) / snap.StdDev
		out[p.ID] = models.PatternAnomaly{
			PatternID:   p.ID,
			ZScore:      z,
			IsAnomalous: math.Abs(z) > a.cfg.ZScoreThreshold,
		}
	}
	return out
}

// pearson computes the correlation coefficient of two equal-length series.
// Returns defined=false when either series has zero variance: a flat series
// correlates with nothing, and reporting zero would claim independence the
// data cannot support.
func pearson(xs, ys []float64) (r float64, defined bool) {
	n := float64(len(xs))
	if n == 0 {
		return 0, false
	}
	var sx, sy float64
	for i := range xs {
		sx += xs[i]
		sy += ys[i]
	}
	mx, my := sx/n, sy/n

	var sxy, sxx, syy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0, false
	}
	r = sxy / math.Sqrt(sxx*syy)
	// Rounding can push |r| a hair past one.
	if r > 1 {
		r = 1
	} else if r < -1 {
		r = -1
	}
	return r, true
}

func windowsRelated(a, b models.DetectedPattern, gap time.Duration) bool {
	if !a.WindowEnd.Before(b.WindowStart) && !b.WindowEnd.Before(a.WindowStart) {
		return true
	}
	var d time.Duration
	if a.WindowEnd.Before(b.WindowStart) {
		d = b.WindowStart.Sub(a.WindowEnd)
	} else {
		d = a.WindowStart.Sub(b.WindowEnd)
	}
	return d <= gap
}
