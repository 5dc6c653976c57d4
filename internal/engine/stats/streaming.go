// Package stats implements single-pass streaming statistics over sensor
// readings using Welford's online algorithm. Snapshots from independent
// partitions recombine with the parallel variance formula, so a window can be
// computed in shards and merged without re-reading raw values.
package stats

import (
	"errors"
	"fmt"
	"math"

	"github.com/buildsense/buildsense-backend/internal/models"
)

var (
	// ErrNonFiniteValue is returned by Update for NaN or infinite input.
	// Absorbing such a value would corrupt mean and m2 for the rest of the
	// window, so it is rejected at the boundary instead.
	ErrNonFiniteValue = errors.New("stats: non-finite value")

	// ErrInsufficientData is returned when an operation needs more samples
	// than the accumulator has seen (variance needs at least two).
	ErrInsufficientData = errors.New("stats: insufficient data")
)

// Accumulator maintains running count, mean and sum of squared deviations.
// Not safe for concurrent use; partition the input and merge snapshots
// instead of sharing one accumulator across goroutines.
type Accumulator struct {
	count int64
	mean  float64
	m2    float64
	min   float64
	max   float64
}

// New returns an empty accumulator.
func New() *Accumulator {
	return &Accumulator{min: math.Inf(1), max: math.Inf(-1)}
}

// Update folds one value into the running statistics.
func (a *Accumulator) Update(value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: %v", ErrNonFiniteValue, value)
	}
	a.count++
	delta := value - a.mean
	a.mean += delta / float64(a.count)
	a.m2 += delta * (value - a.mean)
	if value < a.min {
		a.min = value
	}
	if value > a.max {
		a.max = value
	}
	return nil
}

// Count returns the number of accepted values.
func (a *Accumulator) Count() int64 { return a.count }

// Snapshot freezes the current state. Variance and StdDev are only defined
// for count > 1; VarianceDefined carries that state explicitly so callers
// never mistake "unknown" for zero spread. An empty accumulator reports zero
// bounds: the ±Inf seed values are not observations and must never reach
// JSON encoding.
func (a *Accumulator) Snapshot() models.StatisticsSnapshot {
	s := models.StatisticsSnapshot{
		Count: a.count,
		Mean:  a.mean,
		M2:    a.m2,
	}
	if a.count > 0 {
		s.Min = a.min
		s.Max = a.max
	}
	if a.count <= 1 {
		return s
	}
	s.Variance = a.m2 / float64(a.count-1)
	s.StdDev = math.Sqrt(s.Variance)
	s.VarianceDefined = true
	return s
}

// Merge combines two partition snapshots with the parallel Welford formula.
// The operation is associative and commutative up to floating-point rounding,
// so merge order across shards does not matter.
func Merge(a, b models.StatisticsSnapshot) models.StatisticsSnapshot {
	if a.Count == 0 {
		return b
	}
	if b.Count == 0 {
		return a
	}
	n := a.Count + b.Count
	delta := b.Mean - a.Mean
	mean := a.Mean + delta*float64(b.Count)/float64(n)
	m2 := a.M2 + b.M2 + delta*delta*float64(a.Count)*float64(b.Count)/float64(n)

	out := models.StatisticsSnapshot{
		Count: n,
		Mean:  mean,
		M2:    m2,
		Min:   math.Min(a.Min, b.Min),
		Max:   math.Max(a.Max, b.Max),
	}
	if n > 1 {
		out.Variance = m2 / float64(n-1)
		out.StdDev = math.Sqrt(out.Variance)
		out.VarianceDefined = true
	}
	return out
}

// Collect runs the accumulator over a reading sequence, skipping samples whose
// quality marks them as missing or offline (their values carry no signal).
// A non-finite value in a usable sample aborts the whole window: partial
// statistics over corrupted input are worse than no statistics.
func Collect(readings []models.Reading) (models.StatisticsSnapshot, error) {
	acc := New()
	for _, r := range readings {
		if r.Quality.IsFailure() {
			continue
		}
		if err := acc.Update(r.Value); err != nil {
			return models.StatisticsSnapshot{}, fmt.Errorf("sensor %s at %s: %w", r.SensorID, r.Timestamp.Format("2006-01-02T15:04:05Z07:00"), err)
		}
	}
	return acc.Snapshot(), nil
}
