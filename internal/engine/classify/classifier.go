// Package classify turns a sensor's reading sequence plus its statistics
// snapshot into zero or more detected failure patterns. Per-sensor pattern
// types are evaluated in a fixed order (sustained_failure claims its readings
// before intermittent counts them); cascade_risk is cross-sensor and runs over
// the full pattern set once all sensors are classified.
package classify

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/buildsense/buildsense-backend/internal/engine/stats"
	"github.com/buildsense/buildsense-backend/internal/models"
)

// Config tunes classification thresholds. Zero values fall back to defaults.
type Config struct {
	// SigmaThreshold is the deviation multiple for threshold_breach (default 3).
	SigmaThreshold float64
	// MinReadings is the minimum sample count for any classification
	// (default 10). Sensors below it yield no patterns at all; absence of
	// evidence is not reported as a weak finding.
	MinReadings int
	// MinSustainedDuration is the minimum contiguous failure-run duration
	// for sustained_failure (default 10m).
	MinSustainedDuration time.Duration
	// IntermittentRate is the failure fraction above which unclaimed failure
	// flags become an intermittent pattern (default 0.1).
	IntermittentRate float64
	// DegradationWindows is the number of sub-windows compared for
	// gradual_degradation (default 4).
	DegradationWindows int
	// DegradationDriftSigma is the total sub-window mean drift, in units of
	// the window stddev, required to call a trend significant (default 1).
	DegradationDriftSigma float64
	// CascadeWindow is the maximum start-time offset between two failures in
	// one equipment group for cascade_risk (default 5m).
	CascadeWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.SigmaThreshold <= 0 {
		c.SigmaThreshold = 3.0
	}
	if c.MinReadings <= 0 {
		c.MinReadings = 10
	}
	if c.MinSustainedDuration <= 0 {
		c.MinSustainedDuration = 10 * time.Minute
	}
	if c.IntermittentRate <= 0 {
		c.IntermittentRate = 0.1
	}
	if c.DegradationWindows <= 1 {
		c.DegradationWindows = 4
	}
	if c.DegradationDriftSigma <= 0 {
		c.DegradationDriftSigma = 1.0
	}
	if c.CascadeWindow <= 0 {
		c.CascadeWindow = 5 * time.Minute
	}
	return c
}

// InsufficientReadingsError reports a sensor that could not be classified.
// It is an error, not an empty result, so callers can distinguish "nothing
// found" from "could not determine".
type InsufficientReadingsError struct {
	SensorID string
	Got      int
	Need     int
}

func (e *InsufficientReadingsError) Error() string {
	return fmt.Sprintf("classify: sensor %s has %d readings, need %d", e.SensorID, e.Got, e.Need)
}

// Classifier applies the configured thresholds. Safe for concurrent use; it
// holds no mutable state.
type Classifier struct {
	cfg Config
}

// New returns a classifier with defaults filled in.
func New(cfg Config) *Classifier {
	return &Classifier{cfg: cfg.withDefaults()}
}

// failureRun is a contiguous span of failure-quality readings.
type failureRun struct {
	start, end int // index range, inclusive
	duration   time.Duration
}

// Classify evaluates all per-sensor pattern types for one sensor's window.
// Readings must be ordered by timestamp ascending. The snapshot must come from
// the same window (normally via stats.Collect on the same slice).
func (c *Classifier) Classify(readings []models.Reading, snap models.StatisticsSnapshot) ([]models.DetectedPattern, error) {
	if len(readings) < c.cfg.MinReadings {
		sensorID := ""
		if len(readings) > 0 {
			sensorID = readings[0].SensorID
		}
		return nil, &InsufficientReadingsError{SensorID: sensorID, Got: len(readings), Need: c.cfg.MinReadings}
	}

	var patterns []models.DetectedPattern

	runs := failureRuns(readings)
	claimed := make([]bool, len(readings))

	// sustained_failure first: runs it claims are excluded from the
	// intermittent count below.
	for _, run := range runs {
		if run.duration < c.cfg.MinSustainedDuration {
			continue
		}
		for i := run.start; i <= run.end; i++ {
			claimed[i] = true
		}
		patterns = append(patterns, c.sustainedPattern(readings, snap, run))
	}

	if p, ok := c.intermittentPattern(readings, snap, claimed); ok {
		patterns = append(patterns, p)
	}
	if p, ok := c.breachPattern(readings, snap); ok {
		patterns = append(patterns, p)
	}
	if p, ok := c.degradationPattern(readings, snap); ok {
		patterns = append(patterns, p)
	}
	return patterns, nil
}

// failureRuns scans for contiguous spans of failure-quality readings.
func failureRuns(readings []models.Reading) []failureRun {
	var runs []failureRun
	start := -1
	for i, r := range readings {
		if r.Quality.IsFailure() {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			runs = append(runs, newRun(readings, start, i-1))
			start = -1
		}
	}
	if start >= 0 {
		runs = append(runs, newRun(readings, start, len(readings)-1))
	}
	return runs
}

func newRun(readings []models.Reading, start, end int) failureRun {
	return failureRun{
		start:    start,
		end:      end,
		duration: readings[end].Timestamp.Sub(readings[start].Timestamp),
	}
}

func (c *Classifier) sustainedPattern(readings []models.Reading, snap models.StatisticsSnapshot, run failureRun) models.DetectedPattern {
	severity := models.SeverityWarning
	if run.duration >= 2*c.cfg.MinSustainedDuration {
		severity = models.SeverityCritical
	}
	// Confidence grows with run length relative to the minimum and with the
	// share of the window the run covers.
	lengthFactor := clamp01(float64(run.duration) / float64(2*c.cfg.MinSustainedDuration))
	confidence := 100 * sampleAdequacy(len(readings), c.cfg.MinReadings) * (0.5 + 0.5*lengthFactor)

	return models.DetectedPattern{
		ID:                   uuid.New().String(),
		SensorID:             readings[0].SensorID,
		PatternType:          models.PatternSustainedFailure,
		ConfidenceScore:      clampConfidence(confidence),
		Severity:             severity,
		WindowStart:          readings[run.start].Timestamp,
		WindowEnd:            readings[run.end].Timestamp,
		DataQuality:          dataQuality(readings),
		SupportingStatistics: snap,
		AffectedSensors:      []string{readings[0].SensorID},
		Values:               usableValues(readings),
	}
}

func (c *Classifier) intermittentPattern(readings []models.Reading, snap models.StatisticsSnapshot, claimed []bool) (models.DetectedPattern, bool) {
	var failures int
	first, last := -1, -1
	for i, r := range readings {
		if claimed[i] || !r.Quality.IsFailure() {
			continue
		}
		failures++
		if first < 0 {
			first = i
		}
		last = i
	}
	rate := float64(failures) / float64(len(readings))
	if failures == 0 || rate < c.cfg.IntermittentRate {
		return models.DetectedPattern{}, false
	}

	rateFactor := clamp01(rate / (2 * c.cfg.IntermittentRate))
	confidence := 100 * sampleAdequacy(len(readings), c.cfg.MinReadings) * (0.5 + 0.5*rateFactor)
	severity := models.SeverityWarning
	if rate >= 2*c.cfg.IntermittentRate {
		severity = models.SeverityCritical
	}

	return models.DetectedPattern{
		ID:                   uuid.New().String(),
		SensorID:             readings[0].SensorID,
		PatternType:          models.PatternIntermittent,
		ConfidenceScore:      clampConfidence(confidence),
		Severity:             severity,
		WindowStart:          readings[first].Timestamp,
		WindowEnd:            readings[last].Timestamp,
		DataQuality:          dataQuality(readings),
		SupportingStatistics: snap,
		AffectedSensors:      []string{readings[0].SensorID},
		Values:               usableValues(readings),
	}, true
}

func (c *Classifier) breachPattern(readings []models.Reading, snap models.StatisticsSnapshot) (models.DetectedPattern, bool) {
	// Without a defined, non-zero spread there is no deviation scale to
	// breach against.
	if !snap.VarianceDefined || snap.StdDev == 0 {
		return models.DetectedPattern{}, false
	}
	var peak float64
	first, last := -1, -1
	for i, r := range readings {
		if r.Quality.IsFailure() {
			continue
		}
		dev := abs(r.Value-snap.Mean) / snap.StdDev
		if dev > c.cfg.SigmaThreshold {
			if first < 0 {
				first = i
			}
			last = i
		}
		if dev > peak {
			peak = dev
		}
	}
	if first < 0 {
		return models.DetectedPattern{}, false
	}

	severity := models.SeverityWarning
	if peak >= c.cfg.SigmaThreshold+1 {
		severity = models.SeverityCritical
	}
	snr := clamp01(peak / (2 * c.cfg.SigmaThreshold))
	confidence := 100 * sampleAdequacy(len(readings), c.cfg.MinReadings) * (0.5 + 0.5*snr)

	return models.DetectedPattern{
		ID:                   uuid.New().String(),
		SensorID:             readings[0].SensorID,
		PatternType:          models.PatternThresholdBreach,
		ConfidenceScore:      clampConfidence(confidence),
		Severity:             severity,
		WindowStart:          readings[first].Timestamp,
		WindowEnd:            readings[last].Timestamp,
		PeakDeviation:        peak,
		DataQuality:          dataQuality(readings),
		SupportingStatistics: snap,
		AffectedSensors:      []string{readings[0].SensorID},
		Values:               usableValues(readings),
	}, true
}

// degradationPattern compares successive sub-window snapshots rather than
// re-scanning raw data for a trend fit: the window is split into equal parts,
// each summarized by one streaming pass, and the sequence of sub-window means
// must move monotonically with total drift beyond the configured multiple of
// the window's stddev.
func (c *Classifier) degradationPattern(readings []models.Reading, snap models.StatisticsSnapshot) (models.DetectedPattern, bool) {
	if !snap.VarianceDefined || snap.StdDev == 0 {
		return models.DetectedPattern{}, false
	}
	k := c.cfg.DegradationWindows
	if len(readings) < k*2 {
		return models.DetectedPattern{}, false
	}

	means := make([]float64, 0, k)
	size := len(readings) / k
	for i := 0; i < k; i++ {
		end := (i + 1) * size
		if i == k-1 {
			end = len(readings)
		}
		sub, err := stats.Collect(readings[i*size : end])
		if err != nil || sub.Count == 0 {
			return models.DetectedPattern{}, false
		}
		means = append(means, sub.Mean)
	}

	dir := 0
	for i := 1; i < len(means); i++ {
		d := sign(means[i] - means[i-1])
		if d == 0 {
			return models.DetectedPattern{}, false
		}
		if dir == 0 {
			dir = d
		} else if d != dir {
			return models.DetectedPattern{}, false
		}
	}

	drift := abs(means[len(means)-1]-means[0]) / snap.StdDev
	if drift < c.cfg.DegradationDriftSigma {
		return models.DetectedPattern{}, false
	}

	severity := models.SeverityWarning
	if drift >= 2*c.cfg.DegradationDriftSigma {
		severity = models.SeverityCritical
	}
	confidence := 100 * sampleAdequacy(len(readings), c.cfg.MinReadings) *
		(0.5 + 0.5*clamp01(drift/(2*c.cfg.DegradationDriftSigma)))

	return models.DetectedPattern{
		ID:                   uuid.New().String(),
		SensorID:             readings[0].SensorID,
		PatternType:          models.PatternGradualDegradation,
		ConfidenceScore:      clampConfidence(confidence),
		Severity:             severity,
		WindowStart:          readings[0].Timestamp,
		WindowEnd:            readings[len(readings)-1].Timestamp,
		PeakDeviation:        drift,
		DataQuality:          dataQuality(readings),
		SupportingStatistics: snap,
		AffectedSensors:      []string{readings[0].SensorID},
		Values:               usableValues(readings),
	}, true
}

// DetectCascades scans the cross-sensor pattern set for co-occurring breaches
// or sustained failures inside one equipment group. groups maps sensor ID to
// its declared equipment group; sensors without a group cannot cascade.
// Emits at most one cascade_risk pattern per group.
func (c *Classifier) DetectCascades(patterns []models.DetectedPattern, groups map[string]string) []models.DetectedPattern {
	byGroup := make(map[string][]models.DetectedPattern)
	for _, p := range patterns {
		if p.PatternType != models.PatternThresholdBreach && p.PatternType != models.PatternSustainedFailure {
			continue
		}
		g, ok := groups[p.SensorID]
		if !ok || g == "" {
			continue
		}
		byGroup[g] = append(byGroup[g], p)
	}

	groupNames := make([]string, 0, len(byGroup))
	for g := range byGroup {
		groupNames = append(groupNames, g)
	}
	sort.Strings(groupNames)

	var cascades []models.DetectedPattern
	for _, g := range groupNames {
		members := byGroup[g]
		contributors := coOccurring(members, c.cfg.CascadeWindow)
		if len(contributors) < 2 {
			continue
		}

		sensors := make(map[string]struct{})
		merged := models.StatisticsSnapshot{}
		start, end := contributors[0].WindowStart, contributors[0].WindowEnd
		peak, qualitySum := 0.0, 0.0
		for _, p := range contributors {
			sensors[p.SensorID] = struct{}{}
			qualitySum += p.DataQuality
			merged = stats.Merge(merged, p.SupportingStatistics)
			if p.WindowStart.Before(start) {
				start = p.WindowStart
			}
			if p.WindowEnd.After(end) {
				end = p.WindowEnd
			}
			if p.PeakDeviation > peak {
				peak = p.PeakDeviation
			}
		}
		if len(sensors) < 2 {
			continue
		}

		affected := make([]string, 0, len(sensors))
		for s := range sensors {
			affected = append(affected, s)
		}
		sort.Strings(affected)

		confidence := 100 * clamp01(float64(len(contributors))/4.0)
		cascades = append(cascades, models.DetectedPattern{
			ID:                   uuid.New().String(),
			SensorID:             affected[0],
			PatternType:          models.PatternCascadeRisk,
			ConfidenceScore:      clampConfidence(confidence),
			Severity:             models.SeverityCritical,
			WindowStart:          start,
			WindowEnd:            end,
			PeakDeviation:        peak,
			DataQuality:          qualitySum / float64(len(contributors)),
			SupportingStatistics: merged,
			AffectedSensors:      affected,
		})
	}
	return cascades
}

// coOccurring keeps the members whose windows overlap or start within the
// cascade offset of another member from a different sensor.
func coOccurring(members []models.DetectedPattern, offset time.Duration) []models.DetectedPattern {
	var out []models.DetectedPattern
	for i, a := range members {
		for j, b := range members {
			if i == j || a.SensorID == b.SensorID {
				continue
			}
			if windowsNear(a, b, offset) {
				out = append(out, a)
				break
			}
		}
	}
	return out
}

func windowsNear(a, b models.DetectedPattern, offset time.Duration) bool {
	// Overlapping windows always co-occur.
	if !a.WindowEnd.Before(b.WindowStart) && !b.WindowEnd.Before(a.WindowStart) {
		return true
	}
	gap := a.WindowStart.Sub(b.WindowStart)
	if gap < 0 {
		gap = -gap
	}
	return gap <= offset
}

func dataQuality(readings []models.Reading) float64 {
	if len(readings) == 0 {
		return 0
	}
	var usable int
	for _, r := range readings {
		if !r.Quality.IsFailure() {
			usable++
		}
	}
	return float64(usable) / float64(len(readings))
}

func usableValues(readings []models.Reading) []float64 {
	values := make([]float64, 0, len(readings))
	for _, r := range readings {
		if r.Quality.IsFailure() {
			continue
		}
		values = append(values, r.Value)
	}
	return values
}

// sampleAdequacy saturates at 1 once the window holds twice the minimum
// reading count.
func sampleAdequacy(n, minReadings int) float64 {
	return clamp01(float64(n) / float64(2*minReadings))
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
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

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
