// Package validate checks detection requests at the API boundary, before they
// enter the pipeline or influence a cache key.
package validate

import (
	"fmt"
	"time"

	"github.com/buildsense/buildsense-backend/internal/models"
)

// MaxWindow bounds a single detection window. Larger analyses should be
// split client-side.
const MaxWindow = 31 * 24 * time.Hour

// MaxSensors bounds the sensor set of one request.
const MaxSensors = 500

// DetectionRequest validates structure and ranges. Returns a message suitable
// for the API response.
func DetectionRequest(req *models.DetectionRequest) error {
	if len(req.SensorIDs) == 0 {
		return fmt.Errorf("sensor_ids must not be empty")
	}
	if len(req.SensorIDs) > MaxSensors {
		return fmt.Errorf("sensor_ids exceeds the maximum of %d", MaxSensors)
	}
	for _, id := range req.SensorIDs {
		if id == "" {
			return fmt.Errorf("sensor_ids contains an empty id")
		}
	}
	if req.WindowStart.IsZero() || req.WindowEnd.IsZero() {
		return fmt.Errorf("window_start and window_end are required")
	}
	if !req.WindowEnd.After(req.WindowStart) {
		return fmt.Errorf("window_end must be after window_start")
	}
	if req.WindowEnd.Sub(req.WindowStart) > MaxWindow {
		return fmt.Errorf("window exceeds the maximum of %s", MaxWindow)
	}
	if req.Options != nil {
		return detectionOptions(req.Options)
	}
	return nil
}

func detectionOptions(opts *models.DetectionOptions) error {
	if opts.ConfidenceThreshold != nil {
		if *opts.ConfidenceThreshold < 0 || *opts.ConfidenceThreshold > 100 {
			return fmt.Errorf("confidence_threshold must be in [0,100]")
		}
	}
	if opts.SeverityFilter != "" && !opts.SeverityFilter.Valid() {
		return fmt.Errorf("severity_filter %q is not a known severity", opts.SeverityFilter)
	}
	for _, pt := range opts.PatternTypeFilter {
		if !pt.Valid() {
			return fmt.Errorf("pattern_type_filter contains unknown type %q", pt)
		}
	}
	if opts.ZScoreThreshold != nil && *opts.ZScoreThreshold <= 0 {
		return fmt.Errorf("z_score_threshold must be positive")
	}
	if opts.Correction != "" && !opts.Correction.Valid() {
		return fmt.Errorf("correction_method %q is not supported", opts.Correction)
	}
	return nil
}
