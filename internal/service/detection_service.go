package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/buildsense/buildsense-backend/internal/engine/cache"
	"github.com/buildsense/buildsense-backend/internal/engine/classify"
	"github.com/buildsense/buildsense-backend/internal/engine/confidence"
	"github.com/buildsense/buildsense-backend/internal/engine/correlate"
	"github.com/buildsense/buildsense-backend/internal/engine/risk"
	"github.com/buildsense/buildsense-backend/internal/engine/stats"
	"github.com/buildsense/buildsense-backend/internal/models"
	"github.com/buildsense/buildsense-backend/internal/pkg/metrics"
	"github.com/buildsense/buildsense-backend/internal/pkg/tracing"
	"github.com/buildsense/buildsense-backend/internal/repository"
)

var (
	// ErrInvalidInput marks a request rejected before the pipeline runs.
	ErrInvalidInput = errors.New("invalid detection request")

	// ErrUpstreamUnavailable marks a reading store failure. The window may
	// still be analyzable once the store recovers; clients should retry.
	ErrUpstreamUnavailable = errors.New("reading store unavailable")
)

// AlertBroadcaster pushes critical patterns to connected dashboard clients.
// Implemented by the WebSocket hub; nil disables broadcasting.
type AlertBroadcaster interface {
	BroadcastPatterns(patterns []models.DetectedPattern)
}

// Config tunes one DetectionService instance.
type Config struct {
	Workers             int     // per-sensor fan-out bound
	ConfidenceLevel     float64 // level for aggregate metric intervals
	ConfidenceThreshold float64 // default minimum confidence_score, [0,100]
	ZScoreThreshold     float64 // default anomaly threshold for correlations
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.ConfidenceLevel <= 0 || c.ConfidenceLevel >= 1 {
		c.ConfidenceLevel = 0.95
	}
	if c.ZScoreThreshold <= 0 {
		c.ZScoreThreshold = 2.5
	}
	return c
}

// DetectionService orchestrates a detection run: fetch readings, fan out
// per-sensor statistics and classification, then run the cross-sensor stages
// on the joined pattern set. Results are cached per (sensor set, window,
// options) with single-flight semantics, so concurrent identical requests
// share one computation.
type DetectionService struct {
	store      repository.ReadingStore
	sensors    repository.SensorRepository
	classifier *classify.Classifier
	scorer     *risk.Scorer
	analyzer   *correlate.Analyzer
	conf       *confidence.Engine
	cache      *cache.Cache[*models.DetectionResult]
	alerts     AlertBroadcaster
	logger     *slog.Logger
	cfg        Config
}

// NewDetectionService wires the engine stages together. alerts may be nil.
func NewDetectionService(
	store repository.ReadingStore,
	sensors repository.SensorRepository,
	classifier *classify.Classifier,
	scorer *risk.Scorer,
	analyzer *correlate.Analyzer,
	conf *confidence.Engine,
	resultCache *cache.Cache[*models.DetectionResult],
	alerts AlertBroadcaster,
	logger *slog.Logger,
	cfg Config,
) *DetectionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DetectionService{
		store:      store,
		sensors:    sensors,
		classifier: classifier,
		scorer:     scorer,
		analyzer:   analyzer,
		conf:       conf,
		cache:      resultCache,
		alerts:     alerts,
		logger:     logger,
		cfg:        cfg.withDefaults(),
	}
}

// Detect runs (or returns the cached result of) one detection request.
// A caller whose context expires while the shared computation is still
// running gets cache.ErrComputePending; the computation keeps going and the
// next identical request collects it.
func (s *DetectionService) Detect(ctx context.Context, req models.DetectionRequest) (*models.DetectionResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	ctx, span := tracing.StartSpanWithAttributes(ctx, "detection.detect",
		attribute.Int("detection.sensor_count", len(req.SensorIDs)),
		attribute.String("detection.window_start", req.WindowStart.Format(time.RFC3339)),
		attribute.String("detection.window_end", req.WindowEnd.Format(time.RFC3339)),
	)
	defer span.End()

	key := cacheKey(req)
	result, cacheHit, err := s.cache.GetOrCompute(ctx, key, func(computeCtx context.Context) (*models.DetectionResult, error) {
		return s.run(computeCtx, req)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if cacheHit {
		// Cached entries are shared; copy before marking the hit.
		copied := *result
		copied.Metadata.CacheHit = true
		result = &copied
	}
	span.SetAttributes(
		attribute.Bool("detection.cache_hit", cacheHit),
		attribute.Int("detection.pattern_count", len(result.Patterns)),
	)
	return result, nil
}

// run executes the full pipeline on a cache miss.
func (s *DetectionService) run(ctx context.Context, req models.DetectionRequest) (*models.DetectionResult, error) {
	start := time.Now()
	opts := req.Options
	if opts == nil {
		opts = &models.DetectionOptions{}
	}

	readings, err := s.store.QueryReadings(ctx, req.SensorIDs, req.WindowStart, req.WindowEnd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	bySensor := groupBySensor(readings)

	type sensorOutcome struct {
		patterns []models.DetectedPattern
		omission *models.SensorOmission
	}
	outcomes := make([]sensorOutcome, len(req.SensorIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, sensorID := range req.SensorIDs {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			sensorReadings := bySensor[sensorID]
			if len(sensorReadings) == 0 {
				outcomes[i] = sensorOutcome{omission: &models.SensorOmission{
					SensorID: sensorID, Reason: "no readings in window",
				}}
				return nil
			}
			snap, err := stats.Collect(sensorReadings)
			if err != nil {
				outcomes[i] = sensorOutcome{omission: &models.SensorOmission{
					SensorID: sensorID, Reason: err.Error(),
				}}
				return nil
			}
			patterns, err := s.classifier.Classify(sensorReadings, snap)
			if err != nil {
				var insufficient *classify.InsufficientReadingsError
				if errors.As(err, &insufficient) {
					outcomes[i] = sensorOutcome{omission: &models.SensorOmission{
						SensorID: sensorID, Reason: insufficient.Error(),
					}}
					return nil
				}
				return fmt.Errorf("classify %s: %w", sensorID, err)
			}
			outcomes[i] = sensorOutcome{patterns: patterns}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var patterns []models.DetectedPattern
	var omissions []models.SensorOmission
	for _, outcome := range outcomes {
		patterns = append(patterns, outcome.patterns...)
		if outcome.omission != nil {
			omissions = append(omissions, *outcome.omission)
		}
	}

	// Cross-sensor stages run only on the joined set.
	groups, err := s.sensors.EquipmentGroups(ctx, req.SensorIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	patterns = append(patterns, s.classifier.DetectCascades(patterns, groups)...)

	for i := range patterns {
		s.scorer.Score(&patterns[i])
	}

	var correlations []models.CorrelationResult
	var anomalies []models.PatternAnomaly
	if opts.IncludeCorrelations {
		analyzer := s.analyzer
		if opts.ZScoreThreshold != nil {
			// Only the anomaly bar changes; overlap and adjacency settings
			// stay as configured.
			analyzer = s.analyzer.WithZScoreThreshold(*opts.ZScoreThreshold)
		}
		correlations, anomalies = analyzer.Analyze(patterns)
	}

	patterns = s.applyFilters(patterns, opts)
	risk.Sort(patterns)

	aggregates := s.aggregateMetrics(readings, req.SensorIDs, patterns, opts.Correction)

	for _, p := range patterns {
		metrics.PatternsDetectedTotal.WithLabelValues(string(p.PatternType), string(p.Severity)).Inc()
	}
	if s.alerts != nil {
		s.alerts.BroadcastPatterns(criticalOnly(patterns))
	}

	elapsed := time.Since(start)
	metrics.DetectionDurationSeconds.Observe(elapsed.Seconds())
	s.logger.Info("detection run complete",
		"sensors", len(req.SensorIDs),
		"patterns", len(patterns),
		"omissions", len(omissions),
		"duration_ms", elapsed.Milliseconds(),
	)

	return &models.DetectionResult{
		Patterns:     patterns,
		Correlations: correlations,
		Anomalies:    anomalies,
		Metrics:      aggregates,
		Summary:      summarize(patterns),
		Omissions:    omissions,
		Metadata: models.AnalysisMetadata{
			AnalysisDurationMs: elapsed.Milliseconds(),
			SensorsAnalyzed:    len(req.SensorIDs),
		},
	}, nil
}

// applyFilters drops patterns below the confidence threshold, below the
// severity floor, or outside the requested type set.
func (s *DetectionService) applyFilters(patterns []models.DetectedPattern, opts *models.DetectionOptions) []models.DetectedPattern {
	threshold := s.cfg.ConfidenceThreshold
	if opts.ConfidenceThreshold != nil {
		threshold = *opts.ConfidenceThreshold
	}

	typeSet := map[models.PatternType]bool{}
	for _, pt := range opts.PatternTypeFilter {
		typeSet[pt] = true
	}

	filtered := patterns[:0]
	for _, p := range patterns {
		if p.ConfidenceScore < threshold {
			continue
		}
		if opts.SeverityFilter != "" && p.Severity.Rank() < opts.SeverityFilter.Rank() {
			continue
		}
		if len(typeSet) > 0 && !typeSet[p.PatternType] {
			continue
		}
		filtered = append(filtered, p)
	}
	return filtered
}

// aggregateMetrics derives run-level proportions with statistical backing.
// A point estimate is never emitted without its interval; metrics whose
// sample is below the minimum are omitted rather than reported unbacked.
func (s *DetectionService) aggregateMetrics(readings []models.Reading, sensorIDs []string, patterns []models.DetectedPattern, method models.CorrectionMethod) []models.AggregateMetric {
	type claim struct {
		name              string
		successes, total  int
	}

	failures := 0
	for _, r := range readings {
		if r.Quality.IsFailure() {
			failures++
		}
	}
	affected := map[string]bool{}
	for _, p := range patterns {
		if p.SensorID != "" {
			affected[p.SensorID] = true
		}
		for _, id := range p.AffectedSensors {
			affected[id] = true
		}
	}

	claims := []claim{
		{name: "reading_failure_rate", successes: failures, total: len(readings)},
		{name: "sensors_with_patterns_rate", successes: len(affected), total: len(sensorIDs)},
	}

	var intervals []models.ConfidenceInterval
	var names []string
	for _, c := range claims {
		interval, err := s.conf.Interval(c.successes, c.total, s.cfg.ConfidenceLevel)
		if err != nil {
			var insufficient *confidence.InsufficientSampleError
			if !errors.As(err, &insufficient) {
				s.logger.Warn("skipping aggregate metric", "metric", c.name, "error", err)
			}
			continue
		}
		intervals = append(intervals, interval)
		names = append(names, c.name)
	}
	if len(intervals) == 0 {
		return nil
	}

	if method == "" {
		method = models.CorrectionBonferroni
	}
	corrected, err := s.conf.CorrectForMultipleComparisons(intervals, method)
	if err != nil {
		s.logger.Warn("multiple-comparison correction failed", "error", err)
		corrected = intervals
	}

	out := make([]models.AggregateMetric, len(corrected))
	for i := range corrected {
		out[i] = models.AggregateMetric{Name: names[i], Interval: corrected[i]}
	}
	return out
}

func validateRequest(req models.DetectionRequest) error {
	if len(req.SensorIDs) == 0 {
		return fmt.Errorf("%w: sensor_ids is empty", ErrInvalidInput)
	}
	if req.WindowStart.IsZero() || req.WindowEnd.IsZero() {
		return fmt.Errorf("%w: window bounds are required", ErrInvalidInput)
	}
	if !req.WindowEnd.After(req.WindowStart) {
		return fmt.Errorf("%w: window_end must be after window_start", ErrInvalidInput)
	}
	return nil
}

// cacheKey is deterministic in the sensor set (order-insensitive) and every
// option that changes the result.
func cacheKey(req models.DetectionRequest) string {
	ids := make([]string, len(req.SensorIDs))
	copy(ids, req.SensorIDs)
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString(strings.Join(ids, ","))
	fmt.Fprintf(&b, "|%d|%d", req.WindowStart.UnixNano(), req.WindowEnd.UnixNano())
	if opts := req.Options; opts != nil {
		if opts.ConfidenceThreshold != nil {
			fmt.Fprintf(&b, "|ct=%g", *opts.ConfidenceThreshold)
		}
		if opts.SeverityFilter != "" {
			fmt.Fprintf(&b, "|sev=%s", opts.SeverityFilter)
		}
		if len(opts.PatternTypeFilter) > 0 {
			types := make([]string, len(opts.PatternTypeFilter))
			for i, pt := range opts.PatternTypeFilter {
				types[i] = string(pt)
			}
			sort.Strings(types)
			fmt.Fprintf(&b, "|types=%s", strings.Join(types, ","))
		}
		if opts.ZScoreThreshold != nil {
			fmt.Fprintf(&b, "|z=%g", *opts.ZScoreThreshold)
		}
		if opts.Correction != "" {
			fmt.Fprintf(&b, "|corr=%s", opts.Correction)
		}
		if opts.IncludeCorrelations {
			b.WriteString("|corrs=1")
		}
	}
	return b.String()
}

func groupBySensor(readings []models.Reading) map[string][]models.Reading {
	grouped := make(map[string][]models.Reading)
	for _, r := range readings {
		grouped[r.SensorID] = append(grouped[r.SensorID], r)
	}
	return grouped
}

func summarize(patterns []models.DetectedPattern) models.DetectionSummary {
	summary := models.DetectionSummary{
		Total:      len(patterns),
		BySeverity: make(map[models.Severity]int),
		ByType:     make(map[models.PatternType]int),
	}
	for _, p := range patterns {
		summary.BySeverity[p.Severity]++
		summary.ByType[p.PatternType]++
	}
	return summary
}

func criticalOnly(patterns []models.DetectedPattern) []models.DetectedPattern {
	var critical []models.DetectedPattern
	for _, p := range patterns {
		if p.Severity == models.SeverityCritical {
			critical = append(critical, p)
		}
	}
	return critical
}
