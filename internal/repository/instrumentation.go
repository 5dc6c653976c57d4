package repository

import (
	"time"

	"github.com/buildsense/buildsense-backend/internal/pkg/metrics"
)

// instrumentQuery records query latency under the given operation label.
func instrumentQuery(operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.DBQueryDurationSeconds.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	return err
}
