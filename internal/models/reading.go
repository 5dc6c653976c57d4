package models

import "time"

// ReadingQuality marks the condition a sample was taken under. Missing and
// offline samples arrive as explicit rows from the ingest pipeline, not as
// absent rows, so gap detection can run over a contiguous sequence.
type ReadingQuality string

const (
	QualityOK       ReadingQuality = "ok"
	QualityDegraded ReadingQuality = "degraded"
	QualityMissing  ReadingQuality = "missing"
	QualityOffline  ReadingQuality = "offline"
)

// IsFailure reports whether the sample indicates the sensor was not producing
// usable data.
func (q ReadingQuality) IsFailure() bool {
	return q == QualityMissing || q == QualityOffline
}

// Reading is a single time-stamped sensor sample. Immutable once ingested.
type Reading struct {
	SensorID  string         `json:"sensor_id" db:"sensor_id"`
	Timestamp time.Time      `json:"timestamp" db:"timestamp"`
	Value     float64        `json:"value" db:"value"`
	Unit      string         `json:"unit" db:"unit"`
	Quality   ReadingQuality `json:"quality" db:"quality"`
}
