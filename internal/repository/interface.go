package repository

import (
	"context"
	"time"

	"github.com/buildsense/buildsense-backend/internal/models"
)

// ReadingStore is the boundary the detection engine fetches raw readings
// through. Queries return readings ordered by timestamp ascending, including
// rows whose quality marks them missing or offline: gap detection needs the
// explicit markers, not absent rows.
type ReadingStore interface {
	// QueryReadings returns all readings for the sensor set inside
	// [from, to], ordered by timestamp ascending.
	QueryReadings(ctx context.Context, sensorIDs []string, from, to time.Time) ([]models.Reading, error)
	// InsertReadings writes a batch of readings (ingest path).
	InsertReadings(ctx context.Context, readings []models.Reading) error
}

// SensorRepository provides sensor metadata and equipment-group membership.
type SensorRepository interface {
	ListSensors(ctx context.Context) ([]models.Sensor, error)
	GetSensor(ctx context.Context, id string) (*models.Sensor, error)
	CreateSensor(ctx context.Context, sensor *models.Sensor) error
	// EquipmentGroups maps each known sensor ID in the set to its declared
	// equipment group. Sensors without a group are absent from the map.
	EquipmentGroups(ctx context.Context, sensorIDs []string) (map[string]string, error)
}

// Repository aggregates all data access plus lifecycle.
type Repository interface {
	ReadingStore
	SensorRepository
	Ping(ctx context.Context) error
	RunMigrations(migrationSQL string) error
	Close() error
}
