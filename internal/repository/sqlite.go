package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/buildsense/buildsense-backend/internal/models"
)

// SQLiteRepository implements Repository on SQLite for single-node and dev
// deployments. Same schema as Postgres; choose via config.
type SQLiteRepository struct {
	db *sqlx.DB
}

// NewSQLiteRepository opens (or creates) the SQLite database at dbPath.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sqlx.Connect("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite: %w", err)
	}

	// WAL lets ingest writes proceed under concurrent detection reads.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Ping verifies connectivity.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// RunMigrations runs database migrations.
func (r *SQLiteRepository) RunMigrations(migrationSQL string) error {
	_, err := r.db.Exec(migrationSQL)
	return err
}

// ReadingStore implementation

func (r *SQLiteRepository) QueryReadings(ctx context.Context, sensorIDs []string, from, to time.Time) ([]models.Reading, error) {
	query, args, err := sqlx.In(`
		SELECT sensor_id, timestamp, value, unit, quality
		FROM readings
		WHERE sensor_id IN (?) AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`, sensorIDs, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to build readings query: %w", err)
	}

	var readings []models.Reading
	err = instrumentQuery("query_readings", func() error {
		return r.db.SelectContext(ctx, &readings, query, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	return readings, nil
}

func (r *SQLiteRepository) InsertReadings(ctx context.Context, readings []models.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	return instrumentQuery("insert_readings", func() error {
		tx, err := r.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO readings (sensor_id, timestamp, value, unit, quality)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, reading := range readings {
			if _, err := stmt.ExecContext(ctx, reading.SensorID, reading.Timestamp, reading.Value, reading.Unit, reading.Quality); err != nil {
				return fmt.Errorf("failed to insert reading for %s: %w", reading.SensorID, err)
			}
		}
		return tx.Commit()
	})
}

// SensorRepository implementation

func (r *SQLiteRepository) ListSensors(ctx context.Context) ([]models.Sensor, error) {
	var sensors []models.Sensor
	err := instrumentQuery("list_sensors", func() error {
		return r.db.SelectContext(ctx, &sensors, `
			SELECT id, name, building_id, equipment_group, unit, created_at, updated_at
			FROM sensors ORDER BY name ASC
		`)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sensors: %w", err)
	}
	return sensors, nil
}

func (r *SQLiteRepository) GetSensor(ctx context.Context, id string) (*models.Sensor, error) {
	var sensor models.Sensor
	err := instrumentQuery("get_sensor", func() error {
		return r.db.GetContext(ctx, &sensor, `
			SELECT id, name, building_id, equipment_group, unit, created_at, updated_at
			FROM sensors WHERE id = ?
		`, id)
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sensor %s: %w", id, err)
	}
	return &sensor, nil
}

func (r *SQLiteRepository) CreateSensor(ctx context.Context, sensor *models.Sensor) error {
	if sensor.ID == "" {
		sensor.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	sensor.CreatedAt = now
	sensor.UpdatedAt = now

	return instrumentQuery("create_sensor", func() error {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO sensors (id, name, building_id, equipment_group, unit, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, sensor.ID, sensor.Name, sensor.BuildingID, sensor.EquipmentGroup, sensor.Unit, sensor.CreatedAt, sensor.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create sensor: %w", err)
		}
		return nil
	})
}

func (r *SQLiteRepository) EquipmentGroups(ctx context.Context, sensorIDs []string) (map[string]string, error) {
	if len(sensorIDs) == 0 {
		return map[string]string{}, nil
	}
	query, args, err := sqlx.In(`
		SELECT id, equipment_group FROM sensors
		WHERE id IN (?) AND equipment_group <> ''
	`, sensorIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build equipment group query: %w", err)
	}

	var rows []struct {
		ID             string `db:"id"`
		EquipmentGroup string `db:"equipment_group"`
	}
	err = instrumentQuery("equipment_groups", func() error {
		return r.db.SelectContext(ctx, &rows, query, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query equipment groups: %w", err)
	}

	groups := make(map[string]string, len(rows))
	for _, row := range rows {
		groups[row.ID] = row.EquipmentGroup
	}
	return groups, nil
}
