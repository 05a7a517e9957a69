package store

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "readings",
		SQL: `
CREATE TABLE IF NOT EXISTS readings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    location_id TEXT NOT NULL,
    observed_at DATETIME NOT NULL,
    dust REAL,
    pm10 REAL,
    pm2_5 REAL,
    aqi REAL,
    temperature REAL,
    humidity REAL,
    wind_speed REAL,
    wind_direction REAL,
    visibility REAL,
    pressure REAL,
    confidence REAL,
    sources_used INTEGER,
    quality_score REAL,
    data_quality TEXT,
    fallback BOOLEAN NOT NULL DEFAULT FALSE,
    UNIQUE(location_id, observed_at)
);

CREATE INDEX IF NOT EXISTS idx_readings_location_time ON readings(location_id, observed_at);
`,
	},
	{
		Version:     2,
		Description: "predictions",
		SQL: `
CREATE TABLE IF NOT EXISTS predictions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    location_id TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    target_time DATETIME NOT NULL,
    horizon_hour INTEGER NOT NULL,
    value REAL NOT NULL,
    confidence REAL NOT NULL,
    breakdown_json TEXT,
    UNIQUE(location_id, created_at, horizon_hour)
);

CREATE INDEX IF NOT EXISTS idx_predictions_target ON predictions(location_id, target_time);
`,
	},
	{
		Version:     3,
		Description: "validations and calibration",
		SQL: `
CREATE TABLE IF NOT EXISTS validations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    location_id TEXT NOT NULL,
    validated_at DATETIME NOT NULL,
    matches INTEGER NOT NULL,
    accuracy REAL NOT NULL,
    mae REAL NOT NULL,
    rmse REAL NOT NULL,
    mape REAL NOT NULL,
    bias REAL NOT NULL,
    calibration_factor REAL NOT NULL,
    bias_correction REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_validations_location ON validations(location_id, validated_at);

CREATE TABLE IF NOT EXISTS calibration (
    location_id TEXT PRIMARY KEY,
    factor REAL NOT NULL,
    bias REAL NOT NULL,
    updated_at DATETIME NOT NULL
);
`,
	},
	{
		Version:     4,
		Description: "cycle runs",
		SQL: `
CREATE TABLE IF NOT EXISTS cycle_runs (
    id TEXT PRIMARY KEY,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    locations INTEGER,
    sources_ok INTEGER,
    sources_failed INTEGER,
    fallbacks INTEGER,
    success BOOLEAN NOT NULL DEFAULT FALSE,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_cycle_runs_started ON cycle_runs(started_at);
`,
	},
	{
		Version:     5,
		Description: "prediction validation marker",
		SQL: `
ALTER TABLE predictions ADD COLUMN validated_at DATETIME;

CREATE INDEX IF NOT EXISTS idx_predictions_pending ON predictions(location_id, target_time) WHERE validated_at IS NULL;
`,
	},
}

func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		s.logger.Info("applying migration", zap.Int("version", m.Version), zap.String("description", m.Description))

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
