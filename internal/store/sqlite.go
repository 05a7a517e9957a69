// Package store persists fused readings, emitted predictions, validation
// results and calibration state in SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lox/dustwatch/internal/models"
)

type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

func New(db *sql.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger.Named("store")}
}

// ReadingRecord is a fused reading together with how it was produced.
type ReadingRecord struct {
	Reading      models.Reading
	Confidence   float64
	SourcesUsed  int
	QualityScore float64
	DataQuality  string
	Fallback     bool
}

// AppendReading stores a fused reading. A second reading for the same
// location and timestamp is ignored.
func (s *Store) AppendReading(rec ReadingRecord) error {
	r := rec.Reading
	_, err := s.db.Exec(`
		INSERT INTO readings (location_id, observed_at, dust, pm10, pm2_5, aqi, temperature, humidity, wind_speed, wind_direction, visibility, pressure, confidence, sources_used, quality_score, data_quality, fallback)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(location_id, observed_at) DO NOTHING
	`, r.LocationID, r.Timestamp.UTC(), r.Dust, r.PM10, r.PM25, r.AQI, r.Temperature, r.Humidity, r.WindSpeed, r.WindDirection, r.Visibility, r.Pressure,
		rec.Confidence, rec.SourcesUsed, rec.QualityScore, rec.DataQuality, rec.Fallback)
	if err != nil {
		return fmt.Errorf("append reading %s: %w", r.LocationID, err)
	}
	return nil
}

const readingColumns = `location_id, observed_at, dust, pm10, pm2_5, aqi, temperature, humidity, wind_speed, wind_direction, visibility, pressure`

type scanner interface {
	Scan(dest ...any) error
}

func scanReading(row scanner) (models.Reading, error) {
	var r models.Reading
	err := row.Scan(&r.LocationID, &r.Timestamp, &r.Dust, &r.PM10, &r.PM25, &r.AQI, &r.Temperature, &r.Humidity, &r.WindSpeed, &r.WindDirection, &r.Visibility, &r.Pressure)
	return r, err
}

// QueryReadings returns a location's live readings at or after since, oldest
// first. Fallback rows are excluded: they are synthetic or re-stamped copies
// and must not be treated as observations.
func (s *Store) QueryReadings(locationID string, since time.Time) ([]models.Reading, error) {
	rows, err := s.db.Query(`
		SELECT `+readingColumns+`
		FROM readings
		WHERE location_id = ? AND observed_at >= ? AND fallback = FALSE
		ORDER BY observed_at ASC
	`, locationID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []models.Reading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// QueryRecords returns every stored reading for a location at or after since,
// fallbacks included, oldest first.
func (s *Store) QueryRecords(locationID string, since time.Time) ([]ReadingRecord, error) {
	rows, err := s.db.Query(`
		SELECT `+readingColumns+`, confidence, sources_used, quality_score, data_quality, fallback
		FROM readings
		WHERE location_id = ? AND observed_at >= ?
		ORDER BY observed_at ASC
	`, locationID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ReadingRecord
	for rows.Next() {
		var rec ReadingRecord
		var confidence, qualityScore sql.NullFloat64
		var sourcesUsed sql.NullInt64
		var dataQuality sql.NullString
		r := &rec.Reading
		if err := rows.Scan(&r.LocationID, &r.Timestamp, &r.Dust, &r.PM10, &r.PM25, &r.AQI, &r.Temperature, &r.Humidity, &r.WindSpeed, &r.WindDirection, &r.Visibility, &r.Pressure,
			&confidence, &sourcesUsed, &qualityScore, &dataQuality, &rec.Fallback); err != nil {
			return nil, err
		}
		rec.Confidence = confidence.Float64
		rec.SourcesUsed = int(sourcesUsed.Int64)
		rec.QualityScore = qualityScore.Float64
		rec.DataQuality = dataQuality.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

// InsertPredictions stores a forecast's hourly predictions in one transaction.
func (s *Store) InsertPredictions(preds []models.PredictionRecord) error {
	if len(preds) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO predictions (location_id, created_at, target_time, horizon_hour, value, confidence, breakdown_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(location_id, created_at, horizon_hour) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, p := range preds {
		var breakdown sql.NullString
		if len(p.Breakdown) > 0 {
			b, err := json.Marshal(p.Breakdown)
			if err != nil {
				return fmt.Errorf("marshal breakdown: %w", err)
			}
			breakdown = sql.NullString{String: string(b), Valid: true}
		}
		if _, err := stmt.Exec(p.LocationID, p.CreatedAt.UTC(), p.TargetTime.UTC(), p.HorizonHour, p.Value, p.Confidence, breakdown); err != nil {
			return fmt.Errorf("insert prediction %s+%d: %w", p.LocationID, p.HorizonHour, err)
		}
	}

	return tx.Commit()
}

// PendingPredictions returns the predictions not yet validated whose target
// time is at or after since, oldest first. Used to refill the validation
// buffer after a restart.
func (s *Store) PendingPredictions(locationID string, since time.Time) ([]models.PredictionRecord, error) {
	rows, err := s.db.Query(`
		SELECT location_id, created_at, target_time, horizon_hour, value, confidence, breakdown_json
		FROM predictions
		WHERE location_id = ? AND target_time >= ? AND validated_at IS NULL
		ORDER BY created_at ASC, horizon_hour ASC
	`, locationID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var preds []models.PredictionRecord
	for rows.Next() {
		var p models.PredictionRecord
		var breakdown sql.NullString
		if err := rows.Scan(&p.LocationID, &p.CreatedAt, &p.TargetTime, &p.HorizonHour, &p.Value, &p.Confidence, &breakdown); err != nil {
			return nil, err
		}
		if breakdown.Valid {
			if err := json.Unmarshal([]byte(breakdown.String), &p.Breakdown); err != nil {
				return nil, fmt.Errorf("unmarshal breakdown: %w", err)
			}
		}
		preds = append(preds, p)
	}
	return preds, rows.Err()
}

// MarkValidated records that predictions were scored at the given time so
// they are not restored into the validation buffer again.
func (s *Store) MarkValidated(preds []models.PredictionRecord, at time.Time) error {
	if len(preds) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		UPDATE predictions SET validated_at = ?
		WHERE location_id = ? AND created_at = ? AND horizon_hour = ? AND validated_at IS NULL
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, p := range preds {
		if _, err := stmt.Exec(at.UTC(), p.LocationID, p.CreatedAt.UTC(), p.HorizonHour); err != nil {
			return fmt.Errorf("mark prediction %s+%d: %w", p.LocationID, p.HorizonHour, err)
		}
	}

	return tx.Commit()
}

// ValidationRecord is one validation pass as persisted.
type ValidationRecord struct {
	LocationID        string
	ValidatedAt       time.Time
	Matches           int
	Accuracy          float64
	MAE               float64
	RMSE              float64
	MAPE              float64
	Bias              float64
	CalibrationFactor float64
	BiasCorrection    float64
}

func (s *Store) InsertValidation(v ValidationRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO validations (location_id, validated_at, matches, accuracy, mae, rmse, mape, bias, calibration_factor, bias_correction)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, v.LocationID, v.ValidatedAt.UTC(), v.Matches, v.Accuracy, v.MAE, v.RMSE, v.MAPE, v.Bias, v.CalibrationFactor, v.BiasCorrection)
	return err
}

// RecentValidations returns the newest validations for a location, newest first.
func (s *Store) RecentValidations(locationID string, limit int) ([]ValidationRecord, error) {
	rows, err := s.db.Query(`
		SELECT location_id, validated_at, matches, accuracy, mae, rmse, mape, bias, calibration_factor, bias_correction
		FROM validations
		WHERE location_id = ?
		ORDER BY validated_at DESC, id DESC
		LIMIT ?
	`, locationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ValidationRecord
	for rows.Next() {
		var v ValidationRecord
		if err := rows.Scan(&v.LocationID, &v.ValidatedAt, &v.Matches, &v.Accuracy, &v.MAE, &v.RMSE, &v.MAPE, &v.Bias, &v.CalibrationFactor, &v.BiasCorrection); err != nil {
			return nil, err
		}
		results = append(results, v)
	}
	return results, rows.Err()
}

type Calibration struct {
	Factor    float64
	Bias      float64
	UpdatedAt time.Time
}

func (s *Store) SaveCalibration(locationID string, factor, bias float64) error {
	_, err := s.db.Exec(`
		INSERT INTO calibration (location_id, factor, bias, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(location_id) DO UPDATE SET
			factor = excluded.factor,
			bias = excluded.bias,
			updated_at = excluded.updated_at
	`, locationID, factor, bias, time.Now().UTC())
	return err
}

func (s *Store) LoadCalibrations() (map[string]Calibration, error) {
	rows, err := s.db.Query(`SELECT location_id, factor, bias, updated_at FROM calibration`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Calibration)
	for rows.Next() {
		var id string
		var c Calibration
		if err := rows.Scan(&id, &c.Factor, &c.Bias, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out[id] = c
	}
	return out, rows.Err()
}

// PruneBefore deletes readings and predictions older than cutoff and reports
// how many rows went.
func (s *Store) PruneBefore(cutoff time.Time) (int64, error) {
	var total int64
	for _, q := range []string{
		`DELETE FROM readings WHERE observed_at < ?`,
		`DELETE FROM predictions WHERE target_time < ?`,
	} {
		res, err := s.db.Exec(q, cutoff.UTC())
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
