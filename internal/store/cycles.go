package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// CycleRun audits a single collection cycle.
type CycleRun struct {
	ID            string
	StartedAt     time.Time
	FinishedAt    sql.NullTime
	Locations     sql.NullInt64
	SourcesOK     sql.NullInt64
	SourcesFailed sql.NullInt64
	Fallbacks     sql.NullInt64
	Success       bool
	ErrorMessage  sql.NullString
}

// StartCycleRun creates a new cycle run record and returns it.
func (s *Store) StartCycleRun() (*CycleRun, error) {
	run := &CycleRun{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}

	_, err := s.db.Exec(`
		INSERT INTO cycle_runs (id, started_at, success)
		VALUES (?, ?, FALSE)
	`, run.ID, run.StartedAt)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteCycleRun updates the cycle run with results.
func (s *Store) CompleteCycleRun(run *CycleRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE cycle_runs SET
			finished_at = ?,
			locations = ?,
			sources_ok = ?,
			sources_failed = ?,
			fallbacks = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.Locations, run.SourcesOK, run.SourcesFailed, run.Fallbacks,
		run.Success, run.ErrorMessage, run.ID)
	return err
}

// RecentCycleRuns returns the newest cycle runs, newest first.
func (s *Store) RecentCycleRuns(limit int) ([]CycleRun, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, locations, sources_ok, sources_failed, fallbacks, success, error_message
		FROM cycle_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []CycleRun
	for rows.Next() {
		var r CycleRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Locations, &r.SourcesOK,
			&r.SourcesFailed, &r.Fallbacks, &r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
