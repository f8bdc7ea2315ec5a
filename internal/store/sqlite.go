// Package store is the SQLite ledger of compositing runs: which candidates
// were folded, what each contributed and which files were written.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lox/smosaic/internal/models"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) StartRun(run models.Run) error {
	if run.Status == "" {
		run.Status = StatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (id, collection, band, window_start, window_end, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Collection, run.Band, run.WindowStart, run.WindowEnd, run.Status, run.StartedAt)
	return err
}

// FinishRun marks a run succeeded, or failed with runErr's message.
func (s *Store) FinishRun(id string, runErr error) error {
	status, message := StatusSucceeded, sql.NullString{}
	if runErr != nil {
		status = StatusFailed
		message = sql.NullString{String: runErr.Error(), Valid: true}
	}
	res, err := s.db.Exec(`
		UPDATE runs SET status = ?, error_message = ?, finished_at = ?
		WHERE id = ?
	`, status, message, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: no such run", id)
	}
	return nil
}

func (s *Store) RecordCandidates(records []models.CandidateRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT INTO run_candidates (run_id, scene_id, position, observation_id, date_token, day_of_year, fallback, contributed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, scene_id, position) DO UPDATE SET
			observation_id = excluded.observation_id,
			date_token = excluded.date_token,
			day_of_year = excluded.day_of_year,
			fallback = excluded.fallback,
			contributed = excluded.contributed
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(r.RunID, r.SceneID, r.Position, r.ObservationID, r.DateToken, r.DayOfYear, r.Fallback, r.Contributed); err != nil {
			tx.Rollback()
			return fmt.Errorf("record candidate %s/%d: %w", r.SceneID, r.Position, err)
		}
	}
	return tx.Commit()
}

func (s *Store) RecordOutput(rec models.OutputRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO run_outputs (run_id, scene_id, kind, path, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, rec.RunID, rec.SceneID, rec.Kind, rec.Path, time.Now().UTC())
	return err
}

func (s *Store) GetRun(id string) (*models.Run, error) {
	row := s.db.QueryRow(`
		SELECT id, collection, band, window_start, window_end, status, error_message, started_at, finished_at
		FROM runs
		WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// ListRuns returns the most recent runs, newest first. An empty band lists
// every band.
func (s *Store) ListRuns(band string, limit int) ([]models.Run, error) {
	rows, err := s.db.Query(`
		SELECT id, collection, band, window_start, window_end, status, error_message, started_at, finished_at
		FROM runs
		WHERE ? = '' OR band = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, band, band, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (s *Store) ListCandidates(runID string) ([]models.CandidateRecord, error) {
	rows, err := s.db.Query(`
		SELECT run_id, scene_id, position, observation_id, date_token, day_of_year, fallback, contributed
		FROM run_candidates
		WHERE run_id = ?
		ORDER BY scene_id, position
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.CandidateRecord
	for rows.Next() {
		var r models.CandidateRecord
		if err := rows.Scan(&r.RunID, &r.SceneID, &r.Position, &r.ObservationID, &r.DateToken, &r.DayOfYear, &r.Fallback, &r.Contributed); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *Store) ListOutputs(runID string) ([]models.OutputRecord, error) {
	rows, err := s.db.Query(`
		SELECT run_id, scene_id, kind, path
		FROM run_outputs
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outputs []models.OutputRecord
	for rows.Next() {
		var o models.OutputRecord
		if err := rows.Scan(&o.RunID, &o.SceneID, &o.Kind, &o.Path); err != nil {
			return nil, err
		}
		outputs = append(outputs, o)
	}
	return outputs, rows.Err()
}

// PruneRuns deletes runs started before the retention window along with
// their candidates and outputs.
func (s *Store) PruneRuns(retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	for _, q := range []string{
		`DELETE FROM run_candidates WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)`,
		`DELETE FROM run_outputs WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)`,
	} {
		if _, err := tx.Exec(q, cutoff); err != nil {
			tx.Rollback()
			return 0, err
		}
	}
	res, err := tx.Exec(`DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*models.Run, error) {
	var (
		run      models.Run
		message  sql.NullString
		finished sql.NullTime
	)
	if err := row.Scan(&run.ID, &run.Collection, &run.Band, &run.WindowStart, &run.WindowEnd,
		&run.Status, &message, &run.StartedAt, &finished); err != nil {
		return nil, err
	}
	run.Error = message.String
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}
