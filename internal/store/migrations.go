package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lox/smosaic/internal/log"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    collection TEXT NOT NULL,
    band TEXT NOT NULL,
    window_start DATETIME,
    window_end DATETIME,
    status TEXT NOT NULL,
    error_message TEXT,
    started_at DATETIME NOT NULL,
    finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS run_candidates (
    run_id TEXT NOT NULL REFERENCES runs(id),
    scene_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    observation_id TEXT NOT NULL,
    date_token TEXT NOT NULL,
    day_of_year INTEGER NOT NULL,
    fallback BOOLEAN NOT NULL DEFAULT FALSE,
    contributed INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, scene_id, position)
);

CREATE TABLE IF NOT EXISTS run_outputs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id),
    scene_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    path TEXT NOT NULL,
    created_at DATETIME NOT NULL
);
`,
	},
	{
		Version:     2,
		Description: "Run lookup indexes",
		SQL: `
CREATE INDEX IF NOT EXISTS idx_runs_band_started ON runs(band, started_at);
CREATE INDEX IF NOT EXISTS idx_run_outputs_run ON run_outputs(run_id);
CREATE INDEX IF NOT EXISTS idx_run_candidates_observation ON run_candidates(observation_id);
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

		log.Infof("migrations: applying %d - %s", m.Version, m.Description)

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

		log.Infof("migrations: completed %d", m.Version)
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
