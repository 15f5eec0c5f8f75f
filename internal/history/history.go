// Package history persists completed deployment runs in SQLite so
// operators can audit what was commanded and how it ended.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/meridianspace/antdeploy/internal/ants"
)

// Store records deployment runs in a SQLite database.
type Store struct {
	*sql.DB
}

var _ ants.Recorder = (*Store)(nil)

// Open opens or creates the history database at the given path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS deploy_runs (
			run_id            TEXT PRIMARY KEY,
			operation         TEXT NOT NULL,
			channel           INTEGER NOT NULL,
			mode              TEXT NOT NULL,
			burn_ms           BIGINT NOT NULL,
			attempts          INTEGER NOT NULL,
			outcome           TEXT NOT NULL,
			error             TEXT NOT NULL DEFAULT '',
			started_at        TEXT NOT NULL,
			finished_at       TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_deploy_runs_started ON deploy_runs(started_at);
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db}, nil
}

// RecordDeployment stores one finished run. It implements ants.Recorder.
func (s *Store) RecordDeployment(rec ants.DeploymentRecord) error {
	_, err := s.Exec(
		`INSERT INTO deploy_runs (
			run_id, operation, channel, mode, burn_ms, attempts,
			outcome, error, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID,
		rec.Operation,
		rec.Channel,
		rec.Mode,
		rec.Burn.Milliseconds(),
		rec.Attempts,
		rec.Outcome,
		rec.Error,
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// Runs returns the most recent deployment runs, newest first. A limit
// outside 1..1000 falls back to 100.
func (s *Store) Runs(limit int) ([]ants.DeploymentRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := s.Query(
		`SELECT run_id, operation, channel, mode, burn_ms, attempts,
			outcome, error, started_at, finished_at
		FROM deploy_runs ORDER BY started_at DESC, run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []ants.DeploymentRecord
	for rows.Next() {
		var (
			rec        ants.DeploymentRecord
			channel    int64
			burnMs     int64
			attempts   int64
			startedAt  string
			finishedAt string
		)
		if err := rows.Scan(
			&rec.RunID,
			&rec.Operation,
			&channel,
			&rec.Mode,
			&burnMs,
			&attempts,
			&rec.Outcome,
			&rec.Error,
			&startedAt,
			&finishedAt,
		); err != nil {
			return nil, err
		}
		rec.Channel = uint8(channel)
		rec.Burn = time.Duration(burnMs) * time.Millisecond
		rec.Attempts = uint32(attempts)
		if rec.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at %q: %w", startedAt, err)
		}
		if rec.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedAt); err != nil {
			return nil, fmt.Errorf("parse finished_at %q: %w", finishedAt, err)
		}
		runs = append(runs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return runs, nil
}
