// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store persists benchmark reports in SQLite so runs can be
// compared over time.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ManuGH/encbench/internal/persistence/sqlite"
	"github.com/ManuGH/encbench/internal/stats"
)

// Run is the summary row of one stored report.
type Run struct {
	ID          string
	TestID      string
	Description string
	Codec       string
	Frames      int
	MeanBitrate int64
	ProcTime    time.Duration
	EncodedFile string
	Error       string
	CreatedAt   time.Time
}

// Store is a SQLite results database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path and migrates it.
func Open(path string) (*Store, error) {
	db, err := sqlite.Open(path, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate results db: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		test_id TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		codec TEXT NOT NULL DEFAULT '',
		frames INTEGER NOT NULL DEFAULT 0,
		mean_bitrate INTEGER NOT NULL DEFAULT 0,
		proc_time_ns INTEGER NOT NULL DEFAULT 0,
		encoded_file TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS frames (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		frame INTEGER NOT NULL,
		original_frame INTEGER NOT NULL,
		pts INTEGER NOT NULL,
		size INTEGER NOT NULL,
		iframe INTEGER NOT NULL CHECK(iframe IN (0, 1)),
		proc_time_ns INTEGER NOT NULL,
		PRIMARY KEY (run_id, frame)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_test ON runs(test_id);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save stores a report and its frames in one transaction. Saving the same
// id twice replaces the earlier row.
func (s *Store) Save(ctx context.Context, testID string, r stats.Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, r.ID); err != nil {
		return fmt.Errorf("replace run %s: %w", r.ID, err)
	}
	_, err = tx.ExecContext(ctx, `
	INSERT INTO runs (id, test_id, description, codec, frames, mean_bitrate, proc_time_ns, encoded_file, error, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, testID, r.Description, r.Codec, r.FrameCount, r.MeanBitrate, r.ProcTime, r.EncodedFile, r.Error,
		s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO frames (run_id, frame, original_frame, pts, size, iframe, proc_time_ns)
	VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare frames: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	for _, f := range r.Frames {
		if _, err := stmt.ExecContext(ctx, r.ID, f.Frame, f.OriginalFrame, f.PTS, f.Size, f.IFrame, f.ProcTime); err != nil {
			return fmt.Errorf("insert frame %d of %s: %w", f.Frame, r.ID, err)
		}
	}
	return tx.Commit()
}

// Runs returns the newest runs first, at most limit (0 means all).
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	query := `
	SELECT id, test_id, description, codec, frames, mean_bitrate, proc_time_ns, encoded_file, error, created_at
	FROM runs
	ORDER BY created_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Run
	for rows.Next() {
		var (
			r       Run
			procNs  int64
			created string
		)
		if err := rows.Scan(&r.ID, &r.TestID, &r.Description, &r.Codec, &r.Frames, &r.MeanBitrate, &procNs, &r.EncodedFile, &r.Error, &created); err != nil {
			return nil, err
		}
		r.ProcTime = time.Duration(procNs)
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			r.CreatedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FrameSizes returns the encoded sizes of a run ordered by frame.
func (s *Store) FrameSizes(ctx context.Context, runID string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT size FROM frames WHERE run_id = ? ORDER BY frame`, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []int64
	for rows.Next() {
		var size int64
		if err := rows.Scan(&size); err != nil {
			return nil, err
		}
		out = append(out, size)
	}
	return out, rows.Err()
}
