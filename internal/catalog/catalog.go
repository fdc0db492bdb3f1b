// Package catalog keeps a history of archive runs in a SQLite database.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"epubslim/internal/pipeline"
	"epubslim/internal/transform"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("catalog: run not found")

// Run is one stored report header.
type Run struct {
	ID           string
	Archive      string
	DryRun       bool
	Outcome      pipeline.Outcome
	Reason       string
	OutputPath   string
	MovedTo      string
	OriginalSize int64
	OutputSize   int64
	Images       int
	Changed      int
	Started      time.Time
	Elapsed      time.Duration
}

// Saved is the byte difference of a packaged run.
func (r Run) Saved() int64 {
	if r.Outcome != pipeline.OutcomePackaged {
		return 0
	}
	return r.OriginalSize - r.OutputSize
}

// Store wraps the database handle.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and migrates it.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			archive TEXT NOT NULL,
			dry_run BOOLEAN NOT NULL DEFAULT FALSE,
			outcome TEXT NOT NULL,
			reason TEXT,
			output_path TEXT,
			moved_to TEXT,
			original_size INTEGER NOT NULL DEFAULT 0,
			output_size INTEGER NOT NULL DEFAULT 0,
			started_at INTEGER NOT NULL,
			elapsed_ms INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS images (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			name TEXT NOT NULL,
			new_name TEXT,
			original_size INTEGER NOT NULL DEFAULT 0,
			new_size INTEGER NOT NULL DEFAULT 0,
			resize_percent REAL,
			compression_percent REAL,
			renamed BOOLEAN NOT NULL DEFAULT FALSE,
			changed BOOLEAN NOT NULL DEFAULT FALSE,
			reference_status TEXT,
			total_refs INTEGER NOT NULL DEFAULT 0,
			updated_refs INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			FOREIGN KEY (run_id) REFERENCES runs(id)
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			name TEXT NOT NULL,
			refs_updated INTEGER NOT NULL DEFAULT 0,
			warnings TEXT,
			error TEXT,
			FOREIGN KEY (run_id) REFERENCES runs(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_images_run ON images(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_run ON documents(run_id)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}
	return nil
}

// Record stores a report with its image and document rows in one transaction.
func (s *Store) Record(ctx context.Context, r *pipeline.Report) error {
	if r == nil || r.RunID == "" {
		return errors.New("catalog: report without run id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO runs
		(id, archive, dry_run, outcome, reason, output_path, moved_to, original_size, output_size, started_at, elapsed_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Archive, r.DryRun, string(r.Outcome), r.Reason, r.OutputPath, r.MovedTo,
		r.OriginalSize, r.OutputSize, r.Started.UnixMilli(), r.Elapsed.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, img := range r.Images {
		_, err = tx.ExecContext(ctx, `INSERT INTO images
			(run_id, name, new_name, original_size, new_size, resize_percent, compression_percent,
			 renamed, changed, reference_status, total_refs, updated_refs, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.RunID, img.Name, img.NewName, img.OriginalSize, img.NewSize, img.ResizePercent, img.CompressionPercent,
			img.Renamed, img.Changed, string(img.ReferenceStatus), img.TotalReferences, img.UpdatedReferences, img.Error)
		if err != nil {
			return fmt.Errorf("failed to insert image %s: %w", img.Name, err)
		}
	}

	for _, doc := range r.Documents {
		_, err = tx.ExecContext(ctx, `INSERT INTO documents (run_id, name, refs_updated, warnings, error)
			VALUES (?, ?, ?, ?, ?)`,
			r.RunID, doc.Name, doc.ReferencesUpdated, strings.Join(doc.Warnings, "\n"), doc.Error)
		if err != nil {
			return fmt.Errorf("failed to insert document %s: %w", doc.Name, err)
		}
	}

	return tx.Commit()
}

const runColumns = `r.id, r.archive, r.dry_run, r.outcome, COALESCE(r.reason, ''), COALESCE(r.output_path, ''),
	COALESCE(r.moved_to, ''), r.original_size, r.output_size, r.started_at, r.elapsed_ms,
	(SELECT COUNT(*) FROM images i WHERE i.run_id = r.id),
	(SELECT COUNT(*) FROM images i WHERE i.run_id = r.id AND i.changed)`

// Recent lists up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs r
		ORDER BY r.started_at DESC, r.id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Get loads a single run header.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs r WHERE r.id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	return run, err
}

// Images returns the image rows of a run ordered by name.
func (s *Store) Images(ctx context.Context, id string) ([]pipeline.ImageReport, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, COALESCE(new_name, ''), original_size, new_size,
		COALESCE(resize_percent, 0), COALESCE(compression_percent, 0), renamed, changed,
		COALESCE(reference_status, ''), total_refs, updated_refs, COALESCE(error, '')
		FROM images WHERE run_id = ? ORDER BY name`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query images: %w", err)
	}
	defer rows.Close()

	var out []pipeline.ImageReport
	for rows.Next() {
		var img pipeline.ImageReport
		var status string
		if err := rows.Scan(&img.Name, &img.NewName, &img.OriginalSize, &img.NewSize,
			&img.ResizePercent, &img.CompressionPercent, &img.Renamed, &img.Changed,
			&status, &img.TotalReferences, &img.UpdatedReferences, &img.Error); err != nil {
			return nil, fmt.Errorf("failed to scan image: %w", err)
		}
		img.ReferenceStatus = transform.ReferenceStatus(status)
		out = append(out, img)
	}
	return out, rows.Err()
}

// Prune deletes runs started before cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ms := cutoff.UnixMilli()
	for _, child := range []string{"images", "documents"} {
		q := `DELETE FROM ` + child + ` WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)`
		if _, err := tx.ExecContext(ctx, q, ms); err != nil {
			return 0, fmt.Errorf("failed to prune %s: %w", child, err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, ms)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var run Run
	var outcome string
	var started, elapsed int64
	err := sc.Scan(&run.ID, &run.Archive, &run.DryRun, &outcome, &run.Reason, &run.OutputPath,
		&run.MovedTo, &run.OriginalSize, &run.OutputSize, &started, &elapsed, &run.Images, &run.Changed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("failed to scan run: %w", err)
	}
	run.Outcome = pipeline.Outcome(outcome)
	run.Started = time.UnixMilli(started)
	run.Elapsed = time.Duration(elapsed) * time.Millisecond
	return run, nil
}
