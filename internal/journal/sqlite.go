// Package journal persists job history in SQLite so interrupted jobs can be
// listed and their temporary files cleaned up.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"fop-go/internal/fop"
	"fop-go/internal/journal/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// StateInterrupted marks a job that never reported its end, usually
// because the process died while it ran.
const StateInterrupted = "interrupted"

// JobRecord is one row of the job history.
type JobRecord struct {
	ID         string
	Type       string
	Flags      string
	Mode       fs.FileMode
	Sources    []string
	Target     string
	State      string
	Outcome    string
	Reason     string
	StartedAt  time.Time
	FinishedAt *time.Time

	TotalFiles     int64
	CompletedFiles int64
	TotalBytes     int64
	CompletedBytes int64
}

// Finished reports whether the job reached a terminal state while its
// process was alive.
func (r *JobRecord) Finished() bool { return r.FinishedAt != nil && r.State != StateInterrupted }

// EntryRecord is one processed source entry of a job.
type EntryRecord struct {
	Source string
	Target string
	Size   int64
	Status string
}

// SQLiteJournal implements fop.Journal on a SQLite database.
type SQLiteJournal struct {
	db   *sql.DB
	path string
}

// NewSQLiteJournal opens the journal at path, migrating its schema.
// path can be a file path or ":memory:".
func NewSQLiteJournal(path string) (*SQLiteJournal, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteJournal{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to configure journal (%s): %w", pragma, err)
		}
	}
	return db, nil
}

func (s *SQLiteJournal) Path() string { return s.path }

// CheckMigrations verifies the schema is at the version this binary expects.
func (s *SQLiteJournal) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

func (s *SQLiteJournal) Close() error { return s.db.Close() }

func (s *SQLiteJournal) JobStarted(job *fop.Job, at time.Time) error {
	sources := make([]string, len(job.Sources))
	for i, u := range job.Sources {
		sources[i] = u.String()
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, flags, mode, sources, target, state, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Type.String(), job.Flags.String(), int64(job.Mode),
		strings.Join(sources, "\n"), job.Target.String(), fop.StateRunning.String(), at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record job %s: %w", job.ID, err)
	}
	return nil
}

func (s *SQLiteJournal) PartPending(jobID string, part fop.URL) error {
	_, err := s.db.Exec(`
		INSERT INTO parts (job_id, url, resolved) VALUES (?, ?, 0)
		ON CONFLICT (job_id, url) DO UPDATE SET resolved = 0`,
		jobID, part.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to record part %s: %w", part, err)
	}
	return nil
}

func (s *SQLiteJournal) PartResolved(jobID string, part fop.URL) error {
	_, err := s.db.Exec(`UPDATE parts SET resolved = 1 WHERE job_id = ? AND url = ?`, jobID, part.String())
	if err != nil {
		return fmt.Errorf("failed to resolve part %s: %w", part, err)
	}
	return nil
}

func (s *SQLiteJournal) EntryDone(jobID string, e fop.JournalEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO entries (job_id, source, target, size, status) VALUES (?, ?, ?, ?, ?)`,
		jobID, e.Source.String(), e.Target.String(), e.Size, string(e.Status),
	)
	if err != nil {
		return fmt.Errorf("failed to record entry %s: %w", e.Source, err)
	}
	return nil
}

func (s *SQLiteJournal) JobFinished(r *fop.JobResult, at time.Time) error {
	res, err := s.db.Exec(`
		UPDATE jobs SET state = ?, outcome = ?, reason = ?, finished_at = ?,
			total_files = ?, completed_files = ?, total_bytes = ?, completed_bytes = ?
		WHERE id = ?`,
		r.State.String(), r.Outcome.String(), r.Reason, at.UTC(),
		r.Progress.TotalFiles, r.Progress.CompletedFiles, r.Progress.TotalBytes, r.Progress.CompletedBytes,
		r.JobID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish job %s: %w", r.JobID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("job not found: %s", r.JobID)
	}
	return nil
}

const jobColumns = `id, type, flags, mode, sources, target, state, outcome, reason, started_at, finished_at,
	total_files, completed_files, total_bytes, completed_bytes`

func scanJob(row interface{ Scan(...any) error }) (*JobRecord, error) {
	var (
		r        JobRecord
		mode     int64
		sources  string
		finished sql.NullTime
	)
	err := row.Scan(&r.ID, &r.Type, &r.Flags, &mode, &sources, &r.Target, &r.State, &r.Outcome, &r.Reason,
		&r.StartedAt, &finished, &r.TotalFiles, &r.CompletedFiles, &r.TotalBytes, &r.CompletedBytes)
	if err != nil {
		return nil, err
	}
	r.Mode = fs.FileMode(mode)
	if sources != "" {
		r.Sources = strings.Split(sources, "\n")
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return &r, nil
}

func (s *SQLiteJournal) queryJobs(query string, args ...any) ([]*JobRecord, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*JobRecord
	for rows.Next() {
		r, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, r)
	}
	return jobs, rows.Err()
}

// ListJobs returns the most recent jobs first. A limit of 0 or less
// returns all of them.
func (s *SQLiteJournal) ListJobs(limit int) ([]*JobRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	jobs, err := s.queryJobs(`SELECT `+jobColumns+` FROM jobs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// FindJob returns nil if the job does not exist.
func (s *SQLiteJournal) FindJob(id string) (*JobRecord, error) {
	r, err := scanJob(s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find job %s: %w", id, err)
	}
	return r, nil
}

// Unfinished returns jobs that started but never reported their end.
func (s *SQLiteJournal) Unfinished() ([]*JobRecord, error) {
	jobs, err := s.queryJobs(`SELECT ` + jobColumns + ` FROM jobs WHERE finished_at IS NULL ORDER BY started_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list unfinished jobs: %w", err)
	}
	return jobs, nil
}

// Entries returns the processed entries of a job in the order they were
// recorded.
func (s *SQLiteJournal) Entries(jobID string) ([]EntryRecord, error) {
	rows, err := s.db.Query(`SELECT source, target, size, status FROM entries WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var entries []EntryRecord
	for rows.Next() {
		var e EntryRecord
		if err := rows.Scan(&e.Source, &e.Target, &e.Size, &e.Status); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PendingParts returns the temporary targets of a job that were never
// renamed or removed.
func (s *SQLiteJournal) PendingParts(jobID string) ([]fop.URL, error) {
	rows, err := s.db.Query(`SELECT url FROM parts WHERE job_id = ? AND resolved = 0 ORDER BY url`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list parts: %w", err)
	}
	defer rows.Close()

	var parts []fop.URL
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		u, err := fop.ParseURL(raw)
		if err != nil {
			return nil, fmt.Errorf("part of job %s: %w", jobID, err)
		}
		parts = append(parts, u)
	}
	return parts, rows.Err()
}

// MarkInterrupted closes a job that never finished.
func (s *SQLiteJournal) MarkInterrupted(jobID string, at time.Time) error {
	_, err := s.db.Exec(`
		UPDATE jobs SET state = ?, outcome = ?, reason = ?, finished_at = ?
		WHERE id = ? AND finished_at IS NULL`,
		StateInterrupted, fop.OutcomeFailed.String(), "interrupted", at.UTC(), jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job %s interrupted: %w", jobID, err)
	}
	return nil
}

// Prune deletes finished jobs that started before cutoff, with their
// entries and parts.
func (s *SQLiteJournal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE finished_at IS NOT NULL AND started_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune journal: %w", err)
	}
	return res.RowsAffected()
}

var _ fop.Journal = (*SQLiteJournal)(nil)
