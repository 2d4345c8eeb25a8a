// Package store persists job state in SQLite. It replaces scanning
// directories for state: rows are authoritative, directories hold the bytes.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tonwerk/abschrift/internal/types"
)

// Job is one transcription job owned by a user.
type Job struct {
	ID               int64
	UserID           string
	FileName         string
	SourcePath       string
	Status           string
	Language         string
	EstimatedSeconds float64
	MediaSeconds     float64
	StartedAt        *time.Time
	ErrorMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Store wraps the jobs database.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	file_name TEXT NOT NULL,
	source_path TEXT NOT NULL,
	status TEXT NOT NULL,
	language TEXT NOT NULL DEFAULT 'de',
	estimated_seconds REAL NOT NULL DEFAULT 0,
	media_seconds REAL NOT NULL DEFAULT 0,
	started_at INTEGER,
	error_message TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs(status, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_user ON jobs(user_id);
`

const jobColumns = `id, user_id, file_name, source_path, status, language,
	estimated_seconds, media_seconds, started_at, error_message, created_at, updated_at`

// Open opens (creating if necessary) the jobs database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert records a newly uploaded file as queued. CreatedAt carries the
// upload mtime and fixes the job's position in the global queue.
func (s *Store) Insert(ctx context.Context, job *Job) error {
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.Status == "" {
		job.Status = types.StatusQueued
	}
	if job.Language == "" {
		job.Language = types.DefaultLanguage
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (user_id, file_name, source_path, status, language, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.UserID, job.FileName, job.SourcePath, job.Status, job.Language,
		job.CreatedAt.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	job.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert job id: %w", err)
	}
	job.UpdatedAt = now
	return nil
}

// Claim atomically takes the globally oldest queued job across all users and
// marks it processing. Returns nil when the queue is empty. The single
// UPDATE keeps the claim safe even if a second worker is ever started.
func (s *Store) Claim(ctx context.Context, now time.Time) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs SET status = ?, started_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM jobs WHERE status = ? ORDER BY created_at, id LIMIT 1
		)
		RETURNING `+jobColumns,
		types.StatusProcessing, now.Unix(), now.Unix(), types.StatusQueued,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// SetEstimate records the probe result for a claimed job.
func (s *Store) SetEstimate(ctx context.Context, id int64, estimatedSeconds, mediaSeconds float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET estimated_seconds = ?, media_seconds = ?, updated_at = ? WHERE id = ?`,
		estimatedSeconds, mediaSeconds, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("set estimate: %w", err)
	}
	return nil
}

// MarkDone transitions a job to done.
func (s *Store) MarkDone(ctx context.Context, id int64) error {
	return s.setStatus(ctx, id, types.StatusDone, "")
}

// MarkFailed transitions a job to failed with a user-facing message.
func (s *Store) MarkFailed(ctx context.Context, id int64, message string) error {
	return s.setStatus(ctx, id, types.StatusFailed, message)
}

func (s *Store) setStatus(ctx context.Context, id int64, status, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		status, message, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("set status %s: %w", status, err)
	}
	return nil
}

// ListUser returns all of a user's jobs, oldest first.
func (s *Store) ListUser(ctx context.Context, userID string) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user jobs: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

// ListUnfinished returns every queued or processing job across all users,
// oldest first. The queue view sums these for wait estimates.
func (s *Store) ListUnfinished(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status IN (?, ?) ORDER BY created_at, id`,
		types.StatusQueued, types.StatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("list unfinished jobs: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

// FindActive returns the queued or processing job for (user, file), if any.
func (s *Store) FindActive(ctx context.Context, userID, fileName string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE user_id = ? AND file_name = ? AND status IN (?, ?)
		ORDER BY created_at DESC LIMIT 1`,
		userID, fileName, types.StatusQueued, types.StatusProcessing)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active job: %w", err)
	}
	return job, nil
}

// Remove deletes a job row (cancellation by deletion; queued jobs only —
// the caller checks the status first).
func (s *Store) Remove(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove job: %w", err)
	}
	return nil
}

// ResetStuckProcessing re-queues jobs a previous process left in-flight.
// Called once on startup, before the worker loop begins.
func (s *Store) ResetStuckProcessing(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, started_at = NULL, updated_at = ? WHERE status = ?`,
		types.StatusQueued, time.Now().Unix(), types.StatusProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck jobs: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var startedAt sql.NullInt64
	var createdAt, updatedAt int64
	err := row.Scan(
		&job.ID, &job.UserID, &job.FileName, &job.SourcePath, &job.Status, &job.Language,
		&job.EstimatedSeconds, &job.MediaSeconds, &startedAt, &job.ErrorMessage,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if startedAt.Valid {
		t := time.Unix(startedAt.Int64, 0)
		job.StartedAt = &t
	}
	job.CreatedAt = time.Unix(createdAt, 0)
	job.UpdatedAt = time.Unix(updatedAt, 0)
	return &job, nil
}

func collect(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
