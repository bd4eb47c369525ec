package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Job statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// Store manages the PostgreSQL connection holding the job history.
type Store struct {
	conn *pgx.Conn
}

// JobStart is what is known about a job before it runs.
type JobStart struct {
	InputPath   string
	Fingerprint string
	OutputPath  string
	Ratio       float64
	Pitch       float64
}

// JobOutcome is what a finished job reports.
type JobOutcome struct {
	Token        string
	Status       string
	ErrorKind    string
	Error        string
	Frames       int
	Detections   int
	AudioShifted bool
	OutputBytes  int64
}

// Job is one row of the history.
type Job struct {
	ID int64
	JobStart
	JobOutcome
	StartedAt  time.Time
	FinishedAt *time.Time
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS mosaic_jobs (
			id BIGSERIAL PRIMARY KEY,
			job_token TEXT,
			input_path TEXT NOT NULL,
			input_fingerprint TEXT NOT NULL,
			output_path TEXT NOT NULL,
			ratio DOUBLE PRECISION NOT NULL,
			pitch DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL,
			error_kind TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			frames INT NOT NULL DEFAULT 0,
			detections INT NOT NULL DEFAULT 0,
			audio_shifted BOOLEAN NOT NULL DEFAULT FALSE,
			output_bytes BIGINT NOT NULL DEFAULT 0,
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			finished_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS mosaic_jobs_fingerprint_idx ON mosaic_jobs (input_fingerprint);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// StartJob records a job as running and returns its row ID.
func (s *Store) StartJob(ctx context.Context, j JobStart) (int64, error) {
	var id int64
	err := s.conn.QueryRow(ctx, `
		INSERT INTO mosaic_jobs (input_path, input_fingerprint, output_path, ratio, pitch, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, j.InputPath, j.Fingerprint, j.OutputPath, j.Ratio, j.Pitch, StatusRunning).Scan(&id)
	return id, err
}

// FinishJob stores the outcome of a job started with StartJob.
func (s *Store) FinishJob(ctx context.Context, id int64, o JobOutcome) error {
	tag, err := s.conn.Exec(ctx, `
		UPDATE mosaic_jobs
		SET job_token = $2, status = $3, error_kind = $4, error = $5,
			frames = $6, detections = $7, audio_shifted = $8, output_bytes = $9,
			finished_at = NOW()
		WHERE id = $1
	`, id, o.Token, o.Status, o.ErrorKind, o.Error, o.Frames, o.Detections, o.AudioShifted, o.OutputBytes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %d not found", id)
	}
	return nil
}

const jobColumns = `id, COALESCE(job_token, ''), input_path, input_fingerprint, output_path, ratio, pitch,
	status, error_kind, error, frames, detections, audio_shifted, output_bytes, started_at, finished_at`

func scanJob(row pgx.Row) (Job, error) {
	var j Job
	err := row.Scan(&j.ID, &j.Token, &j.InputPath, &j.Fingerprint, &j.OutputPath, &j.Ratio, &j.Pitch,
		&j.Status, &j.ErrorKind, &j.Error, &j.Frames, &j.Detections, &j.AudioShifted, &j.OutputBytes,
		&j.StartedAt, &j.FinishedAt)
	return j, err
}

// ListJobs returns the most recent jobs first. A non-positive limit returns everything.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	query := "SELECT " + jobColumns + " FROM mosaic_jobs ORDER BY started_at DESC, id DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// LastSuccess returns the latest successful job for an input fingerprint, or nil.
func (s *Store) LastSuccess(ctx context.Context, fingerprint string) (*Job, error) {
	row := s.conn.QueryRow(ctx, "SELECT "+jobColumns+` FROM mosaic_jobs
		WHERE input_fingerprint = $1 AND status = $2
		ORDER BY finished_at DESC LIMIT 1`, fingerprint, StatusSucceeded)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `DROP TABLE IF EXISTS mosaic_jobs CASCADE;`)
	return err
}
