package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/mtr002/compute-queue/internal/interfaces"
)

// Store handles database operations for jobs
type Store struct {
	db *sql.DB
}

// NewStore creates a new database store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const jobColumns = `id, number_a, number_b, status, created_at, updated_at`

// CreateJob inserts a job and its operation results in one transaction
func (s *Store) CreateJob(ctx context.Context, job *interfaces.Job) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (id, number_a, number_b, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, job.ID, job.NumberA, job.NumberB, job.Status, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	for i, r := range job.Results {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO job_results (job_id, operation, position, status, result, error)
			VALUES ($1, $2, $3, $4, $5::double precision, NULLIF($6, ''))
		`, job.ID, r.Operation, i, r.Status, numberParam(r.Result), r.Error)
		if err != nil {
			return fmt.Errorf("failed to create %s result: %w", r.Operation, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetJob retrieves a job and its results by ID
func (s *Store) GetJob(ctx context.Context, id string) (*interfaces.Job, error) {
	job := &interfaces.Job{}
	err := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id).Scan(
		&job.ID, &job.NumberA, &job.NumberB, &job.Status, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job with ID %s: %w", id, interfaces.ErrJobNotFound)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	if err := s.loadResults(ctx, []*interfaces.Job{job}); err != nil {
		return nil, err
	}
	return job, nil
}

// ListJobs returns the most recent jobs first
func (s *Store) ListJobs(ctx context.Context, limit int) ([]*interfaces.Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT $1`, limit)
}

// FindJobsByStatus returns up to limit jobs in the given status, oldest first
func (s *Store) FindJobsByStatus(ctx context.Context, status interfaces.JobStatus, limit int) ([]*interfaces.Job, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = $2 ORDER BY created_at ASC LIMIT $1`, limit, status)
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]*interfaces.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*interfaces.Job
	for rows.Next() {
		job := &interfaces.Job{}
		if err := rows.Scan(&job.ID, &job.NumberA, &job.NumberB, &job.Status, &job.CreatedAt, &job.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	if err := s.loadResults(ctx, jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// loadResults fills in the operation results for every job with one query
func (s *Store) loadResults(ctx context.Context, jobs []*interfaces.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	byID := make(map[string]*interfaces.Job, len(jobs))
	ids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		byID[job.ID] = job
		ids = append(ids, job.ID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, operation, status, result, COALESCE(error, '')
		FROM job_results WHERE job_id = ANY($1)
		ORDER BY job_id, position
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to query job results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			jobID  string
			r      interfaces.OperationResult
			result sql.NullFloat64
		)
		if err := rows.Scan(&jobID, &r.Operation, &r.Status, &result, &r.Error); err != nil {
			return fmt.Errorf("failed to scan job result: %w", err)
		}
		if result.Valid {
			r.Result = interfaces.NewNumber(result.Float64)
		}
		if job, ok := byID[jobID]; ok {
			job.Results = append(job.Results, r)
		}
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("error iterating result rows: %w", err)
	}
	return nil
}

// UpdateJobStatus moves a job to status, refusing transitions that reverse the lifecycle
func (s *Store) UpdateJobStatus(ctx context.Context, id string, status interfaces.JobStatus) error {
	from := make([]string, 0, 2)
	for _, st := range interfaces.Predecessors(status) {
		from = append(from, string(st))
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = $2, updated_at = $3
		WHERE id = $1 AND status = ANY($4)
	`, id, status, time.Now(), pq.Array(from))
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var current interfaces.JobStatus
	err = s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("job with ID %s: %w", id, interfaces.ErrJobNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read job status: %w", err)
	}
	if current == status {
		return nil
	}
	return fmt.Errorf("job %s %s -> %s: %w", id, current, status, interfaces.ErrInvalidTransition)
}

// ClaimJob moves a pending job to processing. SKIP LOCKED keeps concurrent
// claimers from waiting on each other; the loser simply sees zero rows.
func (s *Store) ClaimJob(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = $2, updated_at = $3
		WHERE id = (
			SELECT id FROM jobs WHERE id = $1 AND status = $4
			FOR UPDATE SKIP LOCKED
		)
	`, id, interfaces.StatusProcessing, time.Now(), interfaces.StatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// UpdateOperationResult updates the single result entry matching op
func (s *Store) UpdateOperationResult(ctx context.Context, id string, op interfaces.Operation, result *float64, status interfaces.JobStatus, errMsg string) error {
	var value *interfaces.Number
	if result != nil {
		value = interfaces.NewNumber(*result)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE job_results SET status = $3, result = $4::double precision, error = NULLIF($5, '')
		WHERE job_id = $1 AND operation = $2
	`, id, op, status, numberParam(value), errMsg)
	if err != nil {
		return fmt.Errorf("failed to update %s result: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("job with ID %s operation %s: %w", id, op, interfaces.ErrJobNotFound)
	}

	if _, err = tx.ExecContext(ctx, `UPDATE jobs SET updated_at = $2 WHERE id = $1`, id, time.Now()); err != nil {
		return fmt.Errorf("failed to touch job: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// numberParam renders a result as text so that NaN and the infinities reach
// Postgres in a spelling it accepts for double precision.
func numberParam(n *interfaces.Number) any {
	if n == nil {
		return nil
	}
	return n.String()
}
