package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"solana-volume-engine/internal/domain"
	"solana-volume-engine/internal/observability"
	"solana-volume-engine/internal/storage"
)

// JobStore implements storage.JobStore using PostgreSQL.
// Transitions are guarded in the UPDATE itself so concurrent redeliveries cannot regress a row.
type JobStore struct {
	pool *Pool
}

// NewJobStore creates a new JobStore.
func NewJobStore(pool *Pool) *JobStore {
	return &JobStore{pool: pool}
}

// Compile-time interface check.
var _ storage.JobStore = (*JobStore)(nil)

var allJobStatuses = []domain.JobStatus{
	domain.JobQueued, domain.JobRunning, domain.JobSucceeded, domain.JobFailed, domain.JobCancelled,
}

// sourcesOf lists the statuses a job may move to next from.
func sourcesOf(next domain.JobStatus) []string {
	var from []string
	for _, s := range allJobStatuses {
		if s.CanTransition(next) {
			from = append(from, string(s))
		}
	}
	return from
}

const jobColumns = `
	id, run_id, queue, type, payload, status, metadata, error, attempts,
	created_at, updated_at, started_at, finished_at
`

// Insert adds a new job. Returns ErrDuplicateKey if id exists.
func (s *JobStore) Insert(ctx context.Context, j *domain.Job) error {
	metadata, err := json.Marshal(j.Metadata)
	if err != nil {
		return fmt.Errorf("marshal job metadata: %w", err)
	}
	payload := []byte(j.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	status := j.Status
	if status == "" {
		status = domain.JobQueued
	}

	query := `
		INSERT INTO jobs (id, run_id, queue, type, payload, status, metadata, error, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = s.pool.Exec(ctx, query,
		j.ID, nullIfEmpty(j.RunID), j.Queue, j.Type, payload,
		string(status), metadata, j.Error, j.Attempts,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetByID retrieves a job by its ID. Returns ErrNotFound if not exists.
func (s *JobStore) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	j, err := scanJob(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get job by id: %w", err)
	}
	return j, nil
}

// ListByRun retrieves all jobs of a run, ordered by created_at ASC.
func (s *JobStore) ListByRun(ctx context.Context, runID string) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE run_id = $1 ORDER BY created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list jobs by run: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return jobs, nil
}

// MarkRunning moves the job to running and records the delivery attempt.
func (s *JobStore) MarkRunning(ctx context.Context, id string, attempt int) error {
	query := `
		UPDATE jobs SET
			status = 'running',
			attempts = GREATEST(attempts, $2),
			started_at = COALESCE(started_at, now()),
			finished_at = NULL,
			updated_at = now()
		WHERE id = $1 AND status = ANY($3)
	`
	return s.transition(ctx, id, query, attempt, sourcesOf(domain.JobRunning))
}

// MarkSucceeded moves the job to succeeded and stores the result in metadata.
func (s *JobStore) MarkSucceeded(ctx context.Context, id string, result []byte) error {
	var res []byte
	if len(result) > 0 {
		res = result
	}

	query := `
		UPDATE jobs SET
			status = 'succeeded',
			metadata = metadata
				|| jsonb_build_object('progress', 100)
				|| CASE WHEN $2::jsonb IS NULL THEN '{}'::jsonb ELSE jsonb_build_object('result', $2::jsonb) END,
			error = '',
			finished_at = now(),
			updated_at = now()
		WHERE id = $1 AND status = ANY($3)
	`
	return s.transition(ctx, id, query, res, sourcesOf(domain.JobSucceeded))
}

// MarkFailed moves the job to failed and records the error text.
func (s *JobStore) MarkFailed(ctx context.Context, id string, errMsg string) error {
	query := `
		UPDATE jobs SET
			status = 'failed',
			error = $2,
			finished_at = now(),
			updated_at = now()
		WHERE id = $1 AND status = ANY($3)
	`
	return s.transition(ctx, id, query, errMsg, sourcesOf(domain.JobFailed))
}

// Requeue moves a failed job back to queued and clears its error.
func (s *JobStore) Requeue(ctx context.Context, id string) error {
	query := `
		UPDATE jobs SET
			status = 'queued',
			error = $2,
			finished_at = NULL,
			updated_at = now()
		WHERE id = $1 AND status = ANY($3)
	`
	return s.transition(ctx, id, query, "", sourcesOf(domain.JobQueued))
}

// UpdateProgress mirrors progress into metadata. Progress never decreases.
func (s *JobStore) UpdateProgress(ctx context.Context, id string, progress int, message string) error {
	query := `
		UPDATE jobs SET
			metadata = metadata
				|| jsonb_build_object('progress', GREATEST(COALESCE((metadata->>'progress')::int, 0), $2::int))
				|| CASE WHEN $3 = '' THEN '{}'::jsonb ELSE jsonb_build_object('message', $3::text) END,
			updated_at = now()
		WHERE id = $1
	`

	tag, err := s.pool.Exec(ctx, query, id, progress, message)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// transition runs a guarded status UPDATE and resolves a zero-row result
// into ErrNotFound or ErrInvalidTransition.
func (s *JobStore) transition(ctx context.Context, id, query string, arg any, from []string) error {
	start := time.Now()
	tag, err := s.pool.Exec(ctx, query, id, arg, from)
	observability.RecordDBQuery("postgres", "job_transition", time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check job exists: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrInvalidTransition
}

// scanJob scans a single row into a Job.
func scanJob(row pgx.Row) (*domain.Job, error) {
	var j domain.Job
	var runID *string
	var status string
	var payload, metadata []byte

	err := row.Scan(
		&j.ID, &runID, &j.Queue, &j.Type, &payload, &status, &metadata, &j.Error, &j.Attempts,
		&j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.FinishedAt,
	)
	if err != nil {
		return nil, err
	}

	if runID != nil {
		j.RunID = *runID
	}
	j.Status = domain.JobStatus(status)
	j.Payload = payload
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &j.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal job metadata: %w", err)
		}
	}
	return &j, nil
}
