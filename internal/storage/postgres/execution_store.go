package postgres

import (
	"context"
	"fmt"
	"time"

	"solana-volume-engine/internal/domain"
	"solana-volume-engine/internal/observability"
	"solana-volume-engine/internal/storage"
)

// ExecutionStore implements storage.ExecutionStore using PostgreSQL.
// Signature uniqueness comes from the partial unique index on tx_signature.
type ExecutionStore struct {
	pool *Pool
}

// NewExecutionStore creates a new ExecutionStore.
func NewExecutionStore(pool *Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ExecutionStore = (*ExecutionStore)(nil)

// Insert adds a new execution. Returns ErrDuplicateKey if the id or a
// non-sentinel tx_signature already exists.
func (s *ExecutionStore) Insert(ctx context.Context, e *domain.Execution) error {
	var result []byte
	if len(e.Result) > 0 {
		result = e.Result
	}

	query := `
		INSERT INTO executions (id, job_id, run_id, tx_signature, result, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7::timestamptz, now()))
	`

	var createdAt any
	if !e.CreatedAt.IsZero() {
		createdAt = e.CreatedAt
	}

	start := time.Now()
	_, err := s.pool.Exec(ctx, query,
		e.ID, e.JobID, nullIfEmpty(e.RunID), e.TxSignature, result, e.LatencyMs, createdAt,
	)
	queryErr := err
	if isDuplicateKeyError(err) {
		queryErr = nil // redelivery
	}
	observability.RecordDBQuery("postgres", "execution_insert", time.Since(start).Seconds(), queryErr)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// ExistsBySignature reports whether an execution with the signature exists.
func (s *ExecutionStore) ExistsBySignature(ctx context.Context, signature string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM executions WHERE tx_signature = $1)`, signature,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check execution signature: %w", err)
	}
	return exists, nil
}

// ListByRun retrieves all executions of a run, ordered by created_at ASC.
func (s *ExecutionStore) ListByRun(ctx context.Context, runID string) ([]*domain.Execution, error) {
	query := `
		SELECT id, job_id, run_id, tx_signature, result, latency_ms, created_at
		FROM executions
		WHERE run_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list executions by run: %w", err)
	}
	defer rows.Close()

	var executions []*domain.Execution
	for rows.Next() {
		var e domain.Execution
		var run *string
		var result []byte

		if err := rows.Scan(&e.ID, &e.JobID, &run, &e.TxSignature, &result, &e.LatencyMs, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan execution row: %w", err)
		}
		if run != nil {
			e.RunID = *run
		}
		e.Result = result
		executions = append(executions, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate execution rows: %w", err)
	}
	return executions, nil
}
