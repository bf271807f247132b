package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"solana-volume-engine/internal/domain"
	"solana-volume-engine/internal/observability"
	"solana-volume-engine/internal/storage"
)

// ExecutionArchive implements storage.ExecutionArchive using ClickHouse.
// Rows are flattened from the execution result for analytics queries.
type ExecutionArchive struct {
	conn *Conn
}

// NewExecutionArchive creates a new ExecutionArchive.
func NewExecutionArchive(conn *Conn) *ExecutionArchive {
	return &ExecutionArchive{conn: conn}
}

// Compile-time interface check.
var _ storage.ExecutionArchive = (*ExecutionArchive)(nil)

// ArchivedExecution is one row of executions_archive.
type ArchivedExecution struct {
	ID          string
	JobID       string
	RunID       string
	TxSignature string
	Side        string
	Executor    string
	Wallet      string
	AmountIn    string
	LatencyMs   int64
	CreatedAt   time.Time
}

// Archive appends executions in one batch. ReplacingMergeTree collapses re-archived ids.
func (s *ExecutionArchive) Archive(ctx context.Context, executions []*domain.Execution) error {
	if len(executions) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO executions_archive (
			id, job_id, run_id, tx_signature, side, executor, wallet, amount_in, latency_ms, created_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range executions {
		var res domain.TradeResult
		if len(e.Result) > 0 {
			// Non-trade results (distribution) leave the trade columns empty.
			_ = json.Unmarshal(e.Result, &res)
		}
		err = batch.Append(
			e.ID, e.JobID, e.RunID, e.TxSignature,
			string(res.Side), res.Executor, res.Wallet, res.AmountIn,
			e.LatencyMs, e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	start := time.Now()
	err = batch.Send()
	observability.RecordDBQuery("clickhouse", "execution_archive", time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// ListByRun retrieves archived rows of a run, ordered by created_at ASC.
func (s *ExecutionArchive) ListByRun(ctx context.Context, runID string) ([]*ArchivedExecution, error) {
	query := `
		SELECT id, job_id, run_id, tx_signature, side, executor, wallet, amount_in, latency_ms, created_at
		FROM executions_archive FINAL
		WHERE run_id = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.conn.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query archive by run id: %w", err)
	}
	defer rows.Close()

	var result []*ArchivedExecution
	for rows.Next() {
		var a ArchivedExecution
		err := rows.Scan(
			&a.ID, &a.JobID, &a.RunID, &a.TxSignature, &a.Side,
			&a.Executor, &a.Wallet, &a.AmountIn, &a.LatencyMs, &a.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan archive row: %w", err)
		}
		result = append(result, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archive rows: %w", err)
	}
	return result, nil
}
