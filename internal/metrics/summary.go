// Package metrics computes run summaries from the job mirror and the execution log.
package metrics

import (
	"context"
	"fmt"
	"time"

	"solana-volume-engine/internal/domain"
	"solana-volume-engine/internal/storage"
)

// Summarizer computes run summaries.
type Summarizer struct {
	jobStore       storage.JobStore
	executionStore storage.ExecutionStore
	now            func() time.Time
}

// NewSummarizer creates a new run summarizer.
func NewSummarizer(jobStore storage.JobStore, executionStore storage.ExecutionStore) *Summarizer {
	return &Summarizer{
		jobStore:       jobStore,
		executionStore: executionStore,
		now:            time.Now,
	}
}

// Summarize loads the jobs and executions of a run and computes its summary.
// A run without jobs yields a zero summary.
func (s *Summarizer) Summarize(ctx context.Context, runID string) (*domain.RunSummary, error) {
	jobs, err := s.jobStore.ListByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list jobs of run %s: %w", runID, err)
	}

	executions, err := s.executionStore.ListByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list executions of run %s: %w", runID, err)
	}

	return computeSummary(jobs, executions, s.now().UTC()), nil
}

// SummarizeAndStore computes the summary and writes it to the run.
func (s *Summarizer) SummarizeAndStore(ctx context.Context, runs storage.RunStore, runID string) (*domain.RunSummary, error) {
	summary, err := s.Summarize(ctx, runID)
	if err != nil {
		return nil, err
	}

	if err := runs.UpdateSummary(ctx, runID, summary); err != nil {
		return nil, fmt.Errorf("update summary of run %s: %w", runID, err)
	}

	return summary, nil
}
