package metrics

import (
	"context"
	"testing"
	"time"

	"solana-volume-engine/internal/domain"
	"solana-volume-engine/internal/storage/memory"
)

func TestSummarizeAndStore(t *testing.T) {
	ctx := context.Background()
	stores := memory.NewStores()

	if err := stores.Runs.Insert(ctx, &domain.CampaignRun{ID: "run-1", CampaignID: "camp-1", Status: domain.RunRunning, StartedAt: t0}); err != nil {
		t.Fatalf("insert run: %v", err)
	}
	for _, j := range []*domain.Job{
		{ID: "j1", RunID: "run-1", Queue: domain.QueueTradeBuy, Type: domain.JobTypeBuy, Status: domain.JobQueued},
		{ID: "j2", RunID: "run-1", Queue: domain.QueueTradeSell, Type: domain.JobTypeSell, Status: domain.JobQueued},
		{ID: "j3", RunID: "run-2", Queue: domain.QueueTradeSell, Type: domain.JobTypeSell, Status: domain.JobQueued},
	} {
		if err := stores.Jobs.Insert(ctx, j); err != nil {
			t.Fatalf("insert job: %v", err)
		}
	}
	if err := stores.Jobs.MarkRunning(ctx, "j1", 1); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if err := stores.Jobs.MarkSucceeded(ctx, "j1", nil); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	if err := stores.Executions.Insert(ctx, &domain.Execution{ID: "e1", JobID: "j1", RunID: "run-1", TxSignature: "sig-1", LatencyMs: 120}); err != nil {
		t.Fatalf("insert execution: %v", err)
	}

	s := NewSummarizer(stores.Jobs, stores.Executions)
	s.now = func() time.Time { return t0 }

	summary, err := s.SummarizeAndStore(ctx, stores.Runs, "run-1")
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary.TotalJobs != 2 || summary.Succeeded != 1 || summary.Queued != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if summary.SuccessRate != 1 {
		t.Errorf("expected SuccessRate 1, got %f", summary.SuccessRate)
	}
	if summary.Executions != 1 || summary.AvgLatencyMs != 120 {
		t.Errorf("unexpected execution stats: %+v", summary)
	}

	run, err := stores.Runs.GetByID(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Summary == nil || run.Summary.TotalJobs != 2 {
		t.Errorf("summary not stored: %+v", run.Summary)
	}
}

func TestSummarizeAndStore_MissingRun(t *testing.T) {
	stores := memory.NewStores()
	s := NewSummarizer(stores.Jobs, stores.Executions)

	if _, err := s.SummarizeAndStore(context.Background(), stores.Runs, "missing"); err == nil {
		t.Error("expected error for missing run")
	}
}
