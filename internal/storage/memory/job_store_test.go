package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"solana-volume-engine/internal/domain"
	"solana-volume-engine/internal/storage"
)

func TestJobStore_InsertAndGet(t *testing.T) {
	store := NewJobStore()
	ctx := context.Background()

	job := &domain.Job{
		ID:      "job1",
		RunID:   "run1",
		Queue:   domain.QueueTradeBuy,
		Type:    domain.JobTypeBuy,
		Payload: []byte(`{"walletId":"w1"}`),
	}
	if err := store.Insert(ctx, job); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetByID(ctx, "job1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != domain.JobQueued {
		t.Errorf("Status mismatch: got %s, want %s", got.Status, domain.JobQueued)
	}
	if string(got.Payload) != `{"walletId":"w1"}` {
		t.Errorf("Payload mismatch: got %s", got.Payload)
	}

	if err := store.Insert(ctx, job); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestJobStore_Lifecycle(t *testing.T) {
	store := NewJobStore()
	ctx := context.Background()

	if err := store.Insert(ctx, &domain.Job{ID: "job1", RunID: "run1", Queue: domain.QueueTradeSell}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if err := store.MarkRunning(ctx, "job1", 1); err != nil {
		t.Fatalf("MarkRunning failed: %v", err)
	}
	if err := store.MarkFailed(ctx, "job1", "rpc timeout"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	// Redelivery within the attempt budget.
	if err := store.MarkRunning(ctx, "job1", 2); err != nil {
		t.Fatalf("MarkRunning after failure failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "job1", []byte(`{"signature":"abc"}`)); err != nil {
		t.Fatalf("MarkSucceeded failed: %v", err)
	}

	got, _ := store.GetByID(ctx, "job1")
	if got.Status != domain.JobSucceeded {
		t.Errorf("Status mismatch: got %s", got.Status)
	}
	if got.Attempts != 2 {
		t.Errorf("Attempts mismatch: got %d, want 2", got.Attempts)
	}
	if got.Metadata.Progress != 100 {
		t.Errorf("Progress mismatch: got %d, want 100", got.Metadata.Progress)
	}
	if got.Error != "" {
		t.Errorf("Error should be cleared, got %q", got.Error)
	}
	if got.FinishedAt == nil || got.StartedAt == nil {
		t.Error("Expected started and finished timestamps")
	}

	// Succeeded is terminal.
	if err := store.MarkRunning(ctx, "job1", 3); !errors.Is(err, storage.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition, got %v", err)
	}
	if err := store.MarkFailed(ctx, "job1", "late"); !errors.Is(err, storage.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition, got %v", err)
	}

	// Repeating the terminal transition is a no-op.
	if err := store.MarkSucceeded(ctx, "job1", nil); err != nil {
		t.Errorf("Repeated MarkSucceeded failed: %v", err)
	}
}

func TestJobStore_ProgressNeverDecreases(t *testing.T) {
	store := NewJobStore()
	ctx := context.Background()

	_ = store.Insert(ctx, &domain.Job{ID: "job1", Queue: domain.QueueDistribute})

	for _, p := range []int{10, 50, 30, 90} {
		if err := store.UpdateProgress(ctx, "job1", p, ""); err != nil {
			t.Fatalf("UpdateProgress failed: %v", err)
		}
	}

	got, _ := store.GetByID(ctx, "job1")
	if got.Metadata.Progress != 90 {
		t.Errorf("Progress mismatch: got %d, want 90", got.Metadata.Progress)
	}

	if err := store.UpdateProgress(ctx, "missing", 10, ""); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestJobStore_ListByRun(t *testing.T) {
	store := NewJobStore()
	ctx := context.Background()

	base := time.Unix(1700000000, 0)
	jobs := []*domain.Job{
		{ID: "j3", RunID: "run1", Queue: domain.QueueTradeBuy, CreatedAt: base.Add(2 * time.Second)},
		{ID: "j1", RunID: "run1", Queue: domain.QueueTradeBuy, CreatedAt: base},
		{ID: "j2", RunID: "run2", Queue: domain.QueueTradeBuy, CreatedAt: base.Add(time.Second)},
	}
	for _, j := range jobs {
		if err := store.Insert(ctx, j); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	got, err := store.ListByRun(ctx, "run1")
	if err != nil {
		t.Fatalf("ListByRun failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 jobs, got %d", len(got))
	}
	if got[0].ID != "j1" || got[1].ID != "j3" {
		t.Errorf("Order mismatch: got %s, %s", got[0].ID, got[1].ID)
	}
}

func TestJobStore_Requeue(t *testing.T) {
	store := NewJobStore()
	ctx := context.Background()

	if err := store.Insert(ctx, &domain.Job{ID: "job1", Queue: domain.QueueTradeBuy}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.MarkFailed(ctx, "job1", "publish: connection reset"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	if err := store.Requeue(ctx, "job1"); err != nil {
		t.Fatalf("Requeue failed: %v", err)
	}

	got, err := store.GetByID(ctx, "job1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != domain.JobQueued {
		t.Errorf("Status mismatch: got %s, want %s", got.Status, domain.JobQueued)
	}
	if got.Error != "" || got.FinishedAt != nil {
		t.Errorf("Expected cleared error and finish time, got %q %v", got.Error, got.FinishedAt)
	}

	if err := store.MarkRunning(ctx, "job1", 1); err != nil {
		t.Fatalf("MarkRunning failed: %v", err)
	}
	if err := store.Requeue(ctx, "job1"); !errors.Is(err, storage.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition for running job, got %v", err)
	}
	if err := store.Requeue(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
