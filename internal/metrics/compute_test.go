package metrics

import (
	"math"
	"testing"
	"time"

	"solana-volume-engine/internal/domain"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func makeJob(id, queue string, status domain.JobStatus, finishedOffset time.Duration) *domain.Job {
	j := &domain.Job{ID: id, Queue: queue, Status: status}
	if status.IsFinished() {
		at := t0.Add(finishedOffset)
		j.FinishedAt = &at
	}
	return j
}

func TestComputeSummary_Counts(t *testing.T) {
	jobs := []*domain.Job{
		makeJob("j1", domain.QueueTradeBuy, domain.JobSucceeded, 1*time.Second),
		makeJob("j2", domain.QueueTradeBuy, domain.JobFailed, 2*time.Second),
		makeJob("j3", domain.QueueTradeSell, domain.JobSucceeded, 3*time.Second),
		makeJob("j4", domain.QueueTradeSell, domain.JobQueued, 0),
		makeJob("j5", domain.QueueTradeSell, domain.JobRunning, 0),
		makeJob("j6", domain.QueueStatus, domain.JobCancelled, 4*time.Second),
	}

	s := computeSummary(jobs, nil, t0)

	if s.TotalJobs != 6 {
		t.Errorf("expected TotalJobs 6, got %d", s.TotalJobs)
	}
	if s.Succeeded != 2 || s.Failed != 1 || s.Queued != 1 || s.Running != 1 || s.Cancelled != 1 {
		t.Errorf("unexpected counts: %+v", s)
	}
	// 2 / (2 + 1)
	if math.Abs(s.SuccessRate-2.0/3.0) > 1e-9 {
		t.Errorf("expected SuccessRate 0.667, got %f", s.SuccessRate)
	}

	buy := s.ByQueue[domain.QueueTradeBuy]
	if buy.Total != 2 || buy.Succeeded != 1 || buy.Failed != 1 {
		t.Errorf("unexpected buy counts: %+v", buy)
	}
	sell := s.ByQueue[domain.QueueTradeSell]
	if sell.Total != 3 || sell.Queued != 1 || sell.Running != 1 {
		t.Errorf("unexpected sell counts: %+v", sell)
	}
	if !s.UpdatedAt.Equal(t0) {
		t.Errorf("expected UpdatedAt %v, got %v", t0, s.UpdatedAt)
	}
}

func TestComputeSummary_Empty(t *testing.T) {
	s := computeSummary(nil, nil, t0)

	if s.TotalJobs != 0 || s.Executions != 0 {
		t.Errorf("expected empty summary, got %+v", s)
	}
	if s.SuccessRate != 0 {
		t.Errorf("expected SuccessRate 0, got %f", s.SuccessRate)
	}
	if s.ByQueue == nil {
		t.Error("expected non-nil ByQueue")
	}
}

func TestComputeSummary_Executions(t *testing.T) {
	executions := []*domain.Execution{
		{ID: "e1", TxSignature: "sig-1", LatencyMs: 100},
		{ID: "e2", TxSignature: domain.BundledSignature, LatencyMs: 300},
		{ID: "e3", TxSignature: "sig-3", LatencyMs: 200},
		{ID: "e4", TxSignature: domain.BundledSignature, LatencyMs: 400},
	}

	s := computeSummary(nil, executions, t0)

	if s.Executions != 4 {
		t.Errorf("expected Executions 4, got %d", s.Executions)
	}
	if s.Bundled != 2 {
		t.Errorf("expected Bundled 2, got %d", s.Bundled)
	}
	if s.AvgLatencyMs != 250 {
		t.Errorf("expected AvgLatencyMs 250, got %f", s.AvgLatencyMs)
	}
	// sorted [100 200 300 400], idx 1.5
	if s.P50LatencyMs != 250 {
		t.Errorf("expected P50LatencyMs 250, got %f", s.P50LatencyMs)
	}
	// idx 2.7 -> 300 + 0.7*100
	if math.Abs(s.P90LatencyMs-370) > 1e-9 {
		t.Errorf("expected P90LatencyMs 370, got %f", s.P90LatencyMs)
	}
}

func TestComputeSuccessRate_OnlyUnfinished(t *testing.T) {
	if rate := computeSuccessRate(0, 0); rate != 0 {
		t.Errorf("expected 0, got %f", rate)
	}
	if rate := computeSuccessRate(3, 0); rate != 1 {
		t.Errorf("expected 1, got %f", rate)
	}
}

func TestComputeMaxConsecutiveFailures(t *testing.T) {
	// finish order: S F F S F F F S
	jobs := []*domain.Job{
		makeJob("j8", domain.QueueTradeBuy, domain.JobSucceeded, 8*time.Second),
		makeJob("j1", domain.QueueTradeBuy, domain.JobSucceeded, 1*time.Second),
		makeJob("j2", domain.QueueTradeBuy, domain.JobFailed, 2*time.Second),
		makeJob("j3", domain.QueueTradeBuy, domain.JobFailed, 3*time.Second),
		makeJob("j4", domain.QueueTradeBuy, domain.JobSucceeded, 4*time.Second),
		makeJob("j5", domain.QueueTradeBuy, domain.JobFailed, 5*time.Second),
		makeJob("j6", domain.QueueTradeBuy, domain.JobFailed, 6*time.Second),
		makeJob("j7", domain.QueueTradeBuy, domain.JobFailed, 7*time.Second),
		makeJob("jq", domain.QueueTradeBuy, domain.JobQueued, 0),
	}

	if got := computeMaxConsecutiveFailures(jobs); got != 3 {
		t.Errorf("expected 3, got %d", got)
	}
}

func TestComputeMaxConsecutiveFailures_TieBrokenByID(t *testing.T) {
	// Same finish time: order by ID puts a, b (failed) before c (succeeded).
	jobs := []*domain.Job{
		makeJob("c", domain.QueueTradeSell, domain.JobSucceeded, time.Second),
		makeJob("b", domain.QueueTradeSell, domain.JobFailed, time.Second),
		makeJob("a", domain.QueueTradeSell, domain.JobFailed, time.Second),
	}

	if got := computeMaxConsecutiveFailures(jobs); got != 2 {
		t.Errorf("expected 2, got %d", got)
	}
}

func TestComputePercentile(t *testing.T) {
	tests := []struct {
		name   string
		sorted []float64
		p      float64
		want   float64
	}{
		{"empty", nil, 0.5, 0},
		{"single", []float64{42}, 0.9, 42},
		{"median odd", []float64{1, 2, 3}, 0.5, 2},
		{"interpolated", []float64{10, 20}, 0.25, 12.5},
		{"max", []float64{1, 2, 3}, 1.0, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := computePercentile(tt.sorted, tt.p); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("expected %f, got %f", tt.want, got)
			}
		})
	}
}
