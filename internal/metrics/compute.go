package metrics

import (
	"sort"
	"time"

	"solana-volume-engine/internal/domain"
)

// computeSummary calculates the run summary from its jobs and executions.
// Jobs are sorted by FinishedAt ASC, ID ASC before computing order-dependent
// metrics (MaxConsecutiveFailures).
func computeSummary(jobs []*domain.Job, executions []*domain.Execution, now time.Time) *domain.RunSummary {
	s := &domain.RunSummary{
		ByQueue:   make(map[string]domain.QueueCounts),
		UpdatedAt: now,
	}

	for _, j := range jobs {
		qc := s.ByQueue[j.Queue]
		qc.Total++
		switch j.Status {
		case domain.JobSucceeded:
			s.Succeeded++
			qc.Succeeded++
		case domain.JobFailed:
			s.Failed++
			qc.Failed++
		case domain.JobQueued:
			s.Queued++
			qc.Queued++
		case domain.JobRunning:
			s.Running++
			qc.Running++
		case domain.JobCancelled:
			s.Cancelled++
			qc.Cancelled++
		}
		s.ByQueue[j.Queue] = qc
	}
	s.TotalJobs = len(jobs)
	s.SuccessRate = computeSuccessRate(s.Succeeded, s.Failed)
	s.MaxConsecutiveFailures = computeMaxConsecutiveFailures(jobs)

	latencies := make([]float64, 0, len(executions))
	for _, e := range executions {
		if e.TxSignature == domain.BundledSignature {
			s.Bundled++
		}
		latencies = append(latencies, float64(e.LatencyMs))
	}
	s.Executions = len(executions)
	s.AvgLatencyMs = computeMean(latencies)

	sort.Float64s(latencies)
	s.P50LatencyMs = computePercentile(latencies, 0.50)
	s.P90LatencyMs = computePercentile(latencies, 0.90)

	return s
}

// computeSuccessRate calculates succeeded / (succeeded + failed).
// Jobs without an outcome do not count.
func computeSuccessRate(succeeded, failed int) float64 {
	finished := succeeded + failed
	if finished == 0 {
		return 0
	}
	return float64(succeeded) / float64(finished)
}

// computeMean calculates arithmetic mean.
func computeMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// computePercentile uses linear interpolation.
// sorted must be pre-sorted ASC.
// p is percentile (0.10 = 10th percentile).
func computePercentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}

	idx := p * float64(n-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

// computeMaxConsecutiveFailures finds the longest streak of failed jobs among
// finished jobs in finish order. Unfinished jobs are ignored.
func computeMaxConsecutiveFailures(jobs []*domain.Job) int {
	finished := make([]*domain.Job, 0, len(jobs))
	for _, j := range jobs {
		if j.FinishedAt != nil && j.Status.IsFinished() {
			finished = append(finished, j)
		}
	}
	sort.Slice(finished, func(i, k int) bool {
		a, b := finished[i].FinishedAt, finished[k].FinishedAt
		if !a.Equal(*b) {
			return a.Before(*b)
		}
		return finished[i].ID < finished[k].ID
	})

	maxStreak := 0
	streak := 0
	for _, j := range finished {
		if j.Status == domain.JobFailed {
			streak++
			if streak > maxStreak {
				maxStreak = streak
			}
		} else {
			streak = 0
		}
	}
	return maxStreak
}
