package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"solana-volume-engine/internal/domain"
	"solana-volume-engine/internal/storage"
)

// JobStore is an in-memory implementation of storage.JobStore.
type JobStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Job // keyed by id
	now  func() time.Time
}

// NewJobStore creates a new in-memory job store.
func NewJobStore() *JobStore {
	return &JobStore{
		data: make(map[string]*domain.Job),
		now:  time.Now,
	}
}

// Insert adds a new job. Returns ErrDuplicateKey if id exists.
func (s *JobStore) Insert(_ context.Context, j *domain.Job) error {
	if j == nil || j.ID == "" || j.Queue == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[j.ID]; exists {
		return storage.ErrDuplicateKey
	}

	stored := copyJob(j)
	if stored.Status == "" {
		stored.Status = domain.JobQueued
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	stored.UpdatedAt = stored.CreatedAt
	s.data[j.ID] = stored
	return nil
}

// GetByID retrieves a job by its ID. Returns ErrNotFound if not exists.
func (s *JobStore) GetByID(_ context.Context, id string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copyJob(j), nil
}

// ListByRun retrieves all jobs of a run, ordered by created_at ASC.
func (s *JobStore) ListByRun(_ context.Context, runID string) ([]*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Job
	for _, j := range s.data {
		if j.RunID == runID {
			result = append(result, copyJob(j))
		}
	}

	sort.Slice(result, func(i, k int) bool {
		if result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].ID < result[k].ID
		}
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}

// MarkRunning moves the job to running and records the delivery attempt.
func (s *JobStore) MarkRunning(_ context.Context, id string, attempt int) error {
	return s.update(id, domain.JobRunning, func(j *domain.Job, now time.Time) {
		if attempt > j.Attempts {
			j.Attempts = attempt
		}
		if j.StartedAt == nil {
			j.StartedAt = &now
		}
		j.FinishedAt = nil
	})
}

// MarkSucceeded moves the job to succeeded and stores the result in metadata.
func (s *JobStore) MarkSucceeded(_ context.Context, id string, result []byte) error {
	return s.update(id, domain.JobSucceeded, func(j *domain.Job, now time.Time) {
		if len(result) > 0 {
			j.Metadata.Result = append(json.RawMessage(nil), result...)
		}
		j.Metadata.Progress = 100
		j.Error = ""
		j.FinishedAt = &now
	})
}

// MarkFailed moves the job to failed and records the error text.
func (s *JobStore) MarkFailed(_ context.Context, id string, errMsg string) error {
	return s.update(id, domain.JobFailed, func(j *domain.Job, now time.Time) {
		j.Error = errMsg
		j.FinishedAt = &now
	})
}

// Requeue moves a failed job back to queued and clears its error.
func (s *JobStore) Requeue(_ context.Context, id string) error {
	return s.update(id, domain.JobQueued, func(j *domain.Job, _ time.Time) {
		j.Error = ""
		j.FinishedAt = nil
	})
}

// UpdateProgress mirrors progress into metadata. Progress never decreases.
func (s *JobStore) UpdateProgress(_ context.Context, id string, progress int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	if progress > j.Metadata.Progress {
		j.Metadata.Progress = progress
	}
	if message != "" {
		j.Metadata.Message = message
	}
	j.UpdatedAt = s.now()
	return nil
}

func (s *JobStore) update(id string, next domain.JobStatus, apply func(*domain.Job, time.Time)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	if !j.Status.CanTransition(next) {
		return storage.ErrInvalidTransition
	}

	now := s.now()
	j.Status = next
	apply(j, now)
	j.UpdatedAt = now
	return nil
}

func copyJob(j *domain.Job) *domain.Job {
	copy := *j
	copy.Payload = append(json.RawMessage(nil), j.Payload...)
	copy.Metadata.Result = append(json.RawMessage(nil), j.Metadata.Result...)
	if j.StartedAt != nil {
		started := *j.StartedAt
		copy.StartedAt = &started
	}
	if j.FinishedAt != nil {
		finished := *j.FinishedAt
		copy.FinishedAt = &finished
	}
	return &copy
}

var _ storage.JobStore = (*JobStore)(nil)
