package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"solana-volume-engine/internal/domain"
	"solana-volume-engine/internal/storage"
)

// ExecutionStore is an in-memory implementation of storage.ExecutionStore.
type ExecutionStore struct {
	mu          sync.RWMutex
	data        map[string]*domain.Execution // keyed by id
	bySignature map[string]string            // tx_signature -> id, bundled sentinel excluded
	order       []string                     // insertion order
}

// NewExecutionStore creates a new in-memory execution store.
func NewExecutionStore() *ExecutionStore {
	return &ExecutionStore{
		data:        make(map[string]*domain.Execution),
		bySignature: make(map[string]string),
	}
}

// Insert adds a new execution. Returns ErrDuplicateKey if the id or a
// non-sentinel tx_signature already exists.
func (s *ExecutionStore) Insert(_ context.Context, e *domain.Execution) error {
	if e == nil || e.ID == "" || e.JobID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[e.ID]; exists {
		return storage.ErrDuplicateKey
	}
	unique := e.TxSignature != "" && e.TxSignature != domain.BundledSignature
	if unique {
		if _, exists := s.bySignature[e.TxSignature]; exists {
			return storage.ErrDuplicateKey
		}
		s.bySignature[e.TxSignature] = e.ID
	}

	s.data[e.ID] = copyExecution(e)
	s.order = append(s.order, e.ID)
	return nil
}

// ExistsBySignature reports whether an execution with the signature exists.
func (s *ExecutionStore) ExistsBySignature(_ context.Context, signature string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.bySignature[signature]; exists {
		return true, nil
	}
	if signature == domain.BundledSignature {
		for _, e := range s.data {
			if e.TxSignature == signature {
				return true, nil
			}
		}
	}
	return false, nil
}

// ListByRun retrieves all executions of a run, ordered by created_at ASC.
func (s *ExecutionStore) ListByRun(_ context.Context, runID string) ([]*domain.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Execution
	for _, id := range s.order {
		e := s.data[id]
		if e.RunID == runID {
			result = append(result, copyExecution(e))
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// Count returns the total number of stored executions.
func (s *ExecutionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func copyExecution(e *domain.Execution) *domain.Execution {
	copy := *e
	copy.Result = append(json.RawMessage(nil), e.Result...)
	return &copy
}

var _ storage.ExecutionStore = (*ExecutionStore)(nil)
