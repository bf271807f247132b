package memory

import (
	"context"
	"sync"

	"solana-volume-engine/internal/domain"
	"solana-volume-engine/internal/storage"
)

// UserSettingsStore is an in-memory implementation of storage.UserSettingsStore.
type UserSettingsStore struct {
	mu   sync.RWMutex
	data map[string]*domain.UserSettings // keyed by user id
}

// NewUserSettingsStore creates a new in-memory settings store.
func NewUserSettingsStore() *UserSettingsStore {
	return &UserSettingsStore{data: make(map[string]*domain.UserSettings)}
}

// Upsert inserts or replaces the settings of a user.
func (s *UserSettingsStore) Upsert(_ context.Context, us *domain.UserSettings) error {
	if us == nil || us.UserID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Pointer fields are shared with the caller; settings are treated as immutable values.
	copy := *us
	s.data[us.UserID] = &copy
	return nil
}

// GetByUserID retrieves settings of a user. Returns ErrNotFound if the user has none.
func (s *UserSettingsStore) GetByUserID(_ context.Context, userID string) (*domain.UserSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	us, exists := s.data[userID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	copy := *us
	return &copy, nil
}

var _ storage.UserSettingsStore = (*UserSettingsStore)(nil)
