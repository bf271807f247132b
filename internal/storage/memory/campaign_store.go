package memory

import (
	"context"
	"sync"
	"time"

	"solana-volume-engine/internal/domain"
	"solana-volume-engine/internal/storage"
)

// CampaignStore is an in-memory implementation of storage.CampaignStore.
type CampaignStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Campaign // keyed by id
}

// NewCampaignStore creates a new in-memory campaign store.
func NewCampaignStore() *CampaignStore {
	return &CampaignStore{
		data: make(map[string]*domain.Campaign),
	}
}

// Insert adds a new campaign. Returns ErrDuplicateKey if id exists.
func (s *CampaignStore) Insert(_ context.Context, c *domain.Campaign) error {
	if c == nil || c.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[c.ID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *c
	s.data[c.ID] = &copy
	return nil
}

// GetByID retrieves a campaign by its ID. Returns ErrNotFound if not exists.
func (s *CampaignStore) GetByID(_ context.Context, id string) (*domain.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *c
	return &copy, nil
}

// UpdateStatus sets the campaign lifecycle status.
func (s *CampaignStore) UpdateStatus(_ context.Context, id string, status domain.CampaignStatus) error {
	if !status.IsValid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = time.Now()
	return nil
}

// isActive is used by RunStore.ListActive to join on campaign status.
func (s *CampaignStore) isActive(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.data[id]
	return exists && c.IsActive()
}

var _ storage.CampaignStore = (*CampaignStore)(nil)
