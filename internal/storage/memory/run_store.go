package memory

import (
	"context"
	"sort"
	"sync"

	"solana-volume-engine/internal/domain"
	"solana-volume-engine/internal/storage"
)

// RunStore is an in-memory implementation of storage.RunStore.
type RunStore struct {
	mu        sync.RWMutex
	data      map[string]*domain.CampaignRun // keyed by id
	campaigns *CampaignStore
}

// NewRunStore creates a new in-memory run store.
// The campaign store is consulted by ListActive.
func NewRunStore(campaigns *CampaignStore) *RunStore {
	return &RunStore{
		data:      make(map[string]*domain.CampaignRun),
		campaigns: campaigns,
	}
}

// Insert adds a new run. Returns ErrDuplicateKey if id exists.
func (s *RunStore) Insert(_ context.Context, r *domain.CampaignRun) error {
	if r == nil || r.ID == "" || r.CampaignID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.ID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[r.ID] = copyRun(r)
	return nil
}

// GetByID retrieves a run by its ID. Returns ErrNotFound if not exists.
func (s *RunStore) GetByID(_ context.Context, id string) (*domain.CampaignRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copyRun(r), nil
}

// GetLatestByCampaign retrieves the most recently started run of a campaign.
func (s *RunStore) GetLatestByCampaign(_ context.Context, campaignID string) (*domain.CampaignRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.CampaignRun
	for _, r := range s.data {
		if r.CampaignID != campaignID {
			continue
		}
		if latest == nil || r.StartedAt.After(latest.StartedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	return copyRun(latest), nil
}

// ListActive retrieves running runs whose campaign is active, ordered by started_at ASC.
func (s *RunStore) ListActive(_ context.Context) ([]*domain.CampaignRun, error) {
	s.mu.RLock()
	var result []*domain.CampaignRun
	for _, r := range s.data {
		if r.Status == domain.RunRunning {
			result = append(result, copyRun(r))
		}
	}
	s.mu.RUnlock()

	// Campaign lookups take the campaign store lock; done outside our own.
	active := result[:0]
	for _, r := range result {
		if s.campaigns != nil && s.campaigns.isActive(r.CampaignID) {
			active = append(active, r)
		}
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].StartedAt.Before(active[j].StartedAt)
	})
	return active, nil
}

// UpdateSummary replaces the summary blob of a run.
func (s *RunStore) UpdateSummary(_ context.Context, id string, summary *domain.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	r.Summary = copySummary(summary)
	return nil
}

// SetStatus changes a run status. Used by tests and memory mode; the controller owns this in production.
func (s *RunStore) SetStatus(id string, status domain.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	r.Status = status
	return nil
}

func copyRun(r *domain.CampaignRun) *domain.CampaignRun {
	copy := *r
	copy.Summary = copySummary(r.Summary)
	if r.EndedAt != nil {
		ended := *r.EndedAt
		copy.EndedAt = &ended
	}
	return &copy
}

func copySummary(s *domain.RunSummary) *domain.RunSummary {
	if s == nil {
		return nil
	}
	copy := *s
	if s.ByQueue != nil {
		copy.ByQueue = make(map[string]domain.QueueCounts, len(s.ByQueue))
		for k, v := range s.ByQueue {
			copy.ByQueue[k] = v
		}
	}
	return &copy
}

var _ storage.RunStore = (*RunStore)(nil)
