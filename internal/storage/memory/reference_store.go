package memory

import (
	"context"
	"sync"

	"solana-volume-engine/internal/domain"
	"solana-volume-engine/internal/storage"
)

// TokenStore is an in-memory implementation of storage.TokenStore.
type TokenStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Token
}

// NewTokenStore creates a new in-memory token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{data: make(map[string]*domain.Token)}
}

func (s *TokenStore) Insert(_ context.Context, t *domain.Token) error {
	if t == nil || t.ID == "" || t.Mint == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[t.ID]; exists {
		return storage.ErrDuplicateKey
	}
	copy := *t
	s.data[t.ID] = &copy
	return nil
}

func (s *TokenStore) GetByID(_ context.Context, id string) (*domain.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	copy := *t
	return &copy, nil
}

// PoolStore is an in-memory implementation of storage.PoolStore.
type PoolStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Pool
}

// NewPoolStore creates a new in-memory pool store.
func NewPoolStore() *PoolStore {
	return &PoolStore{data: make(map[string]*domain.Pool)}
}

func (s *PoolStore) Insert(_ context.Context, p *domain.Pool) error {
	if p == nil || p.ID == "" || p.Address == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.ID]; exists {
		return storage.ErrDuplicateKey
	}
	copy := *p
	s.data[p.ID] = &copy
	return nil
}

func (s *PoolStore) GetByID(_ context.Context, id string) (*domain.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	copy := *p
	return &copy, nil
}

var (
	_ storage.TokenStore = (*TokenStore)(nil)
	_ storage.PoolStore  = (*PoolStore)(nil)
)
