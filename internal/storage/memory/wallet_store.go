package memory

import (
	"context"
	"sort"
	"sync"

	"solana-volume-engine/internal/domain"
	"solana-volume-engine/internal/storage"
)

// WalletStore is an in-memory implementation of storage.WalletStore.
type WalletStore struct {
	mu        sync.RWMutex
	data      map[string]*domain.Wallet // keyed by id
	byAddress map[string]string         // address -> id
}

// NewWalletStore creates a new in-memory wallet store.
func NewWalletStore() *WalletStore {
	return &WalletStore{
		data:      make(map[string]*domain.Wallet),
		byAddress: make(map[string]string),
	}
}

// Insert adds a new wallet. Returns ErrDuplicateKey if id or address exists.
func (s *WalletStore) Insert(_ context.Context, w *domain.Wallet) error {
	if w == nil || w.ID == "" || w.Address == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exists(w) {
		return storage.ErrDuplicateKey
	}
	s.put(w)
	return nil
}

// InsertBulk adds multiple wallets atomically. Fails entire batch on any duplicate.
func (s *WalletStore) InsertBulk(_ context.Context, wallets []*domain.Wallet) error {
	if len(wallets) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Check all first (atomic semantics), including duplicates inside the batch.
	ids := make(map[string]struct{}, len(wallets))
	addrs := make(map[string]struct{}, len(wallets))
	for _, w := range wallets {
		if w == nil || w.ID == "" || w.Address == "" {
			return storage.ErrInvalidInput
		}
		if s.exists(w) {
			return storage.ErrDuplicateKey
		}
		if _, dup := ids[w.ID]; dup {
			return storage.ErrDuplicateKey
		}
		if _, dup := addrs[w.Address]; dup {
			return storage.ErrDuplicateKey
		}
		ids[w.ID] = struct{}{}
		addrs[w.Address] = struct{}{}
	}

	for _, w := range wallets {
		s.put(w)
	}
	return nil
}

// GetByID retrieves a wallet by its ID. Returns ErrNotFound if not exists.
func (s *WalletStore) GetByID(_ context.Context, id string) (*domain.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copyWallet(w), nil
}

// ListActiveByUser retrieves active wallets of a user, ordered by created_at ASC.
func (s *WalletStore) ListActiveByUser(_ context.Context, userID string) ([]*domain.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Wallet
	for _, w := range s.data {
		if w.UserID == userID && w.IsActive {
			result = append(result, copyWallet(w))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// SetActive flips the activity flag of the given wallets. Unknown ids are ignored.
func (s *WalletStore) SetActive(_ context.Context, ids []string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if w, exists := s.data[id]; exists {
			w.IsActive = active
		}
	}
	return nil
}

func (s *WalletStore) exists(w *domain.Wallet) bool {
	if _, exists := s.data[w.ID]; exists {
		return true
	}
	_, exists := s.byAddress[w.Address]
	return exists
}

func (s *WalletStore) put(w *domain.Wallet) {
	s.data[w.ID] = copyWallet(w)
	s.byAddress[w.Address] = w.ID
}

func copyWallet(w *domain.Wallet) *domain.Wallet {
	copy := *w
	copy.EncryptedPrivateKey = append([]byte(nil), w.EncryptedPrivateKey...)
	return &copy
}

var _ storage.WalletStore = (*WalletStore)(nil)
