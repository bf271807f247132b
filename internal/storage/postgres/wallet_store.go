package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"solana-volume-engine/internal/domain"
	"solana-volume-engine/internal/storage"
)

// WalletStore implements storage.WalletStore using PostgreSQL.
type WalletStore struct {
	pool *Pool
}

// NewWalletStore creates a new WalletStore.
func NewWalletStore(pool *Pool) *WalletStore {
	return &WalletStore{pool: pool}
}

// Compile-time interface check.
var _ storage.WalletStore = (*WalletStore)(nil)

const insertWalletQuery = `
	INSERT INTO wallets (id, user_id, address, encrypted_private_key, is_active, created_at)
	VALUES ($1, $2, $3, $4, $5, COALESCE($6::timestamptz, now()))
`

// Insert adds a new wallet. Returns ErrDuplicateKey if id or address exists.
func (s *WalletStore) Insert(ctx context.Context, w *domain.Wallet) error {
	_, err := s.pool.Exec(ctx, insertWalletQuery, walletArgs(w)...)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

// InsertBulk adds multiple wallets atomically. Fails entire batch on any duplicate.
func (s *WalletStore) InsertBulk(ctx context.Context, wallets []*domain.Wallet) error {
	if len(wallets) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, w := range wallets {
		if _, err := tx.Exec(ctx, insertWalletQuery, walletArgs(w)...); err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert wallet in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByID retrieves a wallet by its ID. Returns ErrNotFound if not exists.
func (s *WalletStore) GetByID(ctx context.Context, id string) (*domain.Wallet, error) {
	query := `
		SELECT id, user_id, address, encrypted_private_key, is_active, created_at
		FROM wallets
		WHERE id = $1
	`

	w, err := scanWallet(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get wallet by id: %w", err)
	}
	return w, nil
}

// ListActiveByUser retrieves active wallets of a user, ordered by created_at ASC.
func (s *WalletStore) ListActiveByUser(ctx context.Context, userID string) ([]*domain.Wallet, error) {
	query := `
		SELECT id, user_id, address, encrypted_private_key, is_active, created_at
		FROM wallets
		WHERE user_id = $1 AND is_active
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list active wallets: %w", err)
	}
	defer rows.Close()

	var wallets []*domain.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wallet row: %w", err)
		}
		wallets = append(wallets, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wallet rows: %w", err)
	}
	return wallets, nil
}

// SetActive flips the activity flag of the given wallets.
func (s *WalletStore) SetActive(ctx context.Context, ids []string, active bool) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `UPDATE wallets SET is_active = $2 WHERE id = ANY($1)`, ids, active); err != nil {
		return fmt.Errorf("set wallets active: %w", err)
	}
	return nil
}

func walletArgs(w *domain.Wallet) []any {
	var createdAt any
	if !w.CreatedAt.IsZero() {
		createdAt = w.CreatedAt
	}
	return []any{w.ID, w.UserID, w.Address, w.EncryptedPrivateKey, w.IsActive, createdAt}
}

// scanWallet scans a single row into a Wallet.
func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	var w domain.Wallet
	if err := row.Scan(&w.ID, &w.UserID, &w.Address, &w.EncryptedPrivateKey, &w.IsActive, &w.CreatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}
