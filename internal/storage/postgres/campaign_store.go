package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"solana-volume-engine/internal/domain"
	"solana-volume-engine/internal/storage"
)

// CampaignStore implements storage.CampaignStore using PostgreSQL.
type CampaignStore struct {
	pool *Pool
}

// NewCampaignStore creates a new CampaignStore.
func NewCampaignStore(pool *Pool) *CampaignStore {
	return &CampaignStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CampaignStore = (*CampaignStore)(nil)

// Insert adds a new campaign. Returns ErrDuplicateKey if id exists.
func (s *CampaignStore) Insert(ctx context.Context, c *domain.Campaign) error {
	params, err := json.Marshal(c.Params)
	if err != nil {
		return fmt.Errorf("marshal campaign params: %w", err)
	}

	query := `
		INSERT INTO campaigns (
			id, user_id, token_id, pool_id, funding_wallet_id, params, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = s.pool.Exec(ctx, query,
		c.ID, c.UserID, c.TokenID, c.PoolID, nullIfEmpty(c.FundingWalletID),
		params, string(c.Status), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

// GetByID retrieves a campaign by its ID. Returns ErrNotFound if not exists.
func (s *CampaignStore) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	query := `
		SELECT id, user_id, token_id, pool_id, funding_wallet_id, params, status, created_at, updated_at
		FROM campaigns
		WHERE id = $1
	`

	c, err := scanCampaign(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get campaign by id: %w", err)
	}
	return c, nil
}

// UpdateStatus sets the campaign lifecycle status. Returns ErrNotFound if not exists.
func (s *CampaignStore) UpdateStatus(ctx context.Context, id string, status domain.CampaignStatus) error {
	if !status.IsValid() {
		return storage.ErrInvalidInput
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE campaigns SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return fmt.Errorf("update campaign status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// scanCampaign scans a single row into a Campaign.
func scanCampaign(row pgx.Row) (*domain.Campaign, error) {
	var c domain.Campaign
	var fundingWalletID *string
	var params []byte
	var status string

	err := row.Scan(
		&c.ID, &c.UserID, &c.TokenID, &c.PoolID, &fundingWalletID,
		&params, &status, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if fundingWalletID != nil {
		c.FundingWalletID = *fundingWalletID
	}
	c.Status = domain.CampaignStatus(status)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &c.Params); err != nil {
			return nil, fmt.Errorf("unmarshal campaign params: %w", err)
		}
	}
	return &c, nil
}

// TokenStore implements storage.TokenStore using PostgreSQL.
type TokenStore struct {
	pool *Pool
}

// NewTokenStore creates a new TokenStore.
func NewTokenStore(pool *Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

var _ storage.TokenStore = (*TokenStore)(nil)

func (s *TokenStore) Insert(ctx context.Context, t *domain.Token) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tokens (id, mint, symbol, decimals) VALUES ($1, $2, $3, $4)`,
		t.ID, t.Mint, t.Symbol, int16(t.Decimals),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

func (s *TokenStore) GetByID(ctx context.Context, id string) (*domain.Token, error) {
	var t domain.Token
	var decimals int16

	err := s.pool.QueryRow(ctx,
		`SELECT id, mint, symbol, decimals FROM tokens WHERE id = $1`, id,
	).Scan(&t.ID, &t.Mint, &t.Symbol, &decimals)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token by id: %w", err)
	}
	t.Decimals = uint8(decimals)
	return &t, nil
}

// PoolStore implements storage.PoolStore using PostgreSQL.
type PoolStore struct {
	pool *Pool
}

// NewPoolStore creates a new PoolStore.
func NewPoolStore(pool *Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

var _ storage.PoolStore = (*PoolStore)(nil)

func (s *PoolStore) Insert(ctx context.Context, p *domain.Pool) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pools (id, token_id, address, dex) VALUES ($1, $2, $3, $4)`,
		p.ID, p.TokenID, p.Address, p.Dex,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert pool: %w", err)
	}
	return nil
}

func (s *PoolStore) GetByID(ctx context.Context, id string) (*domain.Pool, error) {
	var p domain.Pool

	err := s.pool.QueryRow(ctx,
		`SELECT id, token_id, address, dex FROM pools WHERE id = $1`, id,
	).Scan(&p.ID, &p.TokenID, &p.Address, &p.Dex)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get pool by id: %w", err)
	}
	return &p, nil
}
