package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"solana-volume-engine/internal/domain"
	"solana-volume-engine/internal/storage"
)

// UserSettingsStore implements storage.UserSettingsStore using PostgreSQL.
// Each config section is stored in its own JSONB column.
type UserSettingsStore struct {
	pool *Pool
}

// NewUserSettingsStore creates a new UserSettingsStore.
func NewUserSettingsStore(pool *Pool) *UserSettingsStore {
	return &UserSettingsStore{pool: pool}
}

// Compile-time interface check.
var _ storage.UserSettingsStore = (*UserSettingsStore)(nil)

// Upsert inserts or replaces the settings of a user.
func (s *UserSettingsStore) Upsert(ctx context.Context, us *domain.UserSettings) error {
	trading, err := json.Marshal(us.Trading)
	if err != nil {
		return fmt.Errorf("marshal trading config: %w", err)
	}
	sell, err := json.Marshal(us.Sell)
	if err != nil {
		return fmt.Errorf("marshal sell config: %w", err)
	}
	jito, err := json.Marshal(us.Jito)
	if err != nil {
		return fmt.Errorf("marshal jito config: %w", err)
	}

	query := `
		INSERT INTO user_settings (user_id, trading_config, sell_config, jito_config, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id) DO UPDATE SET
			trading_config = EXCLUDED.trading_config,
			sell_config = EXCLUDED.sell_config,
			jito_config = EXCLUDED.jito_config,
			updated_at = now()
	`

	if _, err := s.pool.Exec(ctx, query, us.UserID, trading, sell, jito); err != nil {
		return fmt.Errorf("upsert user settings: %w", err)
	}
	return nil
}

// GetByUserID retrieves settings of a user. Returns ErrNotFound if the user has none.
func (s *UserSettingsStore) GetByUserID(ctx context.Context, userID string) (*domain.UserSettings, error) {
	var trading, sell, jito []byte

	err := s.pool.QueryRow(ctx,
		`SELECT trading_config, sell_config, jito_config FROM user_settings WHERE user_id = $1`, userID,
	).Scan(&trading, &sell, &jito)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get user settings: %w", err)
	}

	us := &domain.UserSettings{UserID: userID}
	if err := json.Unmarshal(trading, &us.Trading); err != nil {
		return nil, fmt.Errorf("unmarshal trading config: %w", err)
	}
	if err := json.Unmarshal(sell, &us.Sell); err != nil {
		return nil, fmt.Errorf("unmarshal sell config: %w", err)
	}
	if err := json.Unmarshal(jito, &us.Jito); err != nil {
		return nil, fmt.Errorf("unmarshal jito config: %w", err)
	}
	return us, nil
}
