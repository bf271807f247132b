package postgres

import "solana-volume-engine/internal/storage"

// NewStores creates the full set of PostgreSQL-backed stores sharing one pool.
func NewStores(pool *Pool) storage.Stores {
	return storage.Stores{
		Campaigns:  NewCampaignStore(pool),
		Runs:       NewRunStore(pool),
		Jobs:       NewJobStore(pool),
		Executions: NewExecutionStore(pool),
		Wallets:    NewWalletStore(pool),
		Tokens:     NewTokenStore(pool),
		Pools:      NewPoolStore(pool),
		Settings:   NewUserSettingsStore(pool),
	}
}
