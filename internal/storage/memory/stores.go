package memory

import "solana-volume-engine/internal/storage"

// NewStores creates a full set of in-memory stores.
func NewStores() storage.Stores {
	campaigns := NewCampaignStore()
	return storage.Stores{
		Campaigns:  campaigns,
		Runs:       NewRunStore(campaigns),
		Jobs:       NewJobStore(),
		Executions: NewExecutionStore(),
		Wallets:    NewWalletStore(),
		Tokens:     NewTokenStore(),
		Pools:      NewPoolStore(),
		Settings:   NewUserSettingsStore(),
	}
}
