package storage

import (
	"context"

	"solana-volume-engine/internal/domain"
)

// CampaignStore provides access to campaigns storage.
type CampaignStore interface {
	// Insert adds a new campaign. Returns ErrDuplicateKey if id exists.
	Insert(ctx context.Context, c *domain.Campaign) error

	// GetByID retrieves a campaign by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Campaign, error)

	// UpdateStatus sets the campaign lifecycle status. Returns ErrNotFound if not exists.
	UpdateStatus(ctx context.Context, id string, status domain.CampaignStatus) error
}

// RunStore provides access to campaign_runs storage.
type RunStore interface {
	// Insert adds a new run. Returns ErrDuplicateKey if id exists.
	Insert(ctx context.Context, r *domain.CampaignRun) error

	// GetByID retrieves a run by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.CampaignRun, error)

	// GetLatestByCampaign retrieves the most recently started run of a campaign.
	// Returns ErrNotFound if the campaign has no runs.
	GetLatestByCampaign(ctx context.Context, campaignID string) (*domain.CampaignRun, error)

	// ListActive retrieves running runs whose campaign is active, ordered by started_at ASC.
	ListActive(ctx context.Context) ([]*domain.CampaignRun, error)

	// UpdateSummary replaces the summary blob of a run. Returns ErrNotFound if not exists.
	UpdateSummary(ctx context.Context, id string, summary *domain.RunSummary) error
}

// JobStore provides access to jobs storage.
// Status updates are idempotent: repeating the same transition is a no-op.
type JobStore interface {
	// Insert adds a new job. Returns ErrDuplicateKey if id exists.
	Insert(ctx context.Context, j *domain.Job) error

	// GetByID retrieves a job by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Job, error)

	// ListByRun retrieves all jobs of a run, ordered by created_at ASC.
	ListByRun(ctx context.Context, runID string) ([]*domain.Job, error)

	// MarkRunning moves the job to running and records the delivery attempt.
	// Returns ErrInvalidTransition if the job is succeeded or cancelled.
	MarkRunning(ctx context.Context, id string, attempt int) error

	// MarkSucceeded moves the job to succeeded and stores the result in metadata.
	MarkSucceeded(ctx context.Context, id string, result []byte) error

	// MarkFailed moves the job to failed and records the error text.
	MarkFailed(ctx context.Context, id string, errMsg string) error

	// Requeue moves a failed job back to queued and clears its error.
	Requeue(ctx context.Context, id string) error

	// UpdateProgress mirrors progress into metadata. Progress never decreases.
	UpdateProgress(ctx context.Context, id string, progress int, message string) error
}

// ExecutionStore provides access to executions storage.
type ExecutionStore interface {
	// Insert adds a new execution. Returns ErrDuplicateKey if the id or a
	// non-sentinel tx_signature already exists.
	Insert(ctx context.Context, e *domain.Execution) error

	// ExistsBySignature reports whether an execution with the signature exists.
	ExistsBySignature(ctx context.Context, signature string) (bool, error)

	// ListByRun retrieves all executions of a run, ordered by created_at ASC.
	ListByRun(ctx context.Context, runID string) ([]*domain.Execution, error)
}

// ExecutionArchive receives executions for analytics. Failures never affect trading.
type ExecutionArchive interface {
	Archive(ctx context.Context, executions []*domain.Execution) error
}

// WalletStore provides access to wallets storage.
type WalletStore interface {
	// Insert adds a new wallet. Returns ErrDuplicateKey if id or address exists.
	Insert(ctx context.Context, w *domain.Wallet) error

	// InsertBulk adds multiple wallets atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, wallets []*domain.Wallet) error

	// GetByID retrieves a wallet by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Wallet, error)

	// ListActiveByUser retrieves active wallets of a user, ordered by created_at ASC.
	ListActiveByUser(ctx context.Context, userID string) ([]*domain.Wallet, error)

	// SetActive flips the activity flag of the given wallets.
	SetActive(ctx context.Context, ids []string, active bool) error
}

// TokenStore provides read access to tokens.
type TokenStore interface {
	Insert(ctx context.Context, t *domain.Token) error
	GetByID(ctx context.Context, id string) (*domain.Token, error)
}

// PoolStore provides read access to pools.
type PoolStore interface {
	Insert(ctx context.Context, p *domain.Pool) error
	GetByID(ctx context.Context, id string) (*domain.Pool, error)
}

// UserSettingsStore provides access to user_settings storage.
type UserSettingsStore interface {
	// Upsert inserts or replaces the settings of a user.
	Upsert(ctx context.Context, s *domain.UserSettings) error

	// GetByUserID retrieves settings of a user. Returns ErrNotFound if the user has none.
	GetByUserID(ctx context.Context, userID string) (*domain.UserSettings, error)
}

// Stores bundles every store the engine needs.
type Stores struct {
	Campaigns  CampaignStore
	Runs       RunStore
	Jobs       JobStore
	Executions ExecutionStore
	Wallets    WalletStore
	Tokens     TokenStore
	Pools      PoolStore
	Settings   UserSettingsStore
}
