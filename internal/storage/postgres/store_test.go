package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-volume-engine/internal/domain"
	"solana-volume-engine/internal/storage"
)

// seedCampaign inserts the token, pool, campaign and a running run.
func seedCampaign(t *testing.T, ctx context.Context, stores storage.Stores, status domain.CampaignStatus) *domain.CampaignRun {
	t.Helper()

	require.NoError(t, stores.Tokens.Insert(ctx, &domain.Token{ID: "tok-1", Mint: "Mint111", Symbol: "TST", Decimals: 6}))
	require.NoError(t, stores.Pools.Insert(ctx, &domain.Pool{ID: "pool-1", TokenID: "tok-1", Address: "Pool111", Dex: "raydium"}))

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, stores.Campaigns.Insert(ctx, &domain.Campaign{
		ID:      "camp-1",
		UserID:  "user-1",
		TokenID: "tok-1",
		PoolID:  "pool-1",
		Params: domain.CampaignParams{
			MinTxSOL:       decimal.RequireFromString("0.01"),
			MaxTxSOL:       decimal.RequireFromString("0.05"),
			MinIntervalSec: 10,
			MaxIntervalSec: 30,
			UseJito:        ptr(true),
		},
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}))

	run := &domain.CampaignRun{ID: "run-1", CampaignID: "camp-1", Status: domain.RunRunning, StartedAt: now}
	require.NoError(t, stores.Runs.Insert(ctx, run))
	return run
}

func TestCampaignAndRunStores(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	stores := NewStores(pool)
	seedCampaign(t, ctx, stores, domain.CampaignActive)

	c, err := stores.Campaigns.GetByID(ctx, "camp-1")
	require.NoError(t, err)
	assert.True(t, c.IsActive())
	assert.True(t, c.Params.MinTxSOL.Equal(decimal.RequireFromString("0.01")))
	require.NotNil(t, c.Params.UseJito)
	assert.True(t, *c.Params.UseJito)

	active, err := stores.Runs.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	require.NoError(t, stores.Campaigns.UpdateStatus(ctx, "camp-1", domain.CampaignPaused))
	active, err = stores.Runs.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	summary := &domain.RunSummary{TotalJobs: 2, Succeeded: 1, Failed: 1, SuccessRate: 0.5}
	require.NoError(t, stores.Runs.UpdateSummary(ctx, "run-1", summary))
	run, err := stores.Runs.GetLatestByCampaign(ctx, "camp-1")
	require.NoError(t, err)
	require.NotNil(t, run.Summary)
	assert.Equal(t, 0.5, run.Summary.SuccessRate)

	_, err = stores.Campaigns.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestJobStore_Transitions(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	stores := NewStores(pool)
	seedCampaign(t, ctx, stores, domain.CampaignActive)

	job := &domain.Job{
		ID:      "job-1",
		RunID:   "run-1",
		Queue:   domain.QueueTradeBuy,
		Type:    domain.JobTypeBuy,
		Payload: []byte(`{"walletId":"w1"}`),
	}
	require.NoError(t, stores.Jobs.Insert(ctx, job))
	assert.ErrorIs(t, stores.Jobs.Insert(ctx, job), storage.ErrDuplicateKey)

	require.NoError(t, stores.Jobs.MarkRunning(ctx, "job-1", 1))
	require.NoError(t, stores.Jobs.UpdateProgress(ctx, "job-1", 40, "sending"))
	require.NoError(t, stores.Jobs.UpdateProgress(ctx, "job-1", 20, ""))
	require.NoError(t, stores.Jobs.MarkFailed(ctx, "job-1", "blockhash expired"))
	require.NoError(t, stores.Jobs.MarkRunning(ctx, "job-1", 2))
	require.NoError(t, stores.Jobs.MarkSucceeded(ctx, "job-1", []byte(`{"signature":"sig"}`)))

	got, err := stores.Jobs.GetByID(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobSucceeded, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, 100, got.Metadata.Progress)
	assert.Equal(t, "sending", got.Metadata.Message)
	assert.JSONEq(t, `{"signature":"sig"}`, string(got.Metadata.Result))
	assert.Empty(t, got.Error)
	assert.NotNil(t, got.FinishedAt)

	assert.ErrorIs(t, stores.Jobs.MarkRunning(ctx, "job-1", 3), storage.ErrInvalidTransition)
	assert.ErrorIs(t, stores.Jobs.MarkFailed(ctx, "missing", "x"), storage.ErrNotFound)

	require.NoError(t, stores.Jobs.Insert(ctx, &domain.Job{ID: "job-2", RunID: "run-1", Queue: domain.QueueTradeSell, Type: domain.JobTypeSell}))
	require.NoError(t, stores.Jobs.MarkFailed(ctx, "job-2", "publish: connection reset"))
	require.NoError(t, stores.Jobs.Requeue(ctx, "job-2"))
	requeued, err := stores.Jobs.GetByID(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, requeued.Status)
	assert.Empty(t, requeued.Error)
	assert.Nil(t, requeued.FinishedAt)
	assert.ErrorIs(t, stores.Jobs.Requeue(ctx, "job-1"), storage.ErrInvalidTransition)

	jobs, err := stores.Jobs.ListByRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestExecutionStore_PartialUniqueSignature(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	stores := NewStores(pool)
	seedCampaign(t, ctx, stores, domain.CampaignActive)
	require.NoError(t, stores.Jobs.Insert(ctx, &domain.Job{ID: "job-1", RunID: "run-1", Queue: domain.QueueTradeBuy, Type: domain.JobTypeBuy}))

	require.NoError(t, stores.Executions.Insert(ctx, &domain.Execution{ID: "e1", JobID: "job-1", RunID: "run-1", TxSignature: "sig-1"}))
	err := stores.Executions.Insert(ctx, &domain.Execution{ID: "e2", JobID: "job-1", RunID: "run-1", TxSignature: "sig-1"})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	require.NoError(t, stores.Executions.Insert(ctx, &domain.Execution{ID: "e3", JobID: "job-1", RunID: "run-1", TxSignature: domain.BundledSignature}))
	require.NoError(t, stores.Executions.Insert(ctx, &domain.Execution{ID: "e4", JobID: "job-1", RunID: "run-1", TxSignature: domain.BundledSignature}))

	exists, err := stores.Executions.ExistsBySignature(ctx, "sig-1")
	require.NoError(t, err)
	assert.True(t, exists)

	list, err := stores.Executions.ListByRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestWalletAndSettingsStores(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	stores := NewStores(pool)

	wallets := []*domain.Wallet{
		{ID: "w1", UserID: "user-1", Address: "Addr1", EncryptedPrivateKey: []byte{1, 2, 3}},
		{ID: "w2", UserID: "user-1", Address: "Addr2", EncryptedPrivateKey: []byte{4, 5, 6}},
	}
	require.NoError(t, stores.Wallets.InsertBulk(ctx, wallets))
	assert.ErrorIs(t, stores.Wallets.InsertBulk(ctx, wallets[:1]), storage.ErrDuplicateKey)

	active, err := stores.Wallets.ListActiveByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, stores.Wallets.SetActive(ctx, []string{"w1", "w2"}, true))
	active, err = stores.Wallets.ListActiveByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, []byte{1, 2, 3}, active[0].EncryptedPrivateKey)

	_, err = stores.Settings.GetByUserID(ctx, "user-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	settings := &domain.UserSettings{
		UserID: "user-1",
		Jito:   domain.JitoConfig{Enabled: ptr(true), AuthKey: "key", RelayURL: "https://relay", MaxBundleSize: ptr(4)},
		Sell:   domain.SellConfig{TotalTimes: ptr(5)},
	}
	require.NoError(t, stores.Settings.Upsert(ctx, settings))
	settings.Sell.TotalTimes = ptr(3)
	require.NoError(t, stores.Settings.Upsert(ctx, settings))

	got, err := stores.Settings.GetByUserID(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, got.Sell.TotalTimes)
	assert.Equal(t, 3, *got.Sell.TotalTimes)
	assert.Equal(t, "https://relay", got.Jito.RelayURL)
	assert.Nil(t, got.Trading.MinAmountSOL)
}
