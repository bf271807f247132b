package workers

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-volume-engine/internal/domain"
	"solana-volume-engine/internal/jobs"
	"solana-volume-engine/internal/keys"
	"solana-volume-engine/internal/queue"
	"solana-volume-engine/internal/settings"
	"solana-volume-engine/internal/storage"
)

func buyPayload(amount string) *domain.BuyPayload {
	return &domain.BuyPayload{
		RunID:      testRun,
		CampaignID: testCampaign,
		WalletID:   testWallet,
		Amount:     decimal.RequireFromString(amount),
	}
}

func TestBuyWorker_DirectExecution(t *testing.T) {
	e := newEnv(t, domain.CampaignActive)
	w := NewBuyWorker(e.deps)

	out, err := e.deliver(t, w, e.message(t, domain.QueueTradeBuy, domain.JobTypeBuy, buyPayload("0.02")))
	require.NoError(t, err)

	res := out.(*domain.TradeResult)
	assert.Equal(t, string(settings.KindDirect), res.Executor)
	assert.NotEqual(t, domain.BundledSignature, res.Signature)
	assert.Equal(t, "20000000", res.AmountIn)
	assert.Equal(t, 1, e.rpc.SentCount())
	assert.Equal(t, 0, e.rpc.BundleCount())

	req := e.swap.last()
	assert.Equal(t, domain.SideBuy, req.Side)
	assert.Equal(t, uint64(20_000_000), req.AmountIn)
	assert.Equal(t, e.mint, req.Mint)
	assert.Equal(t, 100, req.SlippageBps)

	list := e.executions(t)
	require.Len(t, list, 1)
	assert.Equal(t, res.Signature, list[0].TxSignature)
}

func TestBuyWorker_BundleExecution(t *testing.T) {
	e := newEnv(t, domain.CampaignActive)
	require.NoError(t, e.stores.Settings.Upsert(context.Background(), &domain.UserSettings{
		UserID: testUser,
		Jito:   domain.JitoConfig{Enabled: ptr(true), RelayURL: "https://relay.test", AuthKey: "secret", TipLamports: ptr(uint64(10_000))},
	}))
	w := NewBuyWorker(e.deps)

	out, err := e.deliver(t, w, e.message(t, domain.QueueTradeBuy, domain.JobTypeBuy, buyPayload("0.01")))
	require.NoError(t, err)

	res := out.(*domain.TradeResult)
	assert.Equal(t, domain.BundledSignature, res.Signature)
	assert.Equal(t, string(settings.KindBundle), res.Executor)
	assert.NotEmpty(t, res.BundleID)
	assert.Equal(t, 1, e.rpc.BundleCount())
	assert.Equal(t, 0, e.rpc.SentCount())

	// Bundled executions are never deduplicated.
	out, err = e.deliver(t, w, e.message(t, domain.QueueTradeBuy, domain.JobTypeBuy, buyPayload("0.01")))
	require.NoError(t, err)
	assert.False(t, out.(*domain.TradeResult).Idempotent)
	assert.Len(t, e.executions(t), 2)
}

func TestBuyWorker_RedeliveryLogsOneExecution(t *testing.T) {
	e := newEnv(t, domain.CampaignActive)
	w := NewBuyWorker(e.deps)
	msg := e.message(t, domain.QueueTradeBuy, domain.JobTypeBuy, buyPayload("0.02"))

	first, err := e.deliver(t, w, msg)
	require.NoError(t, err)

	redelivery := *msg
	redelivery.Attempt = 2
	second, err := e.deliver(t, w, &redelivery)
	require.NoError(t, err)

	// Same wallet, blockhash and instructions sign to the same signature.
	assert.Equal(t, first.(*domain.TradeResult).Signature, second.(*domain.TradeResult).Signature)
	assert.True(t, second.(*domain.TradeResult).Idempotent)
	assert.Len(t, e.executions(t), 1)

	// A fresh ledger, as after a restart, falls back to the execution log.
	ledger, err := jobs.NewLedger(100, e.stores.Executions)
	require.NoError(t, err)
	e.ledger = ledger
	third, err := e.deliver(t, w, &redelivery)
	require.NoError(t, err)
	assert.True(t, third.(*domain.TradeResult).Idempotent)
	assert.Len(t, e.executions(t), 1)
}

func TestBuyWorker_SkipsInactiveCampaign(t *testing.T) {
	e := newEnv(t, domain.CampaignPaused)
	w := NewBuyWorker(e.deps)

	out, err := e.deliver(t, w, e.message(t, domain.QueueTradeBuy, domain.JobTypeBuy, buyPayload("0.02")))
	require.NoError(t, err)

	res := out.(*domain.TradeResult)
	assert.True(t, res.Skipped)
	assert.Equal(t, "campaign_inactive", res.SkipReason)
	assert.Equal(t, 0, e.rpc.SentCount())
	assert.Empty(t, e.executions(t))
}

func TestBuyWorker_BundleWithoutCredentialsIsPermanent(t *testing.T) {
	e := newEnv(t, domain.CampaignActive)
	require.NoError(t, e.stores.Settings.Upsert(context.Background(), &domain.UserSettings{
		UserID: testUser,
		Jito:   domain.JitoConfig{Enabled: ptr(true)},
	}))
	w := NewBuyWorker(e.deps)

	_, err := e.deliver(t, w, e.message(t, domain.QueueTradeBuy, domain.JobTypeBuy, buyPayload("0.02")))
	require.Error(t, err)
	assert.ErrorIs(t, err, settings.ErrConfiguration)
	assert.True(t, queue.IsPermanent(err))
	assert.Equal(t, 0, e.rpc.SentCount())
}

func TestBuyWorker_MissingWallet(t *testing.T) {
	e := newEnv(t, domain.CampaignActive)
	w := NewBuyWorker(e.deps)
	p := buyPayload("0.02")
	p.WalletID = "missing"

	_, err := e.deliver(t, w, e.message(t, domain.QueueTradeBuy, domain.JobTypeBuy, p))
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.False(t, queue.IsPermanent(err))
}

func TestBuyWorker_KeyAuthenticationFailure(t *testing.T) {
	e := newEnv(t, domain.CampaignActive)
	e.addWallet(t, "tampered", true)
	wl := e.wallet(t, "tampered")
	wl.EncryptedPrivateKey[len(wl.EncryptedPrivateKey)-1] ^= 0xff
	wl.ID = "tampered-2"
	wl.Address = newKey(t).PublicKey().String()
	require.NoError(t, e.stores.Wallets.Insert(context.Background(), wl))

	w := NewBuyWorker(e.deps)
	p := buyPayload("0.02")
	p.WalletID = "tampered-2"

	_, err := e.deliver(t, w, e.message(t, domain.QueueTradeBuy, domain.JobTypeBuy, p))
	require.Error(t, err)
	assert.ErrorIs(t, err, keys.ErrAuthentication)
}

func TestBuyWorker_SwapBuilderError(t *testing.T) {
	e := newEnv(t, domain.CampaignActive)
	e.swap.err = errors.New("quote unavailable")
	w := NewBuyWorker(e.deps)

	_, err := e.deliver(t, w, e.message(t, domain.QueueTradeBuy, domain.JobTypeBuy, buyPayload("0.02")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quote unavailable")
	assert.Empty(t, e.executions(t))
}
