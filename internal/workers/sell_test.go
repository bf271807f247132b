package workers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-volume-engine/internal/domain"
	"solana-volume-engine/internal/jobs"
)

func sellPayload() *domain.SellPayload {
	return &domain.SellPayload{
		RunID:      testRun,
		CampaignID: testCampaign,
		WalletID:   testWallet,
		Mode:       domain.SellNormal,
	}
}

func TestSellWorker_SchedulesNextCycle(t *testing.T) {
	e := newEnv(t, domain.CampaignActive)
	wl := e.wallet(t, testWallet)
	e.rpc.SetTokenBalance(wl.Address, e.mint, "5000000")
	w := NewSellWorker(e.deps)

	out, err := e.deliver(t, w, e.message(t, domain.QueueTradeSell, domain.JobTypeSell, sellPayload()))
	require.NoError(t, err)

	res := out.(*domain.TradeResult)
	assert.Equal(t, domain.SideSell, res.Side)
	assert.Equal(t, "5000000", res.AmountIn)
	assert.Equal(t, uint64(5_000_000), e.swap.last().AmountIn)

	buys := e.broker.Pending(domain.QueueTradeBuy)
	sells := e.broker.Pending(domain.QueueTradeSell)
	require.Len(t, buys, 1)
	require.Len(t, sells, 1)

	// Campaign params 10..30s win over the defaults.
	assert.GreaterOrEqual(t, buys[0].Delay, 10*time.Second)
	assert.LessOrEqual(t, buys[0].Delay, 30*time.Second)
	assert.Equal(t, buys[0].Delay+3*time.Second, sells[0].Delay)

	var buy domain.BuyPayload
	require.NoError(t, json.Unmarshal(buys[0].Body, &buy))
	assert.Equal(t, testWallet, buy.WalletID)
	assert.True(t, buy.Amount.GreaterThanOrEqual(decimal.RequireFromString("0.01")), buy.Amount.String())
	assert.True(t, buy.Amount.LessThanOrEqual(decimal.RequireFromString("0.05")), buy.Amount.String())

	var sell domain.SellPayload
	require.NoError(t, json.Unmarshal(sells[0].Body, &sell))
	assert.Equal(t, buy.DBJobID, sell.BuyJobID)
	assert.NotEmpty(t, sell.DBJobID)

	// Both follow-ups are mirrored as queued rows.
	job, err := e.stores.Jobs.GetByID(context.Background(), buy.DBJobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, job.Status)
}

func TestSellWorker_RedeliveryDispatchesCycleOnce(t *testing.T) {
	e := newEnv(t, domain.CampaignActive)
	wl := e.wallet(t, testWallet)
	e.rpc.SetTokenBalance(wl.Address, e.mint, "5000000")
	e.failPublishes(domain.QueueTradeSell, 1)
	w := NewSellWorker(e.deps)
	msg := e.message(t, domain.QueueTradeSell, domain.JobTypeSell, sellPayload())

	_, err := e.deliver(t, w, msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dispatch next sell")
	require.Len(t, e.broker.Pending(domain.QueueTradeBuy), 1)
	assert.Empty(t, e.broker.Pending(domain.QueueTradeSell))

	// The first attempt sold everything.
	e.rpc.SetTokenBalance(wl.Address, e.mint, "0")
	msg.Attempt = 2
	_, err = e.deliver(t, w, msg)
	require.NoError(t, err)

	buys := pending[domain.BuyPayload](t, e.broker, domain.QueueTradeBuy)
	sells := pending[domain.SellPayload](t, e.broker, domain.QueueTradeSell)
	require.Len(t, buys, 1)
	require.Len(t, sells, 1)
	assert.Equal(t, buys[0].DBJobID, sells[0].BuyJobID)

	rows, err := e.stores.Jobs.ListByRun(context.Background(), testRun)
	require.NoError(t, err)
	var buyRows int
	for _, j := range rows {
		if j.Queue == domain.QueueTradeBuy {
			buyRows++
		}
	}
	assert.Equal(t, 1, buyRows)

	// A third delivery changes nothing.
	_, err = e.deliver(t, w, msg)
	require.NoError(t, err)
	assert.Len(t, e.broker.Pending(domain.QueueTradeBuy), 1)
	assert.Len(t, e.broker.Pending(domain.QueueTradeSell), 1)
}

func TestSellWorker_InactiveCampaignEnqueuesNothing(t *testing.T) {
	for _, status := range []domain.CampaignStatus{domain.CampaignPaused, domain.CampaignStopped, domain.CampaignCompleted} {
		t.Run(string(status), func(t *testing.T) {
			e := newEnv(t, status)
			wl := e.wallet(t, testWallet)
			e.rpc.SetTokenBalance(wl.Address, e.mint, "5000000")
			w := NewSellWorker(e.deps)

			_, err := e.deliver(t, w, e.message(t, domain.QueueTradeSell, domain.JobTypeSell, sellPayload()))
			require.NoError(t, err)

			// The held tokens are still sold.
			assert.Equal(t, 1, e.rpc.SentCount())
			assert.Empty(t, e.broker.Pending(domain.QueueTradeBuy))
			assert.Empty(t, e.broker.Pending(domain.QueueTradeSell))
		})
	}
}

func TestSellWorker_NoBalanceStillContinues(t *testing.T) {
	e := newEnv(t, domain.CampaignActive)
	w := NewSellWorker(e.deps)

	out, err := e.deliver(t, w, e.message(t, domain.QueueTradeSell, domain.JobTypeSell, sellPayload()))
	require.NoError(t, err)

	res := out.(*domain.TradeResult)
	assert.True(t, res.Skipped)
	assert.Equal(t, 0, e.rpc.SentCount())
	assert.Len(t, e.broker.Pending(domain.QueueTradeBuy), 1)
}

func TestSellWorker_StrictPairing(t *testing.T) {
	e := newEnv(t, domain.CampaignActive)
	e.deps.Defaults.StrictPairing = true
	wl := e.wallet(t, testWallet)
	e.rpc.SetTokenBalance(wl.Address, e.mint, "1000")
	w := NewSellWorker(e.deps)
	ctx := context.Background()

	buyMsg := e.message(t, domain.QueueTradeBuy, domain.JobTypeBuy, buyPayload("0.01"))
	p := sellPayload()
	p.BuyJobID = buyMsg.ID
	msg := e.message(t, domain.QueueTradeSell, domain.JobTypeSell, p)

	_, err := e.deliver(t, w, msg)
	require.ErrorIs(t, err, ErrPairPending)
	assert.Equal(t, 0, e.rpc.SentCount())

	require.NoError(t, e.stores.Jobs.MarkRunning(ctx, buyMsg.ID, 1))
	require.NoError(t, e.stores.Jobs.MarkSucceeded(ctx, buyMsg.ID, nil))

	_, err = e.deliver(t, w, msg)
	require.NoError(t, err)
	assert.Equal(t, 1, e.rpc.SentCount())
}

func TestSellWorker_PairingOffByDefault(t *testing.T) {
	e := newEnv(t, domain.CampaignActive)
	w := NewSellWorker(e.deps)

	p := sellPayload()
	p.BuyJobID = "still-queued-buy"

	_, err := e.deliver(t, w, e.message(t, domain.QueueTradeSell, domain.JobTypeSell, p))
	require.NoError(t, err)
}

func TestSellWorker_ExecutorFailureDeadLetters(t *testing.T) {
	e := newEnv(t, domain.CampaignActive)
	wl := e.wallet(t, testWallet)
	e.rpc.SetTokenBalance(wl.Address, e.mint, "5000000")
	e.rpc.SendErr = errors.New("node unavailable")

	runner := jobs.NewRunner(e.broker, NewSellWorker(e.deps), e.stores.Jobs, e.ledger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = runner.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	id, err := e.dispatcher.Dispatch(context.Background(), jobs.Request{
		Queue:   domain.QueueTradeSell,
		Type:    domain.JobTypeSell,
		RunID:   testRun,
		Payload: sellPayload(),
	})
	require.NoError(t, err)

	dlq := domain.DeadLetterQueue(domain.QueueTradeSell)
	require.Eventually(t, func() bool {
		return len(e.broker.Pending(dlq)) == 1
	}, 5*time.Second, 5*time.Millisecond)

	var dl jobs.DeadLetter
	require.NoError(t, json.Unmarshal(e.broker.Pending(dlq)[0].Body, &dl))
	assert.Equal(t, 3, dl.Attempts)
	assert.Contains(t, dl.Error.Message, "node unavailable")
	assert.NotEmpty(t, dl.Error.Stack)

	var original domain.SellPayload
	require.NoError(t, json.Unmarshal(dl.OriginalJob, &original))
	assert.Equal(t, testWallet, original.WalletID)
	assert.Equal(t, id, original.DBJobID)

	job, err := e.stores.Jobs.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, job.Status)
	assert.Equal(t, 3, job.Attempts)
	assert.Contains(t, job.Error, "node unavailable")

	// Never re-queued and no follow-ups.
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, e.broker.Pending(dlq), 1)
	assert.Empty(t, e.broker.Pending(domain.QueueTradeBuy))
	assert.Empty(t, e.executions(t))
}
