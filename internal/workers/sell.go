package workers

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"solana-volume-engine/internal/domain"
	"solana-volume-engine/internal/jobs"
	"solana-volume-engine/internal/queue"
	"solana-volume-engine/internal/settings"
)

// ErrPairPending is returned by a strictly paired sell whose buy has not finished.
// The delivery is retried with backoff.
var ErrPairPending = errors.New("paired buy not finished")

// SellWorker executes trade.sell steps in normal or progressive mode.
type SellWorker struct {
	base
}

// NewSellWorker creates a SellWorker.
func NewSellWorker(deps *Deps) *SellWorker {
	return &SellWorker{base: newBase(deps, "sell-worker")}
}

// Queue returns the trade.sell queue.
func (w *SellWorker) Queue() string { return domain.QueueTradeSell }

// Execute sells the wallet's tokens and schedules what follows.
func (w *SellWorker) Execute(ctx context.Context, jc *jobs.JobContext) (any, error) {
	var p domain.SellPayload
	if err := jc.Decode(&p); err != nil {
		return nil, err
	}

	campaign, err := w.loadCampaign(ctx, p.CampaignID)
	if err != nil {
		return nil, pkgerrors.WithStack(err)
	}

	jc.Progress(ctx, 10, "loading wallet")
	t, err := w.loadTrade(ctx, campaign, p.WalletID)
	if err != nil {
		return nil, pkgerrors.WithStack(err)
	}

	if t.settings.Trading.StrictPairing && p.BuyJobID != "" {
		if err := w.checkPair(ctx, p.BuyJobID); err != nil {
			return nil, err
		}
	}

	balance, err := w.deps.RPC.GetTokenBalance(ctx, t.wallet.Address, t.token.Mint)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "get token balance")
	}
	current, ok := new(big.Int).SetString(balance.Amount, 10)
	if !ok {
		return nil, pkgerrors.Errorf("invalid token balance %q", balance.Amount)
	}

	if p.IsProgressive() {
		return w.sellDown(ctx, jc, &p, t, current)
	}
	return w.sellAll(ctx, jc, &p, t, current)
}

// checkPair fails with ErrPairPending until the paired buy job has an outcome.
func (w *SellWorker) checkPair(ctx context.Context, buyJobID string) error {
	job, err := w.deps.Stores.Jobs.GetByID(ctx, buyJobID)
	if err != nil {
		return pkgerrors.WithStack(notFound("buy job", buyJobID, err))
	}
	if !job.Status.IsFinished() {
		return fmt.Errorf("%w: buy job %s is %s", ErrPairPending, buyJobID, job.Status)
	}
	return nil
}

// sellAll sells the full balance and, while the campaign is active, schedules
// the next buy and its paired sell.
func (w *SellWorker) sellAll(ctx context.Context, jc *jobs.JobContext, p *domain.SellPayload, t *trade, current *big.Int) (any, error) {
	res := &domain.TradeResult{
		Side:     domain.SideSell,
		WalletID: t.wallet.ID,
		Wallet:   t.wallet.Address,
		Mint:     t.token.Mint,
		AmountIn: current.String(),
		Mode:     domain.SellNormal,
	}

	if current.Sign() == 0 {
		jc.Log.Info("no token balance, nothing to sell")
		w.skip(res, "no_balance")
	} else {
		amount, err := baseUnits(current)
		if err != nil {
			return nil, err
		}
		if err := w.executeSwap(ctx, jc, p.RunID, t, res, amount); err != nil {
			return nil, pkgerrors.WithStack(err)
		}
		jc.Log.WithField("signature", res.Signature).WithField("amount", res.AmountIn).Info("sell executed")
	}

	active, err := w.stillActive(ctx, p.CampaignID)
	if err != nil {
		return nil, pkgerrors.WithStack(err)
	}
	if !active {
		jc.Log.Info("campaign not active, cycle ends")
		jc.Progress(ctx, 100, "done")
		return res, nil
	}

	if err := w.scheduleCycle(ctx, p, t.settings.Trading); err != nil {
		return nil, pkgerrors.WithStack(err)
	}
	jc.Progress(ctx, 100, "next cycle scheduled")
	return res, nil
}

// scheduleCycle enqueues the next buy after a random interval and its sell
// SellOffset later.
func (w *SellWorker) scheduleCycle(ctx context.Context, p *domain.SellPayload, tr settings.Trading) error {
	minL, err := solToLamports(tr.MinAmountSOL)
	if err != nil {
		return queue.Permanent(fmt.Errorf("min amount: %w", err))
	}
	maxL, err := solToLamports(tr.MaxAmountSOL)
	if err != nil {
		return queue.Permanent(fmt.Errorf("max amount: %w", err))
	}

	amount := lamportsToSOL(w.uniformUint64(minL, maxL))
	buyDelay := w.uniformDuration(tr.MinInterval, tr.MaxInterval)

	buyID, err := w.deps.Dispatcher.Dispatch(ctx, jobs.Request{
		ID:    followUpID(p.DBJobID, "next-buy"),
		Queue: domain.QueueTradeBuy,
		Type:  domain.JobTypeBuy,
		RunID: p.RunID,
		Payload: &domain.BuyPayload{
			RunID:      p.RunID,
			CampaignID: p.CampaignID,
			WalletID:   p.WalletID,
			Amount:     amount,
		},
		Delay: buyDelay,
	})
	if err != nil {
		return fmt.Errorf("dispatch next buy: %w", err)
	}

	_, err = w.deps.Dispatcher.Dispatch(ctx, jobs.Request{
		ID:    followUpID(p.DBJobID, "next-sell"),
		Queue: domain.QueueTradeSell,
		Type:  domain.JobTypeSell,
		RunID: p.RunID,
		Payload: &domain.SellPayload{
			RunID:      p.RunID,
			CampaignID: p.CampaignID,
			WalletID:   p.WalletID,
			Mode:       domain.SellNormal,
			BuyJobID:   buyID,
		},
		Delay: buyDelay + w.deps.Timing.SellOffset,
	})
	if err != nil {
		return fmt.Errorf("dispatch next sell: %w", err)
	}

	w.log.WithFields(logrus.Fields{
		"wallet_id": p.WalletID,
		"amount":    amount.String(),
		"buy_delay": buyDelay,
	}).Debug("next cycle scheduled")
	return nil
}

// baseUnits converts a token amount to the swap builder's integer width.
func baseUnits(n *big.Int) (uint64, error) {
	if n.Sign() < 0 || !n.IsUint64() {
		return 0, queue.Permanent(fmt.Errorf("token amount %s out of range", n))
	}
	return n.Uint64(), nil
}
