package workers

import (
	"context"
	"fmt"
	"strconv"

	pkgerrors "github.com/pkg/errors"

	"solana-volume-engine/internal/domain"
	"solana-volume-engine/internal/jobs"
	"solana-volume-engine/internal/queue"
)

// BuyWorker executes trade.buy steps. A buy never enqueues follow-ups;
// its paired sell is scheduled by whoever scheduled the buy.
type BuyWorker struct {
	base
}

// NewBuyWorker creates a BuyWorker.
func NewBuyWorker(deps *Deps) *BuyWorker {
	return &BuyWorker{base: newBase(deps, "buy-worker")}
}

// Queue returns the trade.buy queue.
func (w *BuyWorker) Queue() string { return domain.QueueTradeBuy }

// Execute swaps the payload amount of SOL into the campaign token.
func (w *BuyWorker) Execute(ctx context.Context, jc *jobs.JobContext) (any, error) {
	var p domain.BuyPayload
	if err := jc.Decode(&p); err != nil {
		return nil, err
	}

	campaign, err := w.loadCampaign(ctx, p.CampaignID)
	if err != nil {
		return nil, pkgerrors.WithStack(err)
	}

	res := &domain.TradeResult{Side: domain.SideBuy, WalletID: p.WalletID, AmountIn: "0"}
	if !campaign.IsActive() {
		jc.Log.WithField("status", campaign.Status).Info("campaign not active, skipping buy")
		return w.skip(res, "campaign_inactive"), nil
	}

	lamports, err := solToLamports(p.Amount)
	if err != nil {
		return nil, queue.Permanent(fmt.Errorf("buy amount: %w", err))
	}
	if lamports == 0 {
		return w.skip(res, "zero_amount"), nil
	}

	jc.Progress(ctx, 10, "loading wallet")
	t, err := w.loadTrade(ctx, campaign, p.WalletID)
	if err != nil {
		return nil, pkgerrors.WithStack(err)
	}

	res.Wallet = t.wallet.Address
	res.Mint = t.token.Mint
	res.AmountIn = strconv.FormatUint(lamports, 10)
	if err := w.executeSwap(ctx, jc, p.RunID, t, res, lamports); err != nil {
		return nil, pkgerrors.WithStack(err)
	}

	jc.Log.WithField("signature", res.Signature).WithField("lamports", lamports).Info("buy executed")
	jc.Progress(ctx, 100, "done")
	return res, nil
}
