package workers

import (
	"context"
	"fmt"
	"math/big"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"solana-volume-engine/internal/domain"
	"solana-volume-engine/internal/jobs"
	"solana-volume-engine/internal/queue"
)

// SellDownAmount returns the amount to sell at step (1-based) of total so that
// the balance falls to initial * (total - step) / total, and that target.
// The amount is never negative; over steps 1..total the amounts sum to initial
// when each step's sell lands in full.
func SellDownAmount(initial, current *big.Int, step, total int) (sell, target *big.Int) {
	target = new(big.Int).Mul(initial, big.NewInt(int64(total-step)))
	target.Quo(target, big.NewInt(int64(total)))

	sell = new(big.Int).Sub(current, target)
	if sell.Sign() < 0 {
		sell.SetInt64(0)
	}
	return sell, target
}

// sellDown executes one progressive step and schedules the next while steps remain.
func (w *SellWorker) sellDown(ctx context.Context, jc *jobs.JobContext, p *domain.SellPayload, t *trade, current *big.Int) (any, error) {
	total := p.TotalTimes
	if total <= 0 {
		total = t.settings.Sell.TotalTimes
	}
	step := p.StepIndex
	if step <= 0 {
		step = 1
	}
	if step > total {
		return nil, queue.Permanent(fmt.Errorf("sell-down step %d beyond total %d", step, total))
	}

	initial := current
	if p.InitTokenAmountBase != "" {
		v, ok := new(big.Int).SetString(p.InitTokenAmountBase, 10)
		if !ok {
			return nil, queue.Permanent(fmt.Errorf("invalid initTokenAmountBase %q", p.InitTokenAmountBase))
		}
		initial = v
	}

	sell, target := SellDownAmount(initial, current, step, total)
	log := jc.Log.WithFields(logrus.Fields{
		"step":    step,
		"total":   total,
		"initial": initial.String(),
		"current": current.String(),
		"target":  target.String(),
	})

	res := &domain.TradeResult{
		Side:       domain.SideSell,
		WalletID:   t.wallet.ID,
		Wallet:     t.wallet.Address,
		Mint:       t.token.Mint,
		AmountIn:   sell.String(),
		Mode:       domain.SellProgressive,
		StepIndex:  step,
		TotalTimes: total,
	}

	if sell.Sign() == 0 {
		log.Info("balance at or below target, nothing to sell")
		w.skip(res, "below_target")
	} else {
		amount, err := baseUnits(sell)
		if err != nil {
			return nil, err
		}
		if err := w.executeSwap(ctx, jc, p.RunID, t, res, amount); err != nil {
			return nil, pkgerrors.WithStack(err)
		}
		log.WithField("signature", res.Signature).WithField("sold", res.AmountIn).Info("sell-down step executed")
	}

	if step >= total {
		log.Info("sell-down complete")
		jc.Progress(ctx, 100, "sell-down complete")
		return res, nil
	}

	active, err := w.stillActive(ctx, p.CampaignID)
	if err != nil {
		return nil, pkgerrors.WithStack(err)
	}
	if !active {
		log.Info("campaign not active, sell-down stops")
		jc.Progress(ctx, 100, "done")
		return res, nil
	}

	_, err = w.deps.Dispatcher.Dispatch(ctx, jobs.Request{
		ID:    followUpID(p.DBJobID, "sell-down-step"),
		Queue: domain.QueueTradeSell,
		Type:  domain.JobTypeSell,
		RunID: p.RunID,
		Payload: &domain.SellPayload{
			RunID:               p.RunID,
			CampaignID:          p.CampaignID,
			WalletID:            p.WalletID,
			Mode:                domain.SellProgressive,
			StepIndex:           step + 1,
			TotalTimes:          total,
			InitTokenAmountBase: initial.String(),
		},
		Delay: t.settings.Sell.StepDelay,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(err, "dispatch next sell-down step")
	}

	jc.Progress(ctx, 100, "next step scheduled")
	return res, nil
}
