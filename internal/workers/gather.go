package workers

import (
	"context"
	"encoding/json"
	"fmt"

	sol "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"solana-volume-engine/internal/domain"
	"solana-volume-engine/internal/idhash"
	"solana-volume-engine/internal/jobs"
	"solana-volume-engine/internal/observability"
	"solana-volume-engine/internal/queue"
	"solana-volume-engine/internal/solana"
)

// GatherResult is the job result of a funds sweep.
type GatherResult struct {
	Gathered      int    `json:"gathered"`
	Skipped       int    `json:"skipped"`
	Failed        int    `json:"failed"`
	TotalLamports uint64 `json:"totalLamports"`
}

// GatherWorker sweeps the SOL of a user's trading wallets back to the campaign's funding wallet.
type GatherWorker struct {
	base
}

// NewGatherWorker creates a GatherWorker.
func NewGatherWorker(deps *Deps) *GatherWorker {
	return &GatherWorker{base: newBase(deps, "gather-worker")}
}

// Queue returns the funds.gather queue.
func (w *GatherWorker) Queue() string { return domain.QueueFundsGather }

// Execute visits the wallets one by one. A wallet that fails is counted and
// the sweep moves on.
func (w *GatherWorker) Execute(ctx context.Context, jc *jobs.JobContext) (any, error) {
	var p domain.GatherPayload
	if err := jc.Decode(&p); err != nil {
		return nil, err
	}

	campaign, err := w.loadCampaign(ctx, p.CampaignID)
	if err != nil {
		return nil, pkgerrors.WithStack(err)
	}
	if campaign.FundingWalletID == "" {
		return nil, queue.Permanent(fmt.Errorf("campaign %s has no funding wallet", campaign.ID))
	}
	funding, err := w.deps.Stores.Wallets.GetByID(ctx, campaign.FundingWalletID)
	if err != nil {
		return nil, queue.Permanent(notFound("funding wallet", campaign.FundingWalletID, err))
	}
	to, err := sol.PublicKeyFromBase58(funding.Address)
	if err != nil {
		return nil, queue.Permanent(fmt.Errorf("funding wallet address: %w", err))
	}
	if !solana.IsOnCurve(funding.Address) {
		return nil, queue.Permanent(fmt.Errorf("funding wallet address %s is off-curve", funding.Address))
	}

	wallets, err := w.deps.Stores.Wallets.ListActiveByUser(ctx, campaign.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "list wallets")
	}
	rent, err := w.deps.RPC.GetMinimumBalanceForRentExemption(ctx, 0)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "get rent exemption")
	}
	keep := rent + w.deps.Timing.FeeBufferLamports

	res := &GatherResult{}
	for i, wl := range wallets {
		if wl.ID == funding.ID || wl.Address == funding.Address {
			continue
		}
		log := jc.Log.WithFields(logrus.Fields{"wallet_id": wl.ID, "wallet": wl.Address})

		lamports, err := w.sweep(ctx, jc, wl, to, keep)
		switch {
		case err != nil:
			log.WithError(err).Warn("gather wallet failed")
			res.Failed++
		case lamports == 0:
			res.Skipped++
		default:
			log.WithField("lamports", lamports).Info("wallet gathered")
			res.Gathered++
			res.TotalLamports += lamports
		}
		jc.Progress(ctx, (i+1)*100/len(wallets), fmt.Sprintf("%d/%d wallets", i+1, len(wallets)))
	}

	observability.RecordGathered(res.TotalLamports)
	jc.Log.WithFields(logrus.Fields{
		"gathered": res.Gathered,
		"skipped":  res.Skipped,
		"failed":   res.Failed,
		"lamports": res.TotalLamports,
	}).Info("gather complete")
	jc.Progress(ctx, 100, "done")
	return res, nil
}

// sweep transfers everything above keep to the funding wallet. Zero means nothing to move.
func (w *GatherWorker) sweep(ctx context.Context, jc *jobs.JobContext, wl *domain.Wallet, to sol.PublicKey, keep uint64) (uint64, error) {
	if !wl.CanSign() {
		return 0, nil
	}
	balance, err := w.deps.RPC.GetBalance(ctx, wl.Address)
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	if balance <= keep {
		return 0, nil
	}
	amount := balance - keep

	key, err := w.signer(ctx, wl)
	if err != nil {
		return 0, err
	}
	ix := system.NewTransferInstruction(amount, key.PublicKey(), to).Build()
	out, err := w.deps.Transfers.Execute(ctx, key, []sol.Instruction{ix})
	if err != nil {
		return 0, err
	}

	body, _ := json.Marshal(transferResult{
		Kind:       "gather",
		From:       wl.Address,
		Recipients: []string{to.String()},
		Lamports:   amount,
		Signature:  out.Signature,
		ExecutedAt: w.deps.Now().UTC(),
	})
	err = w.insertExecution(ctx, jc, &domain.Execution{
		ID:          idhash.ComputeExecutionID(jc.JobID, out.Signature, ""),
		JobID:       jc.JobID,
		TxSignature: out.Signature,
		Result:      body,
		LatencyMs:   out.Latency.Milliseconds(),
		CreatedAt:   w.deps.Now().UTC(),
	})
	if err != nil {
		jc.Log.WithError(err).WithField("signature", out.Signature).Warn("log gather transfer")
	}
	return amount, nil
}

