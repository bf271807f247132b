package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sol "github.com/gagliardetto/solana-go"
	pkgerrors "github.com/pkg/errors"

	"solana-volume-engine/internal/domain"
	"solana-volume-engine/internal/executor"
	"solana-volume-engine/internal/idhash"
	"solana-volume-engine/internal/jobs"
	"solana-volume-engine/internal/observability"
	"solana-volume-engine/internal/queue"
)

// DistributionResult is the job result of a distribution.
type DistributionResult struct {
	Wallets           []string `json:"wallets"`
	LamportsPerWallet uint64   `json:"lamportsPerWallet"`
	Signatures        []string `json:"signatures"`
	BuyJobs           []string `json:"buyJobs"`
	SellJobs          []string `json:"sellJobs,omitempty"`
	CampaignWasActive bool     `json:"campaignWasActive"`
}

// transferResult is the execution log entry of one transfer transaction.
type transferResult struct {
	Kind       string    `json:"kind"`
	From       string    `json:"from"`
	Recipients []string  `json:"recipients"`
	Lamports   uint64    `json:"lamports"` // per recipient
	Signature  string    `json:"signature"`
	ExecutedAt time.Time `json:"executedAt"`
}

// DistributeWorker creates and funds fresh trading wallets for a campaign.
type DistributeWorker struct {
	base
}

// NewDistributeWorker creates a DistributeWorker.
func NewDistributeWorker(deps *Deps) *DistributeWorker {
	return &DistributeWorker{base: newBase(deps, "distribute-worker")}
}

// Queue returns the distribute queue.
func (w *DistributeWorker) Queue() string { return domain.QueueDistribute }

// Execute generates the wallets, funds them all from the funding wallet and
// seeds one buy per wallet. Any transfer failure fails the whole job and the
// generated wallets stay inactive.
func (w *DistributeWorker) Execute(ctx context.Context, jc *jobs.JobContext) (any, error) {
	var p domain.DistributePayload
	if err := jc.Decode(&p); err != nil {
		return nil, err
	}
	if p.DistributionNum <= 0 {
		return nil, queue.Permanent(fmt.Errorf("distributionNum must be positive, got %d", p.DistributionNum))
	}

	campaign, err := w.loadCampaign(ctx, p.CampaignID)
	if err != nil {
		return nil, pkgerrors.WithStack(err)
	}

	funding, from, err := w.fundingWallet(ctx, campaign)
	if err != nil {
		return nil, err
	}

	funded, err := w.fundedEarlier(ctx, jc, &p, campaign.UserID)
	if err != nil {
		return nil, err
	}
	if funded != nil {
		jc.Log.WithField("wallets", len(funded.wallets)).Info("wallets funded by an earlier attempt, seeding only")
		return w.finish(ctx, jc, &p, campaign, funded.wallets, funded.perWallet, funded.signatures)
	}

	jc.Progress(ctx, 10, "sizing allotments")
	perWallet, err := w.allotment(ctx, campaign, funding, p.DistributionNum)
	if err != nil {
		return nil, err
	}

	jc.Progress(ctx, 20, "generating wallets")
	wallets, keys, err := w.generate(ctx, campaign.UserID, p.DistributionNum)
	if err != nil {
		return nil, pkgerrors.WithStack(err)
	}
	if err := w.deps.Stores.Wallets.InsertBulk(ctx, wallets); err != nil {
		return nil, pkgerrors.Wrap(err, "persist generated wallets")
	}

	transfers := make([]Transfer, len(keys))
	for i, k := range keys {
		transfers[i] = Transfer{To: k.PublicKey(), Lamports: perWallet}
	}

	jc.Progress(ctx, 40, "funding wallets")
	results, err := NewDistributor(w.deps.Transfers, w.deps.Timing.TransfersPerTx).Distribute(ctx, from, transfers)
	w.logTransfers(ctx, jc, p.RunID, funding.Address, transfers, results)
	if err != nil {
		return nil, pkgerrors.WithStack(err)
	}

	signatures := make([]string, len(results))
	for i, r := range results {
		signatures[i] = r.Signature
	}
	observability.RecordDistributed(len(wallets))
	return w.finish(ctx, jc, &p, campaign, wallets, perWallet, signatures)
}

// finish activates the funded wallets and seeds their trades.
func (w *DistributeWorker) finish(ctx context.Context, jc *jobs.JobContext, p *domain.DistributePayload, c *domain.Campaign, wallets []*domain.Wallet, perWallet uint64, signatures []string) (*DistributionResult, error) {
	ids := make([]string, len(wallets))
	for i, wl := range wallets {
		ids[i] = wl.ID
	}
	if err := w.deps.Stores.Wallets.SetActive(ctx, ids, true); err != nil {
		return nil, pkgerrors.Wrap(err, "activate generated wallets")
	}

	jc.Progress(ctx, 80, "seeding buys")
	out := &DistributionResult{LamportsPerWallet: perWallet, Signatures: signatures, CampaignWasActive: c.IsActive()}
	for _, wl := range wallets {
		out.Wallets = append(out.Wallets, wl.Address)
	}
	if err := w.seed(ctx, p, c, wallets, perWallet, out); err != nil {
		return nil, pkgerrors.WithStack(err)
	}

	jc.Log.WithField("wallets", len(wallets)).WithField("lamports", perWallet).Info("distribution complete")
	jc.Progress(ctx, 100, "done")
	return out, nil
}

type priorFunding struct {
	wallets    []*domain.Wallet
	perWallet  uint64
	signatures []string
}

// fundedEarlier reads the transfers an earlier attempt of this job logged.
// It returns nil when none landed. A partly funded batch is not retried.
func (w *DistributeWorker) fundedEarlier(ctx context.Context, jc *jobs.JobContext, p *domain.DistributePayload, userID string) (*priorFunding, error) {
	if jc.JobID == "" {
		return nil, nil
	}
	list, err := w.deps.Stores.Executions.ListByRun(ctx, p.RunID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "load earlier transfers")
	}

	prior := &priorFunding{}
	for _, e := range list {
		if e.JobID != jc.JobID {
			continue
		}
		var tr transferResult
		if err := json.Unmarshal(e.Result, &tr); err != nil || tr.Kind != "distribute" {
			continue
		}
		prior.perWallet = tr.Lamports
		prior.signatures = append(prior.signatures, e.TxSignature)
		for _, addr := range tr.Recipients {
			wl, err := w.deps.Stores.Wallets.GetByID(ctx, idhash.ComputeWalletID(userID, addr))
			if err != nil {
				return nil, pkgerrors.Wrapf(err, "load funded wallet %s", addr)
			}
			prior.wallets = append(prior.wallets, wl)
		}
	}

	switch {
	case len(prior.signatures) == 0:
		return nil, nil
	case len(prior.wallets) < p.DistributionNum:
		return nil, queue.Permanent(fmt.Errorf("earlier attempt funded %d of %d wallets", len(prior.wallets), p.DistributionNum))
	}
	return prior, nil
}

// fundingWallet loads and decrypts the campaign's funding wallet.
// Without it the batch cannot run at all.
func (w *DistributeWorker) fundingWallet(ctx context.Context, c *domain.Campaign) (*domain.Wallet, sol.PrivateKey, error) {
	if c.FundingWalletID == "" {
		return nil, nil, queue.Permanent(fmt.Errorf("campaign %s has no funding wallet", c.ID))
	}
	funding, err := w.deps.Stores.Wallets.GetByID(ctx, c.FundingWalletID)
	if err != nil {
		return nil, nil, queue.Permanent(notFound("funding wallet", c.FundingWalletID, err))
	}
	key, err := w.signer(ctx, funding)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(err, "decrypt funding wallet")
	}
	return funding, key, nil
}

// allotment returns the lamports each new wallet receives.
func (w *DistributeWorker) allotment(ctx context.Context, c *domain.Campaign, funding *domain.Wallet, n int) (uint64, error) {
	if c.Params.DistributionSOL.IsPositive() {
		l, err := solToLamports(c.Params.DistributionSOL)
		if err != nil {
			return 0, queue.Permanent(fmt.Errorf("distribution amount: %w", err))
		}
		return l, nil
	}

	balance, err := w.deps.RPC.GetBalance(ctx, funding.Address)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "get funding balance")
	}
	reserve := w.deps.Timing.FundingReserveLamports
	if balance <= reserve {
		return 0, queue.Permanent(fmt.Errorf("funding wallet balance %d below reserve %d", balance, reserve))
	}
	per := (balance - reserve) / uint64(n)
	if per <= w.deps.Timing.FeeReserveLamports {
		return 0, queue.Permanent(fmt.Errorf("allotment %d lamports does not cover fee reserve", per))
	}
	return per, nil
}

// generate creates n keypairs as inactive wallets with encrypted keys.
func (w *DistributeWorker) generate(ctx context.Context, userID string, n int) ([]*domain.Wallet, []sol.PrivateKey, error) {
	now := w.deps.Now().UTC()
	wallets := make([]*domain.Wallet, 0, n)
	keys := make([]sol.PrivateKey, 0, n)
	for i := 0; i < n; i++ {
		key, err := sol.NewRandomPrivateKey()
		if err != nil {
			return nil, nil, fmt.Errorf("generate keypair: %w", err)
		}
		sealed, err := w.deps.Keyring.Encrypt(ctx, key)
		if err != nil {
			return nil, nil, fmt.Errorf("encrypt generated key: %w", err)
		}
		wallets = append(wallets, &domain.Wallet{
			ID:                  idhash.ComputeWalletID(userID, key.PublicKey().String()),
			UserID:              userID,
			Address:             key.PublicKey().String(),
			EncryptedPrivateKey: sealed,
			CreatedAt:           now,
		})
		keys = append(keys, key)
	}
	return wallets, keys, nil
}

// logTransfers records every landed transfer transaction.
func (w *DistributeWorker) logTransfers(ctx context.Context, jc *jobs.JobContext, runID, from string, transfers []Transfer, results []*executor.Result) {
	perTx := w.deps.Timing.TransfersPerTx
	for i, r := range results {
		start := i * perTx
		end := min(start+perTx, len(transfers))
		tr := transferResult{
			Kind:       "distribute",
			From:       from,
			Lamports:   transfers[start].Lamports,
			Signature:  r.Signature,
			ExecutedAt: w.deps.Now().UTC(),
		}
		for _, t := range transfers[start:end] {
			tr.Recipients = append(tr.Recipients, t.To.String())
		}
		body, _ := json.Marshal(tr)

		err := w.insertExecution(ctx, jc, &domain.Execution{
			ID:          idhash.ComputeExecutionID(jc.JobID, r.Signature, ""),
			JobID:       jc.JobID,
			RunID:       runID,
			TxSignature: r.Signature,
			Result:      body,
			LatencyMs:   r.Latency.Milliseconds(),
			CreatedAt:   w.deps.Now().UTC(),
		})
		if err != nil {
			jc.Log.WithError(err).WithField("signature", r.Signature).Warn("log transfer")
		}
	}
}

// seed enqueues one buy per wallet and, while the campaign is active, its paired sell.
func (w *DistributeWorker) seed(ctx context.Context, p *domain.DistributePayload, c *domain.Campaign, wallets []*domain.Wallet, perWallet uint64, out *DistributionResult) error {
	spend := uint64(0)
	if perWallet > w.deps.Timing.FeeReserveLamports {
		spend = perWallet - w.deps.Timing.FeeReserveLamports
	}
	amount := lamportsToSOL(spend)

	for _, wl := range wallets {
		buyID, err := w.deps.Dispatcher.Dispatch(ctx, jobs.Request{
			ID:    followUpID(p.DBJobID, "seed-buy|"+wl.ID),
			Queue: domain.QueueTradeBuy,
			Type:  domain.JobTypeBuy,
			RunID: p.RunID,
			Payload: &domain.BuyPayload{
				RunID:      p.RunID,
				CampaignID: p.CampaignID,
				WalletID:   wl.ID,
				Amount:     amount,
			},
		})
		if err != nil {
			return fmt.Errorf("dispatch buy for %s: %w", wl.ID, err)
		}
		out.BuyJobs = append(out.BuyJobs, buyID)

		if !c.IsActive() {
			continue
		}
		sellID, err := w.deps.Dispatcher.Dispatch(ctx, jobs.Request{
			ID:    followUpID(p.DBJobID, "seed-sell|"+wl.ID),
			Queue: domain.QueueTradeSell,
			Type:  domain.JobTypeSell,
			RunID: p.RunID,
			Payload: &domain.SellPayload{
				RunID:      p.RunID,
				CampaignID: p.CampaignID,
				WalletID:   wl.ID,
				Mode:       domain.SellNormal,
				BuyJobID:   buyID,
			},
			Delay: w.deps.Timing.SellOffset,
		})
		if err != nil {
			return fmt.Errorf("dispatch sell for %s: %w", wl.ID, err)
		}
		out.SellJobs = append(out.SellJobs, sellID)
	}
	return nil
}
