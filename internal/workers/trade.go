package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sol "github.com/gagliardetto/solana-go"
	pkgerrors "github.com/pkg/errors"

	"solana-volume-engine/internal/domain"
	"solana-volume-engine/internal/idhash"
	"solana-volume-engine/internal/jobs"
	"solana-volume-engine/internal/observability"
	"solana-volume-engine/internal/queue"
	"solana-volume-engine/internal/settings"
	"solana-volume-engine/internal/storage"
	"solana-volume-engine/internal/swap"
)

// trade is everything one trade step needs.
type trade struct {
	campaign *domain.Campaign
	pool     *domain.Pool
	token    *domain.Token
	wallet   *domain.Wallet
	signer   sol.PrivateKey
	settings settings.Effective
}

// loadCampaign fetches the live campaign.
func (b *base) loadCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := b.deps.Stores.Campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, notFound("campaign", id, err)
	}
	return c, nil
}

// resolveSettings merges the owner's settings with the campaign parameters.
// Unusable settings are permanent: retrying cannot fix them.
func (b *base) resolveSettings(ctx context.Context, c *domain.Campaign) (settings.Effective, error) {
	user, err := b.deps.Stores.Settings.GetByUserID(ctx, c.UserID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return settings.Effective{}, fmt.Errorf("load settings of %s: %w", c.UserID, err)
	}
	eff, err := settings.Resolve(user, c.Params, b.deps.Defaults)
	if err != nil {
		return settings.Effective{}, queue.Permanent(err)
	}
	return eff, nil
}

// signer decrypts a wallet key. Keyring errors are returned unchanged.
func (b *base) signer(ctx context.Context, w *domain.Wallet) (sol.PrivateKey, error) {
	if !w.CanSign() {
		return nil, queue.Permanent(fmt.Errorf("wallet %s has no key material", w.ID))
	}
	secret, err := b.deps.Keyring.Decrypt(ctx, w.EncryptedPrivateKey)
	if err != nil {
		return nil, err
	}
	if len(secret) != 64 {
		return nil, queue.Permanent(fmt.Errorf("wallet %s: unexpected key length %d", w.ID, len(secret)))
	}
	return sol.PrivateKey(secret), nil
}

// loadTrade fetches the records of a trade step and decrypts the wallet key.
func (b *base) loadTrade(ctx context.Context, c *domain.Campaign, walletID string) (*trade, error) {
	pool, err := b.deps.Stores.Pools.GetByID(ctx, c.PoolID)
	if err != nil {
		return nil, notFound("pool", c.PoolID, err)
	}
	token, err := b.deps.Stores.Tokens.GetByID(ctx, c.TokenID)
	if err != nil {
		return nil, notFound("token", c.TokenID, err)
	}
	wallet, err := b.deps.Stores.Wallets.GetByID(ctx, walletID)
	if err != nil {
		return nil, notFound("wallet", walletID, err)
	}

	eff, err := b.resolveSettings(ctx, c)
	if err != nil {
		return nil, err
	}

	signer, err := b.signer(ctx, wallet)
	if err != nil {
		return nil, err
	}

	return &trade{
		campaign: c,
		pool:     pool,
		token:    token,
		wallet:   wallet,
		signer:   signer,
		settings: eff,
	}, nil
}

// executeSwap builds, lands and logs one swap. The returned result carries the
// submission details; the caller fills in step specific fields beforehand.
func (b *base) executeSwap(ctx context.Context, jc *jobs.JobContext, runID string, t *trade, res *domain.TradeResult, amountIn uint64) error {
	exec, err := b.deps.Executors.Select(t.settings.Execution)
	if err != nil {
		return queue.Permanent(err)
	}

	jc.Progress(ctx, 30, "building swap")
	instrs, err := b.deps.Swap.BuildSwap(ctx, swap.Request{
		Owner:       t.wallet.Address,
		Mint:        t.token.Mint,
		Pool:        t.pool.Address,
		Dex:         t.pool.Dex,
		Side:        res.Side,
		AmountIn:    amountIn,
		SlippageBps: t.settings.Trading.SlippageBps,
	})
	if err != nil {
		return fmt.Errorf("build %s swap: %w", res.Side, err)
	}

	jc.Progress(ctx, 50, "submitting")
	out, err := exec.Execute(ctx, t.signer, instrs)
	if err != nil {
		return err
	}

	res.Executor = string(out.Kind)
	res.Signature = out.Signature
	res.Signatures = out.Signatures
	res.BundleID = out.BundleID
	res.ExecutedAt = b.deps.Now().UTC()
	observability.RecordExecution(res.Executor, string(res.Side), out.Latency)

	jc.Progress(ctx, 80, "logging execution")
	return b.logExecution(ctx, jc, runID, res, out.Latency)
}

// logExecution appends the step to the execution log unless its signature was
// already logged by an earlier delivery.
func (b *base) logExecution(ctx context.Context, jc *jobs.JobContext, runID string, res *domain.TradeResult, latency time.Duration) error {
	seen, err := jc.CheckIdempotency(ctx, res.Signature)
	if err != nil {
		return fmt.Errorf("check signature %s: %w", res.Signature, err)
	}
	if seen {
		jc.Log.WithField("signature", res.Signature).Info("signature already logged")
		observability.RecordDuplicateSignature()
		res.Idempotent = true
		return nil
	}

	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal trade result: %w", err)
	}

	e := &domain.Execution{
		ID:          idhash.ComputeExecutionID(jc.JobID, res.Signature, res.BundleID),
		JobID:       jc.JobID,
		RunID:       runID,
		TxSignature: res.Signature,
		Result:      body,
		LatencyMs:   latency.Milliseconds(),
		CreatedAt:   b.deps.Now().UTC(),
	}
	if err := b.insertExecution(ctx, jc, e); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			res.Idempotent = true
			return nil
		}
		return err
	}
	return nil
}

// insertExecution persists e, marks its signature processed and archives it.
func (b *base) insertExecution(ctx context.Context, jc *jobs.JobContext, e *domain.Execution) error {
	if err := b.deps.Stores.Executions.Insert(ctx, e); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			jc.MarkProcessed(e.TxSignature)
			return err
		}
		return pkgerrors.Wrapf(err, "log execution %s", e.TxSignature)
	}
	jc.MarkProcessed(e.TxSignature)
	b.archive(ctx, e)
	return nil
}

// archive copies e to the analytics sink. Failures are only logged.
func (b *base) archive(ctx context.Context, e *domain.Execution) {
	if b.deps.Archive == nil {
		return
	}
	if err := b.deps.Archive.Archive(ctx, []*domain.Execution{e}); err != nil {
		b.log.WithError(err).WithField("execution_id", e.ID).Warn("archive execution")
	}
}

// stillActive re-reads the campaign so continuation follows its live status.
func (b *base) stillActive(ctx context.Context, campaignID string) (bool, error) {
	c, err := b.loadCampaign(ctx, campaignID)
	if err != nil {
		return false, err
	}
	return c.IsActive(), nil
}

// skip builds the result of a step that did not trade.
func (b *base) skip(res *domain.TradeResult, reason string) *domain.TradeResult {
	res.Skipped = true
	res.SkipReason = reason
	res.ExecutedAt = b.deps.Now().UTC()
	observability.RecordSkipped(reason)
	return res
}
