package executor

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	sol "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/sirupsen/logrus"

	"solana-volume-engine/internal/domain"
	"solana-volume-engine/internal/settings"
	"solana-volume-engine/internal/solana"
)

// Bundle lands batches atomically through a relay, paying a tip to a random tip account.
type Bundle struct {
	rpc         solana.RPCClient
	relay       solana.BundleClient
	cfg         Config
	tipLamports uint64
	maxSize     int
	priorityFee uint64
	log         *logrus.Entry
	now         func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

// BundleOptions are the per-execution bundle parameters.
type BundleOptions struct {
	TipLamports   uint64
	MaxBundleSize int
	PriorityFee   uint64
}

// NewBundle creates a Bundle executor. rng picks tip accounts and may be nil.
func NewBundle(rpc solana.RPCClient, relay solana.BundleClient, cfg Config, opts BundleOptions, rng *rand.Rand, log *logrus.Entry) *Bundle {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	maxSize := opts.MaxBundleSize
	if maxSize <= 0 || maxSize > solana.MaxBundleSize {
		maxSize = solana.MaxBundleSize
	}
	return &Bundle{
		rpc:         rpc,
		relay:       relay,
		cfg:         cfg.withDefaults(),
		tipLamports: opts.TipLamports,
		maxSize:     maxSize,
		priorityFee: opts.PriorityFee,
		log:         log.WithFields(logrus.Fields{"component": "executor", "executor": settings.KindBundle}),
		now:         time.Now,
		rng:         rng,
	}
}

// Kind returns KindBundle.
func (b *Bundle) Kind() settings.ExecutionKind {
	return settings.KindBundle
}

// Execute signs one transaction per batch plus the tip transaction and submits them as one bundle.
func (b *Bundle) Execute(ctx context.Context, signer sol.PrivateKey, batches ...[]sol.Instruction) (*Result, error) {
	if len(batches) == 0 {
		return nil, fmt.Errorf("%w: empty bundle", ErrExecution)
	}
	if len(batches)+1 > b.maxSize {
		return nil, fmt.Errorf("%w: %d transactions and a tip exceed the bundle limit of %d", ErrExecution, len(batches), b.maxSize)
	}

	blockhash, err := latestBlockhash(ctx, b.rpc)
	if err != nil {
		return nil, err
	}

	raws := make([][]byte, 0, len(batches)+1)
	sigs := make([]string, 0, len(batches)+1)
	for _, batch := range batches {
		tx, err := build(blockhash, signer, b.priorityFee, batch)
		if err != nil {
			return nil, err
		}
		raws = append(raws, tx.raw)
		sigs = append(sigs, tx.signature)
	}

	tip, err := b.tipInstruction(signer.PublicKey())
	if err != nil {
		return nil, err
	}
	tipTx, err := build(blockhash, signer, 0, []sol.Instruction{tip})
	if err != nil {
		return nil, err
	}
	raws = append(raws, tipTx.raw)
	sigs = append(sigs, tipTx.signature)

	start := b.now()
	bundleID, err := b.relay.SendBundle(ctx, raws)
	if err != nil {
		return nil, fmt.Errorf("%w: send bundle: %v", ErrExecution, err)
	}

	log := b.log.WithField("bundle_id", bundleID)
	if err := b.confirm(ctx, log, bundleID); err != nil {
		return nil, err
	}

	return &Result{
		Signature:  domain.BundledSignature,
		Signatures: sigs,
		BundleID:   bundleID,
		Kind:       settings.KindBundle,
		Latency:    b.now().Sub(start),
	}, nil
}

func (b *Bundle) tipInstruction(from sol.PublicKey) (sol.Instruction, error) {
	b.rngMu.Lock()
	account := solana.RandomTipAccount(b.rng)
	b.rngMu.Unlock()

	to, err := sol.PublicKeyFromBase58(account)
	if err != nil {
		return nil, fmt.Errorf("decode tip account: %w", err)
	}
	return system.NewTransferInstruction(b.tipLamports, from, to).Build(), nil
}

// confirm polls the relay until the bundle lands at the configured commitment.
func (b *Bundle) confirm(ctx context.Context, log *logrus.Entry, bundleID string) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		statuses, err := b.relay.GetBundleStatuses(ctx, []string{bundleID})
		if err != nil {
			log.WithError(err).Debug("get bundle status")
		} else if len(statuses) == 1 && statuses[0] != nil {
			s := statuses[0]
			if s.Failed() {
				return fmt.Errorf("%w: bundle %s failed: %s", ErrExecution, bundleID, string(s.Err))
			}
			if s.Reached(b.cfg.Commitment) {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: bundle %s not landed in %s", ErrExecution, bundleID, b.cfg.ConfirmTimeout)
		case <-ticker.C:
		}
	}
}

var _ Executor = (*Bundle)(nil)
