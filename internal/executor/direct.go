package executor

import (
	"context"
	"fmt"
	"time"

	sol "github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"

	"solana-volume-engine/internal/settings"
	"solana-volume-engine/internal/solana"
)

// Direct sends a single transaction to the RPC node and waits for confirmation.
// Confirmation uses the websocket subscription when one is configured and
// falls back to polling getSignatureStatuses.
type Direct struct {
	rpc         solana.RPCClient
	ws          solana.WSClient
	cfg         Config
	priorityFee uint64
	log         *logrus.Entry
	now         func() time.Time
}

// DirectOption configures Direct.
type DirectOption func(*Direct)

// WithWebsocket confirms through signatureSubscribe.
func WithWebsocket(ws solana.WSClient) DirectOption {
	return func(d *Direct) {
		d.ws = ws
	}
}

// WithDirectLogger sets the logger.
func WithDirectLogger(log *logrus.Entry) DirectOption {
	return func(d *Direct) {
		d.log = log
	}
}

// NewDirect creates a Direct executor.
func NewDirect(rpc solana.RPCClient, cfg Config, opts ...DirectOption) *Direct {
	d := &Direct{
		rpc: rpc,
		cfg: cfg.withDefaults(),
		log: logrus.NewEntry(logrus.StandardLogger()),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.WithFields(logrus.Fields{"component": "executor", "executor": settings.KindDirect})
	return d
}

// WithPriorityFee returns a copy that prepends a compute unit price instruction.
func (d *Direct) WithPriorityFee(microLamports uint64) *Direct {
	c := *d
	c.priorityFee = microLamports
	return &c
}

// Kind returns KindDirect.
func (d *Direct) Kind() settings.ExecutionKind {
	return settings.KindDirect
}

// Execute lands exactly one batch as one transaction.
func (d *Direct) Execute(ctx context.Context, signer sol.PrivateKey, batches ...[]sol.Instruction) (*Result, error) {
	if len(batches) != 1 {
		return nil, fmt.Errorf("%w: direct execution takes one batch, got %d", ErrExecution, len(batches))
	}

	blockhash, err := latestBlockhash(ctx, d.rpc)
	if err != nil {
		return nil, err
	}

	tx, err := build(blockhash, signer, d.priorityFee, batches[0])
	if err != nil {
		return nil, err
	}
	log := d.log.WithField("signature", tx.signature)

	confirmCtx, cancel := context.WithTimeout(ctx, d.cfg.ConfirmTimeout)
	defer cancel()

	// Subscribe before sending so a fast confirmation is not missed.
	var notify <-chan solana.SignatureNotification
	if d.ws != nil {
		notify, err = d.ws.SignatureSubscribe(confirmCtx, tx.signature, d.cfg.Commitment)
		if err != nil {
			log.WithError(err).Debug("signature subscribe failed, polling")
			notify = nil
		}
	}

	start := d.now()
	sent, err := d.rpc.SendTransaction(ctx, tx.raw)
	if err != nil {
		return nil, fmt.Errorf("%w: send transaction: %v", ErrExecution, err)
	}
	if sent != "" && sent != tx.signature {
		log.WithField("rpc_signature", sent).Warn("rpc returned a different signature")
	}

	if err := d.confirm(confirmCtx, log, tx.signature, notify); err != nil {
		return nil, err
	}

	return &Result{
		Signature:  tx.signature,
		Signatures: []string{tx.signature},
		Kind:       settings.KindDirect,
		Latency:    d.now().Sub(start),
	}, nil
}

func (d *Direct) confirm(ctx context.Context, log *logrus.Entry, sig string, notify <-chan solana.SignatureNotification) error {
	if notify != nil {
		select {
		case n, ok := <-notify:
			if ok {
				if n.Err != nil {
					return fmt.Errorf("%w: transaction %s failed: %v", ErrExecution, sig, n.Err)
				}
				return nil
			}
			log.Debug("subscription dropped, polling")
		case <-ctx.Done():
			return fmt.Errorf("%w: confirmation of %s timed out", ErrExecution, sig)
		}
	}
	return pollSignature(ctx, d.rpc, log, sig, d.cfg)
}

// pollSignature waits until sig reaches the configured commitment.
func pollSignature(ctx context.Context, rpc solana.RPCClient, log *logrus.Entry, sig string, cfg Config) error {
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		statuses, err := rpc.GetSignatureStatuses(ctx, []string{sig})
		if err != nil {
			log.WithError(err).Debug("get signature status")
		} else if len(statuses) == 1 && statuses[0] != nil {
			s := statuses[0]
			if s.Failed() {
				return fmt.Errorf("%w: transaction %s failed: %v", ErrExecution, sig, s.Err)
			}
			if s.Reached(cfg.Commitment) {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: confirmation of %s timed out", ErrExecution, sig)
		case <-ticker.C:
		}
	}
}

var _ Executor = (*Direct)(nil)
