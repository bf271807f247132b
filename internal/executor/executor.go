// Package executor submits signed transactions either directly to an RPC node
// or as a tip-paying bundle through a block-engine relay.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	sol "github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"

	"solana-volume-engine/internal/settings"
	"solana-volume-engine/internal/solana"
)

// ErrExecution is returned when a transaction could not be landed.
var ErrExecution = errors.New("execution failed")

const (
	defaultConfirmTimeout = 60 * time.Second
	defaultPollInterval   = 500 * time.Millisecond
)

// Executor submits instruction batches signed by one wallet.
type Executor interface {
	// Kind returns the submission strategy.
	Kind() settings.ExecutionKind

	// Execute signs one transaction per batch with signer and lands them.
	Execute(ctx context.Context, signer sol.PrivateKey, batches ...[]sol.Instruction) (*Result, error)
}

// Result describes a landed submission.
type Result struct {
	Signature  string   // base58 signature, or "bundled" for bundles
	Signatures []string // every transaction signature
	BundleID   string
	Kind       settings.ExecutionKind
	Latency    time.Duration // submission to confirmation
}

// Config holds the confirmation settings shared by both strategies.
type Config struct {
	Commitment     string
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Commitment == "" {
		c.Commitment = solana.CommitmentConfirmed
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = defaultConfirmTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	return c
}

// signed is a serialized transaction and its first signature.
type signed struct {
	raw       []byte
	signature string
}

// build creates and signs a transaction paid by signer.
func build(blockhash sol.Hash, signer sol.PrivateKey, priorityFee uint64, instrs []sol.Instruction) (*signed, error) {
	if len(instrs) == 0 {
		return nil, fmt.Errorf("%w: empty instruction batch", ErrExecution)
	}

	if priorityFee > 0 {
		fee := computebudget.NewSetComputeUnitPriceInstruction(priorityFee).Build()
		instrs = append([]sol.Instruction{fee}, instrs...)
	}

	payer := signer.PublicKey()
	tx, err := sol.NewTransaction(instrs, blockhash, sol.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}

	_, err = tx.Sign(func(key sol.PublicKey) *sol.PrivateKey {
		if key.Equals(payer) {
			return &signer
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("serialize transaction: %w", err)
	}

	return &signed{raw: raw, signature: tx.Signatures[0].String()}, nil
}

// latestBlockhash fetches and decodes a recent blockhash.
func latestBlockhash(ctx context.Context, rpc solana.RPCClient) (sol.Hash, error) {
	bh, err := rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return sol.Hash{}, fmt.Errorf("%w: get blockhash: %v", ErrExecution, err)
	}
	hash, err := sol.HashFromBase58(bh.Hash)
	if err != nil {
		return sol.Hash{}, fmt.Errorf("decode blockhash: %w", err)
	}
	return hash, nil
}
