// Package swap obtains DEX swap instructions for a wallet.
package swap

import (
	"context"

	sol "github.com/gagliardetto/solana-go"

	"solana-volume-engine/internal/domain"
)

// Request describes one swap leg.
type Request struct {
	Owner       string // wallet address, the fee payer and signer
	Mint        string
	Pool        string
	Dex         string
	Side        domain.TradeSide
	AmountIn    uint64 // lamports for buys, token base units for sells
	SlippageBps int
}

// Builder returns the instructions that perform a swap, in execution order.
type Builder interface {
	BuildSwap(ctx context.Context, req Request) ([]sol.Instruction, error)
}
