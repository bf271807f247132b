package workers

import (
	"context"
	"fmt"

	sol "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	"solana-volume-engine/internal/executor"
)

// DefaultTransfersPerTx is how many system transfers share one transaction.
const DefaultTransfersPerTx = 8

// Transfer moves lamports to a recipient.
type Transfer struct {
	To       sol.PublicKey
	Lamports uint64
}

// Distributor sends SOL transfers from one wallet, packed into transactions.
type Distributor struct {
	exec  executor.Executor
	perTx int
}

// NewDistributor creates a Distributor submitting through exec.
func NewDistributor(exec executor.Executor, perTx int) *Distributor {
	if perTx <= 0 {
		perTx = DefaultTransfersPerTx
	}
	return &Distributor{exec: exec, perTx: perTx}
}

// Batches groups transfers into instruction batches of at most perTx transfers.
func (d *Distributor) Batches(from sol.PublicKey, transfers []Transfer) [][]sol.Instruction {
	var batches [][]sol.Instruction
	for start := 0; start < len(transfers); start += d.perTx {
		end := min(start+d.perTx, len(transfers))
		batch := make([]sol.Instruction, 0, end-start)
		for _, t := range transfers[start:end] {
			batch = append(batch, system.NewTransferInstruction(t.Lamports, from, t.To).Build())
		}
		batches = append(batches, batch)
	}
	return batches
}

// Distribute lands every batch in order and stops at the first failure.
// Results of the batches that landed are returned along with the error.
func (d *Distributor) Distribute(ctx context.Context, from sol.PrivateKey, transfers []Transfer) ([]*executor.Result, error) {
	batches := d.Batches(from.PublicKey(), transfers)
	results := make([]*executor.Result, 0, len(batches))
	for i, batch := range batches {
		res, err := d.exec.Execute(ctx, from, batch)
		if err != nil {
			return results, fmt.Errorf("transfer batch %d/%d: %w", i+1, len(batches), err)
		}
		results = append(results, res)
	}
	return results, nil
}
