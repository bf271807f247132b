// Package workers implements the queue workers of a volume campaign:
// trade steps, fund distribution and gathering, and status aggregation.
//
// Trade workers decide continuation from the live campaign status. Nothing is
// enqueued for a campaign that is no longer active, and nothing here ever
// changes a campaign's status.
package workers

import (
	"errors"
	"fmt"
	"math/big"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"solana-volume-engine/internal/executor"
	"solana-volume-engine/internal/idhash"
	"solana-volume-engine/internal/jobs"
	"solana-volume-engine/internal/keys"
	"solana-volume-engine/internal/settings"
	"solana-volume-engine/internal/solana"
	"solana-volume-engine/internal/storage"
	"solana-volume-engine/internal/swap"
)

// LamportsPerSOL is the lamport count of one SOL.
const LamportsPerSOL = 1_000_000_000

var lamportsPerSOL = decimal.NewFromInt(LamportsPerSOL)

// Executors selects the submission strategy for resolved settings.
type Executors interface {
	Select(exec settings.Execution) (executor.Executor, error)
}

// Timing holds scheduling and reserve constants of the workers.
type Timing struct {
	SellOffset             time.Duration // sell follows its paired buy by this much
	FeeReserveLamports     uint64        // kept back from a distributed allotment for fees
	FundingReserveLamports uint64        // kept on the funding wallet when splitting its balance
	FeeBufferLamports      uint64        // left on a wallet when gathering
	TransfersPerTx         int
}

// DefaultTiming returns the default Timing.
func DefaultTiming() Timing {
	return Timing{
		SellOffset:             3 * time.Second,
		FeeReserveLamports:     5_000_000,
		FundingReserveLamports: 10_000_000,
		FeeBufferLamports:      5_000,
		TransfersPerTx:         DefaultTransfersPerTx,
	}
}

func (t Timing) withDefaults() Timing {
	d := DefaultTiming()
	if t.SellOffset <= 0 {
		t.SellOffset = d.SellOffset
	}
	if t.TransfersPerTx <= 0 {
		t.TransfersPerTx = d.TransfersPerTx
	}
	return t
}

// Deps are the collaborators shared by the workers.
type Deps struct {
	Stores     storage.Stores
	Dispatcher *jobs.Dispatcher
	RPC        solana.RPCClient
	Executors  Executors
	Transfers  executor.Executor // direct executor for SOL transfers
	Keyring    keys.Keyring
	Swap       swap.Builder
	Defaults   settings.Defaults
	Archive    storage.ExecutionArchive // optional
	Timing     Timing
	Rand       *rand.Rand // optional, seeded randomly when nil
	Log        *logrus.Entry
	Now        func() time.Time

	rngMu sync.Mutex
}

func (d *Deps) init() {
	d.Timing = d.Timing.withDefaults()
	if d.Log == nil {
		d.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Rand == nil {
		d.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
}

// base is embedded by every worker.
type base struct {
	deps *Deps
	log  *logrus.Entry
}

func newBase(deps *Deps, component string) base {
	deps.init()
	return base{deps: deps, log: deps.Log.WithField("component", component)}
}

// uniformUint64 returns a value in [lo, hi].
func (b *base) uniformUint64(lo, hi uint64) uint64 {
	if hi <= lo {
		return lo
	}
	b.deps.rngMu.Lock()
	defer b.deps.rngMu.Unlock()
	return lo + b.deps.Rand.Uint64N(hi-lo+1)
}

// uniformDuration returns a value in [lo, hi].
func (b *base) uniformDuration(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	b.deps.rngMu.Lock()
	defer b.deps.rngMu.Unlock()
	return lo + time.Duration(b.deps.Rand.Int64N(int64(hi-lo)+1))
}

// solToLamports converts a SOL amount, truncating fractional lamports.
func solToLamports(sol decimal.Decimal) (uint64, error) {
	if sol.IsNegative() {
		return 0, fmt.Errorf("negative amount %s", sol)
	}
	l := sol.Mul(lamportsPerSOL).Truncate(0)
	if !l.BigInt().IsUint64() {
		return 0, fmt.Errorf("amount %s out of range", sol)
	}
	return l.BigInt().Uint64(), nil
}

// lamportsToSOL converts lamports to SOL.
func lamportsToSOL(l uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(l), 0).Div(lamportsPerSOL)
}

// notFound wraps a store lookup error with the entity name.
func notFound(entity, id string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", entity, id, err)
	}
	return fmt.Errorf("load %s %s: %w", entity, id, err)
}

// followUpID is the id of the job parentJobID enqueues as kind, so a
// redelivered parent re-dispatches the same row instead of a new one.
func followUpID(parentJobID, kind string) string {
	if parentJobID == "" {
		return ""
	}
	return idhash.ComputeJobID(parentJobID, kind)
}
