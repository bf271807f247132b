package jobs

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"solana-volume-engine/internal/domain"
	"solana-volume-engine/internal/storage"
)

// DefaultLedgerSize bounds the in-process signature set.
const DefaultLedgerSize = 10000

// Ledger remembers processed transaction signatures.
// The in-process set is bounded; the execution log is the durable fallback.
type Ledger struct {
	seen       *lru.Cache[string, struct{}]
	executions storage.ExecutionStore
}

// NewLedger creates a ledger holding up to size signatures in memory.
// executions may be nil, in which case only the in-process set is consulted.
func NewLedger(size int, executions storage.ExecutionStore) (*Ledger, error) {
	if size <= 0 {
		size = DefaultLedgerSize
	}
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("create signature cache: %w", err)
	}
	return &Ledger{seen: cache, executions: executions}, nil
}

// Seen reports whether sig was already processed.
// The bundled sentinel is shared by every bundle execution and never matches.
func (l *Ledger) Seen(ctx context.Context, sig string) (bool, error) {
	if !trackable(sig) {
		return false, nil
	}
	if l.seen.Contains(sig) {
		return true, nil
	}
	if l.executions == nil {
		return false, nil
	}

	exists, err := l.executions.ExistsBySignature(ctx, sig)
	if err != nil {
		return false, fmt.Errorf("check execution log: %w", err)
	}
	if exists {
		l.seen.Add(sig, struct{}{})
	}
	return exists, nil
}

// Mark records sig as processed in this process.
func (l *Ledger) Mark(sig string) {
	if trackable(sig) {
		l.seen.Add(sig, struct{}{})
	}
}

// Len returns the number of signatures held in memory.
func (l *Ledger) Len() int {
	return l.seen.Len()
}

func trackable(sig string) bool {
	return sig != "" && sig != domain.BundledSignature
}
