package domain

import (
	"encoding/json"
	"time"
)

// BundledSignature is stored instead of a transaction signature when the
// step was executed as a relay bundle.
const BundledSignature = "bundled"

// Execution is an immutable record of one on-chain attempt.
// It doubles as the idempotency ledger: TxSignature is unique unless it is BundledSignature.
type Execution struct {
	ID          string
	JobID       string
	RunID       string
	TxSignature string
	Result      json.RawMessage
	LatencyMs   int64 // submission to confirmation
	CreatedAt   time.Time
}

// TradeSide distinguishes buy and sell executions.
type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

// TradeResult is the Execution result payload written by trade workers.
type TradeResult struct {
	Side       TradeSide `json:"side"`
	WalletID   string    `json:"walletId"`
	Wallet     string    `json:"wallet"`
	Mint       string    `json:"mint"`
	AmountIn   string    `json:"amountIn"` // lamports for buys, token base units for sells
	Executor   string    `json:"executor"`
	Signature  string    `json:"signature"`
	Signatures []string  `json:"signatures,omitempty"`
	BundleID   string    `json:"bundleId,omitempty"`
	Mode       SellMode  `json:"mode,omitempty"`
	StepIndex  int       `json:"stepIndex,omitempty"`
	TotalTimes int       `json:"totalTimes,omitempty"`
	Skipped    bool      `json:"skipped,omitempty"`
	SkipReason string    `json:"skipReason,omitempty"`
	Idempotent bool      `json:"idempotent,omitempty"` // result already logged by an earlier delivery
	ExecutedAt time.Time `json:"executedAt"`
}
