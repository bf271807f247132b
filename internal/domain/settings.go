package domain

import "github.com/shopspring/decimal"

// UserSettings are per-user overrides. Nil fields are unset and fall through
// to campaign parameters, then to environment defaults.
type UserSettings struct {
	UserID  string
	Trading TradingConfig
	Sell    SellConfig
	Jito    JitoConfig
}

// TradingConfig overrides trade sizes and pacing.
type TradingConfig struct {
	MinAmountSOL   *decimal.Decimal `json:"minAmountSol,omitempty"`
	MaxAmountSOL   *decimal.Decimal `json:"maxAmountSol,omitempty"`
	MinIntervalSec *int             `json:"minIntervalSec,omitempty"`
	MaxIntervalSec *int             `json:"maxIntervalSec,omitempty"`
	SlippageBps    *int             `json:"slippageBps,omitempty"`
}

// SellConfig overrides sell-down behaviour.
type SellConfig struct {
	TotalTimes   *int `json:"totalTimes,omitempty"`
	StepDelaySec *int `json:"stepDelaySec,omitempty"`
}

// JitoConfig overrides bundle execution.
type JitoConfig struct {
	Enabled       *bool   `json:"enabled,omitempty"`
	TipLamports   *uint64 `json:"tipLamports,omitempty"`
	PriorityFee   *uint64 `json:"priorityFee,omitempty"` // micro-lamports per compute unit
	AuthKey       string  `json:"authKey,omitempty"`
	RelayURL      string  `json:"relayUrl,omitempty"`
	MaxBundleSize *int    `json:"maxBundleSize,omitempty"`
}
