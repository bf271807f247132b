package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CampaignStatus is the lifecycle state of a campaign. Only the controller changes it.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignStopped   CampaignStatus = "stopped"
	CampaignCompleted CampaignStatus = "completed"
)

// IsValid checks if the status is a known value.
func (s CampaignStatus) IsValid() bool {
	switch s {
	case CampaignDraft, CampaignActive, CampaignPaused, CampaignStopped, CampaignCompleted:
		return true
	}
	return false
}

// Campaign is a repeatable trading program for one token/pool pair.
type Campaign struct {
	ID              string
	UserID          string
	TokenID         string
	PoolID          string
	FundingWalletID string // wallet that funds distribution and receives gathered funds
	Params          CampaignParams
	Status          CampaignStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsActive reports whether new trading cycles may be scheduled.
func (c *Campaign) IsActive() bool {
	return c.Status == CampaignActive
}

// CampaignParams holds campaign-level trading parameters.
// Zero values mean "not set" and fall through to environment defaults.
type CampaignParams struct {
	SlippageBps     int             `json:"slippageBps,omitempty"`
	MinTxSOL        decimal.Decimal `json:"minTxSol"`
	MaxTxSOL        decimal.Decimal `json:"maxTxSol"`
	MinIntervalSec  int             `json:"minIntervalSec,omitempty"`
	MaxIntervalSec  int             `json:"maxIntervalSec,omitempty"`
	UseJito         *bool           `json:"useJito,omitempty"`
	JitoTipLamports uint64          `json:"jitoTipLamports,omitempty"`
	DistributionSOL decimal.Decimal `json:"distributionSol"` // per generated wallet
	SellTimes       int             `json:"sellTimes,omitempty"`
}

// Token is the traded SPL token.
type Token struct {
	ID       string
	Mint     string
	Symbol   string
	Decimals uint8
}

// Pool is the DEX pool a campaign trades against.
type Pool struct {
	ID      string
	TokenID string
	Address string
	Dex     string // e.g. "raydium", "pumpfun"
}
