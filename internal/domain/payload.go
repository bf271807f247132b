package domain

import "github.com/shopspring/decimal"

// Queue names.
const (
	QueueTradeBuy    = "trade.buy"
	QueueTradeSell   = "trade.sell"
	QueueDistribute  = "distribute"
	QueueFundsGather = "funds.gather"
	QueueStatus      = "status"
)

// DeadLetterQueue returns the dead-letter archive name for a queue.
func DeadLetterQueue(queue string) string {
	return queue + ".dlq"
}

// Job types stored on persisted jobs.
const (
	JobTypeBuy        = "buy"
	JobTypeSell       = "sell"
	JobTypeDistribute = "distribute"
	JobTypeGather     = "gather"
	JobTypeStatus     = "status"
)

// JobRef links a queue message to its persisted Job row.
type JobRef struct {
	DBJobID string `json:"dbJobId,omitempty"`
}

// SetDBJobID stamps the persisted job id into the payload.
func (r *JobRef) SetDBJobID(id string) { r.DBJobID = id }

// BuyPayload is the trade.buy message body.
type BuyPayload struct {
	RunID      string          `json:"runId"`
	CampaignID string          `json:"campaignId"`
	WalletID   string          `json:"walletId"`
	Amount     decimal.Decimal `json:"amount"` // SOL
	JobRef
}

// SellMode selects the sell algorithm.
type SellMode string

const (
	SellNormal      SellMode = "normal"
	SellProgressive SellMode = "progressive"
)

// SellPayload is the trade.sell message body.
type SellPayload struct {
	RunID               string   `json:"runId"`
	CampaignID          string   `json:"campaignId"`
	WalletID            string   `json:"walletId"`
	Mode                SellMode `json:"mode,omitempty"`
	StepIndex           int      `json:"stepIndex,omitempty"`
	TotalTimes          int      `json:"totalTimes,omitempty"`
	InitTokenAmountBase string   `json:"initTokenAmountBase,omitempty"`
	BuyJobID            string   `json:"buyJobId,omitempty"` // paired buy, checked in strict pairing mode
	JobRef
}

// IsProgressive reports whether the payload asks for a sell-down step.
func (p *SellPayload) IsProgressive() bool {
	return p.Mode == SellProgressive
}

// DistributePayload is the distribute message body.
type DistributePayload struct {
	RunID           string `json:"runId"`
	CampaignID      string `json:"campaignId"`
	DistributionNum int    `json:"distributionNum"`
	JobRef
}

// GatherPayload is the funds.gather message body.
type GatherPayload struct {
	CampaignID string `json:"campaignId"`
	JobRef
}

// StatusPayload is the status message body.
type StatusPayload struct {
	CampaignID string `json:"campaignId"`
	RunID      string `json:"runId,omitempty"`
	JobRef
}
