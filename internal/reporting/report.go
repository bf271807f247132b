package reporting

import "time"

// Report is the run report of one campaign.
type Report struct {
	GeneratedAt time.Time

	Campaign CampaignSection
	Run      RunSection

	// Queues sorted by queue name.
	Queues []QueueRow

	// Volume per side, buys first.
	Volume []VolumeRow

	// Executions in landing order.
	Executions []ExecutionRow
}

// CampaignSection describes the campaign.
type CampaignSection struct {
	ID     string
	UserID string
	Status string
	Token  string // mint
	Pool   string
}

// RunSection describes the reported run and its job outcome.
type RunSection struct {
	ID                     string
	Status                 string
	StartedAt              time.Time
	EndedAt                *time.Time
	TotalJobs              int
	Succeeded              int
	Failed                 int
	SuccessRate            float64
	AvgLatencyMs           float64
	P50LatencyMs           float64
	P90LatencyMs           float64
	MaxConsecutiveFailures int
}

// QueueRow is the job breakdown of one queue.
type QueueRow struct {
	Queue     string
	Total     int
	Succeeded int
	Failed    int
	Pending   int // queued + running
}

// VolumeRow sums landed trades of one side.
type VolumeRow struct {
	Side    string
	Trades  int
	Bundled int
	Amount  string // lamports for buys, token base units for sells
}

// ExecutionRow is one landed execution.
type ExecutionRow struct {
	CreatedAt time.Time
	Kind      string // buy, sell, distribute, gather
	Wallet    string
	Amount    string
	Executor  string
	Signature string
	LatencyMs int64
}
