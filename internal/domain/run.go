package domain

import "time"

// RunStatus is the state of one execution epoch of a campaign.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunStopped   RunStatus = "stopped"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// CampaignRun is one started-to-stopped execution instance of a campaign.
type CampaignRun struct {
	ID         string
	CampaignID string
	Status     RunStatus
	Summary    *RunSummary // refreshed by the status worker
	StartedAt  time.Time
	EndedAt    *time.Time
}

// RunSummary is the metrics blob stored on a run.
type RunSummary struct {
	TotalJobs    int                    `json:"totalJobs"`
	Succeeded    int                    `json:"succeeded"`
	Failed       int                    `json:"failed"`
	Queued       int                    `json:"queued"`
	Running      int                    `json:"running"`
	Cancelled    int                    `json:"cancelled"`
	SuccessRate  float64                `json:"successRate"` // succeeded / (succeeded + failed), 0 when nothing finished
	ByQueue      map[string]QueueCounts `json:"byQueue"`
	Executions   int                    `json:"executions"`
	Bundled      int                    `json:"bundled"` // executions landed as bundles
	AvgLatencyMs float64                `json:"avgLatencyMs"`
	P50LatencyMs float64                `json:"p50LatencyMs"`
	P90LatencyMs float64                `json:"p90LatencyMs"`

	// MaxConsecutiveFailures is the longest run of failed jobs in finish order.
	MaxConsecutiveFailures int       `json:"maxConsecutiveFailures"`
	UpdatedAt              time.Time `json:"updatedAt"`
}

// QueueCounts is the per-queue job breakdown of a run summary.
type QueueCounts struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Cancelled int `json:"cancelled"`
}
