// Package notify pushes campaign status updates to listeners.
package notify

import (
	"context"
	"time"

	"solana-volume-engine/internal/domain"
)

// StatusEvent is a refreshed run summary.
type StatusEvent struct {
	CampaignID string             `json:"campaignId"`
	RunID      string             `json:"runId"`
	Summary    *domain.RunSummary `json:"summary"`
	At         time.Time          `json:"at"`
}

// Notifier delivers status events. Delivery is best-effort.
type Notifier interface {
	NotifyStatus(ctx context.Context, ev StatusEvent) error
}

// Noop discards events.
type Noop struct{}

// NotifyStatus does nothing.
func (Noop) NotifyStatus(context.Context, StatusEvent) error { return nil }
