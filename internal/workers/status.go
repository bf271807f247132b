package workers

import (
	"context"

	"solana-volume-engine/internal/domain"
	"solana-volume-engine/internal/jobs"
	"solana-volume-engine/internal/metrics"
	"solana-volume-engine/internal/notify"
)

// StatusResult is the job result of a status refresh.
type StatusResult struct {
	RunID   string             `json:"runId,omitempty"`
	NoData  bool               `json:"noData,omitempty"`
	Summary *domain.RunSummary `json:"summary,omitempty"`
}

// StatusWorker recomputes a run summary and pushes it to listeners.
type StatusWorker struct {
	base
	summarizer *metrics.Summarizer
	notifier   notify.Notifier
}

// NewStatusWorker creates a StatusWorker. A nil notifier drops notifications.
func NewStatusWorker(deps *Deps, notifier notify.Notifier) *StatusWorker {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	b := newBase(deps, "status-worker")
	return &StatusWorker{
		base:       b,
		summarizer: metrics.NewSummarizer(deps.Stores.Jobs, deps.Stores.Executions),
		notifier:   notifier,
	}
}

// Queue returns the status queue.
func (w *StatusWorker) Queue() string { return domain.QueueStatus }

// Execute refreshes the summary. Store failures yield an empty result rather
// than an error: the next tick will try again.
func (w *StatusWorker) Execute(ctx context.Context, jc *jobs.JobContext) (any, error) {
	var p domain.StatusPayload
	if err := jc.Decode(&p); err != nil {
		return nil, err
	}

	run, err := w.resolveRun(ctx, &p)
	if err != nil {
		jc.Log.WithError(err).Warn("resolve run")
		return &StatusResult{RunID: p.RunID, NoData: true}, nil
	}

	summary, err := w.summarizer.SummarizeAndStore(ctx, w.deps.Stores.Runs, run.ID)
	if err != nil {
		jc.Log.WithError(err).WithField("run_id", run.ID).Warn("summarize run")
		return &StatusResult{RunID: run.ID, NoData: true}, nil
	}

	ev := notify.StatusEvent{
		CampaignID: run.CampaignID,
		RunID:      run.ID,
		Summary:    summary,
		At:         w.deps.Now().UTC(),
	}
	if err := w.notifier.NotifyStatus(ctx, ev); err != nil {
		jc.Log.WithError(err).Warn("notify status")
	}

	jc.Log.WithField("run_id", run.ID).WithField("success_rate", summary.SuccessRate).Debug("summary refreshed")
	return &StatusResult{RunID: run.ID, Summary: summary}, nil
}

func (w *StatusWorker) resolveRun(ctx context.Context, p *domain.StatusPayload) (*domain.CampaignRun, error) {
	if p.RunID != "" {
		run, err := w.deps.Stores.Runs.GetByID(ctx, p.RunID)
		if err != nil {
			return nil, notFound("run", p.RunID, err)
		}
		return run, nil
	}
	run, err := w.deps.Stores.Runs.GetLatestByCampaign(ctx, p.CampaignID)
	if err != nil {
		return nil, notFound("latest run of campaign", p.CampaignID, err)
	}
	return run, nil
}
