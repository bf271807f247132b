package workers

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"solana-volume-engine/internal/domain"
	"solana-volume-engine/internal/jobs"
	"solana-volume-engine/internal/observability"
	"solana-volume-engine/internal/storage"
)

const (
	// DefaultAggregatorInterval is the status tick period.
	DefaultAggregatorInterval = 15 * time.Second

	debounceFactor = 0.8
)

// Aggregator periodically dispatches status jobs for active runs.
// The debounce map lives in memory, so only one replica should run it.
type Aggregator struct {
	runs       storage.RunStore
	dispatcher *jobs.Dispatcher
	interval   time.Duration
	log        *logrus.Entry
	now        func() time.Time

	mu        sync.Mutex
	scheduled map[string]time.Time // run id -> last dispatch
}

// NewAggregator creates an Aggregator ticking every interval (default 15s).
func NewAggregator(runs storage.RunStore, dispatcher *jobs.Dispatcher, interval time.Duration, log *logrus.Entry) *Aggregator {
	if interval <= 0 {
		interval = DefaultAggregatorInterval
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Aggregator{
		runs:       runs,
		dispatcher: dispatcher,
		interval:   interval,
		log:        log.WithField("component", "aggregator"),
		now:        time.Now,
		scheduled:  make(map[string]time.Time),
	}
}

// Run ticks until ctx is done.
func (a *Aggregator) Run(ctx context.Context) error {
	a.log.WithField("interval", a.interval).Info("started")
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.log.Info("stopped")
			return nil
		case <-ticker.C:
			if _, err := a.Tick(ctx); err != nil {
				a.log.WithError(err).Warn("tick failed")
			}
		}
	}
}

// Tick dispatches a status job for every active run not scheduled within the
// debounce window and forgets runs that are no longer active.
// It returns the number of dispatched jobs.
func (a *Aggregator) Tick(ctx context.Context) (int, error) {
	active, err := a.runs.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	window := time.Duration(float64(a.interval) * debounceFactor)
	now := a.now()
	due, debounced := a.claim(active, now, window)

	dispatched := 0
	for _, c := range due {
		_, err := a.dispatcher.Dispatch(ctx, jobs.Request{
			Queue:   domain.QueueStatus,
			Type:    domain.JobTypeStatus,
			RunID:   c.run.ID,
			Payload: &domain.StatusPayload{CampaignID: c.run.CampaignID, RunID: c.run.ID},
		})
		if err != nil {
			a.log.WithError(err).WithField("run_id", c.run.ID).Warn("dispatch status job")
			a.release(c, now)
			continue
		}
		dispatched++
	}

	observability.RecordAggregatorTick(dispatched, debounced)
	return dispatched, nil
}

// claimedRun is a run reserved for dispatch in this tick.
type claimedRun struct {
	run      *domain.CampaignRun
	previous time.Time
	tracked  bool
}

// claim forgets inactive runs and reserves the due ones at now, so a
// concurrent tick debounces them while the dispatch is in flight.
func (a *Aggregator) claim(active []*domain.CampaignRun, now time.Time, window time.Duration) ([]claimedRun, int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	live := make(map[string]struct{}, len(active))
	var due []claimedRun
	debounced := 0
	for _, run := range active {
		live[run.ID] = struct{}{}

		last, ok := a.scheduled[run.ID]
		if ok && now.Sub(last) < window {
			debounced++
			continue
		}
		due = append(due, claimedRun{run: run, previous: last, tracked: ok})
		a.scheduled[run.ID] = now
	}

	for id := range a.scheduled {
		if _, ok := live[id]; !ok {
			delete(a.scheduled, id)
		}
	}
	return due, debounced
}

// release undoes a claim whose dispatch failed, unless a later tick took it over.
func (a *Aggregator) release(c claimedRun, claimedAt time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if cur, ok := a.scheduled[c.run.ID]; !ok || !cur.Equal(claimedAt) {
		return
	}
	if c.tracked {
		a.scheduled[c.run.ID] = c.previous
	} else {
		delete(a.scheduled, c.run.ID)
	}
}

// Tracked returns the number of runs in the debounce map.
func (a *Aggregator) Tracked() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.scheduled)
}
