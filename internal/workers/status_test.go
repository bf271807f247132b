package workers

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-volume-engine/internal/domain"
	"solana-volume-engine/internal/notify"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.StatusEvent
	err    error
}

func (n *recordingNotifier) NotifyStatus(_ context.Context, ev notify.StatusEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return n.err
}

func TestStatusWorker_RefreshesSummary(t *testing.T) {
	e := newEnv(t, domain.CampaignActive)
	ctx := context.Background()

	buy := e.message(t, domain.QueueTradeBuy, domain.JobTypeBuy, buyPayload("0.01"))
	require.NoError(t, e.stores.Jobs.MarkRunning(ctx, buy.ID, 1))
	require.NoError(t, e.stores.Jobs.MarkSucceeded(ctx, buy.ID, nil))
	sell := e.message(t, domain.QueueTradeSell, domain.JobTypeSell, sellPayload())
	require.NoError(t, e.stores.Jobs.MarkRunning(ctx, sell.ID, 1))
	require.NoError(t, e.stores.Jobs.MarkFailed(ctx, sell.ID, "boom"))
	require.NoError(t, e.stores.Executions.Insert(ctx, &domain.Execution{ID: "e1", JobID: buy.ID, RunID: testRun, TxSignature: "sig-1", LatencyMs: 400}))

	n := &recordingNotifier{err: errors.New("listener gone")}
	w := NewStatusWorker(e.deps, n)

	out, err := e.deliver(t, w, e.message(t, domain.QueueStatus, domain.JobTypeStatus, &domain.StatusPayload{CampaignID: testCampaign, RunID: testRun}))
	require.NoError(t, err)

	res := out.(*StatusResult)
	require.NotNil(t, res.Summary)
	assert.False(t, res.NoData)
	// buy, sell and the status job itself
	assert.Equal(t, 3, res.Summary.TotalJobs)
	assert.Equal(t, 1, res.Summary.Succeeded)
	assert.Equal(t, 1, res.Summary.Failed)
	assert.Equal(t, 0.5, res.Summary.SuccessRate)
	assert.Equal(t, 1, res.Summary.Executions)
	assert.Equal(t, float64(400), res.Summary.AvgLatencyMs)

	run, err := e.stores.Runs.GetByID(ctx, testRun)
	require.NoError(t, err)
	require.NotNil(t, run.Summary)
	assert.Equal(t, 0.5, run.Summary.SuccessRate)

	require.Len(t, n.events, 1)
	assert.Equal(t, testCampaign, n.events[0].CampaignID)
	assert.Equal(t, testRun, n.events[0].RunID)
}

func TestStatusWorker_LatestRunOfCampaign(t *testing.T) {
	e := newEnv(t, domain.CampaignActive)
	n := &recordingNotifier{}
	w := NewStatusWorker(e.deps, n)

	out, err := e.deliver(t, w, e.message(t, domain.QueueStatus, domain.JobTypeStatus, &domain.StatusPayload{CampaignID: testCampaign}))
	require.NoError(t, err)

	assert.Equal(t, testRun, out.(*StatusResult).RunID)
	assert.Len(t, n.events, 1)
}

func TestStatusWorker_NoData(t *testing.T) {
	e := newEnv(t, domain.CampaignActive)
	n := &recordingNotifier{}
	w := NewStatusWorker(e.deps, n)

	out, err := e.deliver(t, w, e.message(t, domain.QueueStatus, domain.JobTypeStatus, &domain.StatusPayload{CampaignID: "unknown"}))
	require.NoError(t, err)

	assert.True(t, out.(*StatusResult).NoData)
	assert.Empty(t, n.events)
}
