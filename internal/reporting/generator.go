package reporting

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"time"

	"solana-volume-engine/internal/domain"
	"solana-volume-engine/internal/metrics"
	"solana-volume-engine/internal/storage"
)

// Generator produces campaign reports from stored data.
type Generator struct {
	stores     storage.Stores
	summarizer *metrics.Summarizer
	now        func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator(stores storage.Stores) *Generator {
	return &Generator{
		stores:     stores,
		summarizer: metrics.NewSummarizer(stores.Jobs, stores.Executions),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate builds the report of a run. An empty runID selects the
// campaign's latest run.
func (g *Generator) Generate(ctx context.Context, campaignID, runID string) (*Report, error) {
	c, err := g.stores.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("campaign %s: %w", campaignID, err)
	}

	var run *domain.CampaignRun
	if runID == "" {
		run, err = g.stores.Runs.GetLatestByCampaign(ctx, campaignID)
	} else {
		run, err = g.stores.Runs.GetByID(ctx, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("run of campaign %s: %w", campaignID, err)
	}
	if run.CampaignID != campaignID {
		return nil, fmt.Errorf("run %s belongs to campaign %s: %w", run.ID, run.CampaignID, storage.ErrInvalidInput)
	}

	summary, err := g.summarizer.Summarize(ctx, run.ID)
	if err != nil {
		return nil, err
	}

	executions, err := g.stores.Executions.ListByRun(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("list executions of run %s: %w", run.ID, err)
	}

	report := &Report{
		GeneratedAt: g.now(),
		Campaign: CampaignSection{
			ID:     c.ID,
			UserID: c.UserID,
			Status: string(c.Status),
		},
		Run: RunSection{
			ID:                     run.ID,
			Status:                 string(run.Status),
			StartedAt:              run.StartedAt,
			EndedAt:                run.EndedAt,
			TotalJobs:              summary.TotalJobs,
			Succeeded:              summary.Succeeded,
			Failed:                 summary.Failed,
			SuccessRate:            summary.SuccessRate,
			AvgLatencyMs:           summary.AvgLatencyMs,
			P50LatencyMs:           summary.P50LatencyMs,
			P90LatencyMs:           summary.P90LatencyMs,
			MaxConsecutiveFailures: summary.MaxConsecutiveFailures,
		},
		Queues: generateQueueRows(summary),
	}

	if token, err := g.stores.Tokens.GetByID(ctx, c.TokenID); err == nil {
		report.Campaign.Token = token.Mint
	}
	if pool, err := g.stores.Pools.GetByID(ctx, c.PoolID); err == nil {
		report.Campaign.Pool = pool.Address
	}

	report.Executions, report.Volume = generateExecutionRows(executions)
	return report, nil
}

func generateQueueRows(s *domain.RunSummary) []QueueRow {
	rows := make([]QueueRow, 0, len(s.ByQueue))
	for q, c := range s.ByQueue {
		rows = append(rows, QueueRow{
			Queue:     q,
			Total:     c.Total,
			Succeeded: c.Succeeded,
			Failed:    c.Failed,
			Pending:   c.Queued + c.Running,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Queue < rows[j].Queue })
	return rows
}

// executionResult covers both trade and transfer result payloads.
type executionResult struct {
	Side       string   `json:"side"`
	Kind       string   `json:"kind"`
	Wallet     string   `json:"wallet"`
	From       string   `json:"from"`
	AmountIn   string   `json:"amountIn"`
	Lamports   uint64   `json:"lamports"`
	Recipients []string `json:"recipients"`
	Executor   string   `json:"executor"`
}

func generateExecutionRows(executions []*domain.Execution) ([]ExecutionRow, []VolumeRow) {
	type volume struct {
		trades, bundled int
		amount          *big.Int
	}
	bySide := map[string]*volume{
		string(domain.SideBuy):  {amount: new(big.Int)},
		string(domain.SideSell): {amount: new(big.Int)},
	}

	rows := make([]ExecutionRow, 0, len(executions))
	for _, e := range executions {
		var r executionResult
		_ = json.Unmarshal(e.Result, &r)

		row := ExecutionRow{
			CreatedAt: e.CreatedAt,
			Executor:  r.Executor,
			Signature: e.TxSignature,
			LatencyMs: e.LatencyMs,
		}

		switch {
		case r.Side != "":
			row.Kind = r.Side
			row.Wallet = r.Wallet
			row.Amount = r.AmountIn

			v, ok := bySide[r.Side]
			if !ok {
				break
			}
			v.trades++
			if e.TxSignature == domain.BundledSignature {
				v.bundled++
			}
			if amt, ok := new(big.Int).SetString(r.AmountIn, 10); ok {
				v.amount.Add(v.amount, amt)
			}
		case r.Kind != "":
			row.Kind = r.Kind
			row.Wallet = r.From
			row.Amount = fmt.Sprintf("%d", r.Lamports*uint64(max(len(r.Recipients), 1)))
		default:
			row.Kind = "unknown"
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })

	vol := make([]VolumeRow, 0, 2)
	for _, side := range []string{string(domain.SideBuy), string(domain.SideSell)} {
		v := bySide[side]
		vol = append(vol, VolumeRow{
			Side:    side,
			Trades:  v.trades,
			Bundled: v.bundled,
			Amount:  v.amount.String(),
		})
	}
	return rows, vol
}
