package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString(fmt.Sprintf("# Campaign Report: %s\n\n", r.Campaign.ID))
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))

	// Campaign
	sb.WriteString("## Campaign\n\n")
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|-------|-------|\n")
	sb.WriteString(fmt.Sprintf("| User | %s |\n", r.Campaign.UserID))
	sb.WriteString(fmt.Sprintf("| Status | %s |\n", r.Campaign.Status))
	sb.WriteString(fmt.Sprintf("| Token | %s |\n", orDash(r.Campaign.Token)))
	sb.WriteString(fmt.Sprintf("| Pool | %s |\n", orDash(r.Campaign.Pool)))
	sb.WriteString("\n")

	// Run
	sb.WriteString(fmt.Sprintf("## Run %s\n\n", r.Run.ID))
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Status | %s |\n", r.Run.Status))
	sb.WriteString(fmt.Sprintf("| Started | %s |\n", r.Run.StartedAt.Format(time.RFC3339)))
	if r.Run.EndedAt != nil {
		sb.WriteString(fmt.Sprintf("| Ended | %s |\n", r.Run.EndedAt.Format(time.RFC3339)))
	}
	sb.WriteString(fmt.Sprintf("| Jobs | %d |\n", r.Run.TotalJobs))
	sb.WriteString(fmt.Sprintf("| Succeeded | %d |\n", r.Run.Succeeded))
	sb.WriteString(fmt.Sprintf("| Failed | %d |\n", r.Run.Failed))
	sb.WriteString(fmt.Sprintf("| Success Rate | %.2f%% |\n", r.Run.SuccessRate*100))
	sb.WriteString(fmt.Sprintf("| Max Consecutive Failures | %d |\n", r.Run.MaxConsecutiveFailures))
	sb.WriteString(fmt.Sprintf("| Latency avg / p50 / p90 (ms) | %.0f / %.0f / %.0f |\n",
		r.Run.AvgLatencyMs, r.Run.P50LatencyMs, r.Run.P90LatencyMs))
	sb.WriteString("\n")

	// Queues
	sb.WriteString("## Queues\n\n")
	if len(r.Queues) > 0 {
		sb.WriteString("| Queue | Total | Succeeded | Failed | Pending |\n")
		sb.WriteString("|-------|-------|-----------|--------|---------|\n")
		for _, q := range r.Queues {
			sb.WriteString(fmt.Sprintf("| %s | %d | %d | %d | %d |\n", q.Queue, q.Total, q.Succeeded, q.Failed, q.Pending))
		}
	} else {
		sb.WriteString("No jobs recorded.\n")
	}
	sb.WriteString("\n")

	// Volume
	sb.WriteString("## Volume\n\n")
	sb.WriteString("| Side | Trades | Bundled | Amount |\n")
	sb.WriteString("|------|--------|---------|--------|\n")
	for _, v := range r.Volume {
		sb.WriteString(fmt.Sprintf("| %s | %d | %d | %s |\n", v.Side, v.Trades, v.Bundled, v.Amount))
	}
	sb.WriteString("\n")
	sb.WriteString("Buy amounts are lamports, sell amounts token base units.\n\n")

	// Executions
	sb.WriteString("## Executions\n\n")
	if len(r.Executions) == 0 {
		sb.WriteString("No executions recorded.\n")
		return sb.String()
	}
	sb.WriteString(fmt.Sprintf("%d executions, see the CSV export for the full list.\n", len(r.Executions)))

	return sb.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
