package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderCSV renders the executions of a report as CSV string.
func RenderCSV(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("created_at,kind,wallet,amount,executor,signature,latency_ms\n")

	// Rows
	for _, e := range r.Executions {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%s,%s,%s,%d\n",
			e.CreatedAt.UTC().Format(time.RFC3339Nano),
			e.Kind,
			e.Wallet,
			e.Amount,
			e.Executor,
			e.Signature,
			e.LatencyMs,
		))
	}

	return sb.String()
}
