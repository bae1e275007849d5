package mcp

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/pario-ai/parley/pkg/models"
	"github.com/pario-ai/parley/pkg/orchestrator"
)

// formatReview renders every provider's outcome, successes first.
func formatReview(res *orchestrator.Result) string {
	var b strings.Builder
	ok := res.Succeeded()
	fmt.Fprintf(&b, "Review %s: %d of %d providers answered in %dms, estimated cost $%.4f\n",
		res.RequestID, len(ok), len(res.Providers), res.LatencyMs, res.EstimatedCost)
	for _, w := range res.Warnings {
		fmt.Fprintf(&b, "warning: %s\n", w)
	}

	for _, id := range ok {
		pr := res.Providers[id]
		fmt.Fprintf(&b, "\n## %s (%s, %s)\n\n", id, pr.Model, pr.Status)
		b.WriteString(strings.TrimSpace(pr.Completion.Text))
		b.WriteString("\n")
	}
	for _, id := range res.IDs() {
		pr := res.Providers[id]
		if pr.OK() {
			continue
		}
		fmt.Fprintf(&b, "\n## %s (%s): %s\n\n%s\n", id, pr.Status, pr.ErrorKind, pr.Error)
	}
	return b.String()
}

// formatQuotes formats cost estimates as a text table.
func formatQuotes(quotes []orchestrator.Quote) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %-28s %8s %8s %10s\n", "Provider", "Model", "Input", "Output", "Cost")
	b.WriteString(strings.Repeat("-", 70) + "\n")
	var total float64
	for _, q := range quotes {
		cost := fmt.Sprintf("$%.4f", q.EstimatedCost)
		switch {
		case q.Cached:
			cost = "cached"
		case q.CostUnknown:
			cost = "unknown"
		}
		fmt.Fprintf(&b, "%-12s %-28s %8d %8d %10s\n", q.ProviderID, q.Model, q.InputTokens, q.OutputTokens, cost)
		total += q.EstimatedCost
	}
	fmt.Fprintf(&b, "Total: $%.4f\n", total)
	return b.String()
}

// formatSummary formats usage summaries as a text table.
func formatSummary(rows []models.UsageSummary) string {
	if len(rows) == 0 {
		return "No usage data found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %-28s %6s %6s %6s %10s %10s %10s\n",
		"Provider", "Model", "Calls", "Hits", "Fails", "Input", "Output", "Cost")
	b.WriteString(strings.Repeat("-", 96) + "\n")
	var total float64
	for _, r := range rows {
		fmt.Fprintf(&b, "%-12s %-28s %6d %6d %6d %10d %10d %10s\n",
			r.ProviderID, r.Model, r.Calls, r.CacheHits, r.Failures,
			r.InputTokens, r.OutputTokens, fmt.Sprintf("$%.4f", r.TotalCost))
		total += r.TotalCost
	}
	fmt.Fprintf(&b, "Total estimated cost: $%.4f\n", total)
	return b.String()
}

// formatBudgetStatus formats budget statuses as a text table.
func formatBudgetStatus(statuses []models.BudgetStatus) string {
	if len(statuses) == 0 {
		return "No budget policies found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %-8s %10s %10s %10s %6s\n",
		"Provider", "Period", "Limit", "Spent", "Remaining", "Usage%")
	b.WriteString(strings.Repeat("-", 62) + "\n")
	for _, s := range statuses {
		pct := float64(0)
		if s.Policy.MaxCostUSD > 0 {
			pct = s.Spent / s.Policy.MaxCostUSD * 100
		}
		period := s.Policy.Period
		if period == "" {
			period = models.BudgetDaily
		}
		fmt.Fprintf(&b, "%-12s %-8s %10s %10s %10s %5.1f%%\n",
			s.Policy.Provider, period,
			fmt.Sprintf("$%.2f", s.Policy.MaxCostUSD),
			fmt.Sprintf("$%.4f", s.Spent),
			fmt.Sprintf("$%.4f", s.Remaining), pct)
	}
	return b.String()
}

// formatCacheStats formats cache stats as text.
func formatCacheStats(stats models.CacheStats) string {
	total := stats.Hits + stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	var b strings.Builder
	b.WriteString("Cache Statistics\n")
	if stats.Dir != "" {
		fmt.Fprintf(&b, "  Dir:      %s\n", stats.Dir)
	}
	fmt.Fprintf(&b, "  Entries:  %d (%d expired)\n", stats.Entries, stats.Expired)
	fmt.Fprintf(&b, "  Size:     %s\n", humanize.Bytes(uint64(stats.TotalBytes)))
	if !stats.Oldest.IsZero() {
		fmt.Fprintf(&b, "  Oldest:   %s\n", humanize.Time(stats.Oldest))
	}
	fmt.Fprintf(&b, "  Hits:     %d\n", stats.Hits)
	fmt.Fprintf(&b, "  Misses:   %d\n", stats.Misses)
	fmt.Fprintf(&b, "  Hit Rate: %.1f%%\n", hitRate)
	return b.String()
}
