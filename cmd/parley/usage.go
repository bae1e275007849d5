package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pario-ai/parley/pkg/app"
)

// parseSince accepts a duration such as 24h or a date YYYY-MM-DD. Empty
// means all time.
func parseSince(v string, now time.Time) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(v); err == nil && d >= 0 {
		return now.Add(-d), nil
	}
	t, err := time.ParseInLocation("2006-01-02", v, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q (use a duration like 24h or YYYY-MM-DD)", v)
	}
	return t, nil
}

func newUsageCmd(opts *globalOptions) *cobra.Command {
	var (
		since   string
		records bool
	)

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show calls, cache hits, tokens and estimated cost per provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseSince(since, time.Now())
			if err != nil {
				return err
			}
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			l, err := app.NewLedgerOnly(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			ctx := cmd.Context()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)

			if records {
				recs, err := l.Query(ctx, from, time.Time{})
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "TIME\tPROVIDER\tMODEL\tOUTCOME\tLATENCY\tTOKENS\tCOST")
				for _, r := range recs {
					outcome := string(r.Outcome)
					if r.ErrorKind != "" {
						outcome += ":" + r.ErrorKind
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dms\t%s\t$%.4f\n",
						humanize.Time(r.Timestamp), r.ProviderID, r.Model, outcome, r.LatencyMs,
						humanize.Comma(r.InputTokens+r.OutputTokens), r.EstimatedCost)
				}
				return w.Flush()
			}

			rows, err := l.Summary(ctx, from)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No usage recorded.")
				return nil
			}
			fmt.Fprintln(w, "PROVIDER\tMODEL\tCALLS\tCACHE HITS\tFAILURES\tINPUT\tOUTPUT\tAVG LATENCY\tCOST")
			var total float64
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\t%.0fms\t$%.4f\n",
					r.ProviderID, r.Model, r.Calls, r.CacheHits, r.Failures,
					humanize.Comma(r.InputTokens), humanize.Comma(r.OutputTokens), r.AvgLatencyMs, r.TotalCost)
				total += r.TotalCost
			}
			fmt.Fprintf(w, "TOTAL\t\t\t\t\t\t\t\t$%.4f\n", total)
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "only usage after this point: a duration such as 168h or a date YYYY-MM-DD")
	cmd.Flags().BoolVar(&records, "records", false, "list individual records instead of a summary")
	return cmd
}
