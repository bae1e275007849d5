package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pario-ai/parley/pkg/app"
	"github.com/pario-ai/parley/pkg/budget"
	"github.com/pario-ai/parley/pkg/models"
)

func newBudgetCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Inspect spend budgets",
	}

	var providerID string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show spend vs limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !cfg.Budget.Enabled {
				fmt.Fprintln(out, "Budget enforcement is disabled.")
				return nil
			}

			l, err := app.NewLedgerOnly(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			statuses, err := budget.New(cfg.Budget.Policies, l).Status(cmd.Context(), providerID)
			if err != nil {
				return err
			}
			if len(statuses) == 0 {
				fmt.Fprintln(out, "No budget policies apply.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tPERIOD\tLIMIT\tSPENT\tREMAINING")
			for _, s := range statuses {
				period := s.Policy.Period
				if period == "" {
					period = models.BudgetDaily
				}
				fmt.Fprintf(w, "%s\t%s\t$%.2f\t$%.4f\t$%.4f\n",
					s.Policy.Provider, period, s.Policy.MaxCostUSD, s.Spent, s.Remaining)
			}
			return w.Flush()
		},
	}
	statusCmd.Flags().StringVar(&providerID, "provider", "", "filter by provider")

	cmd.AddCommand(statusCmd)
	return cmd
}
