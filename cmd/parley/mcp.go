package main

import (
	"github.com/spf13/cobra"

	"github.com/pario-ai/parley/pkg/mcp"
)

func newMCPCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Run parley as an MCP tool server on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := opts.dependencies()
			if err != nil {
				return err
			}
			defer func() { _ = deps.Close() }()

			mcpOpts := []mcp.Option{mcp.WithLogger(deps.Logger.Named("mcp"))}
			if deps.Cache != nil {
				mcpOpts = append(mcpOpts, mcp.WithCache(deps.Cache))
			}
			if deps.Budget != nil {
				mcpOpts = append(mcpOpts, mcp.WithBudget(deps.Budget))
			}
			srv := mcp.New(deps.Orchestrator, deps.Ledger, version, mcpOpts...)
			return srv.Run(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
