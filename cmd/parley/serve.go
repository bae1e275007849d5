package main

import (
	"github.com/spf13/cobra"

	"github.com/pario-ai/parley/pkg/app"
	"github.com/pario-ai/parley/pkg/server"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the review API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}
			deps, err := app.NewDependencies(cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = deps.Close() }()
			defer func() { _ = logger.Sync() }()

			return server.New(deps).ListenAndServe(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (default from config)")
	return cmd
}
