package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pario-ai/parley/pkg/cache/disk"
	"github.com/pario-ai/parley/pkg/config"
)

func openCache(cfg *config.Config) (*disk.Store, error) {
	return disk.New(cfg.Cache.Dir, cfg.Cache.TTL)
}

func newCacheCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the response cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			c, err := openCache(cfg)
			if err != nil {
				return err
			}
			stats, err := c.Stats()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Dir:     %s\n", stats.Dir)
			fmt.Fprintf(out, "Entries: %d (%d expired)\n", stats.Entries, stats.Expired)
			fmt.Fprintf(out, "Size:    %s\n", humanize.Bytes(uint64(stats.TotalBytes)))
			if stats.Entries > 0 {
				fmt.Fprintf(out, "Oldest:  %s\n", humanize.Time(stats.Oldest))
				fmt.Fprintf(out, "Newest:  %s\n", humanize.Time(stats.Newest))
			}
			return nil
		},
	}

	var olderThan time.Duration
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			c, err := openCache(cfg)
			if err != nil {
				return err
			}
			n, err := c.Clear(olderThan)
			if err != nil {
				return err
			}
			if olderThan > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries older than %s.\n", n, olderThan)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries.\n", n)
			}
			return nil
		},
	}
	clearCmd.Flags().DurationVar(&olderThan, "older-than", 0, "only remove entries older than this")

	compactCmd := &cobra.Command{
		Use:   "compact",
		Short: "Remove expired entries and leftovers from interrupted writes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			c, err := openCache(cfg)
			if err != nil {
				return err
			}
			n, err := c.Compact()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d files.\n", n)
			return nil
		},
	}

	cmd.AddCommand(statsCmd, clearCmd, compactCmd)
	return cmd
}
