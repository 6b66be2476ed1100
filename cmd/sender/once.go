package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single scan and upload cycle, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			closer, err := setupLogger(cmd)
			if err != nil {
				return err
			}
			defer closer.Close()

			engine, tracker, err := newEngine(cfg)
			if err != nil {
				return err
			}
			defer tracker.Close()

			report, err := engine.RunCycle(cmd.Context())
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(),
				"scanned=%d added=%d changed=%d removed=%d promoted=%d sent=%d failed=%d deferred=%d\n",
				report.Scanned, report.Added, report.Changed, report.Removed,
				report.Promoted, report.Sent, report.Failed, report.Deferred,
			)
			return err
		},
	}
}
