package main

import (
	"fmt"
	"strings"

	"github.com/pointhed/loyalty-ledger/internal/scheduler"
	"github.com/spf13/cobra"
)

func sweepCmd() *cobra.Command {
	var job string
	var all bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a maintenance job once and exit",
		Long: `Run one maintenance job immediately, outside the cron schedule.

Jobs:
  points-expiry      expire earn transactions past their expiry date
  expiry-warnings    notify customers whose points expire soon
  redemption-sweep   expire redemptions past their lifetime
  claim-sweep        expire claims nobody reviewed in time

Examples:
  loyalty-ledger sweep --job points-expiry
  loyalty-ledger sweep --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if job == "" && !all {
				return fmt.Errorf("either --job or --all is required")
			}
			rt, err := bootstrap(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			jobs := scheduler.NewJobs(rt.service, rt.logger, rt.cfg.SweepBatchSize)
			names := []string{strings.TrimSpace(job)}
			if all {
				names = jobs.Names()
			}
			for _, name := range names {
				if err := jobs.Run(cmd.Context(), name); err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&job, "job", "", "job to run")
	cmd.Flags().BoolVar(&all, "all", false, "run every job")
	return cmd
}
