package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func schedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run the cron-driven maintenance jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			logger := rt.logger.With("component", "bootstrap")

			s := newScheduler(rt)
			s.Start()
			logger.Info("scheduler started")

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			sig := <-stop
			logger.Info("shutting down scheduler", "signal", sig.String())

			<-s.Stop().Done()
			logger.Info("scheduler stopped")
			return nil
		},
	}
}
