/**
 * @description
 * Entry point for the loyalty ledger. A single binary exposes the service roles as
 * subcommands: `serve` runs the HTTP API and the inbound event consumer, `scheduler` runs
 * the cron-driven maintenance jobs, `sweep` runs one job once, and `migrate` applies the
 * embedded PostgreSQL schema.
 *
 * @dependencies
 * - github.com/spf13/cobra: command-line interface.
 * - github.com/joho/godotenv: For loading .env files during local development.
 */

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "loyalty-ledger",
		Short:         "Multi-tenant loyalty points ledger",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config-dir", ".", "directory holding an optional .env file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(schedulerCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
