package main

import (
	"fmt"

	"github.com/pointhed/loyalty-ledger/internal/store"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending PostgreSQL migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closeLog, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer closeLog()
			if cfg.UsesMemoryStore() {
				return fmt.Errorf("migrate needs a PostgreSQL DATABASE_URL")
			}

			pool, err := openPool(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := store.Migrate(cmd.Context(), pool)
			if err != nil {
				return err
			}
			logger.Info("migrations applied", "component", "migrate", "count", len(applied), "names", applied)
			return nil
		},
	}
}
