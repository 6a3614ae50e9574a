package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"labeller/api/internal/config"
	"labeller/api/internal/store"
)

func newMigrateCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := store.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database connection failed: %w", err)
			}
			defer db.Close()

			dir := store.MigrationsPath(cfg.MigrationsDir, cfg.DatabaseDriver)
			if err := store.ApplyMigrations(ctx, db, cfg.DatabaseDriver, dir); err != nil {
				return fmt.Errorf("migrations failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrations from %s applied\n", dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&cfg.DatabaseDriver, "driver", cfg.DatabaseDriver, "database driver (pgx or sqlite)")
	cmd.Flags().StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "database connection string")
	cmd.Flags().StringVar(&cfg.MigrationsDir, "dir", cfg.MigrationsDir, "migrations base directory")
	return cmd
}
