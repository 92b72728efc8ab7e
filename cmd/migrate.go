package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ag3nt-dev/gateway/internal/config"
	"github.com/ag3nt-dev/gateway/internal/store/pg"
)

// migrateCmd wraps internal/store/pg.Migrate for operator-driven schema
// upgrades, grounded on the teacher's cmd/migrate.go migrate-up subcommand
// (DSN resolved from config/env, migrations read from a directory).
func migrateCmd() *cobra.Command {
	var migrationsDir string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending Postgres schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Database.PostgresDSN == "" {
				return fmt.Errorf("AG3NT_POSTGRES_DSN environment variable is not set")
			}
			if migrationsDir == "" {
				migrationsDir = "migrations"
			}
			if err := pg.Migrate(cfg.Database.PostgresDSN, migrationsDir); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
	cmd.Flags().StringVar(&migrationsDir, "migrations-dir", "", "path to migrations directory (default: ./migrations)")
	return cmd
}
