package cmd

import (
	"fmt"

	"github.com/psds-microservice/helpdesk-service/internal/config"
	"github.com/psds-microservice/helpdesk-service/internal/database"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE:  migrateRunner("up", database.MigrateUp),
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration (postgres only)",
	RunE:  migrateRunner("down", database.MigrateDown),
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print migration status (postgres only)",
	RunE:  migrateRunner("status", database.MigrateStatus),
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
}

func migrateRunner(name string, fn func(*config.Config, *zap.Logger) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()
		if err := fn(cfg, log); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
		log.Info("migrate: ok", zap.String("command", name), zap.String("driver", cfg.DB.Driver))
		return nil
	}
}
