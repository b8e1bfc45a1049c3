package cmd

import (
	"github.com/psds-microservice/helpdesk-service/internal/application"
	"github.com/psds-microservice/helpdesk-service/internal/database"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Apply migrations and create the default admin if it does not exist",
	RunE:  runBootstrap,
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	db, err := application.Bootstrap(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	log.Info("bootstrap: ok", zap.String("admin", cfg.Accounts.AdminUsername))
	return database.Close(db)
}
