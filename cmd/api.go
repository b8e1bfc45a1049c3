package cmd

import (
	"os/signal"
	"syscall"

	"github.com/psds-microservice/helpdesk-service/internal/application"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Run the HTTP API (applies migrations and seeds the default admin first)",
	RunE:  runAPI,
}

func runAPI(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := application.NewAPI(ctx, cfg, log)
	if err != nil {
		log.Error("api init failed", zap.Error(err))
		return err
	}
	return app.Run(ctx)
}
