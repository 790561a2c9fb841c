package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/optionbot/internal/app"
)

var runMode string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the tracker and/or API server",
	Long: `Start the application in the configured mode:

  track   price poller and milestone evaluator only
  server  HTTP API and WebSocket hub only (requires Redis and PostgreSQL)
  full    both in one process

Examples:
  optionbot run
  optionbot run --mode track --config /etc/optionbot/config.toml`,
	RunE: runApp,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runMode, "mode", "", "override the configured mode (track|server|full)")
}

func runApp(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(os.Stdout)
	if err != nil {
		return err
	}

	logger.Info("option tracker starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("option tracker stopped")
	return nil
}
