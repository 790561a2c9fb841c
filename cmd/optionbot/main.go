// Command optionbot is the entry point for the option position tracker. It
// loads configuration, validates it, wires dependencies, sets up signal
// handling, and starts the application or runs a one-off operator command.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/optionbot/internal/config"
)

var configPath string

// rootCmd is the base command for the optionbot CLI.
var rootCmd = &cobra.Command{
	Use:   "optionbot",
	Short: "Option position tracker",
	Long: `optionbot tracks open option positions against live quotes, closes them on
expiration or stop loss, and announces profit milestones.

Run 'optionbot run' to start the tracker and API in the configured mode.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.toml", "path to configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration, then builds the JSON
// logger at the configured level.
func loadConfig(logOut io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	if runMode != "" {
		cfg.Mode = runMode
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger := newLogger(logOut, cfg.LogLevel)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}
