package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/optionbot/internal/app"
	"github.com/alanyoungcy/optionbot/internal/service"
)

// withPositions wires dependencies and hands fn a position service. Log
// output goes to stderr so command output stays parseable.
func withPositions(cmd *cobra.Command, fn func(ctx context.Context, deps *app.Dependencies, svc *service.PositionService) error) error {
	cfg, logger, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}
	if cfg.Database.Driver == "memory" {
		return errors.New("operator commands need a shared ledger; set database.driver = \"postgres\"")
	}

	a := app.New(cfg, logger)
	defer a.Close()

	ctx := cmd.Context()
	deps, err := a.Deps(ctx)
	if err != nil {
		return err
	}
	svc := a.NewPositionService(deps, deps.Events)
	defer svc.Wait()
	return fn(ctx, deps, svc)
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
