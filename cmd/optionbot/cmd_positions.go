package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/optionbot/internal/app"
	"github.com/alanyoungcy/optionbot/internal/domain"
	"github.com/alanyoungcy/optionbot/internal/service"
)

var (
	positionsHistory bool
	positionsLimit   int
	positionsSince   string
	positionsFormat  string
)

var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "List active or closed positions",
	Long: `List tracked positions.

Examples:
  optionbot positions
  optionbot positions --history --since 2026-09-01T00:00:00Z
  optionbot positions --format json`,
	RunE: runPositions,
}

func init() {
	rootCmd.AddCommand(positionsCmd)
	positionsCmd.Flags().BoolVar(&positionsHistory, "history", false, "list closed positions instead of active ones")
	positionsCmd.Flags().IntVar(&positionsLimit, "limit", 50, "maximum closed positions to list")
	positionsCmd.Flags().StringVar(&positionsSince, "since", "", "only closed positions after this RFC3339 time")
	positionsCmd.Flags().StringVar(&positionsFormat, "format", "table", "output format: table, json")
}

func runPositions(cmd *cobra.Command, _ []string) error {
	opts := domain.ListOpts{Limit: positionsLimit}
	if positionsSince != "" {
		since, err := time.Parse(time.RFC3339, positionsSince)
		if err != nil {
			return fmt.Errorf("invalid --since: %w", err)
		}
		opts.Since = &since
	}

	return withPositions(cmd, func(ctx context.Context, _ *app.Dependencies, svc *service.PositionService) error {
		var (
			list []domain.Position
			err  error
		)
		if positionsHistory {
			list, err = svc.ListHistory(ctx, opts)
		} else {
			list, err = svc.ListActive(ctx)
		}
		if err != nil {
			return err
		}

		switch strings.ToLower(positionsFormat) {
		case "json":
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(list)
		default:
			return printPositions(cmd, list)
		}
	})
}

func printPositions(cmd *cobra.Command, list []domain.Position) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSYMBOL\tENTRY\tCURRENT\tPEAK\tGOAL\tSTATUS\tREASON")
	for _, p := range list {
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f\t%.2f\t%d\t%s\t%s\n",
			p.ID, p.Symbol, p.EntryPrice, p.CurrentPrice, p.PeakPrice, p.LastGoal, p.Status, p.CloseReason)
	}
	return w.Flush()
}
