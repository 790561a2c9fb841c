package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/optionbot/internal/app"
	"github.com/alanyoungcy/optionbot/internal/domain"
	"github.com/alanyoungcy/optionbot/internal/service"
)

var (
	openStrike     float64
	openExpiration string
	openMinBid     float64
	openMaxAsk     float64
	openMinVolume  int64
)

var openCmd = &cobra.Command{
	Use:   "open <underlying> <call|put>",
	Short: "Open a position on the best matching contract",
	Long: `Find a contract for the underlying and record it as a new active position,
entered at the current mid price.

Examples:
  optionbot open SPY call
  optionbot open AAPL put --strike 180 --expiration 2026-11-20`,
	Args: cobra.ExactArgs(2),
	RunE: runOpen,
}

func init() {
	rootCmd.AddCommand(openCmd)
	openCmd.Flags().Float64Var(&openStrike, "strike", 0, "strike price (0 picks the first out-of-the-money match)")
	openCmd.Flags().StringVar(&openExpiration, "expiration", "", "expiration date YYYY-MM-DD (empty: any at least one day out)")
	openCmd.Flags().Float64Var(&openMinBid, "min-bid", 0, "minimum bid")
	openCmd.Flags().Float64Var(&openMaxAsk, "max-ask", 0, "maximum ask (0 means no limit)")
	openCmd.Flags().Int64Var(&openMinVolume, "min-volume", 0, "minimum daily volume")
}

func runOpen(cmd *cobra.Command, args []string) error {
	kind, err := domain.ParseOptionKind(args[1])
	if err != nil {
		return err
	}
	req := service.OpenRequest{
		Underlying: args[0],
		Kind:       kind,
		Strike:     openStrike,
		MinBid:     openMinBid,
		MaxAsk:     openMaxAsk,
		MinVolume:  openMinVolume,
		OpenedBy:   "cli",
	}
	if openExpiration != "" {
		exp, err := time.Parse(time.DateOnly, openExpiration)
		if err != nil {
			return fmt.Errorf("invalid --expiration: %w", err)
		}
		req.Expiration = exp
	}

	return withPositions(cmd, func(ctx context.Context, _ *app.Dependencies, svc *service.PositionService) error {
		pos, err := svc.Open(ctx, req)
		if err != nil {
			return err
		}
		printf(cmd, "opened %s %s at %.2f\n", pos.ID, pos.Symbol, pos.EntryPrice)
		return nil
	})
}
