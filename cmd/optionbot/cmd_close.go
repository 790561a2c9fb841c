package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/optionbot/internal/app"
	"github.com/alanyoungcy/optionbot/internal/service"
)

var closeBy string

var closeCmd = &cobra.Command{
	Use:   "close <position-id>",
	Short: "Close an active position at its current price",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPositions(cmd, func(ctx context.Context, _ *app.Dependencies, svc *service.PositionService) error {
			pos, applied, err := svc.Close(ctx, args[0], closeBy)
			if err != nil {
				return err
			}
			if !applied {
				printf(cmd, "%s was already closed (%s)\n", pos.ID, pos.CloseReason)
				return nil
			}
			exit := pos.CurrentPrice
			if pos.ExitPrice != nil {
				exit = *pos.ExitPrice
			}
			printf(cmd, "closed %s %s at %.2f\n", pos.ID, pos.Symbol, exit)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(closeCmd)
	user := os.Getenv("USER")
	if user == "" {
		user = "cli"
	}
	closeCmd.Flags().StringVar(&closeBy, "by", user, "operator recorded as closing the position")
}
