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

var notifyTestCmd = &cobra.Command{
	Use:   "notify-test",
	Short: "Send a test alert to every configured channel",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withPositions(cmd, func(ctx context.Context, deps *app.Dependencies, _ *service.PositionService) error {
			alert := domain.Alert{
				Title:   "optionbot test",
				Caption: fmt.Sprintf("Notification channels are working (%s).", time.Now().UTC().Format(time.RFC3339)),
			}
			if err := deps.Notifier.NotifyAll(ctx, alert); err != nil {
				return err
			}
			printf(cmd, "test alert sent\n")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(notifyTestCmd)
}
