package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/optionbot/internal/app"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending PostgreSQL migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadConfig(os.Stderr)
		if err != nil {
			return err
		}
		applied, err := app.Migrate(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		}
		for _, f := range applied {
			fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", f)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
