package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/optionbot/internal/app"
	"github.com/alanyoungcy/optionbot/internal/service"
)

var archiveBefore string

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Export closed positions to object storage",
	Long: `Export every position closed before the cutoff to a JSONL object under
archive/positions/. Ledger rows are kept.

Examples:
  optionbot archive
  optionbot archive --before 2026-09-01T00:00:00Z`,
	RunE: runArchive,
}

func init() {
	rootCmd.AddCommand(archiveCmd)
	archiveCmd.Flags().StringVar(&archiveBefore, "before", "", "RFC3339 cutoff (default: now)")
}

func runArchive(cmd *cobra.Command, _ []string) error {
	before := time.Now().UTC()
	if archiveBefore != "" {
		t, err := time.Parse(time.RFC3339, archiveBefore)
		if err != nil {
			return fmt.Errorf("invalid --before: %w", err)
		}
		before = t
	}

	return withPositions(cmd, func(ctx context.Context, deps *app.Dependencies, _ *service.PositionService) error {
		if deps.Archiver == nil {
			return errors.New("archive needs object storage; set s3.enabled = true")
		}
		path, n, err := deps.Archiver.ArchiveHistory(ctx, before)
		if err != nil {
			return err
		}
		if n == 0 {
			printf(cmd, "no positions closed before %s\n", before.Format(time.RFC3339))
			return nil
		}
		printf(cmd, "archived %d positions to %s\n", n, path)
		return nil
	})
}
