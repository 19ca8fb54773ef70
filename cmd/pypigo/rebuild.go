package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/pypigo/pypigo/config"
)

var rebuildGraceful bool

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the package cache from storage",
	Long: `Scan the artifact storage and resynchronize the package cache
with it. This is useful when:
  - Setting up pypigo over an existing package directory
  - Recovering the cache after database loss
  - Another process has written to the shared storage

By default the cache is cleared and repopulated (fast mode). With
--graceful the cache is reconciled in place: new files are added before
any stale row is removed, so a concurrently running server never serves
an incomplete view.`,
	RunE: runRebuild,
}

func init() {
	rebuildCmd.Flags().BoolVar(&rebuildGraceful, "graceful", false, "reconcile in place instead of clearing first")
	rootCmd.AddCommand(rebuildCmd)
}

func runRebuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.FromContext(ctx)
	if err != nil {
		return err
	}

	c, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.close()

	slog.Info("rebuilding package cache", "storage", cfg.Storage.Path, "graceful", rebuildGraceful)

	if err := c.coordinator.Rebuild(ctx, rebuildGraceful); err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}

	names, err := c.cache.Distinct(ctx)
	if err != nil {
		return fmt.Errorf("rebuild: count packages: %w", err)
	}

	slog.Info("rebuild complete", "packages", len(names))
	return nil
}
