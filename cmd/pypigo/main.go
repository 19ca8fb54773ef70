package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pypigo/pypigo/config"
)

var version = "dev"

var configFiles []string

var rootCmd = &cobra.Command{
	Version: version,
	Use:     "pypigo",
	Short:   "Self-hosted Python package index",
	Long: `Pypigo is a self-hosted Python package index speaking the PEP 503
simple API, with per-package access control and configurable fallback
to a public upstream index (redirect, lazy caching, or mirroring).`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFiles, cmd.Flags())
		if err != nil {
			return err
		}
		setupLogging(cfg.Log)
		cmd.SetContext(config.WithContext(cmd.Context(), cfg))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&configFiles, "config", nil, "config file path(s), later files override earlier ones (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("db-type", "", "cache database type: sqlite, postgres (default: sqlite, env: PYPIGO_DATABASE_TYPE)")
	rootCmd.PersistentFlags().String("db-dsn", "", "cache database connection string (default: pypigo.db, env: PYPIGO_DATABASE_DSN)")
	rootCmd.PersistentFlags().String("storage-path", "", "artifact storage directory (default: ./packages, env: PYPIGO_STORAGE_PATH)")
	rootCmd.PersistentFlags().String("access-file", "", "access control file path (env: PYPIGO_ACCESS_FILE)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
