package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pypigo/pypigo"
	"github.com/pypigo/pypigo/config"
	pypigohttp "github.com/pypigo/pypigo/http"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the package index server",
	Long:  `Start the pypigo HTTP server.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Int("port", 0, "HTTP server port (default: 6543)")
	serveCmd.Flags().String("fallback-policy", "", "fallback policy: none, redirect, cache, mirror (default: redirect)")
	serveCmd.Flags().String("fallback-url", "", "upstream fallback index URL (default: https://pypi.org)")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	cfg, err := config.FromContext(ctx)
	if err != nil {
		return err
	}

	c, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.close()

	// A fresh deployment starts with an empty cache; populate it from
	// whatever storage already holds before accepting requests.
	if err := c.coordinator.ReloadIfEmpty(ctx); err != nil {
		return fmt.Errorf("initial cache load: %w", err)
	}

	if cfg.Index.ReloadInterval > 0 {
		go periodicReload(ctx, c.coordinator, time.Duration(cfg.Index.ReloadInterval)*time.Second)
	}

	handlerConfig := pypigohttp.HandlerConfig{
		Verifier:      c.access,
		CORS:          cfg.CORS,
		PackageMaxAge: cfg.Index.PackageMaxAge,
	}
	handler := pypigohttp.NewHandler(&handlerConfig, c.service, c.coordinator, c.access)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "err", err)
		}
		cancel()
	}()

	slog.Info("starting server", "addr", addr, "policy", cfg.Fallback.Policy)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// periodicReload keeps the cache converged with storage that may be shared
// with other writers. Rebuilds are graceful so readers never see a gap, and
// a rebuild already in flight just skips the tick.
func periodicReload(ctx context.Context, coordinator *pypigo.Coordinator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := coordinator.Rebuild(ctx, true); err != nil {
				if errors.Is(err, pypigo.ErrRebuildInProgress) {
					continue
				}
				slog.Error("periodic cache reload failed", "err", err)
			}
		}
	}
}
