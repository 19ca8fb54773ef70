package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pypigo/pypigo"
	"github.com/pypigo/pypigo/access"
	"github.com/pypigo/pypigo/config"
	"github.com/pypigo/pypigo/database"
	"github.com/pypigo/pypigo/filesystem"
	"github.com/pypigo/pypigo/upstream"
)

// components holds the wired collaborators shared by the serve and rebuild
// commands.
type components struct {
	cache       pypigo.PackageCache
	storage     *filesystem.Store
	access      *access.Backend
	resolver    *pypigo.Resolver
	coordinator *pypigo.Coordinator
	service     *pypigo.IndexService

	cleanups []func()
}

func (c *components) close() {
	for i := len(c.cleanups) - 1; i >= 0; i-- {
		c.cleanups[i]()
	}
}

func buildComponents(ctx context.Context, cfg *config.Config) (*components, error) {
	c := &components{}

	ok := false
	defer func() {
		if !ok {
			c.close()
		}
	}()

	db, dbCleanup, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	c.cleanups = append(c.cleanups, dbCleanup)
	c.cache = db.GetCache()
	slog.Info("connected to cache database", "type", cfg.Database.Type)

	if err := os.MkdirAll(cfg.Storage.Path, 0o750); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	root, err := os.OpenRoot(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open storage root: %w", err)
	}
	c.cleanups = append(c.cleanups, func() { _ = root.Close() })
	c.storage = filesystem.NewStore(root, cfg.Storage.URLPrefix)

	c.access, err = loadAccessBackend(cfg.Access)
	if err != nil {
		return nil, err
	}

	policy, err := pypigo.ParseFallbackPolicy(cfg.Fallback.Policy)
	if err != nil {
		return nil, err
	}

	var locator pypigo.Locator
	if policy != pypigo.PolicyNone {
		locator, err = upstream.NewJSONLocator(upstream.LocatorConfig{
			BaseURL:  cfg.Fallback.BaseURL,
			Timeout:  time.Duration(cfg.Fallback.FetchTimeout) * time.Second,
			CacheTTL: time.Duration(cfg.Fallback.CacheTTL) * time.Second,
		})
		if err != nil {
			return nil, err
		}
	}

	c.resolver, err = pypigo.NewResolver(c.cache, c.access, locator, pypigo.ResolverConfig{
		Policy:             policy,
		BaseURL:            cfg.Fallback.BaseURL,
		AlwaysShowUpstream: cfg.Fallback.AlwaysShowUpstream,
	})
	if err != nil {
		return nil, err
	}

	c.coordinator = pypigo.NewCoordinator(c.cache, c.storage)

	c.service, err = pypigo.NewIndexService(c.cache, c.storage, c.access, c.resolver, c.coordinator, pypigo.ServiceConfig{
		AllowOverwrite: cfg.Index.AllowOverwrite,
		CleanupTimeout: time.Duration(cfg.Index.CleanupTimeout) * time.Second,
		FetchClient:    upstream.NewClient(time.Duration(cfg.Fallback.FetchTimeout) * time.Second),
	})
	if err != nil {
		return nil, err
	}

	ok = true
	return c, nil
}

func loadAccessBackend(cfg config.AccessConfig) (*access.Backend, error) {
	defaults := access.Defaults{
		Read:        cfg.DefaultRead,
		Write:       cfg.DefaultWrite,
		CacheUpdate: cfg.CacheUpdate,
	}
	if cfg.File == "" {
		slog.Warn("no access file configured, only default permission terms apply")
		return access.New(access.File{}, defaults), nil
	}
	backend, err := access.Load(cfg.File, defaults)
	if err != nil {
		return nil, err
	}
	return backend, nil
}
