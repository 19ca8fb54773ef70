// Package database selects and connects the configured cache backend.
package database

import (
	"context"
	"fmt"

	"github.com/pypigo/pypigo"
	"github.com/pypigo/pypigo/database/postgres"
	"github.com/pypigo/pypigo/database/sqlite"
)

// Kinds of supported cache backends.
const (
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
)

// Config selects and parameterizes the cache backend.
type Config struct {
	Type   string        `mapstructure:"type" validate:"required,oneof=sqlite postgres"`
	DSN    string        `mapstructure:"dsn" validate:"required"`
	Tables pypigo.Tables `mapstructure:"tables"`
}

// Open connects the backend described by cfg. See Connect.
func Open(ctx context.Context, cfg Config) (Backend, func(), error) {
	return Connect(ctx, cfg.Type, cfg.DSN, cfg.Tables)
}

// Backend is the common surface of a connected cache database.
type Backend interface {
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Validate(ctx context.Context) error
	GetCache() pypigo.PackageCache
	Close() error
}

// Connect opens the configured backend, runs migrations, and validates the
// schema. The returned cleanup closes the connection.
func Connect(ctx context.Context, kind, dsn string, tables pypigo.Tables) (Backend, func(), error) {
	if err := tables.Validate(); err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}

	var (
		backend Backend
		err     error
	)
	switch kind {
	case KindSQLite:
		backend, err = sqlite.Connect(ctx, dsn, tables)
	case KindPostgres:
		backend, err = postgres.Connect(ctx, dsn, tables)
	default:
		return nil, nil, fmt.Errorf("connect database: unknown backend %q (valid backends: sqlite, postgres)", kind)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}

	cleanup := func() { _ = backend.Close() }

	if err := backend.Ping(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("connect database: ping: %w", err)
	}

	if err := backend.Migrate(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}

	if err := backend.Validate(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}

	return backend, cleanup, nil
}
