package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pypigo/pypigo"
)

type database struct {
	pool   *pgxpool.Pool
	tables pypigo.Tables
}

// Connect establishes a connection to PostgreSQL.
// Tables should be validated before calling Connect.
func Connect(ctx context.Context, dsn string, tables pypigo.Tables) (*database, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	return &database{
		pool:   pool,
		tables: tables,
	}, nil
}

// Ping verifies the database connection is alive.
func (d *database) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

// Migrate runs database migrations to create required tables.
func (d *database) Migrate(ctx context.Context) error {
	if err := createPackagesTable(ctx, d.pool, d.tables.Packages); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Validate checks that the database schema matches expected structure.
func (d *database) Validate(ctx context.Context) error {
	if err := validateTableSchema(ctx, d.pool, d.tables.Packages, packagesTableSchema); err != nil {
		return fmt.Errorf("validate schema %s: %w", d.tables.Packages, err)
	}
	return nil
}

// GetCache returns the PackageCache backed by this database.
func (d *database) GetCache() pypigo.PackageCache {
	return &cache{pool: d.pool, tableName: d.tables.Packages}
}

// Close closes the database connection pool.
func (d *database) Close() error {
	d.pool.Close()
	return nil
}
