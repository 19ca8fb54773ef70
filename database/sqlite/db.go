// Package sqlite implements the package cache interface using SQLite
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pypigo/pypigo"

	_ "modernc.org/sqlite" // SQLite driver
)

// database provides SQLite database operations.
type database struct {
	db     *sql.DB
	tables pypigo.Tables
}

// Connect establishes a connection to SQLite.
// Tables should be validated before calling Connect.
func Connect(ctx context.Context, dsn string, tables pypigo.Tables) (*database, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}

	return &database{
		db:     db,
		tables: tables,
	}, nil
}

// Ping verifies the database connection is alive.
func (d *database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Migrate runs database migrations to create required tables.
func (d *database) Migrate(ctx context.Context) error {
	if err := createPackagesTable(ctx, d.db, d.tables.Packages); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Validate checks that the database schema matches expected structure.
func (d *database) Validate(ctx context.Context) error {
	if err := validateTableSchema(ctx, d.db, d.tables.Packages, packagesTableSchema); err != nil {
		return fmt.Errorf("validate schema %s: %w", d.tables.Packages, err)
	}
	return nil
}

// GetCache returns the PackageCache backed by this database.
func (d *database) GetCache() pypigo.PackageCache {
	return &cache{db: d.db, tableName: d.tables.Packages}
}

// Close closes the database connection.
func (d *database) Close() error {
	return d.db.Close()
}
