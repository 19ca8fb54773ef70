package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pypigo/pypigo"
)

func createPackagesTable(ctx context.Context, pool *pgxpool.Pool, tableName string) error {
	quotedTable := pgx.Identifier{tableName}.Sanitize()
	indexName := pgx.Identifier{fmt.Sprintf("idx_%s_name", tableName)}.Sanitize()

	sql := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name TEXT NOT NULL,
			version TEXT NOT NULL,
			filename TEXT NOT NULL UNIQUE,
			summary TEXT NOT NULL DEFAULT '',
			last_modified TIMESTAMPTZ NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'
		);

		CREATE INDEX IF NOT EXISTS %s
		ON %s (name);
	`,
		quotedTable,
		indexName, quotedTable,
	)

	_, err := pool.Exec(ctx, sql)
	if err != nil {
		return fmt.Errorf("create packages table: %w", err)
	}
	return nil
}

// DropTables removes the package table. Used by tests and migrations down.
func DropTables(ctx context.Context, pool *pgxpool.Pool, tables pypigo.Tables) error {
	quotedTable := pgx.Identifier{tables.Packages}.Sanitize()
	sql := fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", quotedTable)
	if _, err := pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("drop table %s: %w", tables.Packages, err)
	}
	return nil
}
