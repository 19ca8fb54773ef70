package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pypigo/pypigo"
)

type cache struct {
	pool      *pgxpool.Pool
	tableName string
}

func (c *cache) FetchFile(ctx context.Context, filename string) (pypigo.Package, error) {
	query := fmt.Sprintf(`
		SELECT name, version, filename, summary, last_modified, metadata
		FROM %s
		WHERE filename = $1
	`, c.tableName)

	var pkg pypigo.Package
	err := c.pool.QueryRow(ctx, query, filename).Scan(
		&pkg.Name, &pkg.Version, &pkg.Filename, &pkg.Summary, &pkg.LastModified, &pkg.Metadata,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pypigo.Package{}, pypigo.ErrNotFound
		}
		return pypigo.Package{}, fmt.Errorf("fetch file: %w", err)
	}

	return pkg, nil
}

func (c *cache) AllVersions(ctx context.Context, name string) ([]pypigo.Package, error) {
	query := fmt.Sprintf(`
		SELECT name, version, filename, summary, last_modified, metadata
		FROM %s
		WHERE name = $1
		ORDER BY last_modified, filename
	`, c.tableName)

	rows, err := c.pool.Query(ctx, query, pypigo.NormalizeName(name))
	if err != nil {
		return nil, fmt.Errorf("all versions: %w", err)
	}
	defer rows.Close()

	packages := []pypigo.Package{}
	for rows.Next() {
		var pkg pypigo.Package
		if err := rows.Scan(&pkg.Name, &pkg.Version, &pkg.Filename, &pkg.Summary, &pkg.LastModified, &pkg.Metadata); err != nil {
			return nil, fmt.Errorf("all versions: scan: %w", err)
		}
		packages = append(packages, pkg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("all versions: rows: %w", err)
	}

	return packages, nil
}

func (c *cache) Distinct(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`SELECT DISTINCT name FROM %s ORDER BY name`, c.tableName)

	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("distinct: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("distinct: scan: %w", err)
		}
		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("distinct: rows: %w", err)
	}

	return names, nil
}

func (c *cache) Keys(ctx context.Context) ([]pypigo.PackageKey, error) {
	query := fmt.Sprintf(`SELECT name, version, filename FROM %s ORDER BY name, filename`, c.tableName)

	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("keys: %w", err)
	}
	defer rows.Close()

	keys := []pypigo.PackageKey{}
	for rows.Next() {
		var key pypigo.PackageKey
		if err := rows.Scan(&key.Name, &key.Version, &key.Filename); err != nil {
			return nil, fmt.Errorf("keys: scan: %w", err)
		}
		keys = append(keys, key)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("keys: rows: %w", err)
	}

	return keys, nil
}

func (c *cache) Upsert(ctx context.Context, pkg pypigo.Package) error {
	metadata := pkg.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (name, version, filename, summary, last_modified, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (filename) DO UPDATE
		SET name = EXCLUDED.name,
			version = EXCLUDED.version,
			summary = EXCLUDED.summary,
			last_modified = EXCLUDED.last_modified,
			metadata = EXCLUDED.metadata
	`, c.tableName)

	_, err := c.pool.Exec(ctx, query,
		pkg.Name, pkg.Version, pkg.Filename, pkg.Summary, pkg.LastModified.UTC(), metadata,
	)
	if err != nil {
		return fmt.Errorf("upsert: %w", err)
	}

	return nil
}

func (c *cache) Remove(ctx context.Context, key pypigo.PackageKey) error {
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE name = $1 AND version = $2 AND filename = $3
	`, c.tableName)

	result, err := c.pool.Exec(ctx, query, key.Name, key.Version, key.Filename)
	if err != nil {
		return fmt.Errorf("remove: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("remove: %w", pypigo.ErrNotFound)
	}

	return nil
}

func (c *cache) Clear(ctx context.Context) error {
	query := fmt.Sprintf(`DELETE FROM %s`, c.tableName)
	if _, err := c.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}
