package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pypigo/pypigo"
)

type cache struct {
	db        *sql.DB
	tableName string
}

func (c *cache) FetchFile(ctx context.Context, filename string) (pypigo.Package, error) {
	query := fmt.Sprintf( //nolint:gosec // G201: table name is validated
		`SELECT name, version, filename, summary, last_modified, metadata
		FROM %s
		WHERE filename = ?`, c.tableName)

	var pkg pypigo.Package
	var lastModified, metadata string

	err := c.db.QueryRowContext(ctx, query, filename).Scan(
		&pkg.Name, &pkg.Version, &pkg.Filename, &pkg.Summary, &lastModified, &metadata,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return pypigo.Package{}, pypigo.ErrNotFound
		}
		return pypigo.Package{}, fmt.Errorf("fetch file: %w", err)
	}

	pkg.LastModified, err = time.Parse(time.RFC3339Nano, lastModified)
	if err != nil {
		return pypigo.Package{}, fmt.Errorf("fetch file: parse last_modified: %w", err)
	}

	if err := json.Unmarshal([]byte(metadata), &pkg.Metadata); err != nil {
		return pypigo.Package{}, fmt.Errorf("fetch file: parse metadata: %w", err)
	}

	return pkg, nil
}

func (c *cache) AllVersions(ctx context.Context, name string) ([]pypigo.Package, error) {
	query := fmt.Sprintf( //nolint:gosec // G201: table name is validated
		`SELECT name, version, filename, summary, last_modified, metadata
		FROM %s
		WHERE name = ?
		ORDER BY last_modified, filename`, c.tableName)

	rows, err := c.db.QueryContext(ctx, query, pypigo.NormalizeName(name))
	if err != nil {
		return nil, fmt.Errorf("all versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	packages := []pypigo.Package{}
	for rows.Next() {
		var pkg pypigo.Package
		var lastModified, metadata string

		if scanErr := rows.Scan(&pkg.Name, &pkg.Version, &pkg.Filename, &pkg.Summary, &lastModified, &metadata); scanErr != nil {
			return nil, fmt.Errorf("all versions: scan: %w", scanErr)
		}

		var parseErr error
		pkg.LastModified, parseErr = time.Parse(time.RFC3339Nano, lastModified)
		if parseErr != nil {
			return nil, fmt.Errorf("all versions: parse last_modified: %w", parseErr)
		}

		if parseErr := json.Unmarshal([]byte(metadata), &pkg.Metadata); parseErr != nil {
			return nil, fmt.Errorf("all versions: parse metadata: %w", parseErr)
		}

		packages = append(packages, pkg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("all versions: rows: %w", err)
	}

	return packages, nil
}

func (c *cache) Distinct(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf( //nolint:gosec // G201: table name is validated
		`SELECT DISTINCT name FROM %s ORDER BY name`, c.tableName)

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("distinct: %w", err)
	}
	defer func() { _ = rows.Close() }()

	names := []string{}
	for rows.Next() {
		var name string
		if scanErr := rows.Scan(&name); scanErr != nil {
			return nil, fmt.Errorf("distinct: scan: %w", scanErr)
		}
		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("distinct: rows: %w", err)
	}

	return names, nil
}

func (c *cache) Keys(ctx context.Context) ([]pypigo.PackageKey, error) {
	query := fmt.Sprintf( //nolint:gosec // G201: table name is validated
		`SELECT name, version, filename FROM %s ORDER BY name, filename`, c.tableName)

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	keys := []pypigo.PackageKey{}
	for rows.Next() {
		var key pypigo.PackageKey
		if scanErr := rows.Scan(&key.Name, &key.Version, &key.Filename); scanErr != nil {
			return nil, fmt.Errorf("keys: scan: %w", scanErr)
		}
		keys = append(keys, key)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("keys: rows: %w", err)
	}

	return keys, nil
}

func (c *cache) Upsert(ctx context.Context, pkg pypigo.Package) error {
	metadata, err := json.Marshal(pkg.Metadata)
	if err != nil {
		return fmt.Errorf("upsert: marshal metadata: %w", err)
	}
	if pkg.Metadata == nil {
		metadata = []byte("{}")
	}
	lastModified := pkg.LastModified.UTC().Format(time.RFC3339Nano)

	query := fmt.Sprintf( //nolint:gosec // G201: table name is validated
		`INSERT INTO %s (id, name, version, filename, summary, last_modified, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (filename) DO UPDATE SET
			name = excluded.name,
			version = excluded.version,
			summary = excluded.summary,
			last_modified = excluded.last_modified,
			metadata = excluded.metadata`, c.tableName)

	_, err = c.db.ExecContext(ctx, query,
		uuid.New().String(), pkg.Name, pkg.Version, pkg.Filename, pkg.Summary, lastModified, string(metadata),
	)
	if err != nil {
		return fmt.Errorf("upsert: %w", err)
	}

	return nil
}

func (c *cache) Remove(ctx context.Context, key pypigo.PackageKey) error {
	query := fmt.Sprintf( //nolint:gosec // G201: table name is validated
		`DELETE FROM %s WHERE name = ? AND version = ? AND filename = ?`, c.tableName)

	result, err := c.db.ExecContext(ctx, query, key.Name, key.Version, key.Filename)
	if err != nil {
		return fmt.Errorf("remove: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove: rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("remove: %w", pypigo.ErrNotFound)
	}

	return nil
}

func (c *cache) Clear(ctx context.Context) error {
	query := fmt.Sprintf(`DELETE FROM %s`, c.tableName) //nolint:gosec // table name is validated
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}
