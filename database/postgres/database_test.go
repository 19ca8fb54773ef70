package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/pypigo/pypigo"
	"github.com/pypigo/pypigo/database/postgres"
	"github.com/stretchr/testify/assert"
)

func TestConnect(t *testing.T) {
	pool := getSharedTestDatabase(t)
	dsn := getDSN(pool)
	ctx := context.Background()

	tables := pypigo.Tables{Packages: "packages"}
	db, err := postgres.Connect(ctx, dsn, tables)
	assert.NoError(t, err)
	assert.NotNil(t, db)
	defer func() { _ = db.Close() }()

	// Verify connection is actually usable
	err = db.Ping(ctx)
	assert.NoError(t, err, "ping should succeed after connect")
}

func TestDatabase_Migrate(t *testing.T) {
	pool := getSharedTestDatabase(t)
	dsn := getDSN(pool)
	ctx := context.Background()

	t.Run("success - creates table", func(t *testing.T) {
		tableName := "migrate_test_" + getRandomString(t)
		tables := pypigo.Tables{Packages: tableName}
		db, err := postgres.Connect(ctx, dsn, tables)
		assert.NoError(t, err)
		defer func() {
			_ = db.Close()
			_ = dropTable(ctx, pool, tableName)
		}()

		err = db.Migrate(ctx)
		assert.NoError(t, err, "migrate should succeed")

		// Verify table exists by trying to use the cache
		cache := db.GetCache()
		_, err = cache.Distinct(ctx)
		assert.NoError(t, err, "cache should work after migration")
	})

	t.Run("idempotent - can run multiple times", func(t *testing.T) {
		tableName := "migrate_idem_" + getRandomString(t)
		tables := pypigo.Tables{Packages: tableName}
		db, err := postgres.Connect(ctx, dsn, tables)
		assert.NoError(t, err)
		defer func() {
			_ = db.Close()
			_ = dropTable(ctx, pool, tableName)
		}()

		err = db.Migrate(ctx)
		assert.NoError(t, err, "first migrate should succeed")

		err = db.Migrate(ctx)
		assert.NoError(t, err, "second migrate should succeed")
	})
}

func TestDatabase_Validate(t *testing.T) {
	pool := getSharedTestDatabase(t)
	dsn := getDSN(pool)
	ctx := context.Background()

	t.Run("valid schema", func(t *testing.T) {
		tableName := "validate_test_" + getRandomString(t)
		tables := pypigo.Tables{Packages: tableName}
		db, err := postgres.Connect(ctx, dsn, tables)
		assert.NoError(t, err)
		defer func() {
			_ = db.Close()
			_ = dropTable(ctx, pool, tableName)
		}()

		assert.NoError(t, db.Migrate(ctx))
		assert.NoError(t, db.Validate(ctx))
	})

	t.Run("missing table", func(t *testing.T) {
		tableName := "validate_missing_" + getRandomString(t)
		tables := pypigo.Tables{Packages: tableName}
		db, err := postgres.Connect(ctx, dsn, tables)
		assert.NoError(t, err)
		defer func() { _ = db.Close() }()

		err = db.Validate(ctx)
		assert.Error(t, err, "validate should fail before migrate")
	})
}

func TestCache_RoundTrip(t *testing.T) {
	cache, cleanup := setupTestCache(t)
	defer cleanup()
	ctx := context.Background()

	pkg := pypigo.Package{
		Name:         "flask",
		Version:      "1.0",
		Filename:     "flask-1.0.tar.gz",
		Summary:      "web framework",
		LastModified: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		Metadata:     map[string]string{"hash_sha256": "abc123"},
	}
	assert.NoError(t, cache.Upsert(ctx, pkg))

	got, err := cache.FetchFile(ctx, "flask-1.0.tar.gz")
	assert.NoError(t, err)
	assert.Equal(t, pkg.Name, got.Name)
	assert.Equal(t, pkg.Version, got.Version)
	assert.Equal(t, pkg.Summary, got.Summary)
	assert.True(t, pkg.LastModified.Equal(got.LastModified), "last modified should round-trip")
	assert.Equal(t, pkg.Metadata, got.Metadata)

	names, err := cache.Distinct(ctx)
	assert.NoError(t, err)
	assert.Equal(t, []string{"flask"}, names)

	keys, err := cache.Keys(ctx)
	assert.NoError(t, err)
	assert.Equal(t, []pypigo.PackageKey{pkg.Key()}, keys)

	assert.NoError(t, cache.Remove(ctx, pkg.Key()))
	_, err = cache.FetchFile(ctx, "flask-1.0.tar.gz")
	assert.ErrorIs(t, err, pypigo.ErrNotFound)
}

func TestCache_Upsert_Conflict(t *testing.T) {
	cache, cleanup := setupTestCache(t)
	defer cleanup()
	ctx := context.Background()

	pkg := pypigo.Package{
		Name:         "flask",
		Version:      "1.0",
		Filename:     "flask-1.0.tar.gz",
		LastModified: time.Now().UTC(),
	}
	assert.NoError(t, cache.Upsert(ctx, pkg))

	pkg.Summary = "replaced"
	assert.NoError(t, cache.Upsert(ctx, pkg))

	versions, err := cache.AllVersions(ctx, "flask")
	assert.NoError(t, err)
	assert.Len(t, versions, 1)
	assert.Equal(t, "replaced", versions[0].Summary)
}

func TestCache_Remove_NotFound(t *testing.T) {
	cache, cleanup := setupTestCache(t)
	defer cleanup()

	err := cache.Remove(context.Background(), pypigo.PackageKey{
		Name: "missing", Version: "1.0", Filename: "missing-1.0.tar.gz",
	})
	assert.ErrorIs(t, err, pypigo.ErrNotFound)
}
