package sqlite_test

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"testing"

	"github.com/pypigo/pypigo"
	"github.com/pypigo/pypigo/database/sqlite"
	"github.com/stretchr/testify/assert"
)

func getRandomString(t *testing.T) string {
	t.Helper()
	n, err := rand.Int(rand.Reader, big.NewInt(math.MaxInt64))
	assert.NoError(t, err, "random string")
	return fmt.Sprintf("test%x", n.Int64())
}

// setupTestCache creates a cache with a unique table name for test isolation
func setupTestCache(t *testing.T) (pypigo.PackageCache, func()) {
	t.Helper()

	ctx := context.Background()

	// Use a unique table name for each test to avoid conflicts
	tableName := fmt.Sprintf("packages_%s", getRandomString(t))
	tables := pypigo.Tables{Packages: tableName}

	// Connect to in-memory database
	db, err := sqlite.Connect(ctx, ":memory:", tables)
	assert.NoError(t, err, "failed to connect")

	// Migrate the table
	err = db.Migrate(ctx)
	assert.NoError(t, err, "failed to migrate")

	cache := db.GetCache()

	cleanup := func() {
		_ = db.Close()
	}

	return cache, cleanup
}
