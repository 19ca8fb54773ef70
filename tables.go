package pypigo

import (
	"errors"
	"fmt"
	"regexp"
)

// Tables holds configurable table names for the SQL cache backends.
// This allows multi-tenant deployments to use different table names.
type Tables struct {
	Packages string `mapstructure:"packages"`
}

var validTableNameRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// IsValidTableName checks if a table name is valid (lowercase, alphanumeric
// with underscores, max 63 chars).
func IsValidTableName(name string) bool {
	return validTableNameRegex.MatchString(name) && len(name) <= 63
}

// Validate checks that all required table names are set and valid.
func (t Tables) Validate() error {
	if t.Packages == "" {
		return errors.New("validate tables: packages table name cannot be empty")
	}

	if !IsValidTableName(t.Packages) {
		return fmt.Errorf("validate tables: invalid packages table name: %s (must match ^[a-z_][a-z0-9_]*$ and be <= 63 chars)", t.Packages)
	}

	return nil
}
