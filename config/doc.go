// Package config provides configuration loading and validation for pypigo.
//
// The package handles YAML configuration files, environment variables, and CLI flags
// with automatic merging and validation using go-playground/validator.
//
// # Configuration Precedence
//
// Values are loaded in this order (later sources override earlier ones):
//
//  1. Default values
//  2. Configuration file(s) - multiple files merged left-to-right
//  3. Environment variables (PYPIGO_ prefix)
//  4. CLI flags
//
// # Usage
//
//	cfg, err := config.Load([]string{"config.yaml"}, cmd.Flags())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Store in context for subcommands
//	ctx = config.WithContext(ctx, cfg)
//
//	// Retrieve later
//	cfg, err = config.FromContext(ctx)
//
// # Environment Variables
//
// All config keys map to environment variables with PYPIGO_ prefix:
//   - server.port → PYPIGO_SERVER_PORT
//   - database.type → PYPIGO_DATABASE_TYPE
//   - fallback.policy → PYPIGO_FALLBACK_POLICY
//
// # Configuration Structure
//
// The Config struct contains:
//   - Server: listen port
//   - Index: overwrite behavior, periodic reload, cleanup timeout
//   - Fallback: policy (none/redirect/cache/mirror), upstream base URL,
//     timeouts, and listing behavior
//   - Database: type, DSN, and table names
//   - Storage: artifact storage path and URL prefix
//   - Access: access file path and default permission terms
//   - CORS: cross-origin resource sharing settings
//   - Log: logging level and format
//
// # Validation
//
// Configuration is validated using struct tags:
//   - Port must be 1-65535
//   - Fallback policy must be none, redirect, cache, or mirror
//   - A base URL is required for every policy except none
//   - Log level must be debug, info, warn, or error
package config
