// Package pypigo provides a self-hosted Python package index with pluggable
// storage and metadata-cache backends.
//
// Uploaded artifacts are written to a durable Storage backend and indexed in
// a PackageCache for fast lookups. Requests for packages that are not present
// locally are handled according to a configurable fallback policy, optionally
// consulting an upstream public index (redirecting to it, or lazily caching
// artifacts from it).
//
// # Key Components
//
//   - IndexService: upload/download/delete operations combining cache,
//     storage, access control and the fallback resolver
//   - Resolver: maps a request plus local state and permissions to exactly
//     one Resolution (serve, redirect, deny, not found, fetch-and-serve)
//   - Coordinator: rebuilds the package cache from the storage backend,
//     optionally in graceful mode that never exposes a partial view
//   - PackageCache: interface for metadata persistence (SQLite, PostgreSQL)
//   - Storage: interface for artifact bytes (filesystem, extensible)
//   - AccessBackend: interface for per-package permission queries
//
// # Fallback Policies
//
// Four policies control behavior when a package is absent locally:
//
//   - PolicyNone: local packages only
//   - PolicyRedirect: redirect clients to the upstream index
//   - PolicyCache: fetch artifacts from upstream on demand and store them,
//     gated by the cache-update permission
//   - PolicyMirror: like cache, but listings always include upstream links
//
// See the http package for the index protocol surface, the database packages
// for cache backends, and the upstream package for the fallback locator.
package pypigo
