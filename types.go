package pypigo

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"time"

	goversion "github.com/hashicorp/go-version"
)

// Package represents one concrete uploaded artifact. Name is always stored
// normalized (see NormalizeName); Version is kept exactly as provided since
// legacy version schemes do not parse cleanly.
type Package struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Filename     string            `json:"filename"`
	Summary      string            `json:"summary,omitempty"`
	LastModified time.Time         `json:"last_modified"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// NewPackage creates a Package with a normalized name and the current time
// as LastModified.
func NewPackage(name, version, filename string) Package {
	return Package{
		Name:         NormalizeName(name),
		Version:      version,
		Filename:     filename,
		LastModified: time.Now().UTC(),
	}
}

// Key returns the identity of this package row within the cache.
func (p Package) Key() PackageKey {
	return PackageKey{Name: p.Name, Version: p.Version, Filename: p.Filename}
}

var releaseVersionRegex = regexp.MustCompile(`^\d+(\.\d+)*$`)

// IsPrerelease reports whether the version is anything other than a plain
// dotted release number.
func (p Package) IsPrerelease() bool {
	return !releaseVersionRegex.MatchString(p.Version)
}

// PackageKey identifies a single cache row. Filename is unique within a
// normalized name, but the full triple is carried so rebuild reconciliation
// can detect renamed versions.
type PackageKey struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Filename string `json:"filename"`
}

// PackageSummary is the per-name rollup returned by summary listings.
type PackageSummary struct {
	Name         string    `json:"name"`
	Stable       string    `json:"stable,omitempty"`
	Unstable     string    `json:"unstable"`
	LastModified time.Time `json:"last_modified"`
}

// MaxVersion returns the greater of a and b. Comparison parses both as
// versions when possible and falls back to a plain string comparison, so the
// result is best-effort for legacy schemes.
func MaxVersion(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	va, errA := goversion.NewVersion(a)
	vb, errB := goversion.NewVersion(b)
	if errA == nil && errB == nil {
		if vb.GreaterThan(va) {
			return b
		}
		return a
	}
	if b > a {
		return b
	}
	return a
}

// Principal is the requesting identity, supplied per-request by the
// authentication layer. The zero value is the anonymous principal.
type Principal struct {
	Name          string
	Authenticated bool
}

// Anonymous is the unauthenticated principal.
var Anonymous = Principal{}

// Permission is a per-package capability.
type Permission string

const (
	PermRead  Permission = "read"
	PermWrite Permission = "write"
)

// FallbackPolicy controls behavior when a requested package is absent from
// the local cache.
type FallbackPolicy string

const (
	// PolicyNone serves local packages only.
	PolicyNone FallbackPolicy = "none"
	// PolicyRedirect redirects missing packages to the fallback index.
	PolicyRedirect FallbackPolicy = "redirect"
	// PolicyCache lazily fetches missing artifacts from the fallback index
	// and stores them, gated by the cache-update permission.
	PolicyCache FallbackPolicy = "cache"
	// PolicyMirror behaves like PolicyCache but listings always include
	// upstream links alongside local versions.
	PolicyMirror FallbackPolicy = "mirror"
)

func (p FallbackPolicy) IsValid() bool {
	switch p {
	case PolicyNone, PolicyRedirect, PolicyCache, PolicyMirror:
		return true
	default:
		return false
	}
}

func ParseFallbackPolicy(s string) (FallbackPolicy, error) {
	policy := FallbackPolicy(s)
	if !policy.IsValid() {
		return "", fmt.Errorf("invalid fallback policy: %s (valid policies: none, redirect, cache, mirror)", s)
	}
	return policy, nil
}

// ResolutionKind tags the outcome of a fallback resolution.
type ResolutionKind string

const (
	// ResolveServe serves local packages (possibly merged with upstream
	// links when the policy shows upstream).
	ResolveServe ResolutionKind = "serve"
	// ResolveRedirect redirects the client to Resolution.URL.
	ResolveRedirect ResolutionKind = "redirect"
	// ResolveDeny answers 401 and requests credentials.
	ResolveDeny ResolutionKind = "deny"
	// ResolveNotFound answers 404.
	ResolveNotFound ResolutionKind = "not_found"
	// ResolveFetchAndServe serves upstream content that is cached locally
	// when an artifact is actually downloaded.
	ResolveFetchAndServe ResolutionKind = "fetch_and_serve"
)

// Resolution is the single deterministic outcome of a listing or download
// request. Exactly one of the payload fields is meaningful for each kind:
// Packages for serve, URL for redirect and fetch_and_serve, Upstream for
// serve (merged links) and fetch_and_serve listings, Release for
// fetch_and_serve downloads.
type Resolution struct {
	Kind     ResolutionKind
	Packages []Package
	Upstream []UpstreamRelease
	URL      string
	Release  *UpstreamRelease
}

// UpstreamRelease is one downloadable file advertised by the fallback index.
type UpstreamRelease struct {
	Name           string            `json:"name"`
	Version        string            `json:"version"`
	Filename       string            `json:"filename"`
	URL            string            `json:"url"`
	Summary        string            `json:"summary,omitempty"`
	RequiresPython string            `json:"requires_python,omitempty"`
	Digests        map[string]string `json:"digests,omitempty"`
}

// PackageCache is the queryable metadata index. It is authoritative for
// lookups but must eventually converge with Storage; the rebuild
// Coordinator manages the divergence window.
//
// All methods must be safe for concurrent use.
type PackageCache interface {
	// FetchFile returns the package row for an artifact filename.
	// Returns ErrNotFound if no such file is indexed.
	FetchFile(ctx context.Context, filename string) (Package, error)

	// AllVersions returns every indexed file for a normalized name, or an
	// empty slice when the package is unknown.
	AllVersions(ctx context.Context, name string) ([]Package, error)

	// Distinct returns all distinct normalized package names.
	Distinct(ctx context.Context) ([]string, error)

	// Keys returns the identity of every row. Used to snapshot the cache
	// before a graceful rebuild.
	Keys(ctx context.Context) ([]PackageKey, error)

	// Upsert creates or replaces the row for (name, filename).
	Upsert(ctx context.Context, pkg Package) error

	// Remove deletes a single row. Returns ErrNotFound if absent.
	Remove(ctx context.Context, key PackageKey) error

	// Clear removes every row.
	Clear(ctx context.Context) error
}

// StoragePage is one page of a storage listing. An empty NextCursor ends
// the scan.
type StoragePage struct {
	Packages   []Package
	NextCursor string
}

// Storage owns the durable artifact bytes. Implementations can use the
// local filesystem, S3, GCS, or any other blob store.
type Storage interface {
	// List returns a page of all stored artifacts. Pass an empty cursor to
	// start a scan and the returned NextCursor to continue it. Backends
	// with cheap listings may return everything in a single page.
	List(ctx context.Context, cursor string) (StoragePage, error)

	// Upload writes artifact content. An existing file at the same
	// location is overwritten. The returned Package carries any
	// backend-specific metadata (content hashes, storage path).
	Upload(ctx context.Context, pkg Package, content io.Reader) (Package, error)

	// Delete removes an artifact. Returns ErrNotFound if absent.
	Delete(ctx context.Context, pkg Package) error

	// Open returns a reader over the artifact bytes. The caller closes it.
	Open(ctx context.Context, pkg Package) (io.ReadCloser, error)

	// GetURL returns a download reference for the artifact. Depending on
	// backend configuration this may be a plain URL or a time-limited
	// signed one; callers treat it as opaque.
	GetURL(ctx context.Context, pkg Package) (string, error)
}

// AccessBackend answers permission queries for the requesting principal.
// Implementations are expected to be cheap per call or internally cached,
// since every request consults them.
type AccessBackend interface {
	// HasPermission reports whether the principal holds perm on the
	// normalized package name. Admins hold every permission.
	HasPermission(ctx context.Context, principal Principal, pkg string, perm Permission) (bool, error)

	// IsAdmin reports whether the principal is an administrator.
	IsAdmin(ctx context.Context, principal Principal) (bool, error)

	// AllowedToCache reports whether the principal may trigger an upstream
	// fetch-and-store. Distinct from write permission.
	AllowedToCache(ctx context.Context, principal Principal) (bool, error)
}

// Locator queries the upstream fallback index for the released files of a
// package. Implementations use a bounded timeout; failures surface as
// ErrUpstreamUnavailable and callers degrade to local-only results.
type Locator interface {
	Releases(ctx context.Context, name string) ([]UpstreamRelease, error)
}
