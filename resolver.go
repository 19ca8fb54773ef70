package pypigo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
)

// ResolverConfig carries the immutable per-process fallback configuration.
type ResolverConfig struct {
	// Policy is one of none, redirect, cache, mirror.
	Policy FallbackPolicy
	// BaseURL is the root of the upstream fallback index, e.g.
	// "https://pypi.org".
	BaseURL string
	// AlwaysShowUpstream makes cache-policy listings include upstream
	// links for versions not present locally. Mirror policy implies it.
	AlwaysShowUpstream bool
	// LocalURL builds the local download path for an artifact. Upstream
	// links that cache on fetch point here. Defaults to
	// /api/package/{name}/{filename}.
	LocalURL func(name, filename string) string
}

// Resolver maps a listing or download request, together with the local
// cache state, the requesting principal's permissions, and the fallback
// policy, to exactly one Resolution.
//
// Within a request the evaluation order is fixed: permission queries first,
// then the cache lookup, then the fallback decision.
type Resolver struct {
	cache   PackageCache
	access  AccessBackend
	locator Locator
	cfg     ResolverConfig
}

// NewResolver creates a Resolver. locator may be nil when the policy never
// consults upstream (PolicyNone).
func NewResolver(cache PackageCache, access AccessBackend, locator Locator, cfg ResolverConfig) (*Resolver, error) {
	if !cfg.Policy.IsValid() {
		return nil, fmt.Errorf("new resolver: invalid fallback policy: %s", cfg.Policy)
	}
	if cfg.Policy != PolicyNone && cfg.BaseURL == "" {
		return nil, fmt.Errorf("new resolver: fallback policy %s requires a base URL", cfg.Policy)
	}
	if cfg.LocalURL == nil {
		cfg.LocalURL = func(name, filename string) string {
			return path.Join("/api/package", name, filename)
		}
	}
	return &Resolver{cache: cache, access: access, locator: locator, cfg: cfg}, nil
}

// outcome is the abstract decision produced by the policy table, before any
// payload is materialized.
type outcome int

const (
	outcomeServe outcome = iota
	outcomeServeMerged
	outcomeRedirect
	outcomeDeny
	outcomeNotFound
	outcomeFetch
)

// evaluate implements the policy decision table. Every (policy, exists,
// read, canCache, authed) combination maps to exactly one outcome; the
// exhaustive matrix is pinned by tests.
func evaluate(policy FallbackPolicy, alwaysShow, exists, read, canCache, authed bool) outcome {
	switch policy {
	case PolicyRedirect:
		if !exists {
			return outcomeRedirect
		}
		if !read {
			if !authed {
				return outcomeDeny
			}
			return outcomeRedirect
		}
		if alwaysShow {
			return outcomeServeMerged
		}
		return outcomeServe

	case PolicyCache, PolicyMirror:
		mirror := policy == PolicyMirror
		showUpstream := mirror || alwaysShow
		if !read {
			if !authed {
				return outcomeDeny
			}
			// An authenticated but unauthorized principal must not learn
			// whether the package exists locally.
			if exists {
				return outcomeDeny
			}
			if mirror {
				return outcomeRedirect
			}
			return outcomeNotFound
		}
		if exists {
			if showUpstream {
				return outcomeServeMerged
			}
			return outcomeServe
		}
		if canCache {
			return outcomeFetch
		}
		if mirror {
			if authed {
				return outcomeRedirect
			}
			return outcomeDeny
		}
		if authed {
			return outcomeNotFound
		}
		return outcomeDeny

	default: // PolicyNone
		if !read {
			if !authed {
				return outcomeDeny
			}
			return outcomeNotFound
		}
		if !exists {
			return outcomeNotFound
		}
		return outcomeServe
	}
}

// permissions gathers the principal's flags for a package. Always evaluated
// before the cache lookup.
func (r *Resolver) permissions(ctx context.Context, principal Principal, name string) (read, canCache bool, err error) {
	read, err = r.access.HasPermission(ctx, principal, name, PermRead)
	if err != nil {
		return false, false, fmt.Errorf("resolve %s: read permission: %w", name, err)
	}
	canCache, err = r.access.AllowedToCache(ctx, principal)
	if err != nil {
		return false, false, fmt.Errorf("resolve %s: cache permission: %w", name, err)
	}
	return read, canCache, nil
}

// ResolveListing decides the response for "all versions of name".
func (r *Resolver) ResolveListing(ctx context.Context, name string, principal Principal) (Resolution, error) {
	name = NormalizeName(name)

	read, canCache, err := r.permissions(ctx, principal, name)
	if err != nil {
		return Resolution{}, err
	}

	packages, err := r.cache.AllVersions(ctx, name)
	if err != nil {
		return Resolution{}, fmt.Errorf("resolve %s: cache lookup: %w", name, err)
	}
	exists := len(packages) > 0

	switch evaluate(r.cfg.Policy, r.cfg.AlwaysShowUpstream, exists, read, canCache, principal.Authenticated) {
	case outcomeServe:
		return Resolution{Kind: ResolveServe, Packages: packages}, nil

	case outcomeServeMerged:
		upstream := r.fallbackReleases(ctx, name, canCache)
		return Resolution{
			Kind:     ResolveServe,
			Packages: packages,
			Upstream: dropLocalCollisions(upstream, packages),
		}, nil

	case outcomeRedirect:
		return Resolution{Kind: ResolveRedirect, URL: r.redirectURL(name)}, nil

	case outcomeDeny:
		return Resolution{Kind: ResolveDeny}, nil

	case outcomeFetch:
		upstream, err := r.locatorReleases(ctx, name)
		if err != nil {
			// Upstream down: fall back to the local-only row of the table.
			return r.degraded(exists, packages, principal), nil
		}
		return Resolution{
			Kind:     ResolveFetchAndServe,
			URL:      r.listingURL(name),
			Upstream: rewriteToLocal(upstream, r.cfg.LocalURL),
		}, nil

	default:
		return Resolution{Kind: ResolveNotFound}, nil
	}
}

// ResolveDownload decides the response for one artifact of a package.
func (r *Resolver) ResolveDownload(ctx context.Context, name, filename string, principal Principal) (Resolution, error) {
	name = NormalizeName(name)

	read, canCache, err := r.permissions(ctx, principal, name)
	if err != nil {
		return Resolution{}, err
	}

	pkg, err := r.cache.FetchFile(ctx, filename)
	exists := err == nil && pkg.Name == name
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Resolution{}, fmt.Errorf("resolve %s/%s: cache lookup: %w", name, filename, err)
	}

	switch evaluate(r.cfg.Policy, r.cfg.AlwaysShowUpstream, exists, read, canCache, principal.Authenticated) {
	case outcomeServe, outcomeServeMerged:
		if exists {
			return Resolution{Kind: ResolveServe, Packages: []Package{pkg}}, nil
		}
		// Merged listings can advertise upstream-only files; downloading
		// one is re-gated by the cache-update permission here.
		if canCache && (r.cfg.Policy == PolicyCache || r.cfg.Policy == PolicyMirror) {
			return r.fetchResolution(ctx, name, filename, principal)
		}
		return Resolution{Kind: ResolveNotFound}, nil

	case outcomeRedirect:
		return Resolution{Kind: ResolveRedirect, URL: r.redirectURL(name)}, nil

	case outcomeDeny:
		return Resolution{Kind: ResolveDeny}, nil

	case outcomeFetch:
		return r.fetchResolution(ctx, name, filename, principal)

	default:
		return Resolution{Kind: ResolveNotFound}, nil
	}
}

// fetchResolution locates filename upstream and returns a fetch_and_serve
// resolution for it, degrading when upstream is unavailable.
func (r *Resolver) fetchResolution(ctx context.Context, name, filename string, principal Principal) (Resolution, error) {
	releases, err := r.locatorReleases(ctx, name)
	if err != nil {
		return r.degraded(false, nil, principal), nil
	}
	for i := range releases {
		if releases[i].Filename == filename {
			return Resolution{Kind: ResolveFetchAndServe, URL: releases[i].URL, Release: &releases[i]}, nil
		}
	}
	return Resolution{Kind: ResolveNotFound}, nil
}

// degraded is the response when upstream is required but unreachable: serve
// whatever is local, else the no-upstream outcome. Only reached on paths
// where the principal already holds read permission, so the no-upstream
// outcome for a missing package is 404, never a 5xx.
func (r *Resolver) degraded(exists bool, packages []Package, _ Principal) Resolution {
	if exists {
		return Resolution{Kind: ResolveServe, Packages: packages}
	}
	return Resolution{Kind: ResolveNotFound}
}

func (r *Resolver) locatorReleases(ctx context.Context, name string) ([]UpstreamRelease, error) {
	if r.locator == nil {
		return nil, ErrUpstreamUnavailable
	}
	releases, err := r.locator.Releases(ctx, name)
	if err != nil {
		slog.Warn("fallback index unavailable", "package", name, "err", err)
		return nil, err
	}
	return releases, nil
}

// fallbackReleases returns upstream links for a merged listing. When the
// principal may update the cache the links point at the local download
// endpoint so fetching an artifact caches it; otherwise they point directly
// upstream. Upstream failures degrade to an empty set.
func (r *Resolver) fallbackReleases(ctx context.Context, name string, canCache bool) []UpstreamRelease {
	releases, err := r.locatorReleases(ctx, name)
	if err != nil {
		return nil
	}
	if canCache {
		return rewriteToLocal(releases, r.cfg.LocalURL)
	}
	return releases
}

// rewriteToLocal points release URLs at the local download endpoint so that
// fetching them populates the cache.
func rewriteToLocal(releases []UpstreamRelease, localURL func(name, filename string) string) []UpstreamRelease {
	rewritten := make([]UpstreamRelease, len(releases))
	for i, rel := range releases {
		rel.URL = localURL(rel.Name, rel.Filename)
		rewritten[i] = rel
	}
	return rewritten
}

// dropLocalCollisions removes upstream links shadowed by a local file with
// the same filename. Local versions always win on collision.
func dropLocalCollisions(upstream []UpstreamRelease, local []Package) []UpstreamRelease {
	if len(upstream) == 0 || len(local) == 0 {
		return upstream
	}
	localFiles := make(map[string]struct{}, len(local))
	for _, pkg := range local {
		localFiles[pkg.Filename] = struct{}{}
	}
	kept := upstream[:0:0]
	for _, rel := range upstream {
		if _, ok := localFiles[rel.Filename]; !ok {
			kept = append(kept, rel)
		}
	}
	return kept
}

func (r *Resolver) redirectURL(name string) string {
	return r.listingURL(name)
}

func (r *Resolver) listingURL(name string) string {
	return strings.TrimRight(r.cfg.BaseURL, "/") + "/simple/" + name + "/"
}
