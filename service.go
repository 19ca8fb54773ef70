package pypigo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"sync"
	"time"
)

// ServiceConfig holds configuration options for IndexService.
type ServiceConfig struct {
	// AllowOverwrite permits re-uploading a (name, filename) pair that
	// already exists. When false such uploads fail with ErrDuplicate.
	AllowOverwrite bool
	// CleanupTimeout bounds rollback deletions after a failed upload
	// (default 30s).
	CleanupTimeout time.Duration
	// FetchClient downloads artifact bytes from the upstream index during
	// fetch-and-cache. Defaults to a client with a 30s timeout.
	FetchClient *http.Client
}

// IndexService combines the package cache, artifact storage, access control,
// fallback resolver, and rebuild coordinator into the operations exposed to
// the HTTP layer.
type IndexService struct {
	cache       PackageCache
	storage     Storage
	access      AccessBackend
	resolver    *Resolver
	coordinator *Coordinator

	allowOverwrite bool
	cleanupTimeout time.Duration
	fetchClient    *http.Client

	// Uploads to the same normalized name are serialized so two writers
	// of one (name, filename) can never interleave write-then-index.
	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// NewIndexService creates an IndexService.
func NewIndexService(cache PackageCache, storage Storage, access AccessBackend, resolver *Resolver, coordinator *Coordinator, cfg ServiceConfig) (*IndexService, error) {
	if cache == nil || storage == nil || access == nil || resolver == nil || coordinator == nil {
		return nil, fmt.Errorf("new index service: %w: missing collaborator", ErrInvalidInput)
	}
	cleanupTimeout := cfg.CleanupTimeout
	if cleanupTimeout <= 0 {
		cleanupTimeout = 30 * time.Second
	}
	fetchClient := cfg.FetchClient
	if fetchClient == nil {
		fetchClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &IndexService{
		cache:          cache,
		storage:        storage,
		access:         access,
		resolver:       resolver,
		coordinator:    coordinator,
		allowOverwrite: cfg.AllowOverwrite,
		cleanupTimeout: cleanupTimeout,
		fetchClient:    fetchClient,
		locks:          make(map[string]*sync.Mutex),
	}, nil
}

// Resolver returns the fallback resolver.
func (s *IndexService) Resolver() *Resolver { return s.resolver }

// Coordinator returns the rebuild coordinator.
func (s *IndexService) Coordinator() *Coordinator { return s.coordinator }

// nameLock returns the mutex serializing uploads for one normalized name.
func (s *IndexService) nameLock(name string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[name] = lock
	}
	return lock
}

// UploadRequest describes an inbound artifact upload. Name and Version are
// optional; when absent they are parsed from Filename.
type UploadRequest struct {
	Filename string
	Name     string
	Version  string
	Summary  string
}

// Upload stores an artifact and indexes it. The storage write happens
// first; if indexing then fails the stored file is rolled back so the
// artifact is never downloadable-but-unlisted.
func (s *IndexService) Upload(ctx context.Context, principal Principal, req UploadRequest, content io.Reader) (Package, error) {
	if err := ctx.Err(); err != nil {
		return Package{}, fmt.Errorf("upload: %w", err)
	}
	if req.Filename == "" {
		return Package{}, fmt.Errorf("upload: %w: filename cannot be empty", ErrInvalidInput)
	}
	filename := path.Base(req.Filename)

	name, version := req.Name, req.Version
	if version == "" {
		var err error
		name, version, err = ParseFilename(filename, name)
		if err != nil {
			return Package{}, fmt.Errorf("upload: %w", err)
		}
	} else {
		name = NormalizeName(name)
	}

	allowed, err := s.access.HasPermission(ctx, principal, name, PermWrite)
	if err != nil {
		return Package{}, fmt.Errorf("upload %s: %w", filename, err)
	}
	if !allowed {
		return Package{}, fmt.Errorf("upload %s: %w", filename, ErrForbidden)
	}

	lock := s.nameLock(name)
	lock.Lock()
	defer lock.Unlock()

	_, err = s.cache.FetchFile(ctx, filename)
	switch {
	case err == nil:
		if !s.allowOverwrite {
			return Package{}, fmt.Errorf("upload %s: %w", filename, ErrDuplicate)
		}
	case !errors.Is(err, ErrNotFound):
		return Package{}, fmt.Errorf("upload %s: %w", filename, err)
	}

	pkg := NewPackage(name, version, filename)
	pkg.Summary = req.Summary
	return s.store(ctx, pkg, content)
}

// store writes the artifact then indexes it, rolling back the stored file
// when indexing fails. Callers must hold the name lock.
func (s *IndexService) store(ctx context.Context, pkg Package, content io.Reader) (Package, error) {
	stored, err := s.storage.Upload(ctx, pkg, content)
	if err != nil {
		return Package{}, fmt.Errorf("store %s: write failed: %w", pkg.Filename, err)
	}

	if err := s.cache.Upsert(ctx, stored); err != nil {
		// The original context may already be cancelled; the rollback must
		// still run so the file does not linger unlisted.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), s.cleanupTimeout)
		defer cancel()
		if delErr := s.storage.Delete(cleanupCtx, stored); delErr != nil {
			return Package{}, fmt.Errorf("store %s: index failed (%w) and rollback failed: %w", pkg.Filename, err, delErr)
		}
		return Package{}, fmt.Errorf("store %s: index failed: %w", pkg.Filename, err)
	}
	return stored, nil
}

// Delete removes an artifact from storage and from the cache.
func (s *IndexService) Delete(ctx context.Context, principal Principal, filename string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	pkg, err := s.cache.FetchFile(ctx, filename)
	if err != nil {
		return fmt.Errorf("delete %s: %w", filename, err)
	}

	allowed, err := s.access.HasPermission(ctx, principal, pkg.Name, PermWrite)
	if err != nil {
		return fmt.Errorf("delete %s: %w", filename, err)
	}
	if !allowed {
		return fmt.Errorf("delete %s: %w", filename, ErrForbidden)
	}

	if err := s.storage.Delete(ctx, pkg); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete %s: %w", filename, err)
	}
	if err := s.cache.Remove(ctx, pkg.Key()); err != nil {
		return fmt.Errorf("delete %s: unindex: %w", filename, err)
	}
	return nil
}

// ResolveListing passes through to the fallback resolver.
func (s *IndexService) ResolveListing(ctx context.Context, name string, principal Principal) (Resolution, error) {
	return s.resolver.ResolveListing(ctx, name, principal)
}

// ResolveDownload passes through to the fallback resolver.
func (s *IndexService) ResolveDownload(ctx context.Context, name, filename string, principal Principal) (Resolution, error) {
	return s.resolver.ResolveDownload(ctx, name, filename, principal)
}

// Open returns a reader over a locally stored artifact.
func (s *IndexService) Open(ctx context.Context, pkg Package) (io.ReadCloser, error) {
	return s.storage.Open(ctx, pkg)
}

// GetURL returns the download reference for a locally stored artifact.
func (s *IndexService) GetURL(ctx context.Context, pkg Package) (string, error) {
	return s.storage.GetURL(ctx, pkg)
}

const indexAttempts = 3

// FetchAndCache downloads a release from the upstream index, stores it,
// indexes it, and returns a reader over the just-written local copy. The
// cache-update permission is re-checked here so the upstream fetch only
// ever runs for a principal that passed it.
func (s *IndexService) FetchAndCache(ctx context.Context, principal Principal, release UpstreamRelease) (Package, io.ReadCloser, error) {
	allowed, err := s.access.AllowedToCache(ctx, principal)
	if err != nil {
		return Package{}, nil, fmt.Errorf("fetch %s: %w", release.Filename, err)
	}
	if !allowed {
		return Package{}, nil, fmt.Errorf("fetch %s: %w", release.Filename, ErrForbidden)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, release.URL, nil)
	if err != nil {
		return Package{}, nil, fmt.Errorf("fetch %s: %w", release.Filename, err)
	}
	resp, err := s.fetchClient.Do(req)
	if err != nil {
		return Package{}, nil, fmt.Errorf("fetch %s: %w: %w", release.Filename, ErrUpstreamUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return Package{}, nil, fmt.Errorf("fetch %s: %w: status %d", release.Filename, ErrUpstreamUnavailable, resp.StatusCode)
	}

	name := NormalizeName(release.Name)
	lock := s.nameLock(name)
	lock.Lock()
	defer lock.Unlock()

	pkg := NewPackage(name, release.Version, release.Filename)
	pkg.Summary = release.Summary
	stored, err := s.storage.Upload(ctx, pkg, resp.Body)
	if err != nil {
		return Package{}, nil, fmt.Errorf("fetch %s: write failed: %w", release.Filename, err)
	}

	// Written-to-storage-but-unindexed is not yet complete: retry indexing
	// before responding success so the artifact cannot end up
	// downloadable-but-unlisted.
	var indexErr error
	for attempt := 1; attempt <= indexAttempts; attempt++ {
		indexErr = s.cache.Upsert(ctx, stored)
		if indexErr == nil {
			break
		}
		slog.Warn("indexing cached artifact failed, retrying", "filename", stored.Filename, "attempt", attempt, "err", indexErr)
	}
	if indexErr != nil {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), s.cleanupTimeout)
		defer cancel()
		if delErr := s.storage.Delete(cleanupCtx, stored); delErr != nil {
			slog.Error("rollback of cached artifact failed", "filename", stored.Filename, "err", delErr)
		}
		return Package{}, nil, fmt.Errorf("fetch %s: index failed: %w", release.Filename, indexErr)
	}

	body, err := s.storage.Open(ctx, stored)
	if err != nil {
		return Package{}, nil, fmt.Errorf("fetch %s: open cached copy: %w", release.Filename, err)
	}
	slog.Info("cached package from upstream", "package", stored.Name, "filename", stored.Filename)
	return stored, body, nil
}

// AllNames returns every distinct package name the principal may read.
func (s *IndexService) AllNames(ctx context.Context, principal Principal) ([]string, error) {
	names, err := s.cache.Distinct(ctx)
	if err != nil {
		return nil, fmt.Errorf("all names: %w", err)
	}
	readable := make([]string, 0, len(names))
	for _, name := range names {
		ok, err := s.access.HasPermission(ctx, principal, name, PermRead)
		if err != nil {
			return nil, fmt.Errorf("all names: %w", err)
		}
		if ok {
			readable = append(readable, name)
		}
	}
	return readable, nil
}

// Summary returns the per-name rollup for every package the principal may
// read: newest stable and unstable versions plus the latest upload time.
func (s *IndexService) Summary(ctx context.Context, principal Principal) ([]PackageSummary, error) {
	names, err := s.AllNames(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	summaries := make([]PackageSummary, 0, len(names))
	for _, name := range names {
		packages, err := s.cache.AllVersions(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("summary %s: %w", name, err)
		}
		rollup := PackageSummary{Name: name}
		for _, pkg := range packages {
			if !pkg.IsPrerelease() {
				rollup.Stable = MaxVersion(rollup.Stable, pkg.Version)
			}
			rollup.Unstable = MaxVersion(rollup.Unstable, pkg.Version)
			if pkg.LastModified.After(rollup.LastModified) {
				rollup.LastModified = pkg.LastModified
			}
		}
		summaries = append(summaries, rollup)
	}
	return summaries, nil
}
