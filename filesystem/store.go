// Package filesystem provides a local filesystem storage backend for the
// package index. Artifacts live under <normalized-name>/<filename>, writes
// are atomic via temp files, and SHA256 digests are recorded as metadata.
package filesystem

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pypigo/pypigo"
)

// Store provides filesystem storage operations.
type Store struct {
	root      *os.Root
	urlPrefix string
}

// NewStore creates a Store rooted at the given directory. The root provides
// sandboxed file operations preventing path traversal. urlPrefix is
// prepended to download references; the filesystem backend always returns
// plain (unsigned) URLs pointing at the index's own download endpoint.
func NewStore(root *os.Root, urlPrefix string) *Store {
	return &Store{root: root, urlPrefix: urlPrefix}
}

func artifactPath(pkg pypigo.Package) string {
	return path.Join(pkg.Name, pkg.Filename)
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (n int, err error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

// Upload atomically writes artifact content using a temp file and rename,
// creating the package directory as needed. The returned package carries
// the SHA256 digest in its metadata.
func (s *Store) Upload(ctx context.Context, pkg pypigo.Package, content io.Reader) (pypigo.Package, error) {
	if err := ctx.Err(); err != nil {
		return pypigo.Package{}, err
	}

	tmpFile := tmpFileName()
	t, createErr := s.root.Create(tmpFile)
	if createErr != nil {
		return pypigo.Package{}, fmt.Errorf("could not open temp file: %w", createErr)
	}

	success := false
	defer func() {
		if closeErr := t.Close(); closeErr != nil {
			slog.Warn("failed to close tmp file", "err", closeErr)
		}
		if !success {
			if rmErr := s.root.Remove(t.Name()); rmErr != nil {
				slog.Warn("failed to remove tmp file", "err", rmErr)
			}
		}
	}()

	h := sha256.New()
	w := io.MultiWriter(h, t)

	size, err := io.Copy(w, &ctxReader{ctx: ctx, r: content})
	if err != nil {
		return pypigo.Package{}, fmt.Errorf("could not copy artifact contents: %w", err)
	}

	if err := t.Sync(); err != nil {
		return pypigo.Package{}, fmt.Errorf("could not sync written file: %w", err)
	}

	if err := s.root.MkdirAll(pkg.Name, 0o755); err != nil {
		return pypigo.Package{}, fmt.Errorf("could not create package directory: %w", err)
	}

	if renameErr := s.root.Rename(tmpFile, artifactPath(pkg)); renameErr != nil {
		return pypigo.Package{}, fmt.Errorf("failed to rename artifact: %w", renameErr)
	}
	success = true

	stored := pkg
	stored.Metadata = map[string]string{
		"hash_sha256": hex.EncodeToString(h.Sum(nil)),
		"size":        fmt.Sprintf("%d", size),
	}
	return stored, nil
}

// Open returns a reader over the artifact bytes. Returns
// pypigo.ErrNotFound if the artifact does not exist.
func (s *Store) Open(ctx context.Context, pkg pypigo.Package) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := s.root.Open(artifactPath(pkg))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, pypigo.ErrNotFound
		}
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	return f, nil
}

// Delete removes an artifact. Returns pypigo.ErrNotFound if it does not
// exist. The package directory is left in place.
func (s *Store) Delete(ctx context.Context, pkg pypigo.Package) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.root.Remove(artifactPath(pkg)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return pypigo.ErrNotFound
		}
		return fmt.Errorf("could not delete artifact: %w", err)
	}
	return nil
}

// GetURL returns the plain download reference for an artifact.
func (s *Store) GetURL(ctx context.Context, pkg pypigo.Package) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.urlPrefix + path.Join("/api/package", pkg.Name, pkg.Filename), nil
}

// List walks the storage tree and returns every artifact in a single page.
// Filenames that cannot be parsed as package artifacts are skipped with a
// warning rather than failing the scan.
func (s *Store) List(ctx context.Context, cursor string) (pypigo.StoragePage, error) {
	if err := ctx.Err(); err != nil {
		return pypigo.StoragePage{}, err
	}
	if cursor != "" {
		return pypigo.StoragePage{}, fmt.Errorf("list artifacts: %w: unknown cursor %q", pypigo.ErrInvalidInput, cursor)
	}

	var packages []pypigo.Package
	if err := s.walkDir(ctx, ".", &packages); err != nil {
		return pypigo.StoragePage{}, fmt.Errorf("failed to list artifacts: %w", err)
	}
	return pypigo.StoragePage{Packages: packages}, nil
}

func (s *Store) walkDir(ctx context.Context, dir string, packages *[]pypigo.Package) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dirEntries, err := fs.ReadDir(s.root.FS(), dir)
	if err != nil {
		return err
	}

	for _, entry := range dirEntries {
		if err := ctx.Err(); err != nil {
			return err
		}

		entryPath := filepath.Join(dir, entry.Name())

		if entry.IsDir() {
			if err := s.walkDir(ctx, entryPath, packages); err != nil {
				return err
			}
			continue
		}

		// The parent directory is the normalized name, which
		// disambiguates hyphenated sdist filenames.
		hint := ""
		if dir != "." {
			hint = filepath.Base(dir)
		}
		name, version, parseErr := pypigo.ParseFilename(entry.Name(), hint)
		if parseErr != nil {
			slog.Warn("skipping unrecognized file in storage", "path", entryPath, "err", parseErr)
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("walk dir: %w", err)
		}

		*packages = append(*packages, pypigo.Package{
			Name:         name,
			Version:      version,
			Filename:     entry.Name(),
			LastModified: info.ModTime().UTC(),
			Metadata:     map[string]string{"size": fmt.Sprintf("%d", info.Size())},
		})
	}

	return nil
}

func tmpFileName() string {
	return fmt.Sprintf(".t%s", uuid.New().String())
}
