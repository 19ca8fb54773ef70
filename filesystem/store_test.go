package filesystem_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pypigo/pypigo"
	"github.com/pypigo/pypigo/filesystem"
)

func newTestStore(t *testing.T) (*filesystem.Store, string) {
	t.Helper()
	dir := t.TempDir()
	root, err := os.OpenRoot(dir)
	assert.NoError(t, err, "open root")
	t.Cleanup(func() { _ = root.Close() })
	return filesystem.NewStore(root, ""), dir
}

func TestStore_Upload(t *testing.T) {
	t.Run("writes artifact under the package directory", func(t *testing.T) {
		store, dir := newTestStore(t)
		pkg := pypigo.NewPackage("flask", "1.0", "Flask-1.0.tar.gz")
		content := "artifact bytes"

		stored, err := store.Upload(context.Background(), pkg, strings.NewReader(content))
		assert.NoError(t, err)

		raw, err := os.ReadFile(filepath.Join(dir, "flask", "Flask-1.0.tar.gz"))
		assert.NoError(t, err)
		assert.Equal(t, content, string(raw))

		digest := sha256.Sum256([]byte(content))
		assert.Equal(t, hex.EncodeToString(digest[:]), stored.Metadata["hash_sha256"])
		assert.Equal(t, "14", stored.Metadata["size"])
	})

	t.Run("overwrites an existing artifact", func(t *testing.T) {
		store, dir := newTestStore(t)
		pkg := pypigo.NewPackage("flask", "1.0", "Flask-1.0.tar.gz")

		_, err := store.Upload(context.Background(), pkg, strings.NewReader("first"))
		assert.NoError(t, err)
		_, err = store.Upload(context.Background(), pkg, strings.NewReader("second"))
		assert.NoError(t, err)

		raw, err := os.ReadFile(filepath.Join(dir, "flask", "Flask-1.0.tar.gz"))
		assert.NoError(t, err)
		assert.Equal(t, "second", string(raw))
	})

	t.Run("no temp files left behind", func(t *testing.T) {
		store, dir := newTestStore(t)
		pkg := pypigo.NewPackage("flask", "1.0", "Flask-1.0.tar.gz")

		_, err := store.Upload(context.Background(), pkg, strings.NewReader("bytes"))
		assert.NoError(t, err)

		entries, err := os.ReadDir(dir)
		assert.NoError(t, err)
		for _, entry := range entries {
			assert.False(t, strings.HasPrefix(entry.Name(), ".t"), "leftover temp file %s", entry.Name())
		}
	})

	t.Run("failed read cleans up the temp file", func(t *testing.T) {
		store, dir := newTestStore(t)
		pkg := pypigo.NewPackage("flask", "1.0", "Flask-1.0.tar.gz")

		_, err := store.Upload(context.Background(), pkg, iotest{})
		assert.Error(t, err)

		entries, err := os.ReadDir(dir)
		assert.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("cancelled context", func(t *testing.T) {
		store, _ := newTestStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := store.Upload(ctx, pypigo.NewPackage("flask", "1.0", "Flask-1.0.tar.gz"), strings.NewReader("bytes"))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

type iotest struct{}

func (iotest) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestStore_Open(t *testing.T) {
	store, _ := newTestStore(t)
	pkg := pypigo.NewPackage("flask", "1.0", "Flask-1.0.tar.gz")

	t.Run("missing artifact", func(t *testing.T) {
		_, err := store.Open(context.Background(), pkg)
		assert.ErrorIs(t, err, pypigo.ErrNotFound)
	})

	t.Run("round trip", func(t *testing.T) {
		_, err := store.Upload(context.Background(), pkg, strings.NewReader("artifact bytes"))
		assert.NoError(t, err)

		body, err := store.Open(context.Background(), pkg)
		assert.NoError(t, err)
		defer func() { _ = body.Close() }()

		raw, err := io.ReadAll(body)
		assert.NoError(t, err)
		assert.Equal(t, "artifact bytes", string(raw))
	})
}

func TestStore_Delete(t *testing.T) {
	store, _ := newTestStore(t)
	pkg := pypigo.NewPackage("flask", "1.0", "Flask-1.0.tar.gz")

	t.Run("missing artifact", func(t *testing.T) {
		assert.ErrorIs(t, store.Delete(context.Background(), pkg), pypigo.ErrNotFound)
	})

	t.Run("removes the artifact", func(t *testing.T) {
		_, err := store.Upload(context.Background(), pkg, strings.NewReader("bytes"))
		assert.NoError(t, err)

		assert.NoError(t, store.Delete(context.Background(), pkg))

		_, err = store.Open(context.Background(), pkg)
		assert.ErrorIs(t, err, pypigo.ErrNotFound)
	})
}

func TestStore_GetURL(t *testing.T) {
	t.Run("plain path", func(t *testing.T) {
		store, _ := newTestStore(t)
		pkg := pypigo.NewPackage("flask", "1.0", "Flask-1.0.tar.gz")

		url, err := store.GetURL(context.Background(), pkg)
		assert.NoError(t, err)
		assert.Equal(t, "/api/package/flask/Flask-1.0.tar.gz", url)
	})

	t.Run("with prefix", func(t *testing.T) {
		dir := t.TempDir()
		root, err := os.OpenRoot(dir)
		assert.NoError(t, err)
		t.Cleanup(func() { _ = root.Close() })
		store := filesystem.NewStore(root, "https://pypi.internal.example.com")

		url, err := store.GetURL(context.Background(), pypigo.NewPackage("flask", "1.0", "Flask-1.0.tar.gz"))
		assert.NoError(t, err)
		assert.Equal(t, "https://pypi.internal.example.com/api/package/flask/Flask-1.0.tar.gz", url)
	})
}

func TestStore_List(t *testing.T) {
	t.Run("empty storage", func(t *testing.T) {
		store, _ := newTestStore(t)

		page, err := store.List(context.Background(), "")
		assert.NoError(t, err)
		assert.Empty(t, page.Packages)
		assert.Empty(t, page.NextCursor)
	})

	t.Run("returns every stored artifact", func(t *testing.T) {
		store, _ := newTestStore(t)
		uploads := []pypigo.Package{
			pypigo.NewPackage("flask", "1.0", "Flask-1.0.tar.gz"),
			pypigo.NewPackage("flask", "2.0", "Flask-2.0-py3-none-any.whl"),
			pypigo.NewPackage("django", "4.0", "Django-4.0.tar.gz"),
		}
		for _, pkg := range uploads {
			_, err := store.Upload(context.Background(), pkg, strings.NewReader("bytes"))
			assert.NoError(t, err)
		}

		page, err := store.List(context.Background(), "")
		assert.NoError(t, err)
		assert.Len(t, page.Packages, 3)
		assert.Empty(t, page.NextCursor)

		byFilename := make(map[string]pypigo.Package)
		for _, pkg := range page.Packages {
			byFilename[pkg.Filename] = pkg
		}
		assert.Equal(t, "flask", byFilename["Flask-1.0.tar.gz"].Name)
		assert.Equal(t, "1.0", byFilename["Flask-1.0.tar.gz"].Version)
		assert.Equal(t, "2.0", byFilename["Flask-2.0-py3-none-any.whl"].Version)
		assert.Equal(t, "django", byFilename["Django-4.0.tar.gz"].Name)
		assert.Equal(t, "5", byFilename["Django-4.0.tar.gz"].Metadata["size"])
		assert.False(t, byFilename["Django-4.0.tar.gz"].LastModified.IsZero())
	})

	t.Run("directory name disambiguates hyphenated sdists", func(t *testing.T) {
		store, _ := newTestStore(t)
		pkg := pypigo.NewPackage("my-package", "dev1", "my-package-dev1.tar.gz")

		_, err := store.Upload(context.Background(), pkg, strings.NewReader("bytes"))
		assert.NoError(t, err)

		page, err := store.List(context.Background(), "")
		assert.NoError(t, err)
		assert.Len(t, page.Packages, 1)
		assert.Equal(t, "my-package", page.Packages[0].Name)
		assert.Equal(t, "dev1", page.Packages[0].Version)
	})

	t.Run("unrecognized files are skipped", func(t *testing.T) {
		store, dir := newTestStore(t)
		_, err := store.Upload(context.Background(),
			pypigo.NewPackage("flask", "1.0", "Flask-1.0.tar.gz"), strings.NewReader("bytes"))
		assert.NoError(t, err)
		assert.NoError(t, os.WriteFile(filepath.Join(dir, "flask", "README.txt"), []byte("notes"), 0o644))

		page, err := store.List(context.Background(), "")
		assert.NoError(t, err)
		assert.Len(t, page.Packages, 1)
	})

	t.Run("unknown cursor", func(t *testing.T) {
		store, _ := newTestStore(t)

		_, err := store.List(context.Background(), "bogus")
		assert.ErrorIs(t, err, pypigo.ErrInvalidInput)
	})
}
