package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/pypigo/pypigo"
)

// Service is the index surface the HTTP layer exposes.
type Service interface {
	ResolveListing(ctx context.Context, name string, principal pypigo.Principal) (pypigo.Resolution, error)
	ResolveDownload(ctx context.Context, name, filename string, principal pypigo.Principal) (pypigo.Resolution, error)
	Upload(ctx context.Context, principal pypigo.Principal, req pypigo.UploadRequest, content io.Reader) (pypigo.Package, error)
	Delete(ctx context.Context, principal pypigo.Principal, filename string) error
	Open(ctx context.Context, pkg pypigo.Package) (io.ReadCloser, error)
	GetURL(ctx context.Context, pkg pypigo.Package) (string, error)
	FetchAndCache(ctx context.Context, principal pypigo.Principal, release pypigo.UpstreamRelease) (pypigo.Package, io.ReadCloser, error)
	AllNames(ctx context.Context, principal pypigo.Principal) ([]string, error)
	Summary(ctx context.Context, principal pypigo.Principal) ([]pypigo.PackageSummary, error)
}

// Rebuilder is the coordinator surface behind the admin endpoints.
type Rebuilder interface {
	Trigger(ctx context.Context, graceful bool) (*pypigo.RebuildHandle, error)
	Status() pypigo.RebuildState
	Dirty() bool
}

type CORSConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type HandlerConfig struct {
	Verifier CredentialVerifier
	CORS     CORSConfig
	// PackageMaxAge is the Cache-Control max-age sent with artifact
	// downloads, in seconds. Zero sends no caching directive.
	PackageMaxAge int
}

// Handler provides HTTP handlers for the package index.
type Handler struct {
	config    HandlerConfig
	service   Service
	rebuilder Rebuilder
	access    pypigo.AccessBackend
}

// NewHandler creates a new Handler with the given configuration and
// collaborators.
func NewHandler(config *HandlerConfig, service Service, rebuilder Rebuilder, access pypigo.AccessBackend) *Handler {
	return &Handler{
		config:    *config,
		service:   service,
		rebuilder: rebuilder,
		access:    access,
	}
}

// Router returns an http.Handler with the index routes configured.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	if h.config.CORS.Enabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.config.CORS.AllowedOrigins,
			AllowedMethods:   h.config.CORS.AllowedMethods,
			AllowedHeaders:   h.config.CORS.AllowedHeaders,
			ExposedHeaders:   h.config.CORS.ExposedHeaders,
			AllowCredentials: h.config.CORS.AllowCredentials,
			MaxAge:           h.config.CORS.MaxAge,
		}))
	}

	r.Use(AuthMiddleware(h.config.Verifier))

	r.Get("/simple/", h.handleIndex)
	r.Post("/simple/", h.handleSimpleUpload)
	r.Get("/simple/{name}/", h.handleListing)

	r.Get("/api/package/{name}/{filename}", h.handleDownload)
	r.Post("/api/package/{name}/{filename}", h.handleUpload)
	r.Delete("/api/package/{name}/{filename}", h.handleDelete)
	r.Get("/api/packages", h.handleSummary)

	r.Get("/admin/rebuild", h.handleRebuildStatus)
	r.Post("/admin/rebuild", h.handleRebuild)

	return r
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	names, err := h.service.AllNames(r.Context(), PrincipalFrom(r.Context()))
	if err != nil {
		HandleError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderIndex(w, names); err != nil {
		slog.Error("failed to render index page", "error", err)
	}
}

func (h *Handler) handleListing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")

	res, err := h.service.ResolveListing(ctx, name, PrincipalFrom(ctx))
	if err != nil {
		HandleError(w, err)
		return
	}

	switch res.Kind {
	case pypigo.ResolveServe, pypigo.ResolveFetchAndServe:
		links, err := h.listingLinks(ctx, res)
		if err != nil {
			HandleError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := renderListing(w, pypigo.NormalizeName(name), links); err != nil {
			slog.Error("failed to render listing page", "error", err)
		}

	case pypigo.ResolveRedirect:
		http.Redirect(w, r, res.URL, http.StatusFound)

	case pypigo.ResolveDeny:
		WriteUnauthorized(w)

	default:
		WriteError(w, http.StatusNotFound, "not_found", "Package not found")
	}
}

// listingLinks materializes a resolution into PEP 503 anchors: local files
// first, then upstream releases not shadowed by a local file.
func (h *Handler) listingLinks(ctx context.Context, res pypigo.Resolution) ([]listingLink, error) {
	links := make([]listingLink, 0, len(res.Packages)+len(res.Upstream))
	for _, pkg := range res.Packages {
		url, err := h.service.GetURL(ctx, pkg)
		if err != nil {
			return nil, err
		}
		if digest, ok := pkg.Metadata["hash_sha256"]; ok {
			url += "#sha256=" + digest
		}
		links = append(links, listingLink{Text: pkg.Filename, Href: url})
	}
	for _, rel := range res.Upstream {
		links = append(links, listingLink{
			Text:           rel.Filename,
			Href:           rel.URL,
			RequiresPython: rel.RequiresPython,
		})
	}
	return links, nil
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")
	filename := chi.URLParam(r, "filename")
	principal := PrincipalFrom(ctx)

	res, err := h.service.ResolveDownload(ctx, name, filename, principal)
	if err != nil {
		HandleError(w, err)
		return
	}

	switch res.Kind {
	case pypigo.ResolveServe:
		pkg := res.Packages[0]
		content, err := h.service.Open(ctx, pkg)
		if err != nil {
			HandleError(w, err)
			return
		}
		defer func() { _ = content.Close() }()
		h.streamArtifact(w, pkg, content)

	case pypigo.ResolveFetchAndServe:
		if res.Release == nil {
			WriteError(w, http.StatusNotFound, "not_found", "File not found")
			return
		}
		pkg, content, err := h.service.FetchAndCache(ctx, principal, *res.Release)
		if err != nil {
			HandleError(w, err)
			return
		}
		defer func() { _ = content.Close() }()
		h.streamArtifact(w, pkg, content)

	case pypigo.ResolveRedirect:
		http.Redirect(w, r, res.URL, http.StatusFound)

	case pypigo.ResolveDeny:
		WriteUnauthorized(w)

	default:
		WriteError(w, http.StatusNotFound, "not_found", "File not found")
	}
}

func (h *Handler) streamArtifact(w http.ResponseWriter, pkg pypigo.Package, content io.Reader) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+pkg.Filename+`"`)
	if h.config.PackageMaxAge > 0 {
		w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(h.config.PackageMaxAge))
	}
	if size, ok := pkg.Metadata["size"]; ok {
		if _, err := strconv.ParseInt(size, 10, 64); err == nil {
			w.Header().Set("Content-Length", size)
		}
	}
	if digest, ok := pkg.Metadata["hash_sha256"]; ok {
		w.Header().Set("ETag", `"`+digest+`"`)
	}
	if _, err := io.Copy(w, content); err != nil {
		slog.Error("failed to stream artifact", "filename", pkg.Filename, "error", err)
	}
}

// uploadLimit bounds the in-memory portion of multipart parsing; larger
// bodies spill to disk.
const uploadMemoryLimit = 32 << 20

// handleSimpleUpload accepts the form upload used by twine and setuptools:
// multipart fields name, version, summary, and a content file.
func (h *Handler) handleSimpleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(uploadMemoryLimit); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_input", "Invalid multipart form")
		return
	}

	file, header, err := r.FormFile("content")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_input", "Missing content file")
		return
	}
	defer func() { _ = file.Close() }()

	req := pypigo.UploadRequest{
		Filename: header.Filename,
		Name:     r.FormValue("name"),
		Version:  r.FormValue("version"),
		Summary:  r.FormValue("summary"),
	}

	pkg, err := h.service.Upload(r.Context(), PrincipalFrom(r.Context()), req, file)
	if err != nil {
		HandleError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, pkg)
}

// handleUpload accepts a raw artifact body at an explicit name/filename.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	req := pypigo.UploadRequest{
		Filename: chi.URLParam(r, "filename"),
		Name:     chi.URLParam(r, "name"),
		Version:  r.URL.Query().Get("version"),
		Summary:  r.URL.Query().Get("summary"),
	}

	pkg, err := h.service.Upload(r.Context(), PrincipalFrom(r.Context()), req, r.Body)
	if err != nil {
		HandleError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, pkg)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")

	if err := h.service.Delete(r.Context(), PrincipalFrom(r.Context()), filename); err != nil {
		HandleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.service.Summary(r.Context(), PrincipalFrom(r.Context()))
	if err != nil {
		HandleError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, map[string]any{"packages": summaries})
}

// requireAdmin answers true when the principal is an administrator, writing
// the error response otherwise.
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	principal := PrincipalFrom(r.Context())
	admin, err := h.access.IsAdmin(r.Context(), principal)
	if err != nil {
		HandleError(w, err)
		return false
	}
	if !admin {
		if !principal.Authenticated {
			WriteUnauthorized(w)
		} else {
			WriteError(w, http.StatusForbidden, "forbidden", "Administrator access required")
		}
		return false
	}
	return true
}

type rebuildStatus struct {
	State pypigo.RebuildState `json:"state"`
	Dirty bool                `json:"dirty"`
}

func (h *Handler) handleRebuildStatus(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	_ = WriteJSON(w, http.StatusOK, rebuildStatus{
		State: h.rebuilder.Status(),
		Dirty: h.rebuilder.Dirty(),
	})
}

func (h *Handler) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	graceful, _ := strconv.ParseBool(r.URL.Query().Get("graceful"))

	// The rebuild outlives the request; detach it from the request context.
	_, err := h.rebuilder.Trigger(context.WithoutCancel(r.Context()), graceful)
	if err != nil {
		if errors.Is(err, pypigo.ErrRebuildInProgress) {
			WriteError(w, http.StatusConflict, "rebuild_in_progress", "A cache rebuild is already running")
			return
		}
		HandleError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusAccepted, rebuildStatus{
		State: h.rebuilder.Status(),
		Dirty: h.rebuilder.Dirty(),
	})
}
