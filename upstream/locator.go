// Package upstream queries the fallback public index for package releases.
// It speaks the JSON metadata API (/pypi/<name>/json) and caches responses
// briefly so hot packages do not hammer the upstream on every listing.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/pypigo/pypigo"
)

// Shared transport tunings for all upstream requests.
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewClient returns an http.Client for upstream requests with a bounded
// timeout. A timeout of zero defaults to 30s.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
	}
}

// JSONLocator resolves package releases against the upstream index's JSON
// metadata endpoint.
type JSONLocator struct {
	baseURL string
	client  *http.Client
	cache   *timedCache
}

// LocatorConfig configures a JSONLocator.
type LocatorConfig struct {
	// BaseURL is the upstream index root, e.g. "https://pypi.org".
	BaseURL string
	// Timeout bounds each upstream request (default 30s).
	Timeout time.Duration
	// CacheTTL controls how long release listings are reused (default 1m,
	// negative disables caching).
	CacheTTL time.Duration
}

// NewJSONLocator creates a locator for the given upstream index.
func NewJSONLocator(cfg LocatorConfig) (*JSONLocator, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("new locator: %w: base URL cannot be empty", pypigo.ErrInvalidInput)
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("new locator: invalid base URL: %w", err)
	}
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = time.Minute
	}
	return &JSONLocator{
		baseURL: base,
		client:  NewClient(cfg.Timeout),
		cache:   newTimedCache(ttl),
	}, nil
}

// metadataResponse mirrors the JSON metadata API shape.
type metadataResponse struct {
	Info struct {
		Summary string `json:"summary"`
	} `json:"info"`
	Releases map[string][]struct {
		URL            string            `json:"url"`
		RequiresPython string            `json:"requires_python"`
		Digests        map[string]string `json:"digests"`
	} `json:"releases"`
}

// Releases returns every released file for a package. Timeouts and non-2xx
// responses surface as ErrUpstreamUnavailable so callers degrade to local
// results instead of failing the request.
func (l *JSONLocator) Releases(ctx context.Context, name string) ([]pypigo.UpstreamRelease, error) {
	name = pypigo.NormalizeName(name)
	if cached, ok := l.cache.get(name); ok {
		return cached, nil
	}

	endpoint := fmt.Sprintf("%s/pypi/%s/json", l.baseURL, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("locate %s: %w", name, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("locate %s: %w: %w", name, pypigo.ErrUpstreamUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("locate %s: %w: status %d", name, pypigo.ErrUpstreamUnavailable, resp.StatusCode)
	}

	var meta metadataResponse
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("locate %s: %w: decode: %w", name, pypigo.ErrUpstreamUnavailable, err)
	}

	var releases []pypigo.UpstreamRelease
	for version, files := range meta.Releases {
		for _, file := range files {
			if file.URL == "" {
				continue
			}
			releases = append(releases, pypigo.UpstreamRelease{
				Name:           name,
				Version:        version,
				Filename:       path.Base(mustPath(file.URL)),
				URL:            file.URL,
				Summary:        meta.Info.Summary,
				RequiresPython: file.RequiresPython,
				Digests:        file.Digests,
			})
		}
	}

	l.cache.put(name, releases)
	return releases, nil
}

// mustPath extracts the URL path, falling back to the raw string for
// malformed URLs so the basename is still usable.
func mustPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Path
}
