// Package http exposes the package index over HTTP.
//
// The routes fall into three groups:
//
//   - /simple/ implements the PEP 503 simple API that pip and twine speak:
//     an HTML index of package names, per-package link pages, and form
//     uploads.
//   - /api/ carries the JSON surface: raw artifact download and upload,
//     deletion, and the per-package summary rollup.
//   - /admin/ triggers and inspects cache rebuilds. Administrator only.
//
// Authentication is HTTP basic. Requests without credentials proceed as the
// anonymous principal; whether that principal may read or write a package is
// decided by the access backend, and denied listings answer 401 with a basic
// challenge so clients retry with credentials.
//
// Listing and download responses are driven by the fallback resolver: the
// handler maps each Resolution kind onto the wire (serve, redirect, deny,
// not found, or fetch-and-serve through the local cache).
package http
