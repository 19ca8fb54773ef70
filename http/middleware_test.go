package http_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pypigo/pypigo"
	pypigohttp "github.com/pypigo/pypigo/http"
	"github.com/stretchr/testify/assert"
)

func TestAuthMiddleware_PublicAccess(t *testing.T) {
	// Handler that records the principal
	var seen pypigo.Principal
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = pypigohttp.PrincipalFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	// Wrap with auth middleware (nil verifier = everyone is anonymous)
	wrapped := pypigohttp.AuthMiddleware(nil)(handler)

	req := httptest.NewRequest("GET", "/simple/", nil)
	req.SetBasicAuth("alice", "hunter2")
	rec := httptest.NewRecorder()

	wrapped.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pypigo.Anonymous, seen)
}

func TestAuthMiddleware_NoCredentials_Anonymous(t *testing.T) {
	var seen pypigo.Principal
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = pypigohttp.PrincipalFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	verifier := &fakeVerifier{username: "alice", password: "hunter2"}
	wrapped := pypigohttp.AuthMiddleware(verifier)(handler)

	req := httptest.NewRequest("GET", "/simple/", nil)
	rec := httptest.NewRecorder()

	wrapped.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pypigo.Anonymous, seen)
}

func TestAuthMiddleware_ValidCredentials(t *testing.T) {
	var seen pypigo.Principal
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = pypigohttp.PrincipalFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	verifier := &fakeVerifier{username: "alice", password: "hunter2"}
	wrapped := pypigohttp.AuthMiddleware(verifier)(handler)

	req := httptest.NewRequest("GET", "/simple/", nil)
	req.SetBasicAuth("alice", "hunter2")
	rec := httptest.NewRecorder()

	wrapped.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pypigo.Principal{Name: "alice", Authenticated: true}, seen)
}

func TestAuthMiddleware_InvalidCredentials(t *testing.T) {
	// Handler that shouldn't be reached
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})

	verifier := &fakeVerifier{username: "alice", password: "hunter2"}
	wrapped := pypigohttp.AuthMiddleware(verifier)(handler)

	req := httptest.NewRequest("GET", "/simple/", nil)
	req.SetBasicAuth("alice", "wrong")
	rec := httptest.NewRecorder()

	wrapped.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")
	assert.Contains(t, rec.Body.String(), "unauthorized")
}
