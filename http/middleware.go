package http

import (
	"context"
	"net/http"

	"github.com/pypigo/pypigo"
)

// CredentialVerifier checks a username/password pair. The access backend
// implements this; pass nil to disable authentication entirely (every
// request is anonymous).
type CredentialVerifier interface {
	VerifyUser(ctx context.Context, username, password string) (bool, error)
}

type principalKey struct{}

// PrincipalFrom returns the request principal established by AuthMiddleware,
// or the anonymous principal when none was set.
func PrincipalFrom(ctx context.Context) pypigo.Principal {
	if principal, ok := ctx.Value(principalKey{}).(pypigo.Principal); ok {
		return principal
	}
	return pypigo.Anonymous
}

// withPrincipal returns a request whose context carries the principal.
func withPrincipal(r *http.Request, principal pypigo.Principal) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), principalKey{}, principal))
}

// AuthMiddleware resolves HTTP basic credentials into a request principal.
// Requests without credentials proceed as anonymous; whether anonymous
// access is allowed is decided per-route by the permission checks. Requests
// with bad credentials are rejected immediately.
func AuthMiddleware(verifier CredentialVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				next.ServeHTTP(w, withPrincipal(r, pypigo.Anonymous))
				return
			}

			username, password, ok := r.BasicAuth()
			if !ok {
				next.ServeHTTP(w, withPrincipal(r, pypigo.Anonymous))
				return
			}

			valid, err := verifier.VerifyUser(r.Context(), username, password)
			if err != nil {
				HandleError(w, err)
				return
			}
			if !valid {
				WriteUnauthorized(w)
				return
			}

			next.ServeHTTP(w, withPrincipal(r, pypigo.Principal{Name: username, Authenticated: true}))
		})
	}
}
