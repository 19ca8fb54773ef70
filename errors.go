package pypigo

import "errors"

var (
	// ErrNotFound is returned when a package or artifact is not found
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnauthorized is returned when a request needs credentials it did
	// not present. Maps to 401 so clients retry with authentication.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when an authenticated principal lacks the
	// required permission for an operation.
	ErrForbidden = errors.New("forbidden")
	// ErrDuplicate is returned when uploading a (name, filename) pair that
	// already exists and overwrites are not allowed.
	ErrDuplicate = errors.New("duplicate package file")
	// ErrRebuildInProgress is returned when a cache rebuild is requested
	// while another rebuild is still running.
	ErrRebuildInProgress = errors.New("rebuild already in progress")
	// ErrUpstreamUnavailable is returned when the fallback index cannot be
	// reached or answers with an error. Callers degrade to local results.
	ErrUpstreamUnavailable = errors.New("upstream index unavailable")
)
