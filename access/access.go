// Package access implements the permission-query contract against a YAML
// configuration file. Users, groups, and per-package ACLs are loaded once
// at startup; every query is answered from memory, so the backend is cheap
// to consult on each request.
package access

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pypigo/pypigo"
)

// Group terms usable in ACLs and default permission lists, alongside plain
// group names and "user:<name>" entries.
const (
	TermEveryone      = "everyone"
	TermAuthenticated = "authenticated"
	TermAdmin         = "admin"
)

// UserEntry is one user record in the access file.
type UserEntry struct {
	// Password is the hex-encoded SHA256 digest of the user's password.
	Password string   `yaml:"password"`
	Admin    bool     `yaml:"admin"`
	Groups   []string `yaml:"groups"`
}

// PackageACL grants read/write on one package to a list of terms.
type PackageACL struct {
	Read  []string `yaml:"read"`
	Write []string `yaml:"write"`
}

// File is the access configuration file shape.
type File struct {
	Users    map[string]UserEntry  `yaml:"users"`
	Packages map[string]PackageACL `yaml:"packages"`
}

// Defaults apply to packages with no ACL of their own.
type Defaults struct {
	// Read grants read on ACL-less packages (default: authenticated).
	Read []string
	// Write grants write on ACL-less packages (default: nobody).
	Write []string
	// CacheUpdate gates upstream fetch-and-store (default: authenticated).
	CacheUpdate []string
}

// Backend answers permission queries from an access file.
type Backend struct {
	users    map[string]UserEntry
	packages map[string]PackageACL
	defaults Defaults
}

// Load reads and parses an access file.
func Load(path string, defaults Defaults) (*Backend, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load access file: %w", err)
	}
	var file File
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("load access file %s: %w", path, err)
	}
	return New(file, defaults), nil
}

// New creates a Backend from parsed configuration. Package ACL keys are
// normalized so lookups by any spelling of a name hit the same entry.
func New(file File, defaults Defaults) *Backend {
	if len(defaults.Read) == 0 {
		defaults.Read = []string{TermAuthenticated}
	}
	if len(defaults.CacheUpdate) == 0 {
		defaults.CacheUpdate = []string{TermAuthenticated}
	}
	packages := make(map[string]PackageACL, len(file.Packages))
	for name, acl := range file.Packages {
		packages[pypigo.NormalizeName(name)] = acl
	}
	users := file.Users
	if users == nil {
		users = map[string]UserEntry{}
	}
	return &Backend{users: users, packages: packages, defaults: defaults}
}

// VerifyUser checks a username/password pair. Used by the HTTP basic-auth
// middleware to establish the request principal.
func (b *Backend) VerifyUser(ctx context.Context, username, password string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	entry, ok := b.users[username]
	if !ok || entry.Password == "" {
		return false, nil
	}
	digest := sha256.Sum256([]byte(password))
	supplied := hex.EncodeToString(digest[:])
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(entry.Password)) == 1, nil
}

// HasPermission reports whether the principal holds perm on the normalized
// package name. Packages without an ACL fall back to the default read and
// write lists. Admins hold every permission.
func (b *Backend) HasPermission(ctx context.Context, principal pypigo.Principal, pkg string, perm pypigo.Permission) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if b.isAdmin(principal) {
		return true, nil
	}

	acl, ok := b.packages[pypigo.NormalizeName(pkg)]
	if !ok || (len(acl.Read) == 0 && len(acl.Write) == 0) {
		switch perm {
		case pypigo.PermRead:
			return b.inAnyTerm(principal, b.defaults.Read), nil
		case pypigo.PermWrite:
			return b.inAnyTerm(principal, b.defaults.Write), nil
		default:
			return false, nil
		}
	}

	switch perm {
	case pypigo.PermRead:
		// Write implies read.
		return b.inAnyTerm(principal, acl.Read) || b.inAnyTerm(principal, acl.Write), nil
	case pypigo.PermWrite:
		return b.inAnyTerm(principal, acl.Write), nil
	default:
		return false, nil
	}
}

// IsAdmin reports whether the principal is an administrator.
func (b *Backend) IsAdmin(ctx context.Context, principal pypigo.Principal) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return b.isAdmin(principal), nil
}

// AllowedToCache reports whether the principal may trigger an upstream
// fetch-and-store.
func (b *Backend) AllowedToCache(ctx context.Context, principal pypigo.Principal) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if b.isAdmin(principal) {
		return true, nil
	}
	return b.inAnyTerm(principal, b.defaults.CacheUpdate), nil
}

func (b *Backend) isAdmin(principal pypigo.Principal) bool {
	if !principal.Authenticated {
		return false
	}
	entry, ok := b.users[principal.Name]
	return ok && entry.Admin
}

func (b *Backend) inAnyTerm(principal pypigo.Principal, terms []string) bool {
	for _, term := range terms {
		if b.inTerm(principal, term) {
			return true
		}
	}
	return false
}

// inTerm matches a principal against one ACL term: "everyone",
// "authenticated", "admin", "user:<name>", or a group name.
func (b *Backend) inTerm(principal pypigo.Principal, term string) bool {
	if term == TermEveryone {
		return true
	}
	if !principal.Authenticated {
		return false
	}
	switch term {
	case TermAuthenticated:
		return true
	case TermAdmin:
		return b.isAdmin(principal)
	case "user:" + principal.Name:
		return true
	}
	entry, ok := b.users[principal.Name]
	if !ok {
		return false
	}
	for _, group := range entry.Groups {
		if group == term {
			return true
		}
	}
	return false
}

// HashPassword returns the hex-encoded SHA256 digest stored in the access
// file for a password.
func HashPassword(password string) string {
	digest := sha256.Sum256([]byte(password))
	return hex.EncodeToString(digest[:])
}
