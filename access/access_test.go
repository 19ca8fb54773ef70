package access_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pypigo/pypigo"
	"github.com/pypigo/pypigo/access"
)

func testFile() access.File {
	return access.File{
		Users: map[string]access.UserEntry{
			"admin": {
				Password: access.HashPassword("admin-secret"),
				Admin:    true,
			},
			"alice": {
				Password: access.HashPassword("hunter22"),
				Groups:   []string{"developers"},
			},
			"bob": {
				Password: access.HashPassword("builder1"),
			},
		},
		Packages: map[string]access.PackageACL{
			"Secret_Tool": {
				Read:  []string{"developers"},
				Write: []string{"user:alice"},
			},
			"public-pkg": {
				Read: []string{access.TermEveryone},
			},
		},
	}
}

var (
	anonymous = pypigo.Anonymous
	admin     = pypigo.Principal{Name: "admin", Authenticated: true}
	alice     = pypigo.Principal{Name: "alice", Authenticated: true}
	bob       = pypigo.Principal{Name: "bob", Authenticated: true}
)

func TestLoad(t *testing.T) {
	t.Run("parses a yaml access file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "access.yaml")
		content := `users:
  alice:
    password: ` + access.HashPassword("hunter22") + `
    groups: [developers]
packages:
  secret-tool:
    read: [developers]
`
		assert.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		backend, err := access.Load(path, access.Defaults{})
		assert.NoError(t, err)

		ok, err := backend.VerifyUser(context.Background(), "alice", "hunter22")
		assert.NoError(t, err)
		assert.True(t, ok)

		allowed, err := backend.HasPermission(context.Background(), alice, "secret-tool", pypigo.PermRead)
		assert.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := access.Load(filepath.Join(t.TempDir(), "missing.yaml"), access.Defaults{})
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "access.yaml")
		assert.NoError(t, os.WriteFile(path, []byte("users: [not: a: map"), 0o600))

		_, err := access.Load(path, access.Defaults{})
		assert.Error(t, err)
	})
}

func TestBackend_VerifyUser(t *testing.T) {
	backend := access.New(testFile(), access.Defaults{})
	ctx := context.Background()

	tests := []struct {
		name     string
		username string
		password string
		want     bool
	}{
		{
			name:     "correct credentials",
			username: "alice",
			password: "hunter22",
			want:     true,
		},
		{
			name:     "wrong password",
			username: "alice",
			password: "wrong",
			want:     false,
		},
		{
			name:     "unknown user",
			username: "mallory",
			password: "hunter22",
			want:     false,
		},
		{
			name:     "empty password",
			username: "alice",
			password: "",
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := backend.VerifyUser(ctx, tt.username, tt.password)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestBackend_HasPermission(t *testing.T) {
	backend := access.New(testFile(), access.Defaults{})
	ctx := context.Background()

	t.Run("acl read granted through a group", func(t *testing.T) {
		allowed, err := backend.HasPermission(ctx, alice, "secret-tool", pypigo.PermRead)
		assert.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("acl keys are normalized", func(t *testing.T) {
		// The ACL is declared as Secret_Tool; any spelling hits it.
		allowed, err := backend.HasPermission(ctx, alice, "SECRET.TOOL", pypigo.PermRead)
		assert.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("acl denies users outside its terms", func(t *testing.T) {
		allowed, err := backend.HasPermission(ctx, bob, "secret-tool", pypigo.PermRead)
		assert.NoError(t, err)
		assert.False(t, allowed)
	})

	t.Run("write implies read", func(t *testing.T) {
		file := testFile()
		acl := file.Packages["Secret_Tool"]
		acl.Read = nil
		file.Packages["Secret_Tool"] = acl
		writeOnly := access.New(file, access.Defaults{})

		allowed, err := writeOnly.HasPermission(ctx, alice, "secret-tool", pypigo.PermRead)
		assert.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("user term grants write", func(t *testing.T) {
		allowed, err := backend.HasPermission(ctx, alice, "secret-tool", pypigo.PermWrite)
		assert.NoError(t, err)
		assert.True(t, allowed)

		allowed, err = backend.HasPermission(ctx, bob, "secret-tool", pypigo.PermWrite)
		assert.NoError(t, err)
		assert.False(t, allowed)
	})

	t.Run("everyone term includes anonymous", func(t *testing.T) {
		allowed, err := backend.HasPermission(ctx, anonymous, "public-pkg", pypigo.PermRead)
		assert.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("admins hold every permission", func(t *testing.T) {
		for _, perm := range []pypigo.Permission{pypigo.PermRead, pypigo.PermWrite} {
			allowed, err := backend.HasPermission(ctx, admin, "secret-tool", perm)
			assert.NoError(t, err)
			assert.True(t, allowed)
		}
	})

	t.Run("default read applies to packages without an acl", func(t *testing.T) {
		allowed, err := backend.HasPermission(ctx, bob, "unlisted-pkg", pypigo.PermRead)
		assert.NoError(t, err)
		assert.True(t, allowed, "authenticated default read")

		allowed, err = backend.HasPermission(ctx, anonymous, "unlisted-pkg", pypigo.PermRead)
		assert.NoError(t, err)
		assert.False(t, allowed, "anonymous is not authenticated")
	})

	t.Run("default write is nobody", func(t *testing.T) {
		allowed, err := backend.HasPermission(ctx, bob, "unlisted-pkg", pypigo.PermWrite)
		assert.NoError(t, err)
		assert.False(t, allowed)
	})

	t.Run("configured defaults override built-ins", func(t *testing.T) {
		open := access.New(testFile(), access.Defaults{
			Read:  []string{access.TermEveryone},
			Write: []string{access.TermAuthenticated},
		})

		allowed, err := open.HasPermission(ctx, anonymous, "unlisted-pkg", pypigo.PermRead)
		assert.NoError(t, err)
		assert.True(t, allowed)

		allowed, err = open.HasPermission(ctx, bob, "unlisted-pkg", pypigo.PermWrite)
		assert.NoError(t, err)
		assert.True(t, allowed)
	})
}

func TestBackend_IsAdmin(t *testing.T) {
	backend := access.New(testFile(), access.Defaults{})
	ctx := context.Background()

	tests := []struct {
		name      string
		principal pypigo.Principal
		want      bool
	}{
		{
			name:      "admin user",
			principal: admin,
			want:      true,
		},
		{
			name:      "regular user",
			principal: alice,
			want:      false,
		},
		{
			name:      "anonymous",
			principal: anonymous,
			want:      false,
		},
		{
			name:      "unauthenticated principal with an admin name",
			principal: pypigo.Principal{Name: "admin"},
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := backend.IsAdmin(ctx, tt.principal)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestBackend_AllowedToCache(t *testing.T) {
	ctx := context.Background()

	t.Run("authenticated by default", func(t *testing.T) {
		backend := access.New(testFile(), access.Defaults{})

		ok, err := backend.AllowedToCache(ctx, alice)
		assert.NoError(t, err)
		assert.True(t, ok)

		ok, err = backend.AllowedToCache(ctx, anonymous)
		assert.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("restricted to a group", func(t *testing.T) {
		backend := access.New(testFile(), access.Defaults{
			CacheUpdate: []string{"developers"},
		})

		ok, err := backend.AllowedToCache(ctx, alice)
		assert.NoError(t, err)
		assert.True(t, ok)

		ok, err = backend.AllowedToCache(ctx, bob)
		assert.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("admins always allowed", func(t *testing.T) {
		backend := access.New(testFile(), access.Defaults{
			CacheUpdate: []string{"developers"},
		})

		ok, err := backend.AllowedToCache(ctx, admin)
		assert.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestHashPassword(t *testing.T) {
	assert.Equal(t, access.HashPassword("hunter22"), access.HashPassword("hunter22"))
	assert.NotEqual(t, access.HashPassword("hunter22"), access.HashPassword("hunter23"))
	assert.Len(t, access.HashPassword("hunter22"), 64)
}
