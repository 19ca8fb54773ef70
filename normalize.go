package pypigo

import (
	"fmt"
	"regexp"
	"strings"
)

var nameSeparatorRegex = regexp.MustCompile(`[-_.]+`)

// NormalizeName canonicalizes a package name: case-folded, with `_`, `.`,
// and runs of `-` collapsed to a single `-`. Two names that normalize
// identically are the same package for lookup and permission purposes.
func NormalizeName(name string) string {
	return nameSeparatorRegex.ReplaceAllString(strings.ToLower(name), "-")
}

// artifactExtensions lists recognized artifact suffixes, longest first so
// ".tar.gz" wins over ".gz".
var artifactExtensions = []string{
	".tar.gz", ".tar.bz2", ".tar.xz", ".tgz", ".tbz", ".tar", ".zip",
	".whl", ".egg",
}

// ParseFilename extracts the package name and version from an artifact
// filename. nameHint, when non-empty, disambiguates sdist names that
// themselves contain hyphens. Returns the normalized name.
func ParseFilename(filename, nameHint string) (string, string, error) {
	var trimmed string
	var binary bool
	lower := strings.ToLower(filename)
	for _, ext := range artifactExtensions {
		if strings.HasSuffix(lower, ext) {
			trimmed = filename[:len(filename)-len(ext)]
			binary = ext == ".whl" || ext == ".egg"
			break
		}
	}
	if trimmed == "" {
		return "", "", fmt.Errorf("cannot parse package filename %q: %w", filename, ErrInvalidInput)
	}

	if binary {
		// Wheel and egg names are dash-delimited: name-version-tags...
		parts := strings.SplitN(trimmed, "-", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return "", "", fmt.Errorf("cannot parse package filename %q: %w", filename, ErrInvalidInput)
		}
		return NormalizeName(parts[0]), parts[1], nil
	}

	if nameHint != "" {
		// Split at the dash where the left side normalizes to the hint, so
		// hyphenated sdist names don't confuse the version boundary.
		hint := NormalizeName(nameHint)
		for i := len(trimmed) - 2; i > 0; i-- {
			if trimmed[i] == '-' && NormalizeName(trimmed[:i]) == hint {
				return hint, trimmed[i+1:], nil
			}
		}
	}

	// Generic sdist: split at the last dash followed by a digit.
	for i := len(trimmed) - 2; i > 0; i-- {
		if trimmed[i] == '-' && trimmed[i+1] >= '0' && trimmed[i+1] <= '9' {
			return NormalizeName(trimmed[:i]), trimmed[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("cannot parse package filename %q: %w", filename, ErrInvalidInput)
}
