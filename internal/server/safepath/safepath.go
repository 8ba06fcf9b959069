// Package safepath confirms that paths resolved for local storage stay
// within the configured storage root.
package safepath

import (
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/cloudstore/internal/common"
)

// Logical prefixes under which files are addressed relative to the root.
var logicalPrefixes = []string{"/private/files/", "/files/"}

// Resolve maps p onto the filesystem beneath root and returns the cleaned
// absolute path. Logical paths ("/private/files/x", "/files/x") and bare
// relative keys are joined to root; absolute paths are accepted only when
// already inside root. Anything that ends up outside root is a
// *common.PathError.
func Resolve(root, p string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", &common.PathError{Path: root, Reason: "invalid storage root"}
	}

	var candidate string
	switch {
	case hasLogicalPrefix(p):
		candidate = filepath.Join(absRoot, trimLogicalPrefix(p))
	case filepath.IsAbs(p):
		candidate = filepath.Clean(p)
	default:
		candidate = filepath.Join(absRoot, p)
	}

	if !Within(absRoot, candidate) {
		return "", &common.PathError{Path: p, Reason: "outside storage root"}
	}
	return candidate, nil
}

// Within reports whether path equals root or is one of its descendants.
// Both arguments must be absolute.
func Within(root, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func hasLogicalPrefix(p string) bool {
	for _, prefix := range logicalPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func trimLogicalPrefix(p string) string {
	for _, prefix := range logicalPrefixes {
		if strings.HasPrefix(p, prefix) {
			return strings.TrimPrefix(p, prefix)
		}
	}
	return p
}
