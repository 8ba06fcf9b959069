// Package keys derives deterministic storage keys from document metadata
// and normalises uploaded file names.
package keys

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/dmitrijs2005/cloudstore/internal/common"
)

var unsafeChars = regexp.MustCompile(`[^0-9a-zA-Z._-]`)

// BuildKey joins the non-empty fragments folder/ownerType/ownerID/fileName
// with "/". An empty ownerType becomes common.NoDoctype.
func BuildKey(folder, ownerType, ownerID, fileName string) string {
	if ownerType == "" {
		ownerType = common.NoDoctype
	}

	fragments := make([]string, 0, 4)
	for _, f := range []string{folder, ownerType, ownerID, fileName} {
		if f != "" {
			fragments = append(fragments, f)
		}
	}
	return strings.Join(fragments, "/")
}

// SanitizeFileName replaces spaces with underscores and strips every
// character outside [0-9A-Za-z._-].
func SanitizeFileName(name string) string {
	return unsafeChars.ReplaceAllString(strings.ReplaceAll(name, " ", "_"), "")
}

// ValidateFileName rejects empty names and names containing a path separator.
func ValidateFileName(name string) error {
	if name == "" {
		return &common.PathError{Path: name, Reason: "file name is empty"}
	}
	if strings.ContainsAny(name, `/\`) {
		return &common.PathError{Path: name, Reason: "file name cannot contain a path separator"}
	}
	if name == "." || name == ".." {
		return &common.PathError{Path: name, Reason: "file name is a relative path element"}
	}
	return nil
}

// ValidateOwner rejects owner fragments that could alias another document's
// keyspace: a path separator, a relative path element, or a doctype
// without a name (and the reverse). Both empty is an unattached File.
func ValidateOwner(doctype, name string) error {
	if (doctype == "") != (name == "") {
		return &common.PathError{Path: doctype + "/" + name, Reason: "owner needs both doctype and name"}
	}
	for _, f := range []string{doctype, name} {
		if strings.ContainsAny(f, `/\`) {
			return &common.PathError{Path: f, Reason: "owner cannot contain a path separator"}
		}
		if f == "." || f == ".." {
			return &common.PathError{Path: f, Reason: "owner is a relative path element"}
		}
	}
	return nil
}

// RetrieveURL renders the opaque reference stored on a File for its key.
func RetrieveURL(key string) string {
	return common.RetrievePath + "?key=" + url.QueryEscape(key)
}

// KeyFromURL extracts the storage key from a retrieve reference. ok is false
// when fileURL is not a retrieve reference or carries an empty key.
func KeyFromURL(fileURL string) (key string, ok bool) {
	u, err := url.Parse(fileURL)
	if err != nil || !strings.HasSuffix(u.Path, common.RetrievePath) {
		return "", false
	}
	key = u.Query().Get("key")
	return key, key != ""
}
