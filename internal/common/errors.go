// Package common defines shared constants, sentinel errors and the storage
// error taxonomy used across cloudstore. Callers should use errors.Is /
// errors.As to match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// ErrVersionConflict is returned when a compare-and-swap on a File's
	// lock version affects no rows.
	ErrVersionConflict = errors.New("version conflict")

	// Service-level errors.
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// ErrPermission means the requester lacks read/share rights on a private File.
	ErrPermission = errors.New("permission denied")

	// ErrDedupConflict is raised internally when an insert loses the race on
	// the content-hash unique index. It is converted into a merge and never
	// surfaced to callers.
	ErrDedupConflict = errors.New("dedup conflict")

	// ErrFolderContent is returned when content is requested for a folder.
	ErrFolderContent = errors.New("cannot get file contents of a folder")

	// Auth errors (invalid, malformed or expired token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// ConfigError reports a required storage setting that is absent.
type ConfigError struct {
	Field string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("cloud storage not configured: %s is required", e.Field)
}

// PathError reports a path that escapes the storage root or a file name
// that contains a path separator. It is never retried.
type PathError struct {
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("cannot access file path %q: %s", e.Path, e.Reason)
}

// TransientError wraps a backend failure that survived all retries.
type TransientError struct {
	Op  string
	Key string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("backend %s %q failed: %v", e.Op, e.Key, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsPathError reports whether err is (or wraps) a *PathError.
func IsPathError(err error) bool {
	var pe *PathError
	return errors.As(err, &pe)
}

// IsConfigError reports whether err is (or wraps) a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
