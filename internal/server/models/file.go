// Package models defines server-side data models persisted in the database.
package models

import "time"

// File is one physically stored blob plus its primary metadata.
type File struct {
	ID       string
	FileName string
	// ContentHash is the hex SHA-256 of the blob (or of its normalised form
	// for images). Unique among non-folder Files.
	ContentHash string
	StorageKey  string
	ContentType string
	Size        int64
	IsPrivate   bool
	IsFolder    bool
	// Owner is the user who first uploaded the content.
	Owner string

	// AttachedToDoctype and AttachedToName mirror the primary Association.
	AttachedToDoctype string
	AttachedToName    string

	// SharingToken is empty until a sharing link is first requested.
	SharingToken string

	// LockVersion is bumped on every update and used for compare-and-swap.
	LockVersion int64

	CreatedAt time.Time
	UpdatedAt time.Time

	// Associations is populated by repository loads; order follows Idx.
	Associations []Association
}

// Primary returns the owner reference mirrored on the File.
func (f *File) Primary() Owner {
	return Owner{Doctype: f.AttachedToDoctype, Name: f.AttachedToName}
}

// HasAssociation reports whether an edge to owner exists.
func (f *File) HasAssociation(owner Owner) bool {
	for _, a := range f.Associations {
		if a.Owner() == owner {
			return true
		}
	}
	return false
}

// FileVersion records a version id returned by a versioning-enabled backend.
type FileVersion struct {
	FileID      string
	VersionID   string
	ContentHash string
	CreatedAt   time.Time
}
