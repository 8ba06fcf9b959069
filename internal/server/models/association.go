package models

import "time"

// Owner identifies an owning document by type and id.
type Owner struct {
	Doctype string
	Name    string
}

// IsZero reports whether no owning document is set.
func (o Owner) IsZero() bool {
	return o.Doctype == "" && o.Name == ""
}

// Association is one (File, owning document) edge.
type Association struct {
	FileID      string
	LinkDoctype string
	LinkName    string
	// Idx is the 1-based position in the File's association order.
	Idx       int
	AddedBy   string
	CreatedAt time.Time
}

func (a Association) Owner() Owner {
	return Owner{Doctype: a.LinkDoctype, Name: a.LinkName}
}
