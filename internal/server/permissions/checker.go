// Package permissions decides whether a user may read, share or delete a
// File. Document-level decisions are delegated to the host system.
package permissions

import (
	"context"
	"slices"

	"github.com/dmitrijs2005/cloudstore/internal/common"
	"github.com/dmitrijs2005/cloudstore/internal/server/models"
)

// Permission types passed to the host.
const (
	Read  = "read"
	Share = "share"
	Write = "write"
)

const (
	Administrator = "Administrator"
	SystemManager = "System Manager"
)

// Host is the permission engine of the document system that owns Files.
type Host interface {
	// DocumentPermission reports whether user holds ptype on a document.
	DocumentPermission(ctx context.Context, user, doctype, docname, ptype string) (bool, error)
	// FilePermission reports whether user holds ptype on a File. An empty
	// fileID asks for the generic permission on the File type.
	FilePermission(ctx context.Context, user, fileID, ptype string) (bool, error)
	// DocumentSubmitted reports whether a document is submitted (immutable).
	DocumentSubmitted(ctx context.Context, doctype, docname string) (bool, error)
	UserRoles(ctx context.Context, user string) ([]string, error)
}

type Checker struct {
	host Host
}

func NewChecker(host Host) *Checker {
	return &Checker{host: host}
}

// HasPermission grants the uploader everything. Attached Files inherit the
// permission of their primary document, falling back to a user permission
// on the File itself; unattached Files use the generic File permission.
func (c *Checker) HasPermission(ctx context.Context, user, ptype string, f *models.File) (bool, error) {
	if user != "" && user != common.GuestUser && f.Owner == user {
		return true, nil
	}

	primary := f.Primary()
	if primary.Doctype != "" && primary.Name != "" {
		ok, err := c.host.DocumentPermission(ctx, user, primary.Doctype, primary.Name, ptype)
		if err != nil || ok {
			return ok, err
		}
		return c.host.FilePermission(ctx, user, f.ID, ptype)
	}

	return c.host.FilePermission(ctx, user, "", ptype)
}

// CanDelete requires write permission on f. A File attached to a
// submitted document can only be deleted by the Administrator or a
// System Manager.
func (c *Checker) CanDelete(ctx context.Context, user string, f *models.File) (bool, error) {
	if user == Administrator {
		return true, nil
	}
	ok, err := c.HasPermission(ctx, user, Write, f)
	if err != nil || !ok {
		return false, err
	}

	primary := f.Primary()
	if primary.Doctype == "" || primary.Name == "" {
		return true, nil
	}

	submitted, err := c.host.DocumentSubmitted(ctx, primary.Doctype, primary.Name)
	if err != nil || !submitted {
		return !submitted, err
	}

	roles, err := c.host.UserRoles(ctx, user)
	if err != nil {
		return false, err
	}
	return slices.Contains(roles, SystemManager), nil
}

// CanDetach reports whether user may remove the edge between f and owner:
// write permission on the referencing document, or on f itself.
func (c *Checker) CanDetach(ctx context.Context, user string, f *models.File, owner models.Owner) (bool, error) {
	if user == Administrator {
		return true, nil
	}
	ok, err := c.host.DocumentPermission(ctx, user, owner.Doctype, owner.Name, Write)
	if err != nil || ok {
		return ok, err
	}
	return c.HasPermission(ctx, user, Write, f)
}

// AllowOwnerOnly is the Host used when no host system is configured: only
// the uploader and the Administrator get access and nothing is submitted.
type AllowOwnerOnly struct{}

func (AllowOwnerOnly) DocumentPermission(ctx context.Context, user, doctype, docname, ptype string) (bool, error) {
	return user == Administrator, nil
}

func (AllowOwnerOnly) FilePermission(ctx context.Context, user, fileID, ptype string) (bool, error) {
	return user == Administrator, nil
}

func (AllowOwnerOnly) DocumentSubmitted(ctx context.Context, doctype, docname string) (bool, error) {
	return false, nil
}

func (AllowOwnerOnly) UserRoles(ctx context.Context, user string) ([]string, error) {
	return nil, nil
}
