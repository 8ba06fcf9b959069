package services

import (
	"context"
	"time"

	"github.com/dmitrijs2005/cloudstore/internal/common"
	"github.com/dmitrijs2005/cloudstore/internal/logging"
	"github.com/dmitrijs2005/cloudstore/internal/server/models"
	"github.com/dmitrijs2005/cloudstore/internal/server/repositories/files"
)

// destroyFunc removes a locked File and its stored object within the
// caller's transaction.
type destroyFunc func(ctx context.Context, repo files.Repository, f *models.File) error

// DetachCheck authorizes a detach once the File is locked. destroys is true
// when the edge is the File's last one.
type DetachCheck func(ctx context.Context, f *models.File, destroys bool) error

// AssociationManager maintains the edges between Files and the documents
// referencing them. Every mutation locks the File row for its transaction.
type AssociationManager struct {
	store   files.Store
	destroy destroyFunc
	logger  logging.Logger
}

func NewAssociationManager(store files.Store, destroy destroyFunc, logger logging.Logger) *AssociationManager {
	return &AssociationManager{
		store:   store,
		destroy: destroy,
		logger:  logger.With("module", "associations"),
	}
}

// Attach adds an edge from fileID to owner. Existing edges are left alone.
// The first edge a File ever gets becomes its primary reference.
func (m *AssociationManager) Attach(ctx context.Context, fileID string, owner models.Owner, actingUser string) (*models.File, error) {
	var result *models.File
	err := m.store.WithTx(ctx, func(ctx context.Context, repo files.Repository) error {
		f, err := repo.LockByID(ctx, fileID)
		if err != nil {
			return err
		}
		if err := attachLocked(ctx, repo, f, owner, actingUser); err != nil {
			return err
		}
		result = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// attachLocked appends the edge to f, which the caller has locked.
func attachLocked(ctx context.Context, repo files.Repository, f *models.File, owner models.Owner, actingUser string) error {
	if owner.Doctype == "" || owner.Name == "" || f.HasAssociation(owner) {
		return nil
	}

	next := 1
	for _, a := range f.Associations {
		if a.Idx >= next {
			next = a.Idx + 1
		}
	}

	a := models.Association{
		FileID:      f.ID,
		LinkDoctype: owner.Doctype,
		LinkName:    owner.Name,
		Idx:         next,
		AddedBy:     actingUser,
		CreatedAt:   time.Now().UTC(),
	}
	if err := repo.AddAssociation(ctx, a); err != nil {
		return err
	}

	first := len(f.Associations) == 0
	f.Associations = append(f.Associations, a)
	if first {
		f.AttachedToDoctype = owner.Doctype
		f.AttachedToName = owner.Name
		return repo.Update(ctx, f)
	}
	return nil
}

// Detach removes the edge from fileID to owner. When it is the last edge
// the File is destroyed together with its stored object and deleted is true.
// A missing edge is common.ErrorNotFound. check, if set, runs under the row
// lock before anything changes.
func (m *AssociationManager) Detach(ctx context.Context, fileID string, owner models.Owner, check DetachCheck) (deleted bool, err error) {
	err = m.store.WithTx(ctx, func(ctx context.Context, repo files.Repository) error {
		f, err := repo.LockByID(ctx, fileID)
		if err != nil {
			return err
		}
		deleted, err = m.detachLocked(ctx, repo, f, owner, check)
		return err
	})
	if err != nil {
		return false, err
	}
	if deleted {
		m.logger.Info(ctx, "file destroyed with its last association", "file_id", fileID,
			"doctype", owner.Doctype, "docname", owner.Name)
	}
	return deleted, nil
}

func (m *AssociationManager) detachLocked(ctx context.Context, repo files.Repository, f *models.File, owner models.Owner, check DetachCheck) (bool, error) {
	assocs := f.Associations

	if len(assocs) <= 1 {
		if len(assocs) == 1 && assocs[0].Owner() != owner {
			return false, common.ErrorNotFound
		}
		if check != nil {
			if err := check(ctx, f, true); err != nil {
				return false, err
			}
		}
		return true, m.destroy(ctx, repo, f)
	}

	removed := -1
	for i, a := range assocs {
		if a.Owner() == owner {
			removed = i
			break
		}
	}
	if removed < 0 {
		return false, common.ErrorNotFound
	}
	if check != nil {
		if err := check(ctx, f, false); err != nil {
			return false, err
		}
	}

	if f.Primary() == owner {
		next := assocs[(removed+1)%len(assocs)]
		f.AttachedToDoctype = next.LinkDoctype
		f.AttachedToName = next.LinkName
	}

	remaining := make([]models.Association, 0, len(assocs)-1)
	for i, a := range assocs {
		if i == removed {
			continue
		}
		a.Idx = len(remaining) + 1
		remaining = append(remaining, a)
	}

	if err := repo.ReplaceAssociations(ctx, f.ID, remaining); err != nil {
		return false, err
	}
	f.Associations = remaining
	return false, repo.Update(ctx, f)
}

// List returns the edges of fileID in order.
func (m *AssociationManager) List(ctx context.Context, fileID string) ([]models.Association, error) {
	f, err := m.store.Files().GetByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return f.Associations, nil
}
