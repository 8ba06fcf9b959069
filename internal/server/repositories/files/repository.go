// Package files persists Files, their Associations and backend versions.
package files

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/cloudstore/internal/server/models"
)

// ErrSharingTokenTaken is returned by Update when another File already
// holds the sharing token being assigned.
var ErrSharingTokenTaken = errors.New("sharing token already in use")

// Repository is the File persistence surface. Loads return the File with its
// Associations ordered by idx. Missing rows are common.ErrorNotFound.
type Repository interface {
	GetByID(ctx context.Context, id string) (*models.File, error)
	GetByStorageKey(ctx context.Context, key string) (*models.File, error)
	GetBySharingToken(ctx context.Context, token string) (*models.File, error)
	// FindByContentHash returns the non-folder File holding hash, ignoring excludeID.
	FindByContentHash(ctx context.Context, hash, excludeID string) (*models.File, error)
	// LockByID loads the File and holds its row lock until the transaction ends.
	LockByID(ctx context.Context, id string) (*models.File, error)

	// Insert stores f and its Associations. Losing a race on the content hash
	// or storage key is common.ErrDedupConflict.
	Insert(ctx context.Context, f *models.File) error
	// Update writes the mutable columns of f if its LockVersion still matches,
	// then bumps f.LockVersion. A stale version is common.ErrVersionConflict.
	Update(ctx context.Context, f *models.File) error
	Delete(ctx context.Context, id string) error

	AddAssociation(ctx context.Context, a models.Association) error
	// ReplaceAssociations rewrites the full association list of a File.
	ReplaceAssociations(ctx context.Context, fileID string, assocs []models.Association) error

	AddVersion(ctx context.Context, v models.FileVersion) error
	ListVersions(ctx context.Context, fileID string) ([]models.FileVersion, error)
}

// Store hands out repositories, optionally bound to a transaction.
type Store interface {
	Files() Repository
	// WithTx runs fn against a repository bound to a single transaction.
	// fn's error rolls the transaction back.
	WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
}
