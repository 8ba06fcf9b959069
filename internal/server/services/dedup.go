package services

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/cloudstore/internal/common"
	"github.com/dmitrijs2005/cloudstore/internal/server/metrics"
	"github.com/dmitrijs2005/cloudstore/internal/server/models"
	"github.com/dmitrijs2005/cloudstore/internal/server/repositories/files"
)

// Candidate describes an upload before it has a persisted File.
type Candidate struct {
	// ID is the id the File will get if it is created; excluded from the hash lookup.
	ID   string
	Name string
	// Key is the storage key the File would be written to.
	Key  string
	Hash string
}

// Deduplicator decides whether an upload is new content, a duplicate of an
// existing File, or a replacement of the File already at its key. It only
// reads.
type Deduplicator struct {
	store files.Store
}

func NewDeduplicator(store files.Store) *Deduplicator {
	return &Deduplicator{store: store}
}

// Resolve checks for identical content first, then for a File of the same
// name at the proposed key, and otherwise asks for a new File.
func (d *Deduplicator) Resolve(ctx context.Context, c Candidate) (models.DedupDecision, error) {
	decision, err := d.resolve(ctx, c)
	if err != nil {
		return models.DedupDecision{}, err
	}
	metrics.DedupDecisions.WithLabelValues(decision.Action.String()).Inc()
	return decision, nil
}

func (d *Deduplicator) resolve(ctx context.Context, c Candidate) (models.DedupDecision, error) {
	repo := d.store.Files()

	if c.Hash != "" {
		f, err := repo.FindByContentHash(ctx, c.Hash, c.ID)
		switch {
		case err == nil:
			return models.DedupDecision{Action: models.MergeByContent, TargetFileID: f.ID}, nil
		case !errors.Is(err, common.ErrorNotFound):
			return models.DedupDecision{}, err
		}
	}

	if c.Key != "" {
		f, err := repo.GetByStorageKey(ctx, c.Key)
		switch {
		case err == nil:
			if f.ID != c.ID && !f.IsFolder && f.FileName == c.Name {
				return models.DedupDecision{Action: models.ReplaceContent, TargetFileID: f.ID}, nil
			}
		case !errors.Is(err, common.ErrorNotFound):
			return models.DedupDecision{}, err
		}
	}

	return models.DedupDecision{Action: models.CreateNew}, nil
}
