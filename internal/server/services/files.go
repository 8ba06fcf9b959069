package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/cloudstore/internal/common"
	"github.com/dmitrijs2005/cloudstore/internal/logging"
	"github.com/dmitrijs2005/cloudstore/internal/server/backend"
	"github.com/dmitrijs2005/cloudstore/internal/server/config"
	"github.com/dmitrijs2005/cloudstore/internal/server/hashing"
	"github.com/dmitrijs2005/cloudstore/internal/server/keys"
	"github.com/dmitrijs2005/cloudstore/internal/server/models"
	"github.com/dmitrijs2005/cloudstore/internal/server/permissions"
	"github.com/dmitrijs2005/cloudstore/internal/server/repositories/files"
	"github.com/google/uuid"
)

// writeAttempts bounds how often a write re-resolves after losing an
// insert race.
const writeAttempts = 3

// WriteRequest is one upload.
type WriteRequest struct {
	FileName    string
	Content     []byte
	ContentType string
	IsPrivate   bool
	IsFolder    bool
	// Owner is the document the upload is attached to; may be zero.
	Owner      models.Owner
	ActingUser string
}

// FileService implements the write and delete paths on top of the
// deduplicator, the association manager and the backend.
type FileService struct {
	store   files.Store
	backend backend.Backend
	checker *permissions.Checker
	folder  string
	logger  logging.Logger

	Dedup        *Deduplicator
	Associations *AssociationManager
}

func NewFileService(store files.Store, b backend.Backend, checker *permissions.Checker, cfg *config.Config, logger logging.Logger) *FileService {
	s := &FileService{
		store:   store,
		backend: b,
		checker: checker,
		folder:  cfg.S3Folder,
		logger:  logger.With("module", "files"),
		Dedup:   NewDeduplicator(store),
	}
	s.Associations = NewAssociationManager(store, s.destroyLocked, logger)
	return s
}

// Write stores an upload. Identical content is merged into the existing
// File, a same-named File at the same key has its content replaced, and
// anything else becomes a new File. The returned File may pre-date the call.
func (s *FileService) Write(ctx context.Context, req WriteRequest) (*models.File, error) {
	name := keys.SanitizeFileName(req.FileName)
	if err := keys.ValidateFileName(name); err != nil {
		return nil, err
	}
	if !req.Owner.IsZero() {
		if err := keys.ValidateOwner(req.Owner.Doctype, req.Owner.Name); err != nil {
			return nil, err
		}
	}
	if req.IsFolder {
		return s.createFolder(ctx, name, req)
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = backend.DetectContentType(req.Content, name)
	}
	hash, normalized := hashing.ContentHash(req.Content, contentType)

	c := Candidate{
		ID:   uuid.NewString(),
		Name: name,
		Key:  keys.BuildKey(s.folder, req.Owner.Doctype, req.Owner.Name, name),
		Hash: hash,
	}

	for attempt := 1; ; attempt++ {
		decision, err := s.Dedup.Resolve(ctx, c)
		if err != nil {
			return nil, err
		}
		s.logger.Debug(ctx, "dedup decision", "action", decision.Action.String(), "target", decision.TargetFileID,
			"key", c.Key, "normalized_hash", normalized)

		var f *models.File
		switch decision.Action {
		case models.MergeByContent:
			f, err = s.Associations.Attach(ctx, decision.TargetFileID, req.Owner, req.ActingUser)
		case models.ReplaceContent:
			f, err = s.replace(ctx, decision.TargetFileID, req, contentType, hash)
		default:
			f, err = s.create(ctx, c, req, contentType)
		}

		if retryableWrite(decision, err) && attempt < writeAttempts {
			s.logger.Info(ctx, "lost write race, re-resolving", "key", c.Key, "attempt", attempt, "error", err)
			continue
		}
		if err != nil {
			return nil, err
		}
		return f, nil
	}
}

// retryableWrite reports whether err means the decision went stale: the
// insert lost to a concurrent upload, or the target File vanished.
func retryableWrite(d models.DedupDecision, err error) bool {
	if errors.Is(err, common.ErrDedupConflict) {
		return true
	}
	return d.Action != models.CreateNew && errors.Is(err, common.ErrorNotFound)
}

// create inserts the File row and then puts the object inside one
// transaction, so a losing insert never writes and a failed put leaves no row.
func (s *FileService) create(ctx context.Context, c Candidate, req WriteRequest, contentType string) (*models.File, error) {
	f := &models.File{
		ID:          c.ID,
		FileName:    c.Name,
		ContentHash: c.Hash,
		StorageKey:  c.Key,
		ContentType: contentType,
		Size:        int64(len(req.Content)),
		IsPrivate:   req.IsPrivate,
		Owner:       req.ActingUser,
	}
	if req.Owner.Doctype != "" && req.Owner.Name != "" {
		f.AttachedToDoctype = req.Owner.Doctype
		f.AttachedToName = req.Owner.Name
		f.Associations = []models.Association{{
			FileID:      f.ID,
			LinkDoctype: req.Owner.Doctype,
			LinkName:    req.Owner.Name,
			Idx:         1,
			AddedBy:     req.ActingUser,
		}}
	}

	err := s.store.WithTx(ctx, func(ctx context.Context, repo files.Repository) error {
		if err := repo.Insert(ctx, f); err != nil {
			return err
		}
		versionID, err := s.backend.Put(ctx, f.StorageKey, req.Content, contentType)
		if err != nil {
			return fmt.Errorf("store %s: %w", f.StorageKey, err)
		}
		if versionID != "" {
			return repo.AddVersion(ctx, models.FileVersion{FileID: f.ID, VersionID: versionID, ContentHash: f.ContentHash})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "file created", "file_id", f.ID, "key", f.StorageKey, "size", f.Size)
	return f, nil
}

// replace overwrites the object of targetID under its row lock and records
// the new content. A failed put leaves the row untouched.
func (s *FileService) replace(ctx context.Context, targetID string, req WriteRequest, contentType, hash string) (*models.File, error) {
	var result *models.File
	err := s.store.WithTx(ctx, func(ctx context.Context, repo files.Repository) error {
		f, err := repo.LockByID(ctx, targetID)
		if err != nil {
			return err
		}

		versionID, err := s.backend.Put(ctx, f.StorageKey, req.Content, contentType)
		if err != nil {
			return fmt.Errorf("store %s: %w", f.StorageKey, err)
		}

		if other, err := repo.FindByContentHash(ctx, hash, f.ID); err == nil {
			// The index allows one holder per hash; the next write of this
			// content merges into the other File.
			s.logger.Warn(ctx, "replaced content duplicates another file", "file_id", f.ID, "other_file_id", other.ID)
			hash = ""
		} else if !errors.Is(err, common.ErrorNotFound) {
			return err
		}

		f.ContentHash = hash
		f.ContentType = contentType
		f.Size = int64(len(req.Content))
		if err := repo.Update(ctx, f); err != nil {
			return err
		}
		if versionID != "" {
			if err := repo.AddVersion(ctx, models.FileVersion{FileID: f.ID, VersionID: versionID, ContentHash: hash}); err != nil {
				return err
			}
		}
		if err := attachLocked(ctx, repo, f, req.Owner, req.ActingUser); err != nil {
			return err
		}
		result = f
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "file content replaced", "file_id", result.ID, "key", result.StorageKey)
	return result, nil
}

func (s *FileService) createFolder(ctx context.Context, name string, req WriteRequest) (*models.File, error) {
	f := &models.File{
		ID:        uuid.NewString(),
		FileName:  name,
		IsFolder:  true,
		IsPrivate: req.IsPrivate,
		Owner:     req.ActingUser,
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, repo files.Repository) error {
		if err := repo.Insert(ctx, f); err != nil {
			return err
		}
		return attachLocked(ctx, repo, f, req.Owner, req.ActingUser)
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Delete destroys fileID with its edges and stored object. It needs write
// permission, and Files attached to a submitted document can only be
// deleted by privileged users.
func (s *FileService) Delete(ctx context.Context, fileID, user string) error {
	return s.store.WithTx(ctx, func(ctx context.Context, repo files.Repository) error {
		f, err := repo.LockByID(ctx, fileID)
		if err != nil {
			return err
		}
		if err := s.authorizeDelete(ctx, user, f); err != nil {
			return err
		}
		return s.destroyLocked(ctx, repo, f)
	})
}

// RemoveAttachment detaches owner from fileID on behalf of user. When this
// is the last edge the File is destroyed, which needs the delete permission.
func (s *FileService) RemoveAttachment(ctx context.Context, fileID string, owner models.Owner, user string) (bool, error) {
	return s.Associations.Detach(ctx, fileID, owner, func(ctx context.Context, f *models.File, destroys bool) error {
		if destroys {
			return s.authorizeDelete(ctx, user, f)
		}
		ok, err := s.checker.CanDetach(ctx, user, f, owner)
		if err != nil {
			return fmt.Errorf("permission check: %w", err)
		}
		if !ok {
			return common.ErrPermission
		}
		return nil
	})
}

// destroyLocked deletes the row of a locked File and then its object. A
// failed backend delete rolls the row deletion back.
func (s *FileService) destroyLocked(ctx context.Context, repo files.Repository, f *models.File) error {
	if err := repo.Delete(ctx, f.ID); err != nil {
		return err
	}
	if f.IsFolder || f.StorageKey == "" {
		return nil
	}

	err := s.backend.Delete(ctx, f.StorageKey)
	if errors.Is(err, common.ErrorNotFound) {
		s.logger.Warn(ctx, "stored object already missing", "file_id", f.ID, "key", f.StorageKey)
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", f.StorageKey, err)
	}
	return nil
}

func (s *FileService) authorizeDelete(ctx context.Context, user string, f *models.File) error {
	ok, err := s.checker.CanDelete(ctx, user, f)
	if err != nil {
		return fmt.Errorf("permission check: %w", err)
	}
	if !ok {
		return common.ErrPermission
	}
	return nil
}

// Content returns the stored bytes of fileID. Private Files need read
// permission.
func (s *FileService) Content(ctx context.Context, fileID, user string) (*models.File, []byte, error) {
	f, err := s.store.Files().GetByID(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}
	if f.IsFolder {
		return nil, nil, common.ErrFolderContent
	}
	if err := s.authorizeRead(ctx, user, f); err != nil {
		return nil, nil, err
	}
	body, err := s.backend.Get(ctx, f.StorageKey)
	if err != nil {
		return nil, nil, err
	}
	return f, body, nil
}

// AttachExisting attaches owner to the File referenced by fileURL, a
// retrieve reference as stored on documents. Private Files need read
// permission.
func (s *FileService) AttachExisting(ctx context.Context, fileURL string, owner models.Owner, user string) (*models.File, error) {
	key, ok := keys.KeyFromURL(fileURL)
	if !ok {
		return nil, &common.PathError{Path: fileURL, Reason: "not a retrieve reference"}
	}
	if owner.IsZero() {
		return nil, &common.PathError{Path: fileURL, Reason: "no document to attach to"}
	}
	if err := keys.ValidateOwner(owner.Doctype, owner.Name); err != nil {
		return nil, err
	}
	f, err := s.store.Files().GetByStorageKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRead(ctx, user, f); err != nil {
		return nil, err
	}
	return s.Associations.Attach(ctx, f.ID, owner, user)
}

// Versions lists the backend versions recorded for fileID, oldest first.
func (s *FileService) Versions(ctx context.Context, fileID, user string) ([]models.FileVersion, error) {
	f, err := s.store.Files().GetByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRead(ctx, user, f); err != nil {
		return nil, err
	}
	return s.store.Files().ListVersions(ctx, f.ID)
}

func (s *FileService) authorizeRead(ctx context.Context, user string, f *models.File) error {
	if !f.IsPrivate {
		return nil
	}
	ok, err := s.checker.HasPermission(ctx, user, permissions.Read, f)
	if err != nil {
		return fmt.Errorf("permission check: %w", err)
	}
	if !ok {
		return common.ErrPermission
	}
	return nil
}
