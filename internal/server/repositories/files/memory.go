package files

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/cloudstore/internal/common"
	"github.com/dmitrijs2005/cloudstore/internal/server/models"
)

// MemoryStore keeps Files in process memory. Transactions are serialized
// store-wide and rolled back from a snapshot when fn fails, which also
// serializes every mutation of a single File.
type MemoryStore struct {
	txMu sync.Mutex

	mu       sync.RWMutex
	files    map[string]models.File
	assocs   map[string][]models.Association
	versions map[string][]models.FileVersion
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files:    map[string]models.File{},
		assocs:   map[string][]models.Association{},
		versions: map[string][]models.FileVersion{},
	}
}

// Files returns a repository whose writes each run in their own transaction.
func (s *MemoryStore) Files() Repository {
	return &memoryRepo{s: s}
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) (err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.restore(snap)
			panic(p)
		}
		if err != nil {
			s.restore(snap)
		}
	}()

	return fn(ctx, &memoryRepo{s: s, inTx: true})
}

type memorySnapshot struct {
	files    map[string]models.File
	assocs   map[string][]models.Association
	versions map[string][]models.FileVersion
}

func (s *MemoryStore) snapshot() memorySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := memorySnapshot{
		files:    make(map[string]models.File, len(s.files)),
		assocs:   make(map[string][]models.Association, len(s.assocs)),
		versions: make(map[string][]models.FileVersion, len(s.versions)),
	}
	for k, v := range s.files {
		snap.files[k] = v
	}
	for k, v := range s.assocs {
		snap.assocs[k] = slices.Clone(v)
	}
	for k, v := range s.versions {
		snap.versions[k] = slices.Clone(v)
	}
	return snap
}

func (s *MemoryStore) restore(snap memorySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = snap.files
	s.assocs = snap.assocs
	s.versions = snap.versions
}

type memoryRepo struct {
	s    *MemoryStore
	inTx bool
}

// write runs fn under the data lock, inside a transaction when the
// repository is not already bound to one.
func (r *memoryRepo) write(ctx context.Context, fn func() error) error {
	if r.inTx {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		return fn()
	}
	return r.s.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		return repo.(*memoryRepo).write(ctx, fn)
	})
}

func (r *memoryRepo) load(id string) (*models.File, error) {
	f, ok := r.s.files[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	f.Associations = slices.Clone(r.s.assocs[id])
	return &f, nil
}

func (r *memoryRepo) find(match func(models.File) bool) (*models.File, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for id, f := range r.s.files {
		if match(f) {
			return r.load(id)
		}
	}
	return nil, common.ErrorNotFound
}

func (r *memoryRepo) GetByID(ctx context.Context, id string) (*models.File, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.load(id)
}

func (r *memoryRepo) GetByStorageKey(ctx context.Context, key string) (*models.File, error) {
	if key == "" {
		return nil, common.ErrorNotFound
	}
	return r.find(func(f models.File) bool { return f.StorageKey == key })
}

func (r *memoryRepo) GetBySharingToken(ctx context.Context, token string) (*models.File, error) {
	if token == "" {
		return nil, common.ErrorNotFound
	}
	return r.find(func(f models.File) bool { return f.SharingToken == token })
}

func (r *memoryRepo) FindByContentHash(ctx context.Context, hash, excludeID string) (*models.File, error) {
	if hash == "" {
		return nil, common.ErrorNotFound
	}
	return r.find(func(f models.File) bool {
		return !f.IsFolder && f.ContentHash == hash && f.ID != excludeID
	})
}

// LockByID is GetByID: transactions already hold the store-wide lock.
func (r *memoryRepo) LockByID(ctx context.Context, id string) (*models.File, error) {
	return r.GetByID(ctx, id)
}

// conflicts reports which unique column of f is already held by another File.
func (r *memoryRepo) conflicts(f *models.File) (hash, key, token bool) {
	for id, other := range r.s.files {
		if id == f.ID {
			continue
		}
		if f.ContentHash != "" && !f.IsFolder && !other.IsFolder && other.ContentHash == f.ContentHash {
			hash = true
		}
		if f.StorageKey != "" && other.StorageKey == f.StorageKey {
			key = true
		}
		if f.SharingToken != "" && other.SharingToken == f.SharingToken {
			token = true
		}
	}
	return hash, key, token
}

func (r *memoryRepo) Insert(ctx context.Context, f *models.File) error {
	return r.write(ctx, func() error {
		if _, ok := r.s.files[f.ID]; ok {
			return common.ErrDedupConflict
		}
		if hash, key, _ := r.conflicts(f); hash || key {
			return common.ErrDedupConflict
		}

		now := time.Now().UTC()
		if f.CreatedAt.IsZero() {
			f.CreatedAt = now
		}
		f.UpdatedAt = now
		if f.LockVersion == 0 {
			f.LockVersion = 1
		}

		stored := *f
		stored.Associations = nil
		r.s.files[f.ID] = stored

		assocs := make([]models.Association, 0, len(f.Associations))
		for _, a := range f.Associations {
			a.FileID = f.ID
			if a.CreatedAt.IsZero() {
				a.CreatedAt = now
			}
			assocs = append(assocs, a)
		}
		r.s.assocs[f.ID] = assocs
		return nil
	})
}

func (r *memoryRepo) Update(ctx context.Context, f *models.File) error {
	return r.write(ctx, func() error {
		cur, ok := r.s.files[f.ID]
		if !ok || cur.LockVersion != f.LockVersion {
			return common.ErrVersionConflict
		}
		hash, _, token := r.conflicts(f)
		if token {
			return ErrSharingTokenTaken
		}
		if hash {
			return common.ErrDedupConflict
		}

		f.UpdatedAt = time.Now().UTC()
		f.LockVersion++

		cur.FileName = f.FileName
		cur.ContentHash = f.ContentHash
		cur.ContentType = f.ContentType
		cur.Size = f.Size
		cur.IsPrivate = f.IsPrivate
		cur.AttachedToDoctype = f.AttachedToDoctype
		cur.AttachedToName = f.AttachedToName
		cur.SharingToken = f.SharingToken
		cur.UpdatedAt = f.UpdatedAt
		cur.LockVersion = f.LockVersion
		r.s.files[f.ID] = cur
		return nil
	})
}

func (r *memoryRepo) Delete(ctx context.Context, id string) error {
	return r.write(ctx, func() error {
		if _, ok := r.s.files[id]; !ok {
			return common.ErrorNotFound
		}
		delete(r.s.files, id)
		delete(r.s.assocs, id)
		delete(r.s.versions, id)
		return nil
	})
}

func (r *memoryRepo) AddAssociation(ctx context.Context, a models.Association) error {
	return r.write(ctx, func() error {
		if _, ok := r.s.files[a.FileID]; !ok {
			return common.ErrorNotFound
		}
		for _, existing := range r.s.assocs[a.FileID] {
			if existing.Owner() == a.Owner() {
				return nil
			}
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = time.Now().UTC()
		}
		list := append(r.s.assocs[a.FileID], a)
		sort.SliceStable(list, func(i, j int) bool { return list[i].Idx < list[j].Idx })
		r.s.assocs[a.FileID] = list
		return nil
	})
}

func (r *memoryRepo) ReplaceAssociations(ctx context.Context, fileID string, assocs []models.Association) error {
	return r.write(ctx, func() error {
		if _, ok := r.s.files[fileID]; !ok {
			return common.ErrorNotFound
		}
		list := make([]models.Association, 0, len(assocs))
		for _, a := range assocs {
			a.FileID = fileID
			list = append(list, a)
		}
		sort.SliceStable(list, func(i, j int) bool { return list[i].Idx < list[j].Idx })
		r.s.assocs[fileID] = list
		return nil
	})
}

func (r *memoryRepo) AddVersion(ctx context.Context, v models.FileVersion) error {
	return r.write(ctx, func() error {
		if _, ok := r.s.files[v.FileID]; !ok {
			return common.ErrorNotFound
		}
		for _, existing := range r.s.versions[v.FileID] {
			if existing.VersionID == v.VersionID {
				return nil
			}
		}
		if v.CreatedAt.IsZero() {
			v.CreatedAt = time.Now().UTC()
		}
		r.s.versions[v.FileID] = append(r.s.versions[v.FileID], v)
		return nil
	})
}

func (r *memoryRepo) ListVersions(ctx context.Context, fileID string) ([]models.FileVersion, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return slices.Clone(r.s.versions[fileID]), nil
}
