package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/cloudstore/internal/common"
	"github.com/dmitrijs2005/cloudstore/internal/dbx"
	"github.com/dmitrijs2005/cloudstore/internal/server/models"
)

const fileColumns = `id, file_name, content_hash, storage_key, content_type, size, is_private, is_folder, owner,
	attached_to_doctype, attached_to_name, sharing_token, lock_version, created_at, updated_at`

// Constraint names from the migrations.
const (
	contentHashKey  = "files_content_hash_key"
	storageKeyKey   = "files_storage_key_key"
	sharingTokenKey = "files_sharing_token_key"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.File, error) {
	return r.getOne(ctx, `WHERE id=$1`, id)
}

func (r *PostgresRepository) GetByStorageKey(ctx context.Context, key string) (*models.File, error) {
	return r.getOne(ctx, `WHERE storage_key=$1`, key)
}

func (r *PostgresRepository) GetBySharingToken(ctx context.Context, token string) (*models.File, error) {
	return r.getOne(ctx, `WHERE sharing_token=$1`, token)
}

func (r *PostgresRepository) FindByContentHash(ctx context.Context, hash, excludeID string) (*models.File, error) {
	if excludeID == "" {
		return r.getOne(ctx, `WHERE content_hash=$1 AND NOT is_folder`, hash)
	}
	return r.getOne(ctx, `WHERE content_hash=$1 AND NOT is_folder AND id<>$2`, hash, excludeID)
}

func (r *PostgresRepository) LockByID(ctx context.Context, id string) (*models.File, error) {
	return r.getOne(ctx, `WHERE id=$1 FOR UPDATE`, id)
}

func (r *PostgresRepository) getOne(ctx context.Context, where string, args ...any) (*models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files ` + where

	f, err := scanFile(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select file: %w", err)
	}

	f.Associations, err = r.listAssociations(ctx, f.ID)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func scanFile(row *sql.Row) (*models.File, error) {
	var f models.File
	var hash, key, sharingToken sql.NullString
	err := row.Scan(&f.ID, &f.FileName, &hash, &key, &f.ContentType, &f.Size, &f.IsPrivate, &f.IsFolder, &f.Owner,
		&f.AttachedToDoctype, &f.AttachedToName, &sharingToken, &f.LockVersion, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	f.ContentHash = hash.String
	f.StorageKey = key.String
	f.SharingToken = sharingToken.String
	return &f, nil
}

func (r *PostgresRepository) listAssociations(ctx context.Context, fileID string) ([]models.Association, error) {
	query := `SELECT file_id, link_doctype, link_name, idx, added_by, created_at FROM file_associations
		WHERE file_id=$1 ORDER BY idx`
	rows, err := r.db.QueryContext(ctx, query, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to select associations: %w", err)
	}
	defer rows.Close()

	var result []models.Association
	for rows.Next() {
		var a models.Association
		if err := rows.Scan(&a.FileID, &a.LinkDoctype, &a.LinkName, &a.Idx, &a.AddedBy, &a.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, f *models.File) error {
	now := time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	if f.LockVersion == 0 {
		f.LockVersion = 1
	}

	query := `INSERT INTO files (` + fileColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err := r.db.ExecContext(ctx, query,
		f.ID, f.FileName, nullString(f.ContentHash), nullString(f.StorageKey), f.ContentType, f.Size, f.IsPrivate, f.IsFolder, f.Owner,
		f.AttachedToDoctype, f.AttachedToName, nullString(f.SharingToken), f.LockVersion, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		if c, ok := dbx.UniqueViolation(err); ok && (c == contentHashKey || c == storageKeyKey) {
			return common.ErrDedupConflict
		}
		return fmt.Errorf("failed to insert file: %w", err)
	}

	for _, a := range f.Associations {
		a.FileID = f.ID
		if err := r.AddAssociation(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, f *models.File) error {
	f.UpdatedAt = time.Now().UTC()

	query := `UPDATE files SET file_name=$1, content_hash=$2, content_type=$3, size=$4, is_private=$5,
		attached_to_doctype=$6, attached_to_name=$7, sharing_token=$8, updated_at=$9, lock_version=lock_version+1
		WHERE id=$10 AND lock_version=$11`
	res, err := r.db.ExecContext(ctx, query,
		f.FileName, nullString(f.ContentHash), f.ContentType, f.Size, f.IsPrivate,
		f.AttachedToDoctype, f.AttachedToName, nullString(f.SharingToken), f.UpdatedAt, f.ID, f.LockVersion)
	if err != nil {
		if c, ok := dbx.UniqueViolation(err); ok {
			if c == sharingTokenKey {
				return ErrSharingTokenTaken
			}
			return common.ErrDedupConflict
		}
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		f.LockVersion++
		return nil
	case 0:
		return common.ErrVersionConflict
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) AddAssociation(ctx context.Context, a models.Association) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO file_associations (file_id, link_doctype, link_name, idx, added_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (file_id, link_doctype, link_name) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, a.FileID, a.LinkDoctype, a.LinkName, a.Idx, a.AddedBy, a.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert association: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ReplaceAssociations(ctx context.Context, fileID string, assocs []models.Association) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM file_associations WHERE file_id=$1`, fileID); err != nil {
		return fmt.Errorf("failed to clear associations: %w", err)
	}
	for _, a := range assocs {
		a.FileID = fileID
		if err := r.AddAssociation(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresRepository) AddVersion(ctx context.Context, v models.FileVersion) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO file_versions (file_id, version_id, content_hash, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (file_id, version_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, v.FileID, v.VersionID, v.ContentHash, v.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert version: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListVersions(ctx context.Context, fileID string) ([]models.FileVersion, error) {
	query := `SELECT file_id, version_id, content_hash, created_at FROM file_versions WHERE file_id=$1 ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to select versions: %w", err)
	}
	defer rows.Close()

	var result []models.FileVersion
	for rows.Next() {
		var v models.FileVersion
		if err := rows.Scan(&v.FileID, &v.VersionID, &v.ContentHash, &v.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// PostgresStore runs repositories against a *sql.DB.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Files() Repository {
	return NewPostgresRepository(s.db)
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, NewPostgresRepository(tx))
	})
}
