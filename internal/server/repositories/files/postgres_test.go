package files

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/cloudstore/internal/common"
	"github.com/dmitrijs2005/cloudstore/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	fileCols  = []string{"id", "file_name", "content_hash", "storage_key", "content_type", "size", "is_private", "is_folder", "owner", "attached_to_doctype", "attached_to_name", "sharing_token", "lock_version", "created_at", "updated_at"}
	assocCols = []string{"file_id", "link_doctype", "link_name", "idx", "added_by", "created_at"}
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func fileRow(now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(fileCols).
		AddRow("f1", "report.pdf", "abc", "Task/T-1/report.pdf", "application/pdf", int64(5), true, false, "u1",
			"Task", "T-1", nil, int64(3), now, now)
}

func TestGetByStorageKey_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()
	now := time.Now()

	mock.ExpectQuery(`(?s)^SELECT id, file_name, .* FROM files WHERE storage_key=\$1$`).
		WithArgs("Task/T-1/report.pdf").
		WillReturnRows(fileRow(now))
	mock.ExpectQuery(`(?s)SELECT file_id, link_doctype, link_name, idx, added_by, created_at FROM file_associations\s+WHERE file_id=\$1 ORDER BY idx`).
		WithArgs("f1").
		WillReturnRows(sqlmock.NewRows(assocCols).
			AddRow("f1", "Task", "T-1", 1, "u1", now).
			AddRow("f1", "PurchaseOrder", "PO-7", 2, "u2", now))

	f, err := repo.GetByStorageKey(context.Background(), "Task/T-1/report.pdf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.ID != "f1" || f.ContentHash != "abc" || f.SharingToken != "" || f.LockVersion != 3 || !f.IsPrivate {
		t.Fatalf("bad file: %+v", f)
	}
	if len(f.Associations) != 2 || f.Associations[1].LinkName != "PO-7" || f.Associations[1].Idx != 2 {
		t.Fatalf("bad associations: %+v", f.Associations)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM files WHERE id=\$1$`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(fileCols))

	_, err := repo.GetByID(context.Background(), "missing")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want ErrorNotFound, got %v", err)
	}
}

func TestGetBySharingToken_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM files WHERE sharing_token=\$1$`).
		WithArgs("123").
		WillReturnError(errors.New("db down"))

	_, err := repo.GetBySharingToken(context.Background(), "123")
	if err == nil || !regexp.MustCompile(`failed to select file: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestFindByContentHash_ExcludesCandidate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()
	now := time.Now()

	mock.ExpectQuery(`FROM files WHERE content_hash=\$1 AND NOT is_folder AND id<>\$2$`).
		WithArgs("abc", "f9").
		WillReturnRows(fileRow(now))
	mock.ExpectQuery(`FROM file_associations`).
		WithArgs("f1").
		WillReturnRows(sqlmock.NewRows(assocCols))

	f, err := repo.FindByContentHash(context.Background(), "abc", "f9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.ID != "f1" {
		t.Fatalf("bad file: %+v", f)
	}
}

func TestFindByContentHash_NoExclude(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM files WHERE content_hash=\$1 AND NOT is_folder$`).
		WithArgs("abc").
		WillReturnRows(sqlmock.NewRows(fileCols))

	_, err := repo.FindByContentHash(context.Background(), "abc", "")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want ErrorNotFound, got %v", err)
	}
}

func TestLockByID_UsesForUpdate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()
	now := time.Now()

	mock.ExpectQuery(`FROM files WHERE id=\$1 FOR UPDATE$`).
		WithArgs("f1").
		WillReturnRows(fileRow(now))
	mock.ExpectQuery(`FROM file_associations`).
		WithArgs("f1").
		WillReturnRows(sqlmock.NewRows(assocCols))

	if _, err := repo.LockByID(context.Background(), "f1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsert_WithAssociations(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^INSERT INTO files \(id, file_name, .*\)\s+VALUES`).
		WithArgs("f1", "a.pdf", "abc", "Task/T-1/a.pdf", "application/pdf", int64(3), false, false, "u1",
			"Task", "T-1", nil, int64(1), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)^INSERT INTO file_associations .*ON CONFLICT \(file_id, link_doctype, link_name\) DO NOTHING`).
		WithArgs("f1", "Task", "T-1", 1, "u1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	f := &models.File{
		ID:                "f1",
		FileName:          "a.pdf",
		ContentHash:       "abc",
		StorageKey:        "Task/T-1/a.pdf",
		ContentType:       "application/pdf",
		Size:              3,
		Owner:             "u1",
		AttachedToDoctype: "Task",
		AttachedToName:    "T-1",
		Associations:      []models.Association{{LinkDoctype: "Task", LinkName: "T-1", Idx: 1, AddedBy: "u1"}},
	}
	if err := repo.Insert(context.Background(), f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.LockVersion != 1 || f.CreatedAt.IsZero() {
		t.Fatalf("defaults not applied: %+v", f)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsert_HashRaceIsDedupConflict(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO files`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "files_content_hash_key"})

	err := repo.Insert(context.Background(), &models.File{ID: "f1", ContentHash: "abc"})
	if !errors.Is(err, common.ErrDedupConflict) {
		t.Fatalf("want ErrDedupConflict, got %v", err)
	}
}

func TestInsert_OtherUniqueViolation(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO files`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "files_pkey"})

	err := repo.Insert(context.Background(), &models.File{ID: "f1"})
	if err == nil || errors.Is(err, common.ErrDedupConflict) {
		t.Fatalf("want plain error, got %v", err)
	}
}

func TestUpdate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^UPDATE files SET .*lock_version=lock_version\+1\s+WHERE id=\$10 AND lock_version=\$11$`).
		WithArgs("a.pdf", "abc", "application/pdf", int64(3), true, "Task", "T-1", "42", sqlmock.AnyArg(), "f1", int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	f := &models.File{
		ID:                "f1",
		FileName:          "a.pdf",
		ContentHash:       "abc",
		ContentType:       "application/pdf",
		Size:              3,
		IsPrivate:         true,
		AttachedToDoctype: "Task",
		AttachedToName:    "T-1",
		SharingToken:      "42",
		LockVersion:       4,
	}
	if err := repo.Update(context.Background(), f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.LockVersion != 5 {
		t.Fatalf("lock version not bumped: %d", f.LockVersion)
	}
}

func TestUpdate_VersionConflict(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE files SET`).WillReturnResult(sqlmock.NewResult(0, 0))

	f := &models.File{ID: "f1", LockVersion: 2}
	if err := repo.Update(context.Background(), f); !errors.Is(err, common.ErrVersionConflict) {
		t.Fatalf("want ErrVersionConflict, got %v", err)
	}
	if f.LockVersion != 2 {
		t.Fatalf("lock version changed on conflict: %d", f.LockVersion)
	}
}

func TestUpdate_SharingTokenTaken(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE files SET`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "files_sharing_token_key"})

	if err := repo.Update(context.Background(), &models.File{ID: "f1"}); !errors.Is(err, ErrSharingTokenTaken) {
		t.Fatalf("want ErrSharingTokenTaken, got %v", err)
	}
}

func TestUpdate_RowsAffectedErr(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE files SET`).WillReturnResult(sqlmock.NewErrorResult(errors.New("rows-err")))

	err := repo.Update(context.Background(), &models.File{ID: "f1"})
	if err == nil || !regexp.MustCompile(`rows affected error: .*rows-err`).MatchString(err.Error()) {
		t.Fatalf("expected rows affected error, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`^DELETE FROM files WHERE id=\$1$`).WithArgs("f1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`^DELETE FROM files WHERE id=\$1$`).WithArgs("f1").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.Delete(context.Background(), "f1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := repo.Delete(context.Background(), "f1"); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want ErrorNotFound, got %v", err)
	}
}

func TestReplaceAssociations(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`^DELETE FROM file_associations WHERE file_id=\$1$`).WithArgs("f1").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`INSERT INTO file_associations`).
		WithArgs("f1", "Task", "T-1", 1, "u1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO file_associations`).
		WithArgs("f1", "PurchaseOrder", "PO-7", 2, "u2", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.ReplaceAssociations(context.Background(), "f1", []models.Association{
		{LinkDoctype: "Task", LinkName: "T-1", Idx: 1, AddedBy: "u1"},
		{LinkDoctype: "PurchaseOrder", LinkName: "PO-7", Idx: 2, AddedBy: "u2"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestVersions(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()
	now := time.Now()

	mock.ExpectExec(`INSERT INTO file_versions`).
		WithArgs("f1", "v1", "abc", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT file_id, version_id, content_hash, created_at FROM file_versions WHERE file_id=\$1`).
		WithArgs("f1").
		WillReturnRows(sqlmock.NewRows([]string{"file_id", "version_id", "content_hash", "created_at"}).
			AddRow("f1", "v1", "abc", now))

	if err := repo.AddVersion(context.Background(), models.FileVersion{FileID: "f1", VersionID: "v1", ContentHash: "abc"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	vs, err := repo.ListVersions(context.Background(), "f1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vs) != 1 || vs[0].VersionID != "v1" {
		t.Fatalf("bad versions: %+v", vs)
	}
}

func TestPostgresStore_WithTxCommitAndRollback(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()
	store := NewPostgresStore(db)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM files`).WithArgs("f1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = store.WithTx(context.Background(), func(ctx context.Context, repo Repository) error {
		return repo.Delete(ctx, "f1")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM files`).WithArgs("f2").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = store.WithTx(context.Background(), func(ctx context.Context, repo Repository) error {
		return repo.Delete(ctx, "f2")
	})
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want ErrorNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
