package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(db), mock
}

func TestCreateUserMapsUniqueViolationToDuplicate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value"})

	err := s.CreateUser(context.Background(), User{ID: "u1", Name: "Ada", Email: "ada@example.com"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestVerifyUserEmailWithUnknownTokenReturnsNoRows(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users")).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.VerifyUserEmail(context.Background(), "missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestGetUserByEmailScansNullableColumns(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "name", "email", "email_verified", "image", "role",
		"password_hash", "verification_token", "verification_expires_at", "created_at", "updated_at",
	}).AddRow("u1", "Ada", "ada@example.com", true, "", "admin", "hash", "", nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE LOWER(email)=LOWER($1)")).
		WithArgs("ada@example.com").
		WillReturnRows(rows)

	user, err := s.GetUserByEmail(context.Background(), "  ada@example.com ")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.Role != "admin" || !user.EmailVerified || user.VerificationExpiresAt != nil {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestCreateOrganizationInsertsOwnerInTransaction(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO organizations")).
		WithArgs("org1", "Writers", "writers", nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO members")).
		WithArgs("mem1", "u1", "org1", "owner").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.CreateOrganization(context.Background(),
		Organization{ID: "org1", Name: "Writers", Slug: "writers"},
		Member{ID: "mem1", UserID: "u1", Role: "owner"},
	)
	if err != nil {
		t.Fatalf("create organization: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateOrganizationRollsBackOnSlugConflict(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO organizations")).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	err := s.CreateOrganization(context.Background(), Organization{ID: "org1", Name: "W", Slug: "w"}, Member{ID: "m", UserID: "u", Role: "owner"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateOrganizationOnlyWritesProvidedFields(t *testing.T) {
	s, mock := newMockStore(t)
	name := "Renamed"
	logo := ""
	mock.ExpectExec(regexp.QuoteMeta("UPDATE organizations SET name=$2, logo=$3 WHERE id=$1")).
		WithArgs("org1", "Renamed", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.UpdateOrganization(context.Background(), "org1", OrganizationPatch{Name: &name, Logo: &logo}); err != nil {
		t.Fatalf("update organization: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateOrganizationWithEmptyPatchIsNoop(t *testing.T) {
	s, mock := newMockStore(t)
	if err := s.UpdateOrganization(context.Background(), "org1", OrganizationPatch{}); err != nil {
		t.Fatalf("update organization: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRemoveMemberNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM members")).
		WithArgs("org1", "u9").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.RemoveMember(context.Background(), "org1", "u9"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestListDiscussionsAttachesCommentsInOrder(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("FROM discussions WHERE document_id=$1")).
		WithArgs("doc1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "document_id", "user_id", "document_content", "document_content_rich", "is_resolved", "created_at", "updated_at",
		}).
			AddRow("d1", "doc1", "u1", "quoted", nil, false, now, now).
			AddRow("d2", "doc1", "u2", "", nil, true, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM comments c")).
		WithArgs("doc1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "discussion_id", "user_id", "content", "content_rich", "comment_type", "is_edited", "created_at", "updated_at",
		}).
			AddRow("c1", "d1", "u1", "first", []byte(`[{"type":"p","children":[{"text":"first"}]}]`), "formatting", false, now, nil).
			AddRow("c2", "d1", "u2", "second", nil, "committee", true, now, now).
			AddRow("c3", "d2", "u2", "third", nil, "preCommittee", false, now, nil))

	discussions, err := s.ListDiscussions(context.Background(), "doc1")
	if err != nil {
		t.Fatalf("list discussions: %v", err)
	}
	if len(discussions) != 2 {
		t.Fatalf("expected 2 discussions, got %d", len(discussions))
	}
	if len(discussions[0].Comments) != 2 || discussions[0].Comments[1].ID != "c2" {
		t.Fatalf("unexpected comments for d1: %+v", discussions[0].Comments)
	}
	if discussions[0].Comments[1].UpdatedAt == nil || discussions[0].Comments[0].UpdatedAt != nil {
		t.Fatalf("expected nullable updated_at to round-trip")
	}
	if !strings.Contains(string(discussions[0].Comments[0].ContentRich), `"first"`) {
		t.Fatalf("expected rich content, got %s", discussions[0].Comments[0].ContentRich)
	}
	if len(discussions[1].Comments) != 1 || !discussions[1].IsResolved {
		t.Fatalf("unexpected d2: %+v", discussions[1])
	}
}

func TestListDocumentsAppliesFilters(t *testing.T) {
	s, mock := newMockStore(t)
	archived := false
	mock.ExpectQuery(regexp.QuoteMeta("d.organization_id=$2 AND d.is_archived=$3")).
		WithArgs("u1", "org1", false).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	docs, err := s.ListDocuments(context.Background(), "u1", DocumentFilter{OrganizationID: "org1", Archived: &archived})
	if err != nil {
		t.Fatalf("list documents: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("expected no documents, got %d", len(docs))
	}
}

func TestPrefixColumnsKeepsCoalesceArguments(t *testing.T) {
	got := prefixColumns("d", "id, COALESCE(organization_id, ''), title")
	want := "d.id, COALESCE(d.organization_id, ''), d.title"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestApplyMigrationsSkipsRecordedVersions(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"0001_init.up.sql":   "CREATE TABLE a (id TEXT);",
		"0001_init.down.sql": "DROP TABLE a;",
		"0002_more.up.sql":   "CREATE TABLE b (id TEXT);",
		"0002_more.down.sql": "DROP TABLE b;",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write migration: %v", err)
		}
	}

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	expectMigrationLock(mock)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("0001_init.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE b (id TEXT);")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations(version) VALUES($1)")).
		WithArgs("0002_more.up.sql").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	expectMigrationUnlock(mock)

	if err := ApplyMigrations(context.Background(), db, dir); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
