package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/securelms/securelms/internal/db/models"
)

func newResourceRepo(t *testing.T) (*ResourceRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewResourceRepository(sqlx.NewDb(db, "sqlmock")), mock
}

var resourceCols = []string{
	"id", "title", "classification", "department", "owner_id", "content_url",
	"created_at", "updated_at",
}

var grantCols = []string{
	"id", "resource_id", "grantee_id", "can_read", "can_write", "granted_by", "created_at",
}

func TestCreateResource(t *testing.T) {
	repo, mock := newResourceRepo(t)
	mock.ExpectExec("INSERT INTO resources").
		WillReturnResult(sqlmock.NewResult(1, 1))

	dept := "MATHEMATICS"
	res := &models.Resource{
		Title:          "Advanced Calculus Notes",
		Classification: "INTERNAL",
		Department:     &dept,
		OwnerID:        "user-2",
		ContentURL:     "/content/calc-notes.pdf",
	}
	if err := repo.CreateResource(context.Background(), res); err != nil {
		t.Fatalf("CreateResource: %v", err)
	}
	if res.ID == "" {
		t.Error("CreateResource did not assign an ID")
	}
}

func TestGetResourceByID(t *testing.T) {
	repo, mock := newResourceRepo(t)
	mock.ExpectQuery("SELECT (.+) FROM resources WHERE id").
		WithArgs("res-1").
		WillReturnRows(sqlmock.NewRows(resourceCols).
			AddRow("res-1", "Exam Answers", "CONFIDENTIAL", "MATHEMATICS", "user-2",
				"/content/exam.pdf", time.Now(), time.Now()))

	res, err := repo.GetResourceByID(context.Background(), "res-1")
	if err != nil {
		t.Fatalf("GetResourceByID: %v", err)
	}
	if res == nil || res.Classification != "CONFIDENTIAL" {
		t.Errorf("unexpected resource: %+v", res)
	}
}

func TestGetResourceByIDNotFound(t *testing.T) {
	repo, mock := newResourceRepo(t)
	mock.ExpectQuery("SELECT (.+) FROM resources WHERE id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(resourceCols))

	res, err := repo.GetResourceByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetResourceByID: %v", err)
	}
	if res != nil {
		t.Errorf("expected nil for an unknown resource, got %+v", res)
	}
}

func TestUpsertGrant(t *testing.T) {
	repo, mock := newResourceRepo(t)
	mock.ExpectExec("INSERT INTO resource_grants").
		WillReturnResult(sqlmock.NewResult(1, 1))

	grant := &models.ResourceGrant{
		ResourceID: "res-1",
		GranteeID:  "user-3",
		CanRead:    true,
		CanWrite:   false,
		GrantedBy:  "user-2",
	}
	if err := repo.UpsertGrant(context.Background(), grant); err != nil {
		t.Fatalf("UpsertGrant: %v", err)
	}
	if grant.ID == "" {
		t.Error("UpsertGrant did not assign an ID")
	}
}

func TestGetGrant(t *testing.T) {
	repo, mock := newResourceRepo(t)
	mock.ExpectQuery("SELECT (.+) FROM resource_grants").
		WithArgs("res-1", "user-3").
		WillReturnRows(sqlmock.NewRows(grantCols).
			AddRow("grant-1", "res-1", "user-3", true, false, "user-2", time.Now()))

	grant, err := repo.GetGrant(context.Background(), "res-1", "user-3")
	if err != nil {
		t.Fatalf("GetGrant: %v", err)
	}
	if grant == nil || !grant.CanRead || grant.CanWrite {
		t.Errorf("unexpected grant: %+v", grant)
	}
}

func TestGetGrantNotShared(t *testing.T) {
	repo, mock := newResourceRepo(t)
	mock.ExpectQuery("SELECT (.+) FROM resource_grants").
		WithArgs("res-1", "user-9").
		WillReturnRows(sqlmock.NewRows(grantCols))

	grant, err := repo.GetGrant(context.Background(), "res-1", "user-9")
	if err != nil {
		t.Fatalf("GetGrant: %v", err)
	}
	if grant != nil {
		t.Errorf("expected nil for an unshared resource, got %+v", grant)
	}
}

func TestRevokeGrant(t *testing.T) {
	repo, mock := newResourceRepo(t)
	mock.ExpectExec("DELETE FROM resource_grants").
		WithArgs("res-1", "user-3").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.RevokeGrant(context.Background(), "res-1", "user-3"); err != nil {
		t.Fatalf("RevokeGrant: %v", err)
	}
}

func TestListVisibleResources(t *testing.T) {
	repo, mock := newResourceRepo(t)
	mock.ExpectQuery("SELECT DISTINCT (.+) FROM resources").
		WithArgs("user-3", 20, 0).
		WillReturnRows(sqlmock.NewRows(resourceCols).
			AddRow("res-1", "Syllabus", "PUBLIC", nil, "user-3",
				"/content/syllabus.pdf", time.Now(), time.Now()).
			AddRow("res-2", "Shared Notes", "INTERNAL", "MATHEMATICS", "user-2",
				"/content/notes.pdf", time.Now(), time.Now()))

	resources, err := repo.ListVisibleResources(context.Background(), "user-3", 20, 0)
	if err != nil {
		t.Fatalf("ListVisibleResources: %v", err)
	}
	if len(resources) != 2 {
		t.Fatalf("got %d resources, want 2", len(resources))
	}
	if resources[1].OwnerID != "user-2" {
		t.Errorf("second resource owner = %q, want user-2 (granted, not owned)", resources[1].OwnerID)
	}
}
