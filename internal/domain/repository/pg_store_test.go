package repository

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"testing"

	"aca_backend/internal/common"
	"aca_backend/internal/domain/model"
	"aca_backend/internal/platform/database"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// newPgTestStore connects to TEST_DATABASE_URL (postgres://...) and migrates it.
func newPgTestStore(t *testing.T) Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres store tests")
	}

	migrationURL := "pgx5://" + strings.TrimPrefix(strings.TrimPrefix(url, "postgres://"), "postgresql://")
	if err := database.Migrate(migrationURL); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	db, err := sql.Open("pgx", url)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	store := NewPgStore(db)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPgStoreFlow(t *testing.T) {
	store := newPgTestStore(t)
	ctx := context.Background()

	email := uuid.NewString() + "@example.com"
	user := &model.User{Email: email, HashedPassword: "h", Role: model.RoleStudent}
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := store.CreateUser(ctx, &model.User{Email: email, HashedPassword: "h2", Role: model.RoleStudent}); !errors.Is(err, common.ErrConflict) {
		t.Fatalf("duplicate CreateUser err = %v, want ErrConflict", err)
	}

	a := &model.Assignment{Slug: "pg-" + uuid.NewString(), Title: "PG", Language: "python"}
	if err := store.CreateAssignment(ctx, a); err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}

	sub := &model.Submission{UserID: user.ID, AssignmentID: a.ID, Filename: "x.zip"}
	d := &model.Dispatch{ID: uuid.NewString()}
	if err := store.CreateSubmission(ctx, sub, d); err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}

	applied, err := store.RecordResult(ctx, sub.ID, model.StatusCompleted, &model.Result{Score: 0.8, TotalTests: 10, PassedTests: 8})
	if err != nil || !applied {
		t.Fatalf("RecordResult = %v, %v", applied, err)
	}
	applied, err = store.RecordResult(ctx, sub.ID, model.StatusCompleted, &model.Result{Score: 0.1})
	if err != nil || applied {
		t.Fatalf("duplicate RecordResult = %v, %v", applied, err)
	}

	res, err := store.FindFirstResult(ctx, sub.ID)
	if err != nil || res.Score != 0.8 {
		t.Fatalf("FindFirstResult = %+v, %v", res, err)
	}
	got, err := store.FindDispatchBySubmission(ctx, sub.ID)
	if err != nil || got.Status != model.DispatchCompleted {
		t.Fatalf("dispatch = %+v, %v", got, err)
	}
}
