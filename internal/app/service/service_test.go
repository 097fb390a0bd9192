package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"aca_backend/internal/common"
	"aca_backend/internal/common/security"
	"aca_backend/internal/domain/model"
	"aca_backend/internal/domain/repository"
	"aca_backend/internal/platform/database"
	"aca_backend/internal/platform/queue"
	"aca_backend/internal/platform/storage"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T) repository.Store {
	t.Helper()
	db, err := database.OpenBolt(filepath.Join(t.TempDir(), "aca.db"))
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	store, err := repository.NewBoltStore(db)
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

type testEnv struct {
	store       repository.Store
	queue       *queue.MemoryQueue
	artifacts   *storage.LocalStore
	dispatch    *DispatchService
	submissions *SubmissionService
	webhook     *WebhookService
	assignment  model.Assignment
}

func newTestEnv(t *testing.T, runnerURL string) *testEnv {
	t.Helper()
	security.Configure([]byte("test-secret"), time.Hour)

	store := newTestStore(t)
	artifacts, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	q := queue.NewMemoryQueue(16)
	dispatch := NewDispatchService(store, store, q, DispatchOptions{
		RunnerURL:   runnerURL,
		Timeout:     2 * time.Second,
		MaxAttempts: 3,
		Backoff:     time.Second,
		MaxBackoff:  10 * time.Second,
	})

	a := model.Assignment{Slug: "fizzbuzz", Title: "FizzBuzz", Language: "python"}
	if err := store.CreateAssignment(context.Background(), &a); err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}

	return &testEnv{
		store:       store,
		queue:       q,
		artifacts:   artifacts,
		dispatch:    dispatch,
		submissions: NewSubmissionService(store, artifacts, dispatch),
		webhook:     NewWebhookService(store, nil, ""),
		assignment:  a,
	}
}

func (e *testEnv) createUser(t *testing.T, role string) model.Identity {
	t.Helper()
	u := &model.User{Email: uuid.NewString() + "@example.com", HashedPassword: "x", Role: role}
	if err := e.store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return model.Identity{UserID: u.ID, Email: u.Email, Role: u.Role}
}

func assertStatus(t *testing.T, err error, want int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with status %d, got nil", want)
	}
	if got := common.HTTPStatusFromError(err); got != want {
		t.Fatalf("status = %d, want %d (err: %v)", got, want, err)
	}
}

func assertMessage(t *testing.T, err error, want string) {
	t.Helper()
	var ce *common.ClientError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ClientError %q", err, want)
	}
	if ce.Message != want {
		t.Fatalf("message = %q, want %q", ce.Message, want)
	}
}

// runnerStub counts deliveries and answers with status.
func runnerStub(status int, got chan<- model.RunRequest) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req model.RunRequest
		if err := decodeJSON(r, &req); err == nil && got != nil {
			got <- req
		}
		w.WriteHeader(status)
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}
