package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"aca_backend/internal/common/security"
	"aca_backend/internal/domain/model"
)

// CreateSubmission reports a dangling reference with one of these, each
// also matching common.ErrNotFound.
var (
	ErrUnknownUser       = errors.New("submission references an unknown user")
	ErrUnknownAssignment = errors.New("submission references an unknown assignment")
)

type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	FindUserByEmail(ctx context.Context, email string) (*model.User, error)
	FindUserByID(ctx context.Context, id int64) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
}

type AssignmentRepository interface {
	CreateAssignment(ctx context.Context, a *model.Assignment) error
	FindAssignmentByID(ctx context.Context, id int64) (*model.Assignment, error)
	FindAssignmentBySlug(ctx context.Context, slug string) (*model.Assignment, error)
	ListAssignments(ctx context.Context) ([]model.Assignment, error)
}

type SubmissionRepository interface {
	// CreateSubmission stores the submission and its outbox dispatch atomically.
	CreateSubmission(ctx context.Context, sub *model.Submission, dispatch *model.Dispatch) error
	FindSubmissionByID(ctx context.Context, id int64) (*model.Submission, error)
	ListSubmissions(ctx context.Context, filter model.SubmissionFilter) ([]model.Submission, error)
}

type ResultRepository interface {
	// RecordResult moves the submission to status and, for terminal statuses,
	// appends result and completes the dispatch, all in one transaction.
	// It reports false without writing when the submission is already terminal.
	RecordResult(ctx context.Context, submissionID int64, status model.SubmissionStatus, result *model.Result) (bool, error)
	FindFirstResult(ctx context.Context, submissionID int64) (*model.Result, error)
	ListResultsBySubmission(ctx context.Context, submissionID int64) ([]model.Result, error)
	ListResults(ctx context.Context) ([]model.Result, error)
}

type DispatchRepository interface {
	FindDispatchByID(ctx context.Context, id string) (*model.Dispatch, error)
	FindDispatchBySubmission(ctx context.Context, submissionID int64) (*model.Dispatch, error)
	ListDueDispatches(ctx context.Context, now time.Time, limit int) ([]model.Dispatch, error)
	// The Mark/Schedule/Fail transitions apply only to pending dispatches and are no-ops otherwise.
	MarkDispatchSent(ctx context.Context, id string, attempts int) error
	ScheduleDispatchRetry(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error
	// FailDispatch also fails the owning submission unless it is already terminal.
	FailDispatch(ctx context.Context, id string, attempts int, lastErr string) error
}

type SnapshotRepository interface {
	Snapshot(ctx context.Context) (*model.Snapshot, error)
	// Import inserts every record with its original id and advances id sequences past them.
	Import(ctx context.Context, snap *model.Snapshot) error
	IsEmpty(ctx context.Context) (bool, error)
}

// Store is the full persistence surface used by the services.
type Store interface {
	UserRepository
	AssignmentRepository
	SubmissionRepository
	ResultRepository
	DispatchRepository
	SnapshotRepository
	Close() error
}

func emptySnapshot() *model.Snapshot {
	return &model.Snapshot{
		Users:       []model.SnapshotUser{},
		Assignments: []model.Assignment{},
		Submissions: []model.SnapshotSubmission{},
		Results:     []model.SnapshotResult{},
	}
}

// LoadSnapshotFile reads a JSON snapshot. A missing file yields empty
// collections; so does a corrupt one, after logging.
func LoadSnapshotFile(path string) (*model.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return emptySnapshot(), nil
		}
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}

	snap := emptySnapshot()
	if err := json.Unmarshal(data, snap); err != nil {
		log.Printf("ERROR: snapshot %s is corrupt, starting from empty collections: %v", path, err)
		return emptySnapshot(), nil
	}
	return snap, nil
}

// ImportSnapshotIfEmpty seeds an empty store from the snapshot at path and
// returns how many users, assignments, submissions and results it carried.
// Plaintext legacy passwords are hashed on the way in.
func ImportSnapshotIfEmpty(ctx context.Context, store Store, path string) (int, error) {
	empty, err := store.IsEmpty(ctx)
	if err != nil {
		return 0, err
	}
	if !empty {
		log.Printf("INFO: store already holds data, skipping snapshot import from %s", path)
		return 0, nil
	}

	snap, err := LoadSnapshotFile(path)
	if err != nil {
		return 0, err
	}
	if snap.Empty() {
		return 0, nil
	}

	for i := range snap.Users {
		u := &snap.Users[i]
		if u.Password != "" && !security.IsPasswordHash(u.Password) {
			hashed, err := security.HashPassword(u.Password)
			if err != nil {
				return 0, fmt.Errorf("hash legacy password for %s: %w", u.Email, err)
			}
			u.Password = hashed
		}
	}

	if err := store.Import(ctx, snap); err != nil {
		return 0, fmt.Errorf("import snapshot %s: %w", path, err)
	}
	return len(snap.Users) + len(snap.Assignments) + len(snap.Submissions) + len(snap.Results), nil
}
