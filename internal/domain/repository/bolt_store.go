package repository

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"aca_backend/internal/common"
	"aca_backend/internal/domain/model"

	"go.etcd.io/bbolt"
)

var (
	bucketUsers             = []byte("users")
	bucketUsersByEmail      = []byte("users_by_email")
	bucketAssignments       = []byte("assignments")
	bucketAssignmentsBySlug = []byte("assignments_by_slug")
	bucketSubmissions       = []byte("submissions")
	bucketResults           = []byte("results")
	bucketResultsBySub      = []byte("results_by_submission")
	bucketDispatches        = []byte("dispatches")
	bucketDispatchesBySub   = []byte("dispatches_by_submission")
	bucketDispatchesPending = []byte("dispatches_pending")
	allBuckets              = [][]byte{
		bucketUsers, bucketUsersByEmail,
		bucketAssignments, bucketAssignmentsBySlug,
		bucketSubmissions,
		bucketResults, bucketResultsBySub,
		bucketDispatches, bucketDispatchesBySub, bucketDispatchesPending,
	}
)

// userRecord is the stored form of a user; unlike model.User it serializes the hash.
type userRecord struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Password  string    `json:"password"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

func (r *userRecord) user() *model.User {
	return &model.User{ID: r.ID, Email: r.Email, HashedPassword: r.Password, Role: r.Role, CreatedAt: r.CreatedAt}
}

type boltStore struct {
	db  *bbolt.DB
	now func() time.Time
}

// NewBoltStore creates the buckets on db and returns a Store backed by it.
// Every mutation runs in its own bbolt read-write transaction.
func NewBoltStore(db *bbolt.DB) (Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &boltStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *boltStore) Close() error {
	return s.db.Close()
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

// pairKey builds the composite index key parent|child used for one-to-many lookups.
func pairKey(parent, child int64) []byte {
	return append(itob(parent), itob(child)...)
}

func putJSON(b *bbolt.Bucket, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

func getJSON[T any](b *bbolt.Bucket, key []byte) (*T, error) {
	data := b.Get(key)
	if data == nil {
		return nil, common.ErrNotFound
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func listJSON[T any](b *bbolt.Bucket) ([]T, error) {
	out := []T{}
	err := b.ForEach(func(_, v []byte) error {
		var item T
		if err := json.Unmarshal(v, &item); err != nil {
			return err
		}
		out = append(out, item)
		return nil
	})
	return out, err
}

// nextID advances the bucket sequence; ids survive restarts because the
// sequence is persisted with the bucket.
func nextID(b *bbolt.Bucket) (int64, error) {
	seq, err := b.NextSequence()
	if err != nil {
		return 0, err
	}
	return int64(seq), nil
}

// bumpSequence makes sure later NextSequence calls return ids above id.
func bumpSequence(b *bbolt.Bucket, id int64) error {
	if uint64(id) > b.Sequence() {
		return b.SetSequence(uint64(id))
	}
	return nil
}

func (s *boltStore) update(ctx context.Context, fn func(tx *bbolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(fn)
}

func (s *boltStore) view(ctx context.Context, fn func(tx *bbolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

// Users

func (s *boltStore) CreateUser(ctx context.Context, user *model.User) error {
	err := s.update(ctx, func(tx *bbolt.Tx) error {
		byEmail := tx.Bucket(bucketUsersByEmail)
		if byEmail.Get([]byte(user.Email)) != nil {
			return fmt.Errorf("user with email %s already exists: %w", user.Email, common.ErrConflict)
		}
		users := tx.Bucket(bucketUsers)
		id, err := nextID(users)
		if err != nil {
			return err
		}
		if user.CreatedAt.IsZero() {
			user.CreatedAt = s.now()
		}
		rec := userRecord{ID: id, Email: user.Email, Password: user.HashedPassword, Role: user.Role, CreatedAt: user.CreatedAt}
		if err := putJSON(users, itob(id), rec); err != nil {
			return err
		}
		if err := byEmail.Put([]byte(user.Email), itob(id)); err != nil {
			return err
		}
		user.ID = id
		return nil
	})
	if err != nil {
		return fmt.Errorf("boltStore.CreateUser: %w", err)
	}
	return nil
}

func (s *boltStore) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var user *model.User
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketUsersByEmail).Get([]byte(email))
		if id == nil {
			return common.ErrNotFound
		}
		rec, err := getJSON[userRecord](tx.Bucket(bucketUsers), id)
		if err != nil {
			return err
		}
		user = rec.user()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltStore.FindUserByEmail: %w", err)
	}
	return user, nil
}

func (s *boltStore) FindUserByID(ctx context.Context, id int64) (*model.User, error) {
	var user *model.User
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		rec, err := getJSON[userRecord](tx.Bucket(bucketUsers), itob(id))
		if err != nil {
			return err
		}
		user = rec.user()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltStore.FindUserByID: %w", err)
	}
	return user, nil
}

func (s *boltStore) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		recs, err := listJSON[userRecord](tx.Bucket(bucketUsers))
		if err != nil {
			return err
		}
		users = make([]model.User, 0, len(recs))
		for i := range recs {
			users = append(users, *recs[i].user())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltStore.ListUsers: %w", err)
	}
	return users, nil
}

// Assignments

func (s *boltStore) CreateAssignment(ctx context.Context, a *model.Assignment) error {
	err := s.update(ctx, func(tx *bbolt.Tx) error {
		bySlug := tx.Bucket(bucketAssignmentsBySlug)
		if bySlug.Get([]byte(a.Slug)) != nil {
			return fmt.Errorf("assignment with slug %s already exists: %w", a.Slug, common.ErrConflict)
		}
		assignments := tx.Bucket(bucketAssignments)
		id, err := nextID(assignments)
		if err != nil {
			return err
		}
		a.ID = id
		if err := putJSON(assignments, itob(id), a); err != nil {
			return err
		}
		return bySlug.Put([]byte(a.Slug), itob(id))
	})
	if err != nil {
		return fmt.Errorf("boltStore.CreateAssignment: %w", err)
	}
	return nil
}

func (s *boltStore) FindAssignmentByID(ctx context.Context, id int64) (*model.Assignment, error) {
	var a *model.Assignment
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		var err error
		a, err = getJSON[model.Assignment](tx.Bucket(bucketAssignments), itob(id))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("boltStore.FindAssignmentByID: %w", err)
	}
	return a, nil
}

func (s *boltStore) FindAssignmentBySlug(ctx context.Context, slug string) (*model.Assignment, error) {
	var a *model.Assignment
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketAssignmentsBySlug).Get([]byte(slug))
		if id == nil {
			return common.ErrNotFound
		}
		var err error
		a, err = getJSON[model.Assignment](tx.Bucket(bucketAssignments), id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("boltStore.FindAssignmentBySlug: %w", err)
	}
	return a, nil
}

func (s *boltStore) ListAssignments(ctx context.Context) ([]model.Assignment, error) {
	var out []model.Assignment
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		var err error
		out, err = listJSON[model.Assignment](tx.Bucket(bucketAssignments))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("boltStore.ListAssignments: %w", err)
	}
	return out, nil
}

// Submissions

func (s *boltStore) CreateSubmission(ctx context.Context, sub *model.Submission, d *model.Dispatch) error {
	err := s.update(ctx, func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketUsers).Get(itob(sub.UserID)) == nil {
			return fmt.Errorf("user %d: %w: %w", sub.UserID, ErrUnknownUser, common.ErrNotFound)
		}
		if tx.Bucket(bucketAssignments).Get(itob(sub.AssignmentID)) == nil {
			return fmt.Errorf("assignment %d: %w: %w", sub.AssignmentID, ErrUnknownAssignment, common.ErrNotFound)
		}

		submissions := tx.Bucket(bucketSubmissions)
		id, err := nextID(submissions)
		if err != nil {
			return err
		}
		now := s.now()
		sub.ID = id
		if sub.Status == "" {
			sub.Status = model.StatusQueued
		}
		if sub.CreatedAt.IsZero() {
			sub.CreatedAt = now
		}
		if err := putJSON(submissions, itob(id), sub); err != nil {
			return err
		}

		if d == nil {
			return nil
		}
		d.SubmissionID = id
		if d.Status == "" {
			d.Status = model.DispatchPending
		}
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
		d.UpdatedAt = d.CreatedAt
		if d.NextAttemptAt.IsZero() {
			d.NextAttemptAt = d.CreatedAt
		}
		return putDispatch(tx, d)
	})
	if err != nil {
		return fmt.Errorf("boltStore.CreateSubmission: %w", err)
	}
	return nil
}

func (s *boltStore) FindSubmissionByID(ctx context.Context, id int64) (*model.Submission, error) {
	var sub *model.Submission
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		var err error
		sub, err = getJSON[model.Submission](tx.Bucket(bucketSubmissions), itob(id))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("boltStore.FindSubmissionByID: %w", err)
	}
	return sub, nil
}

func (s *boltStore) ListSubmissions(ctx context.Context, filter model.SubmissionFilter) ([]model.Submission, error) {
	out := []model.Submission{}
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSubmissions).ForEach(func(_, v []byte) error {
			var sub model.Submission
			if err := json.Unmarshal(v, &sub); err != nil {
				return err
			}
			if filter.Match(&sub) {
				out = append(out, sub)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("boltStore.ListSubmissions: %w", err)
	}
	return out, nil
}

// Results

func (s *boltStore) RecordResult(ctx context.Context, submissionID int64, status model.SubmissionStatus, result *model.Result) (bool, error) {
	applied := false
	err := s.update(ctx, func(tx *bbolt.Tx) error {
		submissions := tx.Bucket(bucketSubmissions)
		sub, err := getJSON[model.Submission](submissions, itob(submissionID))
		if err != nil {
			return fmt.Errorf("submission %d: %w", submissionID, err)
		}
		if sub.Status.Terminal() {
			return nil
		}

		now := s.now()
		sub.Status = status
		if err := putJSON(submissions, itob(sub.ID), sub); err != nil {
			return err
		}

		if status.Terminal() && result != nil {
			results := tx.Bucket(bucketResults)
			id, err := nextID(results)
			if err != nil {
				return err
			}
			result.ID = id
			result.SubmissionID = submissionID
			if result.CreatedAt.IsZero() {
				result.CreatedAt = now
			}
			if err := putJSON(results, itob(id), result); err != nil {
				return err
			}
			if err := tx.Bucket(bucketResultsBySub).Put(pairKey(submissionID, id), []byte{}); err != nil {
				return err
			}
		}

		dispatchID := tx.Bucket(bucketDispatchesBySub).Get(itob(submissionID))
		if dispatchID != nil {
			d, err := getJSON[model.Dispatch](tx.Bucket(bucketDispatches), dispatchID)
			if err != nil {
				return err
			}
			switch {
			case status.Terminal():
				d.Status = model.DispatchCompleted
			case d.Status == model.DispatchPending:
				// The runner reported progress before the worker recorded delivery.
				d.Status = model.DispatchSent
			}
			d.UpdatedAt = now
			if err := putDispatch(tx, d); err != nil {
				return err
			}
		}

		applied = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("boltStore.RecordResult: %w", err)
	}
	return applied, nil
}

func (s *boltStore) FindFirstResult(ctx context.Context, submissionID int64) (*model.Result, error) {
	var result *model.Result
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		prefix := itob(submissionID)
		k, _ := tx.Bucket(bucketResultsBySub).Cursor().Seek(prefix)
		if k == nil || !bytes.HasPrefix(k, prefix) {
			return common.ErrNotFound
		}
		var err error
		result, err = getJSON[model.Result](tx.Bucket(bucketResults), k[8:])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("boltStore.FindFirstResult: %w", err)
	}
	return result, nil
}

func (s *boltStore) ListResultsBySubmission(ctx context.Context, submissionID int64) ([]model.Result, error) {
	out := []model.Result{}
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		results := tx.Bucket(bucketResults)
		prefix := itob(submissionID)
		c := tx.Bucket(bucketResultsBySub).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			r, err := getJSON[model.Result](results, k[8:])
			if err != nil {
				return err
			}
			out = append(out, *r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltStore.ListResultsBySubmission: %w", err)
	}
	return out, nil
}

func (s *boltStore) ListResults(ctx context.Context) ([]model.Result, error) {
	var out []model.Result
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		var err error
		out, err = listJSON[model.Result](tx.Bucket(bucketResults))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("boltStore.ListResults: %w", err)
	}
	return out, nil
}
