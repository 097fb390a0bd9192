package repository

import (
	"context"
	"fmt"
	"time"

	"aca_backend/internal/common"
	"aca_backend/internal/domain/model"

	"go.etcd.io/bbolt"
)

// putDispatch writes d and keeps the submission and pending indexes in step.
func putDispatch(tx *bbolt.Tx, d *model.Dispatch) error {
	key := []byte(d.ID)
	if err := putJSON(tx.Bucket(bucketDispatches), key, d); err != nil {
		return err
	}
	if err := tx.Bucket(bucketDispatchesBySub).Put(itob(d.SubmissionID), key); err != nil {
		return err
	}
	pending := tx.Bucket(bucketDispatchesPending)
	if d.Status == model.DispatchPending {
		return pending.Put(key, []byte{})
	}
	return pending.Delete(key)
}

func (s *boltStore) FindDispatchByID(ctx context.Context, id string) (*model.Dispatch, error) {
	var d *model.Dispatch
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		var err error
		d, err = getJSON[model.Dispatch](tx.Bucket(bucketDispatches), []byte(id))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("boltStore.FindDispatchByID: %w", err)
	}
	return d, nil
}

func (s *boltStore) FindDispatchBySubmission(ctx context.Context, submissionID int64) (*model.Dispatch, error) {
	var d *model.Dispatch
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketDispatchesBySub).Get(itob(submissionID))
		if id == nil {
			return common.ErrNotFound
		}
		var err error
		d, err = getJSON[model.Dispatch](tx.Bucket(bucketDispatches), id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("boltStore.FindDispatchBySubmission: %w", err)
	}
	return d, nil
}

func (s *boltStore) ListDueDispatches(ctx context.Context, now time.Time, limit int) ([]model.Dispatch, error) {
	out := []model.Dispatch{}
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		dispatches := tx.Bucket(bucketDispatches)
		c := tx.Bucket(bucketDispatchesPending).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			d, err := getJSON[model.Dispatch](dispatches, k)
			if err != nil {
				return err
			}
			if d.Due(now) {
				out = append(out, *d)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltStore.ListDueDispatches: %w", err)
	}
	return out, nil
}

// transitionDispatch loads a pending dispatch and hands it to fn for mutation.
// Dispatches that already left the pending state are left untouched.
func (s *boltStore) transitionDispatch(ctx context.Context, id string, fn func(tx *bbolt.Tx, d *model.Dispatch) error) error {
	return s.update(ctx, func(tx *bbolt.Tx) error {
		d, err := getJSON[model.Dispatch](tx.Bucket(bucketDispatches), []byte(id))
		if err != nil {
			return fmt.Errorf("dispatch %s: %w", id, err)
		}
		if d.Status != model.DispatchPending {
			return nil
		}
		if err := fn(tx, d); err != nil {
			return err
		}
		d.UpdatedAt = s.now()
		return putDispatch(tx, d)
	})
}

func (s *boltStore) MarkDispatchSent(ctx context.Context, id string, attempts int) error {
	err := s.transitionDispatch(ctx, id, func(_ *bbolt.Tx, d *model.Dispatch) error {
		d.Status = model.DispatchSent
		d.Attempts = attempts
		d.LastError = ""
		return nil
	})
	if err != nil {
		return fmt.Errorf("boltStore.MarkDispatchSent: %w", err)
	}
	return nil
}

func (s *boltStore) ScheduleDispatchRetry(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error {
	err := s.transitionDispatch(ctx, id, func(_ *bbolt.Tx, d *model.Dispatch) error {
		d.Attempts = attempts
		d.NextAttemptAt = next.UTC()
		d.LastError = lastErr
		return nil
	})
	if err != nil {
		return fmt.Errorf("boltStore.ScheduleDispatchRetry: %w", err)
	}
	return nil
}

func (s *boltStore) FailDispatch(ctx context.Context, id string, attempts int, lastErr string) error {
	err := s.transitionDispatch(ctx, id, func(tx *bbolt.Tx, d *model.Dispatch) error {
		d.Status = model.DispatchFailed
		d.Attempts = attempts
		d.LastError = lastErr

		submissions := tx.Bucket(bucketSubmissions)
		sub, err := getJSON[model.Submission](submissions, itob(d.SubmissionID))
		if err != nil {
			return fmt.Errorf("submission %d: %w", d.SubmissionID, err)
		}
		if sub.Status.Terminal() {
			return nil
		}
		sub.Status = model.StatusFailed
		return putJSON(submissions, itob(sub.ID), sub)
	})
	if err != nil {
		return fmt.Errorf("boltStore.FailDispatch: %w", err)
	}
	return nil
}

// Snapshot

func (s *boltStore) Snapshot(ctx context.Context) (*model.Snapshot, error) {
	snap := emptySnapshot()
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		users, err := listJSON[userRecord](tx.Bucket(bucketUsers))
		if err != nil {
			return err
		}
		for i := range users {
			snap.Users = append(snap.Users, model.SnapshotUserFrom(users[i].user()))
		}

		if snap.Assignments, err = listJSON[model.Assignment](tx.Bucket(bucketAssignments)); err != nil {
			return err
		}

		subs, err := listJSON[model.Submission](tx.Bucket(bucketSubmissions))
		if err != nil {
			return err
		}
		for i := range subs {
			snap.Submissions = append(snap.Submissions, model.SnapshotSubmissionFrom(&subs[i]))
		}

		results, err := listJSON[model.Result](tx.Bucket(bucketResults))
		if err != nil {
			return err
		}
		for i := range results {
			snap.Results = append(snap.Results, model.SnapshotResultFrom(&results[i]))
		}

		snap.Dispatches, err = listJSON[model.Dispatch](tx.Bucket(bucketDispatches))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("boltStore.Snapshot: %w", err)
	}
	return snap, nil
}

func (s *boltStore) Import(ctx context.Context, snap *model.Snapshot) error {
	err := s.update(ctx, func(tx *bbolt.Tx) error {
		users, byEmail := tx.Bucket(bucketUsers), tx.Bucket(bucketUsersByEmail)
		for _, su := range snap.Users {
			u := su.User()
			if byEmail.Get([]byte(u.Email)) != nil {
				return fmt.Errorf("user with email %s already exists: %w", u.Email, common.ErrConflict)
			}
			if u.ID == 0 {
				id, err := nextID(users)
				if err != nil {
					return err
				}
				u.ID = id
			}
			rec := userRecord{ID: u.ID, Email: u.Email, Password: u.HashedPassword, Role: u.Role, CreatedAt: u.CreatedAt}
			if err := putJSON(users, itob(u.ID), rec); err != nil {
				return err
			}
			if err := byEmail.Put([]byte(u.Email), itob(u.ID)); err != nil {
				return err
			}
			if err := bumpSequence(users, u.ID); err != nil {
				return err
			}
		}

		assignments, bySlug := tx.Bucket(bucketAssignments), tx.Bucket(bucketAssignmentsBySlug)
		for _, a := range snap.Assignments {
			if bySlug.Get([]byte(a.Slug)) != nil {
				return fmt.Errorf("assignment with slug %s already exists: %w", a.Slug, common.ErrConflict)
			}
			if a.ID == 0 {
				id, err := nextID(assignments)
				if err != nil {
					return err
				}
				a.ID = id
			}
			if err := putJSON(assignments, itob(a.ID), a); err != nil {
				return err
			}
			if err := bySlug.Put([]byte(a.Slug), itob(a.ID)); err != nil {
				return err
			}
			if err := bumpSequence(assignments, a.ID); err != nil {
				return err
			}
		}

		submissions := tx.Bucket(bucketSubmissions)
		for _, ss := range snap.Submissions {
			sub := ss.Submission()
			if sub.ID == 0 {
				id, err := nextID(submissions)
				if err != nil {
					return err
				}
				sub.ID = id
			}
			if err := putJSON(submissions, itob(sub.ID), sub); err != nil {
				return err
			}
			if err := bumpSequence(submissions, sub.ID); err != nil {
				return err
			}
		}

		results, bySub := tx.Bucket(bucketResults), tx.Bucket(bucketResultsBySub)
		for _, sr := range snap.Results {
			r := sr.Result()
			if r.ID == 0 {
				id, err := nextID(results)
				if err != nil {
					return err
				}
				r.ID = id
			}
			if err := putJSON(results, itob(r.ID), r); err != nil {
				return err
			}
			if err := bySub.Put(pairKey(r.SubmissionID, r.ID), []byte{}); err != nil {
				return err
			}
			if err := bumpSequence(results, r.ID); err != nil {
				return err
			}
		}

		for i := range snap.Dispatches {
			if err := putDispatch(tx, &snap.Dispatches[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("boltStore.Import: %w", err)
	}
	return nil
}

func (s *boltStore) IsEmpty(ctx context.Context) (bool, error) {
	empty := true
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketUsers, bucketAssignments, bucketSubmissions, bucketResults} {
			if k, _ := tx.Bucket(name).Cursor().First(); k != nil {
				empty = false
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("boltStore.IsEmpty: %w", err)
	}
	return empty, nil
}
