package repository

import (
	"context"
	"database/sql"
	"fmt"

	"aca_backend/internal/domain/model"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type pgStore struct {
	db *sql.DB
}

// NewPgStore returns a Store over a Postgres pool opened with the pgx stdlib driver.
// The schema is expected to be migrated already.
func NewPgStore(db *sql.DB) Store {
	return &pgStore{db: db}
}

func (r *pgStore) Close() error {
	return r.db.Close()
}

func (r *pgStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *pgStore) Snapshot(ctx context.Context) (*model.Snapshot, error) {
	snap := emptySnapshot()

	users, err := r.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		snap.Users = append(snap.Users, model.SnapshotUserFrom(&users[i]))
	}

	if snap.Assignments, err = r.ListAssignments(ctx); err != nil {
		return nil, err
	}

	subs, err := r.ListSubmissions(ctx, model.SubmissionFilter{})
	if err != nil {
		return nil, err
	}
	for i := range subs {
		snap.Submissions = append(snap.Submissions, model.SnapshotSubmissionFrom(&subs[i]))
	}

	results, err := r.ListResults(ctx)
	if err != nil {
		return nil, err
	}
	for i := range results {
		snap.Results = append(snap.Results, model.SnapshotResultFrom(&results[i]))
	}

	if snap.Dispatches, err = r.listDispatches(ctx); err != nil {
		return nil, err
	}
	return snap, nil
}

func (r *pgStore) Import(ctx context.Context, snap *model.Snapshot) error {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		for _, su := range snap.Users {
			u := su.User()
			if u.ID == 0 {
				if err := r.insertUser(ctx, tx, &u); err != nil {
					return err
				}
				continue
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO users (id, email, hashed_password, role, created_at) VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))`,
				u.ID, u.Email, u.HashedPassword, u.Role, nullTime(u.CreatedAt))
			if err != nil {
				return mapUniqueViolation(err, "user "+u.Email)
			}
		}

		for _, a := range snap.Assignments {
			if a.ID == 0 {
				if err := r.insertAssignment(ctx, tx, &a); err != nil {
					return err
				}
				continue
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO assignments (id, slug, title, language) VALUES ($1, $2, $3, $4)`,
				a.ID, a.Slug, a.Title, a.Language)
			if err != nil {
				return mapUniqueViolation(err, "assignment "+a.Slug)
			}
		}

		for _, ss := range snap.Submissions {
			sub := ss.Submission()
			_, err := tx.ExecContext(ctx,
				`INSERT INTO submissions (id, user_id, assignment_id, filename, status, created_at)
				 VALUES (COALESCE(NULLIF($1, 0), nextval(pg_get_serial_sequence('submissions', 'id'))), $2, $3, $4, $5, COALESCE($6, NOW()))`,
				sub.ID, sub.UserID, sub.AssignmentID, sub.Filename, sub.Status, nullTime(sub.CreatedAt))
			if err != nil {
				return fmt.Errorf("import submission %d: %w", sub.ID, err)
			}
		}

		for _, sr := range snap.Results {
			res := sr.Result()
			_, err := tx.ExecContext(ctx,
				`INSERT INTO results (id, submission_id, score, total_tests, passed_tests, feedback, created_at)
				 VALUES (COALESCE(NULLIF($1, 0), nextval(pg_get_serial_sequence('results', 'id'))), $2, $3, $4, $5, $6, COALESCE($7, NOW()))`,
				res.ID, res.SubmissionID, res.Score, res.TotalTests, res.PassedTests, res.Feedback, nullTime(res.CreatedAt))
			if err != nil {
				return fmt.Errorf("import result %d: %w", res.ID, err)
			}
		}

		for i := range snap.Dispatches {
			if err := r.insertDispatch(ctx, tx, &snap.Dispatches[i]); err != nil {
				return err
			}
		}

		for _, table := range []string{"users", "assignments", "submissions", "results"} {
			_, err := tx.ExecContext(ctx, fmt.Sprintf(
				`SELECT setval(pg_get_serial_sequence('%[1]s', 'id'), COALESCE((SELECT MAX(id) FROM %[1]s), 0) + 1, false)`, table))
			if err != nil {
				return fmt.Errorf("advance %s sequence: %w", table, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("pgStore.Import: %w", err)
	}
	return nil
}

func (r *pgStore) IsEmpty(ctx context.Context) (bool, error) {
	var empty bool
	err := r.db.QueryRowContext(ctx, `SELECT NOT EXISTS (SELECT 1 FROM users)
		AND NOT EXISTS (SELECT 1 FROM assignments)
		AND NOT EXISTS (SELECT 1 FROM submissions)
		AND NOT EXISTS (SELECT 1 FROM results)`).Scan(&empty)
	if err != nil {
		return false, fmt.Errorf("pgStore.IsEmpty: %w", err)
	}
	return empty, nil
}
