package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"aca_backend/internal/common"
	"aca_backend/internal/domain/model"

	"github.com/jackc/pgx/v5/pgconn"
)

const submissionColumns = `id, user_id, assignment_id, filename, status, created_at`

func scanSubmission(row interface{ Scan(...interface{}) error }) (*model.Submission, error) {
	sub := &model.Submission{}
	err := row.Scan(&sub.ID, &sub.UserID, &sub.AssignmentID, &sub.Filename, &sub.Status, &sub.CreatedAt)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (r *pgStore) CreateSubmission(ctx context.Context, sub *model.Submission, d *model.Dispatch) error {
	if sub.Status == "" {
		sub.Status = model.StatusQueued
	}
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		query := `INSERT INTO submissions (user_id, assignment_id, filename, status)
		          VALUES ($1, $2, $3, $4)
		          RETURNING id, created_at`
		err := tx.QueryRowContext(ctx, query, sub.UserID, sub.AssignmentID, sub.Filename, sub.Status).
			Scan(&sub.ID, &sub.CreatedAt)
		if err != nil {
			return err
		}
		if d == nil {
			return nil
		}
		d.SubmissionID = sub.ID
		if d.Status == "" {
			d.Status = model.DispatchPending
		}
		if d.CreatedAt.IsZero() {
			d.CreatedAt = sub.CreatedAt
		}
		d.UpdatedAt = d.CreatedAt
		if d.NextAttemptAt.IsZero() {
			d.NextAttemptAt = d.CreatedAt
		}
		return r.insertDispatch(ctx, tx, d)
	})
	if err != nil {
		return fmt.Errorf("pgStore.CreateSubmission: %w", submissionRefError(err))
	}
	return nil
}

// submissionRefError turns a foreign key violation on submissions into the
// matching unknown-reference error.
func submissionRefError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23503" {
		return err
	}
	switch pgErr.ConstraintName {
	case "submissions_user_id_fkey":
		return fmt.Errorf("%w: %w", ErrUnknownUser, common.ErrNotFound)
	case "submissions_assignment_id_fkey":
		return fmt.Errorf("%w: %w", ErrUnknownAssignment, common.ErrNotFound)
	}
	return err
}

func (r *pgStore) FindSubmissionByID(ctx context.Context, id int64) (*model.Submission, error) {
	sub, err := scanSubmission(r.db.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgStore.FindSubmissionByID: %w", err)
	}
	return sub, nil
}

func (r *pgStore) ListSubmissions(ctx context.Context, filter model.SubmissionFilter) ([]model.Submission, error) {
	var conditions []string
	var args []interface{}
	if filter.UserID != 0 {
		args = append(args, filter.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.AssignmentID != 0 {
		args = append(args, filter.AssignmentID)
		conditions = append(conditions, fmt.Sprintf("assignment_id = $%d", len(args)))
	}
	query := `SELECT ` + submissionColumns + ` FROM submissions`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgStore.ListSubmissions: %w", err)
	}
	defer rows.Close()

	out := []model.Submission{}
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("pgStore.ListSubmissions scan: %w", err)
		}
		out = append(out, *sub)
	}
	return out, rows.Err()
}

func (r *pgStore) RecordResult(ctx context.Context, submissionID int64, status model.SubmissionStatus, result *model.Result) (bool, error) {
	applied := false
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var current model.SubmissionStatus
		err := tx.QueryRowContext(ctx, `SELECT status FROM submissions WHERE id = $1 FOR UPDATE`, submissionID).Scan(&current)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("submission %d: %w", submissionID, common.ErrNotFound)
			}
			return err
		}
		if current.Terminal() {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `UPDATE submissions SET status = $1 WHERE id = $2`, status, submissionID); err != nil {
			return err
		}

		if status.Terminal() {
			if result != nil {
				result.SubmissionID = submissionID
				if result.CreatedAt.IsZero() {
					result.CreatedAt = time.Now().UTC()
				}
				err := tx.QueryRowContext(ctx,
					`INSERT INTO results (submission_id, score, total_tests, passed_tests, feedback, created_at)
					 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
					submissionID, result.Score, result.TotalTests, result.PassedTests, result.Feedback, result.CreatedAt).
					Scan(&result.ID)
				if err != nil {
					return err
				}
			}
			_, err = tx.ExecContext(ctx,
				`UPDATE dispatches SET status = $1, updated_at = NOW() WHERE submission_id = $2`,
				model.DispatchCompleted, submissionID)
		} else {
			_, err = tx.ExecContext(ctx,
				`UPDATE dispatches SET status = $1, updated_at = NOW() WHERE submission_id = $2 AND status = $3`,
				model.DispatchSent, submissionID, model.DispatchPending)
		}
		if err != nil {
			return err
		}

		applied = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("pgStore.RecordResult: %w", err)
	}
	return applied, nil
}

const resultColumns = `id, submission_id, score, total_tests, passed_tests, feedback, created_at`

func scanResult(row interface{ Scan(...interface{}) error }) (*model.Result, error) {
	res := &model.Result{}
	err := row.Scan(&res.ID, &res.SubmissionID, &res.Score, &res.TotalTests, &res.PassedTests, &res.Feedback, &res.CreatedAt)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *pgStore) FindFirstResult(ctx context.Context, submissionID int64) (*model.Result, error) {
	res, err := scanResult(r.db.QueryRowContext(ctx,
		`SELECT `+resultColumns+` FROM results WHERE submission_id = $1 ORDER BY id LIMIT 1`, submissionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgStore.FindFirstResult: %w", err)
	}
	return res, nil
}

func (r *pgStore) queryResults(ctx context.Context, query string, args ...interface{}) ([]model.Result, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Result{}
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, rows.Err()
}

func (r *pgStore) ListResultsBySubmission(ctx context.Context, submissionID int64) ([]model.Result, error) {
	out, err := r.queryResults(ctx, `SELECT `+resultColumns+` FROM results WHERE submission_id = $1 ORDER BY id`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("pgStore.ListResultsBySubmission: %w", err)
	}
	return out, nil
}

func (r *pgStore) ListResults(ctx context.Context) ([]model.Result, error) {
	out, err := r.queryResults(ctx, `SELECT `+resultColumns+` FROM results ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("pgStore.ListResults: %w", err)
	}
	return out, nil
}
