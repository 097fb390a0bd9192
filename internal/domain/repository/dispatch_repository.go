package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"aca_backend/internal/common"
	"aca_backend/internal/domain/model"
)

const dispatchColumns = `id, submission_id, status, attempts, next_attempt_at, last_error, artifact_url, created_at, updated_at`

func scanDispatch(row interface{ Scan(...interface{}) error }) (*model.Dispatch, error) {
	d := &model.Dispatch{}
	err := row.Scan(&d.ID, &d.SubmissionID, &d.Status, &d.Attempts, &d.NextAttemptAt, &d.LastError, &d.ArtifactURL, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *pgStore) insertDispatch(ctx context.Context, q querier, d *model.Dispatch) error {
	query := `INSERT INTO dispatches (` + dispatchColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := q.ExecContext(ctx, query,
		d.ID, d.SubmissionID, d.Status, d.Attempts, d.NextAttemptAt, d.LastError, d.ArtifactURL, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return mapUniqueViolation(err, "dispatch for submission "+fmt.Sprint(d.SubmissionID))
	}
	return nil
}

func (r *pgStore) findDispatch(ctx context.Context, where string, arg interface{}) (*model.Dispatch, error) {
	d, err := scanDispatch(r.db.QueryRowContext(ctx, `SELECT `+dispatchColumns+` FROM dispatches WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

func (r *pgStore) FindDispatchByID(ctx context.Context, id string) (*model.Dispatch, error) {
	d, err := r.findDispatch(ctx, "id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("pgStore.FindDispatchByID: %w", err)
	}
	return d, nil
}

func (r *pgStore) FindDispatchBySubmission(ctx context.Context, submissionID int64) (*model.Dispatch, error) {
	d, err := r.findDispatch(ctx, "submission_id = $1", submissionID)
	if err != nil {
		return nil, fmt.Errorf("pgStore.FindDispatchBySubmission: %w", err)
	}
	return d, nil
}

func (r *pgStore) queryDispatches(ctx context.Context, query string, args ...interface{}) ([]model.Dispatch, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Dispatch{}
	for rows.Next() {
		d, err := scanDispatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (r *pgStore) ListDueDispatches(ctx context.Context, now time.Time, limit int) ([]model.Dispatch, error) {
	query := `SELECT ` + dispatchColumns + ` FROM dispatches
	          WHERE status = $1 AND next_attempt_at <= $2
	          ORDER BY next_attempt_at
	          LIMIT NULLIF($3, 0)`
	out, err := r.queryDispatches(ctx, query, model.DispatchPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("pgStore.ListDueDispatches: %w", err)
	}
	return out, nil
}

func (r *pgStore) listDispatches(ctx context.Context) ([]model.Dispatch, error) {
	out, err := r.queryDispatches(ctx, `SELECT `+dispatchColumns+` FROM dispatches ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("pgStore.listDispatches: %w", err)
	}
	return out, nil
}

func (r *pgStore) MarkDispatchSent(ctx context.Context, id string, attempts int) error {
	query := `UPDATE dispatches SET status = $1, attempts = $2, last_error = '', updated_at = NOW()
	          WHERE id = $3 AND status = $4`
	if _, err := r.db.ExecContext(ctx, query, model.DispatchSent, attempts, id, model.DispatchPending); err != nil {
		return fmt.Errorf("pgStore.MarkDispatchSent: %w", err)
	}
	return nil
}

func (r *pgStore) ScheduleDispatchRetry(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error {
	query := `UPDATE dispatches SET attempts = $1, next_attempt_at = $2, last_error = $3, updated_at = NOW()
	          WHERE id = $4 AND status = $5`
	if _, err := r.db.ExecContext(ctx, query, attempts, next.UTC(), lastErr, id, model.DispatchPending); err != nil {
		return fmt.Errorf("pgStore.ScheduleDispatchRetry: %w", err)
	}
	return nil
}

func (r *pgStore) FailDispatch(ctx context.Context, id string, attempts int, lastErr string) error {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var submissionID int64
		err := tx.QueryRowContext(ctx,
			`UPDATE dispatches SET status = $1, attempts = $2, last_error = $3, updated_at = NOW()
			 WHERE id = $4 AND status = $5
			 RETURNING submission_id`,
			model.DispatchFailed, attempts, lastErr, id, model.DispatchPending).Scan(&submissionID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE submissions SET status = $1 WHERE id = $2 AND status NOT IN ($3, $4)`,
			model.StatusFailed, submissionID, model.StatusCompleted, model.StatusFailed)
		return err
	})
	if err != nil {
		return fmt.Errorf("pgStore.FailDispatch: %w", err)
	}
	return nil
}
