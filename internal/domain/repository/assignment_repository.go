package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"aca_backend/internal/common"
	"aca_backend/internal/domain/model"
)

func (r *pgStore) insertAssignment(ctx context.Context, q querier, a *model.Assignment) error {
	err := q.QueryRowContext(ctx,
		`INSERT INTO assignments (slug, title, language) VALUES ($1, $2, $3) RETURNING id`,
		a.Slug, a.Title, a.Language).Scan(&a.ID)
	if err != nil {
		return mapUniqueViolation(err, "assignment with slug "+a.Slug)
	}
	return nil
}

func (r *pgStore) CreateAssignment(ctx context.Context, a *model.Assignment) error {
	if err := r.insertAssignment(ctx, r.db, a); err != nil {
		return fmt.Errorf("pgStore.CreateAssignment: %w", err)
	}
	return nil
}

func (r *pgStore) findAssignment(ctx context.Context, where string, arg interface{}) (*model.Assignment, error) {
	a := &model.Assignment{}
	err := r.db.QueryRowContext(ctx, `SELECT id, slug, title, language FROM assignments WHERE `+where, arg).
		Scan(&a.ID, &a.Slug, &a.Title, &a.Language)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

func (r *pgStore) FindAssignmentByID(ctx context.Context, id int64) (*model.Assignment, error) {
	a, err := r.findAssignment(ctx, "id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("pgStore.FindAssignmentByID: %w", err)
	}
	return a, nil
}

func (r *pgStore) FindAssignmentBySlug(ctx context.Context, slug string) (*model.Assignment, error) {
	a, err := r.findAssignment(ctx, "slug = $1", slug)
	if err != nil {
		return nil, fmt.Errorf("pgStore.FindAssignmentBySlug: %w", err)
	}
	return a, nil
}

func (r *pgStore) ListAssignments(ctx context.Context) ([]model.Assignment, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, slug, title, language FROM assignments ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("pgStore.ListAssignments: %w", err)
	}
	defer rows.Close()

	out := []model.Assignment{}
	for rows.Next() {
		var a model.Assignment
		if err := rows.Scan(&a.ID, &a.Slug, &a.Title, &a.Language); err != nil {
			return nil, fmt.Errorf("pgStore.ListAssignments scan: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
