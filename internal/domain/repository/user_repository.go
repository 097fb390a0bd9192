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

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func mapUniqueViolation(err error, what string) error {
	if common.IsUniqueViolation(err) {
		return fmt.Errorf("%s already exists: %w", what, common.ErrConflict)
	}
	return err
}

func (r *pgStore) insertUser(ctx context.Context, q querier, user *model.User) error {
	query := `INSERT INTO users (email, hashed_password, role, created_at)
	          VALUES ($1, $2, $3, COALESCE($4, NOW()))
	          RETURNING id, created_at`
	err := q.QueryRowContext(ctx, query, user.Email, user.HashedPassword, user.Role, nullTime(user.CreatedAt)).
		Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return mapUniqueViolation(err, "user with email "+user.Email)
	}
	return nil
}

func (r *pgStore) CreateUser(ctx context.Context, user *model.User) error {
	if err := r.insertUser(ctx, r.db, user); err != nil {
		return fmt.Errorf("pgStore.CreateUser: %w", err)
	}
	return nil
}

const userColumns = `id, email, hashed_password, role, created_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*model.User, error) {
	user := &model.User{}
	if err := row.Scan(&user.ID, &user.Email, &user.HashedPassword, &user.Role, &user.CreatedAt); err != nil {
		return nil, err
	}
	return user, nil
}

func (r *pgStore) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgStore.FindUserByEmail: %w", err)
	}
	return user, nil
}

func (r *pgStore) FindUserByID(ctx context.Context, id int64) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgStore.FindUserByID: %w", err)
	}
	return user, nil
}

func (r *pgStore) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("pgStore.ListUsers: %w", err)
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("pgStore.ListUsers scan: %w", err)
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}
