package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ferrite-id/ferrite/internal/data/pgxutil"
	"github.com/ferrite-id/ferrite/internal/domain/model"
)

// UserRepo provides persistence for user rows. A user is an identity anchor
// only; everything else hangs off credential params, memberships, and
// sessions. Soft deletion cascades to those tables in one transaction.
type UserRepo struct {
	DB *sql.DB
}

// NewUserRepo creates a new UserRepo.
func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{DB: db}
}

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context) (*model.User, error) {
	var u model.User
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO users (id)
			VALUES ($1)
			RETURNING id, created_at, updated_at, is_deleted`,
			uuid.NewString())
		if err != nil {
			return err
		}
		defer rows.Close()
		u, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.User])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &u, nil
}

// GetByID fetches a live user by id.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT id, created_at, updated_at, is_deleted
			FROM users
			WHERE id = $1 AND NOT is_deleted`,
			id)
		if err != nil {
			return err
		}
		defer rows.Close()
		u, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.User])
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return &u, nil
}

// SoftDelete marks the user deleted and, in the same transaction, cascades
// to credential params, memberships, and live sessions.
func (r *UserRepo) SoftDelete(ctx context.Context, id string) error {
	err := pgxutil.WithPgxTx(ctx, r.DB, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE users SET is_deleted = true, updated_at = now()
			WHERE id = $1 AND NOT is_deleted`,
			id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrUserNotFound
		}
		if _, err = tx.Exec(ctx, `
			UPDATE credential_params SET is_deleted = true, updated_at = now()
			WHERE user_id = $1 AND NOT is_deleted`,
			id); err != nil {
			return err
		}
		if _, err = tx.Exec(ctx, `
			UPDATE group_memberships SET is_deleted = true
			WHERE user_id = $1 AND NOT is_deleted`,
			id); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE sessions SET expires = now()
			WHERE user_id = $1 AND expires > now()`,
			id)
		return err
	})
	if errors.Is(err, ErrUserNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("soft delete user: %w", err)
	}
	return nil
}
