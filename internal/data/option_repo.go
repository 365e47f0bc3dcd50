package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ferrite-id/ferrite/internal/data/pgxutil"
	"github.com/ferrite-id/ferrite/internal/domain/model"
)

// OptionRepo provides persistence for process-wide dynamic options.
type OptionRepo struct {
	DB *sql.DB
}

// NewOptionRepo creates a new OptionRepo.
func NewOptionRepo(db *sql.DB) *OptionRepo {
	return &OptionRepo{DB: db}
}

// Get fetches one option by name.
func (r *OptionRepo) Get(ctx context.Context, name string) (*model.DynamicOption, error) {
	var opt model.DynamicOption
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT name, str_value, int_value, bool_value, updated_at
			FROM options WHERE name = $1`,
			name)
		if err != nil {
			return err
		}
		defer rows.Close()
		opt, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.DynamicOption])
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get option: %w", err)
	}
	return &opt, nil
}

// SetString upserts a string-typed option.
func (r *OptionRepo) SetString(ctx context.Context, name, value string) error {
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, `
			INSERT INTO options (name, str_value)
			VALUES ($1, $2)
			ON CONFLICT (name)
			DO UPDATE SET str_value = EXCLUDED.str_value, int_value = NULL, bool_value = NULL, updated_at = now()`,
			name, value)
		return err
	})
	if err != nil {
		return fmt.Errorf("set option: %w", err)
	}
	return nil
}
