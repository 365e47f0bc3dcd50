package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ferrite-id/ferrite/internal/data/pgxutil"
	"github.com/ferrite-id/ferrite/internal/domain/model"
)

// ScopeRepo provides persistence for scope definitions. Scope identity is
// immutable once referenced; there is no update path for names.
type ScopeRepo struct {
	DB *sql.DB
}

// NewScopeRepo creates a new ScopeRepo.
func NewScopeRepo(db *sql.DB) *ScopeRepo {
	return &ScopeRepo{DB: db}
}

const scopeColumns = `id, name, creator_id, comment, created_at, is_deleted`

// Create inserts a new scope definition.
func (r *ScopeRepo) Create(ctx context.Context, name, comment string, creatorID *string) (*model.Scope, error) {
	if err := model.ValidateScopeName(name); err != nil {
		return nil, err
	}

	var s model.Scope
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO scopes (id, name, comment, creator_id)
			VALUES ($1, $2, $3, $4)
			RETURNING `+scopeColumns,
			uuid.NewString(), name, comment, creatorID)
		if err != nil {
			return err
		}
		defer rows.Close()
		s, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Scope])
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, ErrScopeNameExists
		}
		return nil, fmt.Errorf("create scope: %w", err)
	}
	return &s, nil
}

// GetByName fetches a live scope by name.
func (r *ScopeRepo) GetByName(ctx context.Context, name string) (*model.Scope, error) {
	var s model.Scope
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx,
			`SELECT `+scopeColumns+` FROM scopes WHERE name = $1 AND NOT is_deleted`, name)
		if err != nil {
			return err
		}
		defer rows.Close()
		s, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Scope])
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrScopeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scope by name: %w", err)
	}
	return &s, nil
}

// GetByNames resolves names to scopes. Any missing name fails the whole call
// so a session can never be bound to a partially resolved set.
func (r *ScopeRepo) GetByNames(ctx context.Context, names []string) ([]model.Scope, error) {
	if len(names) == 0 {
		return nil, nil
	}

	var out []model.Scope
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+scopeColumns+`
			FROM scopes
			WHERE name = ANY($1) AND NOT is_deleted
			ORDER BY name`,
			names)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.Scope])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get scopes by names: %w", err)
	}
	if len(out) != len(model.NewScopeSet(names...)) {
		found := model.NewScopeSet()
		for _, s := range out {
			found.Add(s.Name)
		}
		for _, n := range names {
			if !found.Contains(n) {
				return nil, fmt.Errorf("%w: %s", ErrScopeNotFound, n)
			}
		}
	}
	return out, nil
}

// ListNames returns every live scope name, for the discovery document.
func (r *ScopeRepo) ListNames(ctx context.Context) ([]string, error) {
	var out []string
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx,
			`SELECT name FROM scopes WHERE NOT is_deleted ORDER BY name`)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectRows(rows, pgx.RowTo[string])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list scope names: %w", err)
	}
	return out, nil
}
