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

// CredentialRepo provides persistence for credential params, the
// (user, method, key) -> value triples that are the only durable
// representation of what an auth method knows about a user. Uniqueness among
// live rows is enforced by a partial unique index, not by convention.
type CredentialRepo struct {
	DB *sql.DB
}

// NewCredentialRepo creates a new CredentialRepo.
func NewCredentialRepo(db *sql.DB) *CredentialRepo {
	return &CredentialRepo{DB: db}
}

const credentialColumns = `id, user_id, method, key, value, created_at, updated_at, is_deleted`

// Set upserts one parameter. A soft-deleted row for the same triple is
// revived rather than duplicated, which keeps the live-uniqueness invariant
// intact across unlink/relink cycles.
func (r *CredentialRepo) Set(ctx context.Context, p model.SetCredentialParam) (*model.CredentialParam, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var row model.CredentialParam
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO credential_params (id, user_id, method, key, value)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, method, key) WHERE NOT is_deleted
			DO UPDATE SET value = EXCLUDED.value, updated_at = now()
			RETURNING `+credentialColumns,
			uuid.NewString(), p.UserID, p.Method, p.Key, p.Value)
		if err != nil {
			return err
		}
		defer rows.Close()
		row, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.CredentialParam])
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgerrcode.ForeignKeyViolation:
				return nil, ErrUserNotFound
			case pgerrcode.UniqueViolation:
				// The identity index rejected a value another live user
				// already holds for this (method, key).
				return nil, ErrDuplicateCredential
			}
		}
		return nil, fmt.Errorf("set credential param: %w", err)
	}
	return &row, nil
}

// Get fetches a live parameter row.
func (r *CredentialRepo) Get(ctx context.Context, userID, method, key string) (*model.CredentialParam, error) {
	var row model.CredentialParam
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+credentialColumns+`
			FROM credential_params
			WHERE user_id = $1 AND method = $2 AND key = $3 AND NOT is_deleted`,
			userID, method, key)
		if err != nil {
			return err
		}
		defer rows.Close()
		row, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.CredentialParam])
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credential param: %w", err)
	}
	return &row, nil
}

// ListByUserMethod returns every live row the method owns for the user.
func (r *CredentialRepo) ListByUserMethod(ctx context.Context, userID, method string) ([]model.CredentialParam, error) {
	var out []model.CredentialParam
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+credentialColumns+`
			FROM credential_params
			WHERE user_id = $1 AND method = $2 AND NOT is_deleted
			ORDER BY key`,
			userID, method)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.CredentialParam])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list credential params: %w", err)
	}
	return out, nil
}

// FindUserID resolves the user owning (method, key) = value. This is a plain
// read with no lock. Concurrent register races on the same identity are
// resolved at insert time by the identity-uniqueness index, which surfaces
// here as ErrDuplicateCredential from Set.
func (r *CredentialRepo) FindUserID(ctx context.Context, method, key, value string) (string, error) {
	var userID string
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		return conn.QueryRow(ctx, `
			SELECT user_id
			FROM credential_params
			WHERE method = $1 AND key = $2 AND value = $3 AND NOT is_deleted`,
			method, key, value).Scan(&userID)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrCredentialNotFound
	}
	if err != nil {
		return "", fmt.Errorf("find user by credential param: %w", err)
	}
	return userID, nil
}

// ListMethods returns the distinct methods with at least one live row for
// the user.
func (r *CredentialRepo) ListMethods(ctx context.Context, userID string) ([]string, error) {
	var out []string
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT DISTINCT method
			FROM credential_params
			WHERE user_id = $1 AND NOT is_deleted
			ORDER BY method`,
			userID)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectRows(rows, pgx.RowTo[string])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list credential methods: %w", err)
	}
	return out, nil
}

// SoftDeleteMethod soft-deletes every live row the method owns for the user.
func (r *CredentialRepo) SoftDeleteMethod(ctx context.Context, userID, method string) error {
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		tag, err := conn.Exec(ctx, `
			UPDATE credential_params SET is_deleted = true, updated_at = now()
			WHERE user_id = $1 AND method = $2 AND NOT is_deleted`,
			userID, method)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrCredentialNotFound
		}
		return nil
	})
	if errors.Is(err, ErrCredentialNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("soft delete credential method: %w", err)
	}
	return nil
}

// SoftDeleteParam soft-deletes one live row.
func (r *CredentialRepo) SoftDeleteParam(ctx context.Context, userID, method, key string) error {
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		tag, err := conn.Exec(ctx, `
			UPDATE credential_params SET is_deleted = true, updated_at = now()
			WHERE user_id = $1 AND method = $2 AND key = $3 AND NOT is_deleted`,
			userID, method, key)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrCredentialNotFound
		}
		return nil
	})
	if errors.Is(err, ErrCredentialNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("soft delete credential param: %w", err)
	}
	return nil
}
