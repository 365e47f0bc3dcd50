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

// GroupRepo provides persistence for the group forest, direct group scopes,
// and group memberships.
type GroupRepo struct {
	DB *sql.DB
}

// NewGroupRepo creates a new GroupRepo.
func NewGroupRepo(db *sql.DB) *GroupRepo {
	return &GroupRepo{DB: db}
}

const groupColumns = `id, name, parent_id, created_at, updated_at, is_deleted`

func mapGroupWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return ErrGroupNameExists
		case pgerrcode.ForeignKeyViolation:
			return ErrGroupNotFound
		}
	}
	return err
}

// Create inserts a new group.
func (r *GroupRepo) Create(ctx context.Context, req model.CreateGroupRequest) (*model.Group, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var g model.Group
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO groups (id, name, parent_id)
			VALUES ($1, $2, $3)
			RETURNING `+groupColumns,
			uuid.NewString(), req.Name, req.ParentID)
		if err != nil {
			return err
		}
		defer rows.Close()
		g, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Group])
		return err
	})
	if err != nil {
		if mapped := mapGroupWriteErr(err); mapped != err {
			return nil, mapped
		}
		return nil, fmt.Errorf("create group: %w", err)
	}
	return &g, nil
}

func (r *GroupRepo) getGroup(ctx context.Context, where string, arg any) (*model.Group, error) {
	var g model.Group
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx,
			`SELECT `+groupColumns+` FROM groups WHERE `+where+` AND NOT is_deleted`, arg)
		if err != nil {
			return err
		}
		defer rows.Close()
		g, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Group])
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	return &g, nil
}

// GetByID fetches a live group by id.
func (r *GroupRepo) GetByID(ctx context.Context, id string) (*model.Group, error) {
	return r.getGroup(ctx, "id = $1", id)
}

// GetByName fetches a live group by name.
func (r *GroupRepo) GetByName(ctx context.Context, name string) (*model.Group, error) {
	return r.getGroup(ctx, "name = $1", name)
}

// SetParent re-parents a group. Cycle checking happens in the scope graph
// service inside the same request; the guard here is only row existence.
func (r *GroupRepo) SetParent(ctx context.Context, groupID string, parentID *string) error {
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		tag, err := conn.Exec(ctx, `
			UPDATE groups SET parent_id = $2, updated_at = now()
			WHERE id = $1 AND NOT is_deleted`,
			groupID, parentID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrGroupNotFound
		}
		return nil
	})
	if errors.Is(err, ErrGroupNotFound) {
		return err
	}
	if err != nil {
		if mapped := mapGroupWriteErr(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("set group parent: %w", err)
	}
	return nil
}

// SoftDeleteSplice soft-deletes the group and relinks its direct children to
// the group's former parent in the same transaction. Children keep their own
// subtrees; this is a single-level splice.
func (r *GroupRepo) SoftDeleteSplice(ctx context.Context, id string) error {
	err := pgxutil.WithPgxTx(ctx, r.DB, func(tx pgx.Tx) error {
		var parentID *string
		if err := tx.QueryRow(ctx, `
			SELECT parent_id FROM groups
			WHERE id = $1 AND NOT is_deleted
			FOR UPDATE`,
			id).Scan(&parentID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrGroupNotFound
			}
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE groups SET parent_id = $2, updated_at = now()
			WHERE parent_id = $1 AND NOT is_deleted`,
			id, parentID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE group_memberships SET is_deleted = true
			WHERE group_id = $1 AND NOT is_deleted`,
			id); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE groups SET is_deleted = true, updated_at = now()
			WHERE id = $1`,
			id)
		return err
	})
	if errors.Is(err, ErrGroupNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("soft delete group: %w", err)
	}
	return nil
}

// AddScope assigns a scope directly to the group; assigning twice is a no-op.
func (r *GroupRepo) AddScope(ctx context.Context, groupID, scopeID string) error {
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, `
			INSERT INTO group_scopes (group_id, scope_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`,
			groupID, scopeID)
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return ErrGroupNotFound
		}
		return fmt.Errorf("add group scope: %w", err)
	}
	return nil
}

// RemoveScope removes a direct scope assignment.
func (r *GroupRepo) RemoveScope(ctx context.Context, groupID, scopeID string) error {
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		_, err := conn.Exec(ctx,
			`DELETE FROM group_scopes WHERE group_id = $1 AND scope_id = $2`,
			groupID, scopeID)
		return err
	})
	if err != nil {
		return fmt.Errorf("remove group scope: %w", err)
	}
	return nil
}

// DirectScopeNames returns the names of live scopes assigned directly to the group.
func (r *GroupRepo) DirectScopeNames(ctx context.Context, groupID string) ([]string, error) {
	var out []string
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT s.name
			FROM group_scopes gs
			JOIN scopes s ON s.id = gs.scope_id AND NOT s.is_deleted
			WHERE gs.group_id = $1
			ORDER BY s.name`,
			groupID)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectRows(rows, pgx.RowTo[string])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("direct scope names: %w", err)
	}
	return out, nil
}

// AddMember adds the user to the group, reviving a soft-deleted edge.
func (r *GroupRepo) AddMember(ctx context.Context, groupID, userID string) error {
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, `
			INSERT INTO group_memberships (id, user_id, group_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, group_id) WHERE NOT is_deleted DO NOTHING`,
			uuid.NewString(), userID, groupID)
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return ErrGroupNotFound
		}
		return fmt.Errorf("add group member: %w", err)
	}
	return nil
}

// RemoveMember soft-deletes the membership edge.
func (r *GroupRepo) RemoveMember(ctx context.Context, groupID, userID string) error {
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, `
			UPDATE group_memberships SET is_deleted = true
			WHERE group_id = $1 AND user_id = $2 AND NOT is_deleted`,
			groupID, userID)
		return err
	})
	if err != nil {
		return fmt.Errorf("remove group member: %w", err)
	}
	return nil
}

// MemberGroupIDs returns the ids of live groups the user directly belongs to.
func (r *GroupRepo) MemberGroupIDs(ctx context.Context, userID string) ([]string, error) {
	var out []string
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT gm.group_id
			FROM group_memberships gm
			JOIN groups g ON g.id = gm.group_id AND NOT g.is_deleted
			WHERE gm.user_id = $1 AND NOT gm.is_deleted
			ORDER BY gm.group_id`,
			userID)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectRows(rows, pgx.RowTo[string])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("member group ids: %w", err)
	}
	return out, nil
}
