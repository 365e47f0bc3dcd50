package outersync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/ferrite-id/ferrite/internal/errors"

	"github.com/ferrite-id/ferrite/config"
	"github.com/ferrite-id/ferrite/internal/core"
)

// DBRoleSyncOptions groups dependencies for the db_role_sync method.
type DBRoleSyncOptions struct {
	Credentials core.CredentialRepository // Required
	Pool        *pgxpool.Pool             // Required: pool against the external cluster
	Config      config.OuterSyncConfig
	Evaluator   DiffEvaluator // Optional
	Logger      *slog.Logger  // Optional
}

// DBRoleSync mirrors local passwords into login roles of an external
// database cluster. The role name is derived from the email local part,
// lowered and restricted to [a-z0-9_].
type DBRoleSync struct {
	*mirror

	pool *pgxpool.Pool
}

var _ core.OuterSyncCapable = (*DBRoleSync)(nil)

// NewDBRoleSync constructs the db_role_sync method. The pool must point at
// the external cluster, never the identity store.
func NewDBRoleSync(opts DBRoleSyncOptions) (*DBRoleSync, error) {
	if opts.Pool == nil {
		return nil, errors.New("external database pool is required")
	}

	d := &DBRoleSync{pool: opts.Pool}

	mir, err := newMirror(mirrorOptions{
		Name:        core.MethodName(d),
		Backend:     d,
		Credentials: opts.Credentials,
		Config:      opts.Config,
		Evaluator:   opts.Evaluator,
		Username:    roleNameFromEmail,
		Logger:      opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	d.mirror = mir
	return d, nil
}

// roleNameFromEmail maps an email to a safe role name: the lowered local
// part with every unsupported rune collapsed to an underscore.
func roleNameFromEmail(email string) string {
	local, _, found := strings.Cut(email, "@")
	if !found || local == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range strings.ToLower(local) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := b.String()
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		name = "u_" + name
	}
	return name
}

// UserExists checks pg_roles for the role name.
func (d *DBRoleSync) UserExists(ctx context.Context, username string) (bool, error) {
	var one int
	err := d.pool.QueryRow(ctx,
		`SELECT 1 FROM pg_roles WHERE rolname = $1`, username).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, apperrors.Wrap(err, apperrors.ErrCodeOuterSyncComm, "query external roles")
	}
	return true, nil
}

// CreateExternalUser creates a login role with the given password.
func (d *DBRoleSync) CreateExternalUser(ctx context.Context, username, password string) error {
	// Role names and passwords cannot be bind parameters in DDL.
	stmt := fmt.Sprintf("CREATE ROLE %s LOGIN PASSWORD %s",
		pgx.Identifier{username}.Sanitize(), quoteLiteral(password))
	if _, err := d.pool.Exec(ctx, stmt); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeOuterSyncComm, "create external role")
	}
	return nil
}

// DeleteExternalUser drops the role if it exists.
func (d *DBRoleSync) DeleteExternalUser(ctx context.Context, username string) error {
	stmt := fmt.Sprintf("DROP ROLE IF EXISTS %s", pgx.Identifier{username}.Sanitize())
	if _, err := d.pool.Exec(ctx, stmt); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeOuterSyncComm, "drop external role")
	}
	return nil
}

// UpdateExternalPassword rotates the role's password.
func (d *DBRoleSync) UpdateExternalPassword(ctx context.Context, username, password string) error {
	stmt := fmt.Sprintf("ALTER ROLE %s PASSWORD %s",
		pgx.Identifier{username}.Sanitize(), quoteLiteral(password))
	if _, err := d.pool.Exec(ctx, stmt); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeOuterSyncComm, "update external role password")
	}
	return nil
}

// quoteLiteral renders a standard-conforming single-quoted string literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
