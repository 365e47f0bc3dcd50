package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ferrite-id/ferrite/internal/data/pgxutil"
	"github.com/ferrite-id/ferrite/internal/domain/model"
)

// SessionRepo provides persistence for sessions and their bound scope
// snapshots. Tokens are unique-constrained in the schema, not by convention.
type SessionRepo struct {
	DB *sql.DB
}

// NewSessionRepo creates a new SessionRepo.
func NewSessionRepo(db *sql.DB) *SessionRepo {
	return &SessionRepo{DB: db}
}

const sessionColumns = `id, user_id, token, label, unbounded, created_at, expires, last_activity`

func insertSession(ctx context.Context, tx pgx.Tx, sess *model.Session) (*model.Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}

	rows, err := tx.Query(ctx, `
		INSERT INTO sessions (id, user_id, token, label, unbounded, expires, last_activity)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING `+sessionColumns,
		sess.ID, sess.UserID, sess.Token, sess.Label, sess.Unbounded, sess.Expires)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	created, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Session])
	if err != nil {
		return nil, err
	}

	if len(sess.Scopes) > 0 {
		batch := &pgx.Batch{}
		for _, name := range sess.Scopes {
			batch.Queue(`
				INSERT INTO session_scopes (session_id, scope_id)
				SELECT $1, id FROM scopes WHERE name = $2 AND NOT is_deleted`,
				created.ID, name)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return nil, err
		}
	}
	created.Scopes = sess.Scopes
	return &created, nil
}

// Create inserts the session and its scope snapshot in one transaction.
func (r *SessionRepo) Create(ctx context.Context, sess *model.Session) (*model.Session, error) {
	var created *model.Session
	err := pgxutil.WithPgxTx(ctx, r.DB, func(tx pgx.Tx) error {
		var err error
		created, err = insertSession(ctx, tx, sess)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return created, nil
}

// GetByToken fetches a session (live or expired) by token, with its scope
// snapshot. Expiry policy belongs to the session service, so expired rows
// are returned rather than filtered here.
func (r *SessionRepo) GetByToken(ctx context.Context, token string) (*model.Session, error) {
	var sess model.Session
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx,
			`SELECT `+sessionColumns+` FROM sessions WHERE token = $1`, token)
		if err != nil {
			return err
		}
		sess, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Session])
		if err != nil {
			return err
		}

		scopeRows, err := conn.Query(ctx, `
			SELECT s.name
			FROM session_scopes ss
			JOIN scopes s ON s.id = ss.scope_id
			WHERE ss.session_id = $1
			ORDER BY s.name`,
			sess.ID)
		if err != nil {
			return err
		}
		defer scopeRows.Close()
		sess.Scopes, err = pgx.CollectRows(scopeRows, pgx.RowTo[string])
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session by token: %w", err)
	}
	return &sess, nil
}

// Touch updates the last-activity timestamp.
func (r *SessionRepo) Touch(ctx context.Context, id string, lastActivity time.Time) error {
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		_, err := conn.Exec(ctx,
			`UPDATE sessions SET last_activity = $2 WHERE id = $1`, id, lastActivity)
		return err
	})
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// SetExpires moves the expiry timestamp; both sliding-window renewal and
// revocation go through here.
func (r *SessionRepo) SetExpires(ctx context.Context, id string, expires time.Time) error {
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		tag, err := conn.Exec(ctx,
			`UPDATE sessions SET expires = $2 WHERE id = $1`, id, expires)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrSessionNotFound
		}
		return nil
	})
	if errors.Is(err, ErrSessionNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("set session expires: %w", err)
	}
	return nil
}

// Rotate atomically revokes the old session and inserts its replacement.
// The commit boundary is the only instant of handover; no window exists
// where both tokens are valid.
func (r *SessionRepo) Rotate(ctx context.Context, oldID string, revokedAt time.Time, replacement *model.Session) (*model.Session, error) {
	var created *model.Session
	err := pgxutil.WithPgxTx(ctx, r.DB, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE sessions SET expires = $2 WHERE id = $1 AND expires > $2`, oldID, revokedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrSessionNotFound
		}
		created, err = insertSession(ctx, tx, replacement)
		return err
	})
	if errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("rotate session: %w", err)
	}
	return created, nil
}

// RevokeAllForUser expires every live session of the user except keepID
// (empty keeps none) and returns the revoked tokens. Idempotent:
// already-expired sessions are untouched.
func (r *SessionRepo) RevokeAllForUser(ctx context.Context, userID, keepID string, revokedAt time.Time) ([]string, error) {
	var tokens []string
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			UPDATE sessions SET expires = $3
			WHERE user_id = $1 AND id <> $2 AND expires > $3
			RETURNING token`,
			userID, keepID, revokedAt)
		if err != nil {
			return err
		}
		defer rows.Close()
		tokens, err = pgx.CollectRows(rows, pgx.RowTo[string])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("revoke all sessions: %w", err)
	}
	return tokens, nil
}
