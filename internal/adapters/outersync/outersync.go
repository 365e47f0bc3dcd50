// Package outersync mirrors local password changes into external, non-auth
// systems (mail server accounts, database roles). Each method receives user
// diffs through the broadcast hook and drives its external system through a
// small backend surface; all transport failures are normalized to the
// outer-sync communication error category and retried with a capped,
// time-bounded policy.
package outersync

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	jmespath "github.com/jmespath-community/go-jmespath"

	apperrors "github.com/ferrite-id/ferrite/internal/errors"

	"github.com/ferrite-id/ferrite/config"
	"github.com/ferrite-id/ferrite/internal/core"
	"github.com/ferrite-id/ferrite/internal/data"
	"github.com/ferrite-id/ferrite/internal/domain/model"
)

// DiffEvaluator abstracts JMESPath operations for testability.
type DiffEvaluator interface {
	Validate(expr string) error
	Evaluate(expr string, data any) (any, error)
}

// jmespathLibEvaluator implements DiffEvaluator using go-jmespath.
type jmespathLibEvaluator struct{}

func (j jmespathLibEvaluator) Validate(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	_, err := jmespath.Compile(expr)
	return err
}

func (j jmespathLibEvaluator) Evaluate(expr string, data any) (any, error) {
	return jmespath.Search(expr, data)
}

// backend is the external-system surface a mirror drives. The concrete
// method types implement it against their own transport.
type backend interface {
	UserExists(ctx context.Context, username string) (bool, error)
	CreateExternalUser(ctx context.Context, username, password string) error
	DeleteExternalUser(ctx context.Context, username string) error
	UpdateExternalPassword(ctx context.Context, username, password string) error
}

// mirrorOptions groups the shared dependencies of every outer-sync method.
type mirrorOptions struct {
	Name        string
	Backend     backend
	Credentials core.CredentialRepository
	Config      config.OuterSyncConfig
	Evaluator   DiffEvaluator    // Optional, defaults to go-jmespath
	Username    func(email string) string
	Logger      *slog.Logger
}

// mirror implements the diff-inspection half of an outer-sync method: it
// decides from a before/after user diff whether the external system needs a
// create, an update, a delete, or nothing.
type mirror struct {
	name     string
	backend  backend
	creds    core.CredentialRepository
	cfg      config.OuterSyncConfig
	eval     DiffEvaluator
	username func(email string) string
	logger   *slog.Logger
}

func newMirror(opts mirrorOptions) (*mirror, error) {
	if opts.Name == "" {
		return nil, errors.New("method name is required")
	}
	if opts.Backend == nil {
		return nil, errors.New("backend is required")
	}
	if opts.Credentials == nil {
		return nil, errors.New("CredentialRepository is required")
	}
	if opts.Username == nil {
		return nil, errors.New("username derivation is required")
	}

	eval := opts.Evaluator
	if eval == nil {
		eval = jmespathLibEvaluator{}
	}
	if err := eval.Validate(opts.Config.PasswordPath); err != nil {
		return nil, err
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", opts.Name+"_method")
	}

	return &mirror{
		name:     opts.Name,
		backend:  opts.Backend,
		creds:    opts.Credentials,
		cfg:      opts.Config,
		eval:     eval,
		username: opts.Username,
		logger:   logger,
	}, nil
}

// OnUserUpdate inspects the diff and applies the minimal external mutation:
// a nil after-diff deletes the external account (tolerating one that was
// never linked), a diff carrying a plaintext password creates or updates the
// account, and anything else is a no-op.
func (m *mirror) OnUserUpdate(ctx context.Context, newDiff, oldDiff *model.UserDiff) error {
	if newDiff == nil {
		if oldDiff == nil {
			return nil
		}
		return m.deleteExternal(ctx, oldDiff)
	}

	password, err := m.extractPassword(newDiff)
	if err != nil {
		return err
	}
	if password == "" {
		return nil
	}

	username, err := m.ensureUsername(ctx, newDiff)
	if err != nil {
		return err
	}
	if username == "" {
		if m.logger != nil {
			m.logger.WarnContext(ctx, "no external username could be derived, skipping mirror",
				"user_id", newDiff.UserID)
		}
		return nil
	}

	exists, err := m.retryBool(ctx, func(ctx context.Context) (bool, error) {
		return m.backend.UserExists(ctx, username)
	})
	if err != nil {
		return err
	}

	if exists {
		return m.retry(ctx, func(ctx context.Context) error {
			return m.backend.UpdateExternalPassword(ctx, username, password)
		})
	}
	return m.retry(ctx, func(ctx context.Context) error {
		return m.backend.CreateExternalUser(ctx, username, password)
	})
}

func (m *mirror) deleteExternal(ctx context.Context, oldDiff *model.UserDiff) error {
	username, _ := oldDiff.Param(m.name, model.ParamOuterUsername)
	if username == "" {
		row, err := m.creds.Get(ctx, oldDiff.UserID, m.name, model.ParamOuterUsername)
		if err != nil {
			if errors.Is(err, data.ErrCredentialNotFound) {
				return nil
			}
			return err
		}
		username = row.Value
	}
	if username == "" {
		return nil
	}
	return m.retry(ctx, func(ctx context.Context) error {
		return m.backend.DeleteExternalUser(ctx, username)
	})
}

// extractPassword evaluates the configured path against the diff. A missing
// or non-string result means this mutation did not touch the password.
func (m *mirror) extractPassword(diff *model.UserDiff) (string, error) {
	result, err := m.eval.Evaluate(m.cfg.PasswordPath, diff.AsMap())
	if err != nil {
		return "", err
	}
	password, ok := result.(string)
	if !ok {
		return "", nil
	}
	return password, nil
}

// ensureUsername returns the linked external username, deriving and storing
// one from the user's email on first contact.
func (m *mirror) ensureUsername(ctx context.Context, diff *model.UserDiff) (string, error) {
	row, err := m.creds.Get(ctx, diff.UserID, m.name, model.ParamOuterUsername)
	if err == nil {
		return row.Value, nil
	}
	if !errors.Is(err, data.ErrCredentialNotFound) {
		return "", err
	}

	email := m.lookupEmail(ctx, diff)
	if email == "" {
		return "", nil
	}
	username := m.username(email)
	if username == "" {
		return "", nil
	}

	if _, err := m.creds.Set(ctx, model.SetCredentialParam{
		UserID: diff.UserID, Method: m.name, Key: model.ParamOuterUsername, Value: username,
	}); err != nil {
		return "", err
	}
	if m.logger != nil {
		m.logger.InfoContext(ctx, "linked external account",
			"user_id", diff.UserID, "username", username)
	}
	return username, nil
}

func (m *mirror) lookupEmail(ctx context.Context, diff *model.UserDiff) string {
	for _, params := range diff.Params {
		if email := params[model.ParamEmail]; email != "" {
			return email
		}
	}
	row, err := m.creds.Get(ctx, diff.UserID, "password", model.ParamEmail)
	if err != nil {
		return ""
	}
	return row.Value
}

// retry applies the capped policy to one external call. Only communication
// failures are retried; anything else aborts immediately.
func (m *mirror) retry(ctx context.Context, call func(ctx context.Context) error) error {
	_, err := m.retryBool(ctx, func(ctx context.Context) (bool, error) {
		return false, call(ctx)
	})
	return err
}

func (m *mirror) retryBool(ctx context.Context, call func(ctx context.Context) (bool, error)) (bool, error) {
	op := func() (bool, error) {
		callCtx := ctx
		if m.cfg.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, m.cfg.CallTimeout)
			defer cancel()
		}
		ok, err := call(callCtx)
		if err != nil && !apperrors.IsOuterSyncComm(err) {
			return ok, backoff.Permanent(err)
		}
		return ok, err
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(m.cfg.RetryMaxAttempts),
		backoff.WithMaxElapsedTime(m.cfg.RetryMaxElapsed),
	)
}

const defaultCallTimeout = 10 * time.Second
