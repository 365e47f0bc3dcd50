// Package devauth provides a login-only auth method for local development.
// It issues a session for any existing user id without credential checks and
// must never be enabled outside dev environments.
package devauth

import (
	"context"
	"errors"
	"log/slog"

	apperrors "github.com/ferrite-id/ferrite/internal/errors"

	"github.com/ferrite-id/ferrite/internal/core"
	"github.com/ferrite-id/ferrite/internal/data"
	"github.com/ferrite-id/ferrite/internal/domain/model"
	"github.com/ferrite-id/ferrite/internal/service"
)

// Options groups dependencies for the dev_login method.
type Options struct {
	Users    core.UserRepository     // Required
	Sessions *service.SessionService // Required
	Logger   *slog.Logger            // Optional
}

// DevLogin is intentionally login-only: it cannot register, so it never
// counts toward the last-auth-method guard and can be enabled alongside
// real methods without weakening unregistration.
type DevLogin struct {
	users    core.UserRepository
	sessions *service.SessionService
	logger   *slog.Logger
}

var _ core.Loginable = (*DevLogin)(nil)

// New constructs the dev_login method.
func New(opts Options) (*DevLogin, error) {
	if opts.Users == nil {
		return nil, errors.New("UserRepository is required")
	}
	if opts.Sessions == nil {
		return nil, errors.New("SessionService is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "dev_login_method")
	}

	return &DevLogin{
		users:    opts.Users,
		sessions: opts.Sessions,
		logger:   logger,
	}, nil
}

// MustNew is like New but panics on error.
func MustNew(opts Options) *DevLogin {
	m, err := New(opts)
	if err != nil {
		panic(err)
	}
	return m
}

// Login issues a full-scope session for the user id in params. The user must
// exist and be live; no credential check of any kind is performed.
func (d *DevLogin) Login(ctx context.Context, in core.LoginInput) (*model.Session, error) {
	userID := in.Params["user_id"]
	if userID == "" {
		return nil, apperrors.Validation("user_id is required")
	}

	user, err := d.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, data.ErrUserNotFound) {
			return nil, apperrors.AuthFailed("unknown user")
		}
		return nil, err
	}

	if d.logger != nil {
		d.logger.WarnContext(ctx, "dev login issued", "user_id", user.ID)
	}

	return d.sessions.Create(ctx, service.CreateSessionInput{UserID: user.ID})
}

// OnUserUpdate is a no-op: dev login stores no credentials to mirror.
func (d *DevLogin) OnUserUpdate(ctx context.Context, newDiff, oldDiff *model.UserDiff) error {
	return nil
}
