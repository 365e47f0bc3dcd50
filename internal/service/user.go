package service

import (
	"context"
	"errors"
	"log/slog"

	apperrors "github.com/ferrite-id/ferrite/internal/errors"

	"github.com/ferrite-id/ferrite/internal/core"
	"github.com/ferrite-id/ferrite/internal/data"
	"github.com/ferrite-id/ferrite/internal/domain/model"
)

// UserServiceOptions groups dependencies for UserService.
type UserServiceOptions struct {
	Users       core.UserRepository       // Required
	Credentials core.CredentialRepository // Required
	Registry    *Registry                 // Required: capability discovery for the delete broadcast
	Sessions    *SessionService           // Required: revocation on delete, including cache purge
	Notifier    core.UserUpdateNotifier   // Required
	Logger      *slog.Logger              // Optional
}

// UserService owns the administrative user lifecycle operations that no
// single auth method can claim, chiefly deletion.
type UserService struct {
	users    core.UserRepository
	creds    core.CredentialRepository
	registry *Registry
	sessions *SessionService
	notifier core.UserUpdateNotifier
	logger   *slog.Logger
}

// NewUserService constructs a UserService.
func NewUserService(opts UserServiceOptions) (*UserService, error) {
	if opts.Users == nil {
		return nil, errors.New("UserRepository is required")
	}
	if opts.Credentials == nil {
		return nil, errors.New("CredentialRepository is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("Registry is required")
	}
	if opts.Sessions == nil {
		return nil, errors.New("SessionService is required")
	}
	if opts.Notifier == nil {
		return nil, errors.New("UserUpdateNotifier is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "user_service")
	}

	return &UserService{
		users:    opts.Users,
		creds:    opts.Credentials,
		registry: opts.Registry,
		sessions: opts.Sessions,
		notifier: opts.Notifier,
		logger:   logger,
	}, nil
}

// Get returns a live user.
func (s *UserService) Get(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, data.ErrUserNotFound) {
			return nil, apperrors.NotFound("user not found")
		}
		return nil, err
	}
	return user, nil
}

// Delete soft-deletes a user: sessions are revoked and credential rows are
// cascaded in one transaction, then every active method is told the user is
// gone. Outer-sync usernames are captured before the cascade hides them,
// so external deletion still knows which account to remove.
func (s *UserService) Delete(ctx context.Context, userID string) error {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, data.ErrUserNotFound) {
			return apperrors.NotFound("user not found")
		}
		return err
	}

	oldDiff := &model.UserDiff{UserID: userID}
	for _, nm := range s.registry.Active() {
		if _, ok := nm.Method.(core.OuterSyncCapable); !ok {
			continue
		}
		row, err := s.creds.Get(ctx, userID, nm.Name, model.ParamOuterUsername)
		if err != nil {
			if errors.Is(err, data.ErrCredentialNotFound) {
				continue
			}
			return err
		}
		oldDiff.SetParam(nm.Name, model.ParamOuterUsername, row.Value)
	}

	// Revoke through the session service, not the storage cascade alone, so
	// cached tokens die with the database rows.
	if err := s.sessions.RevokeAll(ctx, userID, nil); err != nil {
		return err
	}

	if err := s.users.SoftDelete(ctx, userID); err != nil {
		return err
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "user deleted", "user_id", userID)
	}

	// One notify per logical mutation: nil after-diff means the user is gone.
	s.notifier.Notify(ctx, "", nil, oldDiff)
	return nil
}
