// Package password implements the local email/password auth method.
package password

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/net/publicsuffix"

	apperrors "github.com/ferrite-id/ferrite/internal/errors"

	"github.com/ferrite-id/ferrite/config"
	"github.com/ferrite-id/ferrite/internal/core"
	"github.com/ferrite-id/ferrite/internal/data"
	"github.com/ferrite-id/ferrite/internal/domain/model"
	"github.com/ferrite-id/ferrite/internal/observability/metrics"
	"github.com/ferrite-id/ferrite/internal/service"
)

// EventTopicRegistered and EventTopicLogin are published after successful
// registration and login, keyed by user id.
const (
	EventTopicRegistered = "user.registered"
	EventTopicLogin      = "user.login"
)

// Options groups dependencies for the password method.
type Options struct {
	Users       core.UserRepository       // Required
	Credentials core.CredentialRepository // Required
	Groups      core.GroupRepository      // Optional: default-group membership
	Dynamic     core.OptionRepository     // Optional: default-group lookup
	Sessions    *service.SessionService   // Required
	Notifier    core.UserUpdateNotifier   // Required
	Publisher   core.EventPublisher       // Optional: user event announcements
	Config      config.PasswordConfig
	Metrics     *metrics.AuthMetrics // Optional
	Logger      *slog.Logger         // Optional
	Now         func() time.Time     // Optional: clock override for tests
}

// Password registers and authenticates users against a locally stored bcrypt
// hash. Its credential rows are the email address, the password hash, and a
// transient reset token pair.
type Password struct {
	users     core.UserRepository
	creds     core.CredentialRepository
	groups    core.GroupRepository
	dynamic   core.OptionRepository
	sessions  *service.SessionService
	notifier  core.UserUpdateNotifier
	publisher core.EventPublisher
	cfg       config.PasswordConfig
	metrics   *metrics.AuthMetrics
	logger    *slog.Logger
	now       func() time.Time
}

// Interface conformance for the capability set the registry branches on.
var (
	_ core.Registrable    = (*Password)(nil)
	_ core.Loginable      = (*Password)(nil)
	_ core.Unregisterable = (*Password)(nil)
)

// New constructs the password method.
func New(opts Options) (*Password, error) {
	if opts.Users == nil {
		return nil, errors.New("UserRepository is required")
	}
	if opts.Credentials == nil {
		return nil, errors.New("CredentialRepository is required")
	}
	if opts.Sessions == nil {
		return nil, errors.New("SessionService is required")
	}
	if opts.Notifier == nil {
		return nil, errors.New("UserUpdateNotifier is required")
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "password_method")
	}

	return &Password{
		users:     opts.Users,
		creds:     opts.Credentials,
		groups:    opts.Groups,
		dynamic:   opts.Dynamic,
		sessions:  opts.Sessions,
		notifier:  opts.Notifier,
		publisher: opts.Publisher,
		cfg:       opts.Config,
		metrics:   opts.Metrics,
		logger:    logger,
		now:       now,
	}, nil
}

func (p *Password) methodName() string { return core.MethodName(p) }

// Register creates a fresh user (no session) or links the password method to
// the session's already-authenticated user. The email must not already be
// linked to a different user.
func (p *Password) Register(ctx context.Context, in core.RegisterInput) (*model.Session, error) {
	email, err := p.normalizeEmail(in.Params["email"])
	if err != nil {
		return nil, err
	}
	plaintext := in.Params["password"]
	if len(plaintext) < p.cfg.MinLength {
		return nil, apperrors.ValidationField("password",
			fmt.Sprintf("password must be at least %d characters", p.cfg.MinLength))
	}

	existingUserID, err := p.creds.FindUserID(ctx, p.methodName(), model.ParamEmail, email)
	if err != nil && !errors.Is(err, data.ErrCredentialNotFound) {
		return nil, err
	}
	if existingUserID != "" {
		return nil, apperrors.AlreadyExists("email is already registered")
	}

	userID := ""
	fresh := false
	if in.Session != nil {
		userID = in.Session.UserID
	} else {
		user, err := p.users.Create(ctx)
		if err != nil {
			return nil, err
		}
		userID = user.ID
		fresh = true
		if err := p.joinDefaultGroup(ctx, userID); err != nil {
			return nil, err
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	if _, err := p.creds.Set(ctx, model.SetCredentialParam{
		UserID: userID, Method: p.methodName(), Key: model.ParamEmail, Value: email,
	}); err != nil {
		// A concurrent registration can slip past the lookup above. The
		// identity index catches it at insert time.
		if errors.Is(err, data.ErrDuplicateCredential) {
			return nil, apperrors.AlreadyExists("email is already registered")
		}
		return nil, err
	}
	if _, err := p.creds.Set(ctx, model.SetCredentialParam{
		UserID: userID, Method: p.methodName(), Key: model.ParamPasswordHash, Value: string(hash),
	}); err != nil {
		return nil, err
	}

	// The plaintext transits exactly once, inside the diff, so outer-sync
	// methods can mirror it. It is never persisted.
	newDiff := &model.UserDiff{UserID: userID}
	newDiff.SetParam("password", "email", email)
	newDiff.SetParam("password", "password", plaintext)
	var oldDiff *model.UserDiff
	if !fresh {
		oldDiff = &model.UserDiff{UserID: userID}
	}
	p.notifier.Notify(ctx, p.methodName(), newDiff, oldDiff)

	p.publish(ctx, EventTopicRegistered, userID, map[string]string{
		"user_id": userID,
		"method":  p.methodName(),
	})
	if p.metrics != nil {
		p.metrics.Registrations.WithLabelValues(p.methodName()).Inc()
	}
	if p.logger != nil {
		p.logger.InfoContext(ctx, "user registered", "user_id", userID, "fresh", fresh)
	}

	if in.Session != nil {
		return in.Session, nil
	}
	return p.sessions.Create(ctx, service.CreateSessionInput{UserID: userID})
}

// Login resolves the email to an existing user and verifies the password.
// It never creates a user, and reports the same auth_failed for unknown
// email and wrong password so accounts cannot be enumerated.
func (p *Password) Login(ctx context.Context, in core.LoginInput) (*model.Session, error) {
	email, err := p.normalizeEmail(in.Params["email"])
	if err != nil {
		return nil, apperrors.AuthFailed("invalid email or password")
	}

	userID, err := p.creds.FindUserID(ctx, p.methodName(), model.ParamEmail, email)
	if err != nil {
		if errors.Is(err, data.ErrCredentialNotFound) {
			return nil, apperrors.AuthFailed("invalid email or password")
		}
		return nil, err
	}

	hashRow, err := p.creds.Get(ctx, userID, p.methodName(), model.ParamPasswordHash)
	if err != nil {
		if errors.Is(err, data.ErrCredentialNotFound) {
			return nil, apperrors.AuthFailed("invalid email or password")
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hashRow.Value), []byte(in.Params["password"])) != nil {
		return nil, apperrors.AuthFailed("invalid email or password")
	}

	p.publish(ctx, EventTopicLogin, userID, map[string]string{
		"user_id": userID,
		"method":  p.methodName(),
	})
	if p.metrics != nil {
		p.metrics.Logins.WithLabelValues(p.methodName()).Inc()
	}

	return p.sessions.Create(ctx, service.CreateSessionInput{UserID: userID})
}

// Unregister soft-deletes every credential row this method owns for the
// user. The last-auth-method guard lives in the registry, which is the only
// caller.
func (p *Password) Unregister(ctx context.Context, userID string) error {
	if err := p.creds.SoftDeleteMethod(ctx, userID, p.methodName()); err != nil {
		return err
	}
	newDiff := &model.UserDiff{UserID: userID}
	p.notifier.Notify(ctx, p.methodName(), newDiff, &model.UserDiff{UserID: userID})
	return nil
}

// ChangePassword replaces the stored hash and forwards the new plaintext
// through the update diff so outer systems follow.
func (p *Password) ChangePassword(ctx context.Context, userID, plaintext string) error {
	if len(plaintext) < p.cfg.MinLength {
		return apperrors.ValidationField("password",
			fmt.Sprintf("password must be at least %d characters", p.cfg.MinLength))
	}
	if _, err := p.creds.Get(ctx, userID, p.methodName(), model.ParamPasswordHash); err != nil {
		if errors.Is(err, data.ErrCredentialNotFound) {
			return apperrors.NotFound("password method is not linked")
		}
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if _, err := p.creds.Set(ctx, model.SetCredentialParam{
		UserID: userID, Method: p.methodName(), Key: model.ParamPasswordHash, Value: string(hash),
	}); err != nil {
		return err
	}

	newDiff := &model.UserDiff{UserID: userID}
	newDiff.SetParam("password", "password", plaintext)
	p.notifier.Notify(ctx, p.methodName(), newDiff, &model.UserDiff{UserID: userID})
	return nil
}

// CreateResetToken starts the email-confirmation reset flow. The flow is an
// independent state machine: the token rows never feed outer-sync; only the
// eventual ResetPassword diff does.
func (p *Password) CreateResetToken(ctx context.Context, email string) (string, error) {
	normalized, err := p.normalizeEmail(email)
	if err != nil {
		return "", err
	}
	userID, err := p.creds.FindUserID(ctx, p.methodName(), model.ParamEmail, normalized)
	if err != nil {
		if errors.Is(err, data.ErrCredentialNotFound) {
			return "", apperrors.NotFound("email is not registered")
		}
		return "", err
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)

	expires := p.now().Add(p.cfg.ResetTokenTTL)
	if _, err := p.creds.Set(ctx, model.SetCredentialParam{
		UserID: userID, Method: p.methodName(), Key: model.ParamResetToken, Value: token,
	}); err != nil {
		return "", err
	}
	if _, err := p.creds.Set(ctx, model.SetCredentialParam{
		UserID: userID, Method: p.methodName(), Key: model.ParamResetExpires,
		Value: strconv.FormatInt(expires.Unix(), 10),
	}); err != nil {
		return "", err
	}
	return token, nil
}

// ResetPassword consumes a reset token and installs the new password.
func (p *Password) ResetPassword(ctx context.Context, token, plaintext string) error {
	userID, err := p.creds.FindUserID(ctx, p.methodName(), model.ParamResetToken, token)
	if err != nil {
		if errors.Is(err, data.ErrCredentialNotFound) {
			return apperrors.AuthFailed("invalid or expired reset token")
		}
		return err
	}

	expiresRow, err := p.creds.Get(ctx, userID, p.methodName(), model.ParamResetExpires)
	if err != nil {
		return apperrors.AuthFailed("invalid or expired reset token")
	}
	unix, err := strconv.ParseInt(expiresRow.Value, 10, 64)
	if err != nil || p.now().After(time.Unix(unix, 0)) {
		return apperrors.AuthFailed("invalid or expired reset token")
	}

	if err := p.ChangePassword(ctx, userID, plaintext); err != nil {
		return err
	}
	_ = p.creds.SoftDeleteParam(ctx, userID, p.methodName(), model.ParamResetToken)
	_ = p.creds.SoftDeleteParam(ctx, userID, p.methodName(), model.ParamResetExpires)
	return nil
}

// OnUserUpdate is a no-op: the password store has nothing to mirror from
// other methods.
func (p *Password) OnUserUpdate(ctx context.Context, newDiff, oldDiff *model.UserDiff) error {
	return nil
}

func (p *Password) joinDefaultGroup(ctx context.Context, userID string) error {
	if p.groups == nil || p.dynamic == nil {
		return nil
	}
	opt, err := p.dynamic.Get(ctx, model.OptionDefaultGroupID)
	if err != nil {
		if errors.Is(err, data.ErrOptionNotFound) {
			return nil
		}
		return err
	}
	if opt.StrValue == nil || *opt.StrValue == "" {
		return nil
	}
	return p.groups.AddMember(ctx, *opt.StrValue, userID)
}

func (p *Password) publish(ctx context.Context, topic, userID string, payload any) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, topic, userID, payload); err != nil && p.logger != nil {
		p.logger.WarnContext(ctx, "event publish failed", "topic", topic, "error", err)
	}
}

// normalizeEmail validates and lowercases the address, then applies the
// registrable-domain allow-list (eTLD+1, so mail.corp.example.com passes an
// example.com entry only when the public suffix rules say it should).
func (p *Password) normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", apperrors.ValidationField("email", "invalid email address")
	}
	email := strings.ToLower(addr.Address)

	if len(p.cfg.AllowedEmailDomains) == 0 {
		return email, nil
	}

	at := strings.LastIndex(email, "@")
	host := email[at+1:]
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		etld1 = host
	}
	for _, allowed := range p.cfg.AllowedEmailDomains {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed == host || allowed == etld1 {
			return email, nil
		}
	}
	return "", apperrors.ValidationField("email", "email domain is not allowed")
}
