// Package oauth implements the generic OAuth2/OIDC auth method on top of
// provider discovery, code exchange, and ID-token verification.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	apperrors "github.com/ferrite-id/ferrite/internal/errors"

	"github.com/ferrite-id/ferrite/config"
	"github.com/ferrite-id/ferrite/internal/core"
	"github.com/ferrite-id/ferrite/internal/data"
	"github.com/ferrite-id/ferrite/internal/domain/model"
	"github.com/ferrite-id/ferrite/internal/observability/metrics"
	"github.com/ferrite-id/ferrite/internal/service"
)

// Options groups dependencies for the oauth method.
type Options struct {
	Users       core.UserRepository       // Required
	Credentials core.CredentialRepository // Required
	Groups      core.GroupRepository      // Optional: default-group membership
	Dynamic     core.OptionRepository     // Optional: default-group lookup
	Sessions    *service.SessionService   // Required
	Notifier    core.UserUpdateNotifier   // Required
	Publisher   core.EventPublisher       // Optional
	Config      config.OAuthConfig
	Metrics     *metrics.AuthMetrics // Optional
	Logger      *slog.Logger         // Optional
	HTTPClient  *http.Client         // Optional, defaults to a 30s-timeout client
	Now         func() time.Time     // Optional: clock override for tests
}

// identity is the verified external principal after token exchange.
type identity struct {
	Subject string
	Email   string
}

// verifier abstracts the ID-token verification step so tests can supply a
// deterministic identity source.
type verifier interface {
	exchange(ctx context.Context, code string) (identity, error)
	authCodeURL(state string) string
}

// Oauth links external OIDC identities to local users. Its credential rows
// are the provider subject id and the asserted email.
type Oauth struct {
	users     core.UserRepository
	creds     core.CredentialRepository
	groups    core.GroupRepository
	dynamic   core.OptionRepository
	sessions  *service.SessionService
	notifier  core.UserUpdateNotifier
	publisher core.EventPublisher
	cfg       config.OAuthConfig
	metrics   *metrics.AuthMetrics
	logger    *slog.Logger
	now       func() time.Time

	verifier verifier
}

// Interface conformance for the capability set the registry branches on.
var _ core.OAuthCapable = (*Oauth)(nil)

// New constructs the oauth method, performing a single discovery fetch
// against the configured issuer.
func New(ctx context.Context, opts Options) (*Oauth, error) {
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
	if opts.Config.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	if opts.Config.ClientSecret == "" {
		return nil, errors.New("client secret is required")
	}
	if opts.Config.DiscoveryURL == "" {
		return nil, errors.New("discovery URL is required")
	}
	if opts.Config.ContinuationSecret == "" {
		return nil, errors.New("continuation secret is required")
	}

	m, err := newMethod(opts)
	if err != nil {
		return nil, err
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	oidcCtx := context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	issuer := strings.TrimSuffix(opts.Config.DiscoveryURL, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")
	provider, err := gooidc.NewProvider(oidcCtx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}

	m.verifier = &oidcVerifier{
		config: &oauth2.Config{
			ClientID:     opts.Config.ClientID,
			ClientSecret: opts.Config.ClientSecret,
			RedirectURL:  opts.Config.RedirectURL,
			Scopes:       strings.Fields(opts.Config.Scope),
			Endpoint:     provider.Endpoint(),
		},
		verifier:   provider.Verifier(&gooidc.Config{ClientID: opts.Config.ClientID}),
		httpClient: httpClient,
	}
	return m, nil
}

// newMethod wires everything except the network-touching verifier.
func newMethod(opts Options) (*Oauth, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "oauth_method")
	}

	return &Oauth{
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

// oidcVerifier is the production verifier backed by go-oidc.
type oidcVerifier struct {
	config     *oauth2.Config
	verifier   *gooidc.IDTokenVerifier
	httpClient *http.Client
}

func (v *oidcVerifier) authCodeURL(state string) string {
	return v.config.AuthCodeURL(state)
}

func (v *oidcVerifier) exchange(ctx context.Context, code string) (identity, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, v.httpClient)
	token, err := v.config.Exchange(ctx, code)
	if err != nil {
		return identity{}, apperrors.Wrap(err, apperrors.ErrCodeOAuthAuthFailed, "code exchange failed")
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return identity{}, apperrors.OAuthAuthFailed("provider response is missing id_token")
	}
	idToken, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return identity{}, apperrors.Wrap(err, apperrors.ErrCodeOAuthAuthFailed, "id token verification failed")
	}

	var claims struct {
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return identity{}, apperrors.Wrap(err, apperrors.ErrCodeOAuthAuthFailed, "parse id token claims")
	}
	return identity{Subject: idToken.Subject, Email: strings.ToLower(claims.Email)}, nil
}

func (o *Oauth) methodName() string { return core.MethodName(o) }

// AuthURL returns the provider authorization URL for the given state.
func (o *Oauth) AuthURL(_ context.Context, state string) (string, error) {
	if state == "" {
		return "", apperrors.Validation("state is required")
	}
	return o.verifier.authCodeURL(state), nil
}

// RedirectURL returns the callback URL registered with the provider.
func (o *Oauth) RedirectURL() string {
	return o.cfg.RedirectURL
}

// Login resolves a verified external identity to an existing local user.
// When the identity verifies but no local account is linked, the failure
// carries a short-lived continuation token so the caller can register
// without a second provider round-trip. Login never creates a user.
func (o *Oauth) Login(ctx context.Context, in core.LoginInput) (*model.Session, error) {
	id, err := o.resolveIdentity(ctx, in.Params)
	if err != nil {
		return nil, err
	}

	userID, err := o.creds.FindUserID(ctx, o.methodName(), model.ParamSubject, id.Subject)
	if err != nil {
		if errors.Is(err, data.ErrCredentialNotFound) {
			token, mintErr := o.mintContinuation(id)
			if mintErr != nil {
				return nil, mintErr
			}
			return nil, apperrors.OAuthAuthFailedWithToken("no local account is linked to this identity", token)
		}
		return nil, err
	}

	o.publish(ctx, "user.login", userID, map[string]string{
		"user_id": userID,
		"method":  o.methodName(),
	})
	if o.metrics != nil {
		o.metrics.Logins.WithLabelValues(o.methodName()).Inc()
	}

	return o.sessions.Create(ctx, service.CreateSessionInput{UserID: userID})
}

// Register creates a fresh user (no session) or links this method to the
// session's user. A subject already linked to a different user is rejected
// with already_exists.
func (o *Oauth) Register(ctx context.Context, in core.RegisterInput) (*model.Session, error) {
	id, err := o.resolveIdentity(ctx, in.Params)
	if err != nil {
		return nil, err
	}

	linkedUserID, err := o.creds.FindUserID(ctx, o.methodName(), model.ParamSubject, id.Subject)
	if err != nil && !errors.Is(err, data.ErrCredentialNotFound) {
		return nil, err
	}
	if linkedUserID != "" {
		if in.Session == nil || in.Session.UserID != linkedUserID {
			return nil, apperrors.AlreadyExists("identity is already linked to another user")
		}
		// Re-linking the same identity to the same user is a no-op.
		return in.Session, nil
	}

	userID := ""
	fresh := false
	if in.Session != nil {
		userID = in.Session.UserID
	} else {
		user, err := o.users.Create(ctx)
		if err != nil {
			return nil, err
		}
		userID = user.ID
		fresh = true
		if err := o.joinDefaultGroup(ctx, userID); err != nil {
			return nil, err
		}
	}

	if _, err := o.creds.Set(ctx, model.SetCredentialParam{
		UserID: userID, Method: o.methodName(), Key: model.ParamSubject, Value: id.Subject,
	}); err != nil {
		// Two concurrent registrations of the same subject can both pass the
		// lookup above. The identity index rejects the later insert.
		if errors.Is(err, data.ErrDuplicateCredential) {
			return nil, apperrors.AlreadyExists("identity is already linked to another user")
		}
		return nil, err
	}
	if id.Email != "" {
		// The provider email is informational. Another live user already
		// holding it does not block the link, so a duplicate is ignored.
		if _, err := o.creds.Set(ctx, model.SetCredentialParam{
			UserID: userID, Method: o.methodName(), Key: model.ParamEmail, Value: id.Email,
		}); err != nil && !errors.Is(err, data.ErrDuplicateCredential) {
			return nil, err
		}
	}

	newDiff := &model.UserDiff{UserID: userID}
	newDiff.SetParam(o.methodName(), model.ParamSubject, id.Subject)
	var oldDiff *model.UserDiff
	if !fresh {
		oldDiff = &model.UserDiff{UserID: userID}
	}
	o.notifier.Notify(ctx, o.methodName(), newDiff, oldDiff)

	o.publish(ctx, "user.registered", userID, map[string]string{
		"user_id": userID,
		"method":  o.methodName(),
	})
	if o.metrics != nil {
		o.metrics.Registrations.WithLabelValues(o.methodName()).Inc()
	}
	if o.logger != nil {
		o.logger.InfoContext(ctx, "oauth identity linked", "user_id", userID, "fresh", fresh)
	}

	if in.Session != nil {
		return in.Session, nil
	}
	return o.sessions.Create(ctx, service.CreateSessionInput{UserID: userID})
}

// Unregister soft-deletes the subject/email rows. The last-auth-method guard
// lives in the registry.
func (o *Oauth) Unregister(ctx context.Context, userID string) error {
	if err := o.creds.SoftDeleteMethod(ctx, userID, o.methodName()); err != nil {
		return err
	}
	o.notifier.Notify(ctx, o.methodName(),
		&model.UserDiff{UserID: userID}, &model.UserDiff{UserID: userID})
	return nil
}

// OnUserUpdate is a no-op: the external provider owns its own credential
// store and nothing local needs mirroring.
func (o *Oauth) OnUserUpdate(ctx context.Context, newDiff, oldDiff *model.UserDiff) error {
	return nil
}

// resolveIdentity accepts either an authorization code (full exchange) or an
// already-verified continuation token minted by a previous failed login.
func (o *Oauth) resolveIdentity(ctx context.Context, params map[string]string) (identity, error) {
	if token := params["identity_token"]; token != "" {
		return o.verifyContinuation(token)
	}
	code := params["code"]
	if code == "" {
		return identity{}, apperrors.OAuthAuthFailed("authorization code or identity token is required")
	}
	return o.verifier.exchange(ctx, code)
}

const continuationPurpose = "registration_continuation"

func (o *Oauth) mintContinuation(id identity) (string, error) {
	now := o.now()
	claims := jwt.MapClaims{
		"sub":     id.Subject,
		"email":   id.Email,
		"purpose": continuationPurpose,
		"iat":     now.Unix(),
		"exp":     now.Add(o.cfg.ContinuationTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(o.cfg.ContinuationSecret))
	if err != nil {
		return "", fmt.Errorf("sign continuation token: %w", err)
	}
	return signed, nil
}

func (o *Oauth) verifyContinuation(raw string) (identity, error) {
	parsed, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(o.cfg.ContinuationSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(o.now))
	if err != nil || !parsed.Valid {
		return identity{}, apperrors.OAuthAuthFailed("invalid identity token")
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return identity{}, apperrors.OAuthAuthFailed("invalid identity token")
	}
	if purpose, _ := claims["purpose"].(string); purpose != continuationPurpose {
		return identity{}, apperrors.OAuthAuthFailed("invalid identity token")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return identity{}, apperrors.OAuthAuthFailed("invalid identity token")
	}
	email, _ := claims["email"].(string)
	return identity{Subject: sub, Email: email}, nil
}

func (o *Oauth) joinDefaultGroup(ctx context.Context, userID string) error {
	if o.groups == nil || o.dynamic == nil {
		return nil
	}
	opt, err := o.dynamic.Get(ctx, model.OptionDefaultGroupID)
	if err != nil {
		if errors.Is(err, data.ErrOptionNotFound) {
			return nil
		}
		return err
	}
	if opt.StrValue == nil || *opt.StrValue == "" {
		return nil
	}
	return o.groups.AddMember(ctx, *opt.StrValue, userID)
}

func (o *Oauth) publish(ctx context.Context, topic, userID string, payload any) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.Publish(ctx, topic, userID, payload); err != nil && o.logger != nil {
		o.logger.WarnContext(ctx, "event publish failed", "topic", topic, "error", err)
	}
}
