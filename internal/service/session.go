package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	apperrors "github.com/ferrite-id/ferrite/internal/errors"

	"github.com/ferrite-id/ferrite/config"
	"github.com/ferrite-id/ferrite/internal/core"
	"github.com/ferrite-id/ferrite/internal/data"
	"github.com/ferrite-id/ferrite/internal/domain/model"
	"github.com/ferrite-id/ferrite/internal/observability/metrics"
)

// tokenAlphabet deliberately omits characters that read ambiguously
// (0/O/o, 1/l/I) so tokens survive manual transcription.
const tokenAlphabet = "23456789abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ"

// SessionCache is an optional read-through cache in front of the sessions
// table, keyed by token. Implementations live in internal/adapters/redis.
type SessionCache interface {
	Save(ctx context.Context, sess model.Session) error
	Get(ctx context.Context, token string) (*model.Session, error)
	Delete(ctx context.Context, token string) error
}

// SessionServiceOptions groups dependencies for SessionService.
type SessionServiceOptions struct {
	Sessions   core.SessionRepository // Required: session repository
	Scopes     core.ScopeRepository   // Required: scope repository
	ScopeGraph *ScopeGraphService     // Required: effective-scope resolution
	Config     config.SessionConfig   // Token length, lifetime, update scope
	Cache      SessionCache           // Optional: read-through token cache
	Metrics    *metrics.AuthMetrics   // Optional: issuance/refresh counters
	Logger     *slog.Logger           // Optional: structured logger
	Now        func() time.Time       // Optional: clock override for tests
}

// SessionService owns the session lifecycle: issuance, authentication,
// sliding renewal, refresh, and revocation. Expiry comparisons and token
// issuance share one clock source so skew can never make a dead session
// look valid.
type SessionService struct {
	sessions   core.SessionRepository
	scopes     core.ScopeRepository
	scopeGraph *ScopeGraphService
	cfg        config.SessionConfig
	cache      SessionCache
	metrics    *metrics.AuthMetrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewSessionService constructs a new SessionService.
func NewSessionService(opts SessionServiceOptions) (*SessionService, error) {
	if opts.Sessions == nil {
		return nil, errors.New("SessionRepository is required")
	}
	if opts.Scopes == nil {
		return nil, errors.New("ScopeRepository is required")
	}
	if opts.ScopeGraph == nil {
		return nil, errors.New("ScopeGraphService is required")
	}

	opts.Config.Sanitize()

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "session_service")
	}

	return &SessionService{
		sessions:   opts.Sessions,
		scopes:     opts.Scopes,
		scopeGraph: opts.ScopeGraph,
		cfg:        opts.Config,
		cache:      opts.Cache,
		metrics:    opts.Metrics,
		logger:     logger,
		now:        now,
	}, nil
}

// MustNewSessionService constructs a new SessionService and panics on error.
func MustNewSessionService(opts SessionServiceOptions) *SessionService {
	svc, err := NewSessionService(opts)
	if err != nil {
		panic(err) //nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
	}
	return svc
}

// CreateSessionInput carries parameters for session issuance.
type CreateSessionInput struct {
	UserID string
	// ScopeNames nil binds the user's full effective set; non-nil requests an
	// explicit subset and fails with scope_not_granted when it exceeds the
	// user's effective scopes.
	ScopeNames []string
	// TTL zero uses the configured session lifetime.
	TTL       time.Duration
	Label     string
	Unbounded bool
}

// Create issues a new session for the user. Bound scopes are a snapshot of
// (a subset of) the user's effective scopes at creation time; unbounded
// sessions carry no snapshot and re-resolve on every authorization check.
func (s *SessionService) Create(ctx context.Context, in CreateSessionInput) (*model.Session, error) {
	if in.UserID == "" {
		return nil, apperrors.Validation("user id is required")
	}

	var bound []string
	if !in.Unbounded {
		effective, err := s.scopeGraph.EffectiveUserScopes(ctx, in.UserID)
		if err != nil {
			return nil, err
		}
		if in.ScopeNames == nil {
			bound = effective.Names()
		} else {
			requested := model.NewScopeSet(in.ScopeNames...)
			if !requested.SubsetOf(effective) {
				return nil, apperrors.ScopeNotGranted("requested scopes exceed the user's effective scopes")
			}
			if _, err := s.scopes.GetByNames(ctx, in.ScopeNames); err != nil {
				if errors.Is(err, data.ErrScopeNotFound) {
					return nil, apperrors.ScopeNotGranted("requested scope does not exist")
				}
				return nil, err
			}
			bound = requested.Names()
		}
	}

	token, err := generateToken(s.cfg.TokenLength)
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}

	ttl := in.TTL
	if ttl <= 0 {
		ttl = s.cfg.Lifetime
	}

	now := s.now()
	sess := &model.Session{
		UserID:    in.UserID,
		Token:     token,
		Label:     in.Label,
		Unbounded: in.Unbounded,
		Expires:   now.Add(ttl),
		Scopes:    bound,
	}

	created, err := s.sessions.Create(ctx, sess)
	if err != nil {
		return nil, err
	}
	s.cacheSave(ctx, *created)
	if s.metrics != nil {
		s.metrics.SessionsIssued.Inc()
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "session created",
			"session_id", created.ID, "user_id", created.UserID, "unbounded", created.Unbounded)
	}
	return created, nil
}

// Authenticate resolves an opaque token to a live session, updating its
// last-activity timestamp. When the session snapshot contains the configured
// update scope, the expiry slides forward to now + lifetime; sliding renewal
// is opt-in per session, never global.
func (s *SessionService) Authenticate(ctx context.Context, token string) (*model.Session, error) {
	if token == "" {
		return nil, apperrors.SessionExpired("session not found or expired")
	}

	sess, err := s.lookup(ctx, token)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if sess.Expired(now) {
		s.cacheDelete(ctx, token)
		return nil, apperrors.SessionExpired("session not found or expired")
	}

	if err := s.sessions.Touch(ctx, sess.ID, now); err != nil {
		return nil, err
	}
	sess.LastActivity = now

	if sess.HasScope(s.cfg.UpdateScope) {
		renewed := now.Add(s.cfg.Lifetime)
		if err := s.sessions.SetExpires(ctx, sess.ID, renewed); err != nil {
			return nil, err
		}
		sess.Expires = renewed
	}
	s.cacheSave(ctx, *sess)

	return sess, nil
}

// Authorize reports whether the session may perform an operation requiring
// the given scopes. For unbounded sessions the user's effective set is
// recomputed live; bounded sessions check their frozen snapshot.
func (s *SessionService) Authorize(ctx context.Context, sess *model.Session, requiredScopes []string) (bool, error) {
	if sess == nil {
		return false, nil
	}

	var granted model.ScopeSet
	if sess.Unbounded {
		var err error
		granted, err = s.scopeGraph.EffectiveUserScopes(ctx, sess.UserID)
		if err != nil {
			return false, err
		}
	} else {
		granted = model.NewScopeSet(sess.Scopes...)
	}

	return model.NewScopeSet(requiredScopes...).SubsetOf(granted), nil
}

// Revoke expires the session now. Idempotent: revoking an already-expired
// session is a no-op.
func (s *SessionService) Revoke(ctx context.Context, sess *model.Session) error {
	if sess == nil {
		return nil
	}
	now := s.now()
	if !sess.Expired(now) {
		if err := s.sessions.SetExpires(ctx, sess.ID, now); err != nil && !errors.Is(err, data.ErrSessionNotFound) {
			return err
		}
		sess.Expires = now
	}
	s.cacheDelete(ctx, sess.Token)
	if s.logger != nil {
		s.logger.InfoContext(ctx, "session revoked", "session_id", sess.ID)
	}
	return nil
}

// RevokeAll expires every live session of the user, optionally keeping the
// current one. Revoked tokens are purged from the cache so a cached hit can
// never outlive the revocation.
func (s *SessionService) RevokeAll(ctx context.Context, userID string, keep *model.Session) error {
	keepID := ""
	if keep != nil {
		keepID = keep.ID
	}
	tokens, err := s.sessions.RevokeAllForUser(ctx, userID, keepID, s.now())
	if err != nil {
		return err
	}
	for _, token := range tokens {
		s.cacheDelete(ctx, token)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "sessions revoked",
			"user_id", userID, "count", len(tokens), "kept", keepID != "")
	}
	return nil
}

// Refresh consumes a still-valid session and mints a replacement with a new
// token. The replacement inherits the old absolute expiry unless the old
// session carries the update scope, in which case it gets a fresh full
// window. Refresh without that scope never extends life beyond the original
// grant. Old and new swap atomically in one transaction.
func (s *SessionService) Refresh(ctx context.Context, oldToken string) (*model.Session, error) {
	old, err := s.lookup(ctx, oldToken)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if old.Expired(now) {
		s.cacheDelete(ctx, oldToken)
		return nil, apperrors.SessionExpired("session not found or expired")
	}

	token, err := generateToken(s.cfg.TokenLength)
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}

	expires := old.Expires
	if old.HasScope(s.cfg.UpdateScope) {
		expires = now.Add(s.cfg.Lifetime)
	}

	replacement := &model.Session{
		UserID:    old.UserID,
		Token:     token,
		Label:     old.Label,
		Unbounded: old.Unbounded,
		Expires:   expires,
		Scopes:    old.Scopes,
	}

	created, err := s.sessions.Rotate(ctx, old.ID, now, replacement)
	if err != nil {
		if errors.Is(err, data.ErrSessionNotFound) {
			// Lost the race against a concurrent refresh or revocation.
			return nil, apperrors.SessionExpired("session not found or expired")
		}
		return nil, err
	}

	s.cacheDelete(ctx, oldToken)
	s.cacheSave(ctx, *created)
	if s.metrics != nil {
		s.metrics.SessionsRefreshed.Inc()
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "session refreshed",
			"old_session_id", old.ID, "session_id", created.ID)
	}
	return created, nil
}

// lookup resolves a token via the cache, falling back to the repository.
func (s *SessionService) lookup(ctx context.Context, token string) (*model.Session, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, token)
		if err != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "session cache read failed", "error", err)
		}
		if cached != nil {
			return cached, nil
		}
	}

	sess, err := s.sessions.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, data.ErrSessionNotFound) {
			return nil, apperrors.SessionExpired("session not found or expired")
		}
		return nil, err
	}
	return sess, nil
}

func (s *SessionService) cacheSave(ctx context.Context, sess model.Session) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Save(ctx, sess); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "session cache write failed", "error", err)
	}
}

func (s *SessionService) cacheDelete(ctx context.Context, token string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, token); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "session cache delete failed", "error", err)
	}
}

// generateToken returns a cryptographically random string drawn from the
// unambiguous alphabet.
func generateToken(length int) (string, error) {
	out := make([]byte, length)
	max := big.NewInt(int64(len(tokenAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = tokenAlphabet[n.Int64()]
	}
	return string(out), nil
}
