package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ferrite-id/ferrite/config"
	"github.com/ferrite-id/ferrite/internal/adapters/devauth"
	"github.com/ferrite-id/ferrite/internal/adapters/oauth"
	"github.com/ferrite-id/ferrite/internal/adapters/outersync"
	"github.com/ferrite-id/ferrite/internal/adapters/password"
	redisadapter "github.com/ferrite-id/ferrite/internal/adapters/redis"
	"github.com/ferrite-id/ferrite/internal/core"
	"github.com/ferrite-id/ferrite/internal/data"
	"github.com/ferrite-id/ferrite/internal/observability/metrics"
	"github.com/ferrite-id/ferrite/internal/service"
)

// Services is the composed object graph the HTTP layer and the admin CLI
// run against.
type Services struct {
	Registry    *service.Registry
	Sessions    *service.SessionService
	Users       *service.UserService
	ScopeGraph  *service.ScopeGraphService
	Broadcaster *service.Broadcaster

	UserRepo       core.UserRepository
	CredentialRepo core.CredentialRepository
	GroupRepo      core.GroupRepository
	ScopeRepo      core.ScopeRepository
	SessionRepo    core.SessionRepository
	OptionRepo     core.OptionRepository

	Metrics *prometheus.Registry

	outerPool *pgxpool.Pool
}

// BuildServices composes repositories, services, and auth methods. Method
// installation is explicit here; the enablement allow-list then decides
// which installed methods are active.
func BuildServices(ctx context.Context, cfg config.AppConfig, db *sql.DB, redisClient goredis.UniversalClient, logger *slog.Logger) (*Services, error) {
	users := data.NewUserRepo(db)
	creds := data.NewCredentialRepo(db)
	groups := data.NewGroupRepo(db)
	scopes := data.NewScopeRepo(db)
	sessions := data.NewSessionRepo(db)
	options := data.NewOptionRepo(db)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	authMetrics := metrics.NewAuthMetrics(promReg)

	scopeGraph, err := service.NewScopeGraphService(service.ScopeGraphOptions{
		Groups: groups,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("scope graph: %w", err)
	}

	var cache service.SessionCache
	if redisClient != nil && cfg.Redis.SessionCacheEnabled {
		cache = redisadapter.NewSessionCache(redisClient)
	}

	sessionSvc, err := service.NewSessionService(service.SessionServiceOptions{
		Sessions:   sessions,
		Scopes:     scopes,
		ScopeGraph: scopeGraph,
		Config:     cfg.Auth.Session,
		Cache:      cache,
		Metrics:    authMetrics,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("session service: %w", err)
	}

	var publisher core.EventPublisher
	if redisClient != nil && cfg.Events.Enabled {
		publisher, err = redisadapter.NewEventPublisher(redisadapter.EventPublisherOptions{
			Client: redisClient,
			Prefix: cfg.Events.StreamPrefix,
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("event publisher: %w", err)
		}
	}

	broadcaster := service.NewBroadcaster(service.BroadcasterOptions{
		Metrics: authMetrics,
		Logger:  logger,
	})

	svcs := &Services{
		Sessions:       sessionSvc,
		ScopeGraph:     scopeGraph,
		Broadcaster:    broadcaster,
		UserRepo:       users,
		CredentialRepo: creds,
		GroupRepo:      groups,
		ScopeRepo:      scopes,
		SessionRepo:    sessions,
		OptionRepo:     options,
		Metrics:        promReg,
	}

	methods, err := svcs.buildMethods(ctx, cfg, broadcaster, publisher, authMetrics, logger)
	if err != nil {
		return nil, err
	}

	registry, err := service.NewRegistry(service.RegistryOptions{
		Methods:        methods,
		EnabledMethods: cfg.Auth.EnabledMethods,
		Credentials:    creds,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("auth registry: %w", err)
	}
	broadcaster.Bind(registry)
	svcs.Registry = registry

	userSvc, err := service.NewUserService(service.UserServiceOptions{
		Users:       users,
		Credentials: creds,
		Registry:    registry,
		Sessions:    sessionSvc,
		Notifier:    broadcaster,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("user service: %w", err)
	}
	svcs.Users = userSvc

	return svcs, nil
}

// buildMethods constructs every auth method the configuration calls for.
func (s *Services) buildMethods(ctx context.Context, cfg config.AppConfig, notifier core.UserUpdateNotifier, publisher core.EventPublisher, authMetrics *metrics.AuthMetrics, logger *slog.Logger) ([]core.AuthMethod, error) {
	passwordMethod, err := password.New(password.Options{
		Users:       s.UserRepo,
		Credentials: s.CredentialRepo,
		Groups:      s.GroupRepo,
		Dynamic:     s.OptionRepo,
		Sessions:    s.Sessions,
		Notifier:    notifier,
		Publisher:   publisher,
		Config:      cfg.Auth.Password,
		Metrics:     authMetrics,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("password method: %w", err)
	}
	methods := []core.AuthMethod{passwordMethod}

	if cfg.Auth.OAuth.ClientID != "" && cfg.Auth.OAuth.DiscoveryURL != "" {
		oauthMethod, err := oauth.New(ctx, oauth.Options{
			Users:       s.UserRepo,
			Credentials: s.CredentialRepo,
			Groups:      s.GroupRepo,
			Dynamic:     s.OptionRepo,
			Sessions:    s.Sessions,
			Notifier:    notifier,
			Publisher:   publisher,
			Config:      cfg.Auth.OAuth,
			Metrics:     authMetrics,
			Logger:      logger,
		})
		if err != nil {
			return nil, fmt.Errorf("oauth method: %w", err)
		}
		methods = append(methods, oauthMethod)
	}

	if cfg.Auth.OuterSync.MailAPIURL != "" {
		mailMethod, err := outersync.NewMailSync(outersync.MailSyncOptions{
			Credentials: s.CredentialRepo,
			Config:      cfg.Auth.OuterSync,
			Logger:      logger,
		})
		if err != nil {
			return nil, fmt.Errorf("mail_sync method: %w", err)
		}
		methods = append(methods, mailMethod)
	}

	if cfg.Auth.OuterSync.DBRoleDSN != "" {
		pool, err := ConnectOuterPool(ctx, cfg.Auth.OuterSync.DBRoleDSN, logger)
		if err != nil {
			return nil, fmt.Errorf("external cluster: %w", err)
		}
		s.outerPool = pool

		roleMethod, err := outersync.NewDBRoleSync(outersync.DBRoleSyncOptions{
			Credentials: s.CredentialRepo,
			Pool:        pool,
			Config:      cfg.Auth.OuterSync,
			Logger:      logger,
		})
		if err != nil {
			return nil, fmt.Errorf("db_role_sync method: %w", err)
		}
		methods = append(methods, roleMethod)
	}

	if cfg.IsDev {
		devMethod, err := devauth.New(devauth.Options{
			Users:    s.UserRepo,
			Sessions: s.Sessions,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("dev_login method: %w", err)
		}
		methods = append(methods, devMethod)
	}

	return methods, nil
}

// Close waits for in-flight broadcast hooks and releases external
// connections. The database and Redis handles belong to the caller.
func (s *Services) Close() {
	if s.Broadcaster != nil {
		s.Broadcaster.Wait()
	}
	if s.outerPool != nil {
		s.outerPool.Close()
	}
}
