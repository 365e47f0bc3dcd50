package httpx

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ferrite-id/ferrite/internal/core"
	"github.com/ferrite-id/ferrite/internal/service"
)

// Scope names the protected endpoints check for.
const (
	ScopeSessionUpdate = "auth.session.update"
	ScopeUserDelete    = "auth.user.delete"
	ScopeUserRead      = "auth.user.read"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Registry *service.Registry
	Sessions *service.SessionService
	Users    *service.UserService
	Scopes   core.ScopeRepository
	Issuer   string
	BaseURL  string
	JWKSFile string
	// Optional: Prometheus registry backing GET /metrics.
	Metrics *prometheus.Registry
	Logger  *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	auth := &AuthHandlers{
		Registry: services.Registry,
		Sessions: services.Sessions,
		Logger:   services.Logger,
	}
	oidc := &OIDCHandlers{
		Registry: services.Registry,
		Sessions: services.Sessions,
		Scopes:   services.Scopes,
		Issuer:   services.Issuer,
		BaseURL:  services.BaseURL,
		JWKSFile: services.JWKSFile,
		Logger:   services.Logger,
	}
	admin := &AdminHandlers{Users: services.Users, Logger: services.Logger}

	authed := func(h http.HandlerFunc, scopes ...string) http.Handler {
		mws := []func(http.Handler) http.Handler{RequireAuth(services.Sessions, services.Logger)}
		if len(scopes) > 0 {
			mws = append(mws, RequireScopes(services.Sessions, services.Logger, scopes...))
		}
		return Chain(h, mws...)
	}

	mux.HandleFunc("GET /auth/methods", auth.Methods)
	mux.HandleFunc("POST /auth/{method}/register", auth.Register)
	mux.HandleFunc("POST /auth/{method}/login", auth.Login)
	mux.HandleFunc("GET /auth/{method}/start", auth.OAuthStart)
	mux.HandleFunc("GET /auth/{method}/callback", auth.OAuthCallback)
	mux.Handle("DELETE /auth/{method}", authed(auth.Unregister))

	mux.HandleFunc("POST /auth/refresh", auth.Refresh)
	mux.Handle("POST /auth/sessions", authed(auth.CreateSession))
	mux.Handle("POST /auth/logout", authed(auth.Logout))
	mux.Handle("POST /auth/logout_all", authed(auth.LogoutAll))

	mux.HandleFunc("POST /auth/token", oidc.Token)
	mux.HandleFunc("GET /.well-known/openid-configuration", oidc.Discovery)
	mux.HandleFunc("GET /auth/jwks", oidc.JWKS)

	mux.Handle("GET /admin/users/{id}", authed(admin.GetUser, ScopeUserRead))
	mux.Handle("DELETE /admin/users/{id}", authed(admin.DeleteUser, ScopeUserDelete))

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))

	if services.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(services.Metrics, promhttp.HandlerOpts{}))
	}

	return mux
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
