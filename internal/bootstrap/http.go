package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ferrite-id/ferrite/config"
	httpx "github.com/ferrite-id/ferrite/internal/http"
)

// StartHTTPServer builds the router and starts serving in the background.
// Returns the server instance for graceful shutdown.
func StartHTTPServer(cfg config.AppConfig, svcs *Services, logger *slog.Logger) *http.Server {
	if logger == nil {
		logger = slog.Default()
	}

	router := httpx.NewRouter(httpx.RouterServices{
		Registry: svcs.Registry,
		Sessions: svcs.Sessions,
		Users:    svcs.Users,
		Scopes:   svcs.ScopeRepo,
		Issuer:   cfg.Auth.Issuer,
		BaseURL:  cfg.HTTP.BaseURL,
		JWKSFile: cfg.Auth.JWKSFile,
		Metrics:  svcs.Metrics,
		Logger:   logger,
	})

	// Order: Recover -> Logging -> Router
	handler := httpx.Recover(logger)(httpx.Logging(logger)(router))

	addr := cfg.HTTP.Addr
	if addr == "" {
		addr = ":8080"
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting HTTP server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
		}
	}()

	return server
}

// RunWithShutdown blocks until SIGINT/SIGTERM, then drains the HTTP server
// and waits for in-flight broadcast hooks before returning.
func RunWithShutdown(server *http.Server, svcs *Services, logger *slog.Logger) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	logger.Info("shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := server.Shutdown(ctx)

	// Broadcast hooks are detached from request contexts; give them the
	// same drain window before closing external connections.
	svcs.Close()

	return err
}
