package httpx

import (
	"context"

	"github.com/ferrite-id/ferrite/internal/domain/model"
)

type contextKey string

const sessionContextKey contextKey = "session"

// SetSessionInContext stores the authenticated session in the request context.
func SetSessionInContext(ctx context.Context, sess *model.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, sess)
}

// GetSessionFromContext returns the authenticated session, or nil when the
// request was not authenticated.
func GetSessionFromContext(ctx context.Context) *model.Session {
	sess, _ := ctx.Value(sessionContextKey).(*model.Session)
	return sess
}
