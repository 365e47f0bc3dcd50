// Package testutil provides testing utilities and helpers for the identity
// service.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ferrite-id/ferrite/internal/domain/model"
)

// DiscardLogger returns a logger whose output is dropped, for wiring
// services whose log lines are irrelevant to the assertion.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// FixedClock returns a deterministic Now func pinned to the given instant.
func FixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

// Ctx is a plain background context, named for readability in table tests.
func Ctx() context.Context {
	return context.Background()
}

// SetupTestRedis returns a client against a throwaway Redis DB, skipping
// the test when no server is reachable. REDIS_ADDR overrides the address;
// TEST_REQUIRE_REDIS turns the skip into a failure for CI.
func SetupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		if os.Getenv("TEST_REQUIRE_REDIS") != "" {
			t.Fatalf("Redis not available for testing at %s: %v", addr, err)
		}
		t.Skipf("Redis not available for testing at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := client.FlushDB(flushCtx).Err(); err != nil {
			t.Logf("warning: failed to flush test redis db: %v", err)
		}
		flushCancel()
		if err := client.Close(); err != nil {
			t.Logf("warning: failed to close test redis client: %v", err)
		}
	})
	return client
}

// SessionBuilder provides a fluent interface for building sessions.
type SessionBuilder struct {
	sess model.Session
}

// NewSession creates a SessionBuilder with sensible defaults: a fresh token,
// a one-hour window, and no scopes.
func NewSession() *SessionBuilder {
	now := time.Now()
	return &SessionBuilder{sess: model.Session{
		ID:           uuid.NewString(),
		UserID:       uuid.NewString(),
		Token:        uuid.NewString(),
		CreatedAt:    now,
		Expires:      now.Add(time.Hour),
		LastActivity: now,
	}}
}

// WithUser sets the owning user.
func (b *SessionBuilder) WithUser(userID string) *SessionBuilder {
	b.sess.UserID = userID
	return b
}

// WithToken sets the opaque token.
func (b *SessionBuilder) WithToken(token string) *SessionBuilder {
	b.sess.Token = token
	return b
}

// WithScopes sets the bound scope snapshot.
func (b *SessionBuilder) WithScopes(scopes ...string) *SessionBuilder {
	b.sess.Scopes = scopes
	return b
}

// WithExpires sets the absolute expiry.
func (b *SessionBuilder) WithExpires(at time.Time) *SessionBuilder {
	b.sess.Expires = at
	return b
}

// Unbounded marks the session unbounded.
func (b *SessionBuilder) Unbounded() *SessionBuilder {
	b.sess.Unbounded = true
	return b
}

// Expired moves the expiry into the past.
func (b *SessionBuilder) Expired() *SessionBuilder {
	b.sess.Expires = time.Now().Add(-time.Minute)
	return b
}

// Build returns a copy of the assembled session.
func (b *SessionBuilder) Build() *model.Session {
	cp := b.sess
	cp.Scopes = append([]string(nil), b.sess.Scopes...)
	return &cp
}
