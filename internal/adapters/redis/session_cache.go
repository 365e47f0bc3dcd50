// Package redis provides the Redis-backed session cache and event stream
// publisher.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ferrite-id/ferrite/internal/domain/model"
)

// SessionCache caches live sessions by token in front of the sessions table.
// It handles TTL semantics automatically based on session Expires.
type SessionCache struct {
	client redis.UniversalClient
	prefix string
}

// NewSessionCache creates a Redis session cache with the default key prefix.
func NewSessionCache(client redis.UniversalClient) *SessionCache {
	return &SessionCache{client: client, prefix: "session:"}
}

// NewSessionCacheWithPrefix creates a Redis session cache with a custom key prefix.
func NewSessionCacheWithPrefix(client redis.UniversalClient, prefix string) *SessionCache {
	return &SessionCache{client: client, prefix: prefix}
}

func (s *SessionCache) Save(ctx context.Context, sess model.Session) error {
	if sess.Token == "" {
		return errors.New("session token cannot be empty")
	}

	ttl := time.Until(sess.Expires)
	if ttl <= 0 {
		// Already expired, don't cache it
		return errors.New("session is expired")
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	return s.client.Set(ctx, s.prefix+sess.Token, data, ttl).Err()
}

// Get returns nil with no error on a cache miss so the caller falls through
// to the repository.
func (s *SessionCache) Get(ctx context.Context, token string) (*model.Session, error) {
	if token == "" {
		return nil, nil
	}

	data, err := s.client.Get(ctx, s.prefix+token).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var sess model.Session
	if unmarshalErr := json.Unmarshal([]byte(data), &sess); unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal session: %w", unmarshalErr)
	}

	// Double-check expiration (Redis TTL should handle this, but be defensive)
	if time.Now().After(sess.Expires) {
		if deleteErr := s.Delete(ctx, token); deleteErr != nil {
			return nil, fmt.Errorf("cleanup expired session: %w", deleteErr)
		}
		return nil, nil
	}

	return &sess, nil
}

func (s *SessionCache) Delete(ctx context.Context, token string) error {
	if token == "" {
		return nil // Nothing to delete
	}
	return s.client.Del(ctx, s.prefix+token).Err()
}
