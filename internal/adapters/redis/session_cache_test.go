package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferrite-id/ferrite/internal/testutil"
)

func TestSessionCache_SaveGetDelete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client := testutil.SetupTestRedis(t)
	cache := NewSessionCache(client)
	ctx := context.Background()

	t.Run("save and get", func(t *testing.T) {
		sess := testutil.NewSession().
			WithToken("cache-token-1").
			WithScopes("crm.read", "crm.write").
			Build()

		require.NoError(t, cache.Save(ctx, *sess))

		got, err := cache.Get(ctx, "cache-token-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, sess.ID, got.ID)
		assert.Equal(t, sess.UserID, got.UserID)
		assert.Equal(t, sess.Token, got.Token)
		assert.Equal(t, sess.Scopes, got.Scopes)

		// The redis TTL tracks the session expiry.
		ttl := client.TTL(ctx, "session:cache-token-1").Val()
		assert.True(t, ttl > 0 && ttl <= time.Hour)
	})

	t.Run("miss returns nil, nil", func(t *testing.T) {
		got, err := cache.Get(ctx, "no-such-token")
		require.NoError(t, err)
		assert.Nil(t, got)

		got, err = cache.Get(ctx, "")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("expired sessions are refused", func(t *testing.T) {
		sess := testutil.NewSession().WithToken("cache-token-2").Expired().Build()
		err := cache.Save(ctx, *sess)
		require.Error(t, err)
	})

	t.Run("empty token is refused", func(t *testing.T) {
		sess := testutil.NewSession().WithToken("").Build()
		require.Error(t, cache.Save(ctx, *sess))
	})

	t.Run("delete", func(t *testing.T) {
		sess := testutil.NewSession().WithToken("cache-token-3").Build()
		require.NoError(t, cache.Save(ctx, *sess))
		require.NoError(t, cache.Delete(ctx, "cache-token-3"))

		got, err := cache.Get(ctx, "cache-token-3")
		require.NoError(t, err)
		assert.Nil(t, got)

		// Deleting an absent or empty token is a no-op.
		require.NoError(t, cache.Delete(ctx, "cache-token-3"))
		require.NoError(t, cache.Delete(ctx, ""))
	})

	t.Run("custom prefix", func(t *testing.T) {
		scoped := NewSessionCacheWithPrefix(client, "ferrite:sess:")
		sess := testutil.NewSession().WithToken("cache-token-4").Build()
		require.NoError(t, scoped.Save(ctx, *sess))

		exists := client.Exists(ctx, "ferrite:sess:cache-token-4").Val()
		assert.Equal(t, int64(1), exists)
	})
}

func TestEventPublisher_Publish(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client := testutil.SetupTestRedis(t)
	ctx := context.Background()

	_, err := NewEventPublisher(EventPublisherOptions{})
	require.Error(t, err, "a client is required")

	pub, err := NewEventPublisher(EventPublisherOptions{
		Client: client,
		Prefix: "ferrite.",
		MaxLen: 100,
		Logger: testutil.DiscardLogger(),
	})
	require.NoError(t, err)

	require.NoError(t, pub.Publish(ctx, "user.registered", "user-1", map[string]string{
		"user_id": "user-1",
		"method":  "password",
	}))

	entries, err := client.XRange(ctx, "ferrite.user.registered", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "user-1", entries[0].Values["key"])
	assert.Contains(t, entries[0].Values["payload"], `"method":"password"`)

	// Unencodable payloads fail before touching the stream.
	err = pub.Publish(ctx, "user.registered", "user-1", make(chan int))
	require.Error(t, err)
}
