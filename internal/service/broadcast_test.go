package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferrite-id/ferrite/internal/core"
	"github.com/ferrite-id/ferrite/internal/domain/model"
	authmocks "github.com/ferrite-id/ferrite/internal/mocks/auth"
	"github.com/ferrite-id/ferrite/internal/testutil"
)

func newBoundBroadcaster(t *testing.T, methods ...core.AuthMethod) *Broadcaster {
	t.Helper()
	reg, err := NewRegistry(RegistryOptions{
		Methods:     methods,
		Credentials: authmocks.NewMemCredentialRepo(),
		Logger:      testutil.DiscardLogger(),
	})
	require.NoError(t, err)
	b := NewBroadcaster(BroadcasterOptions{Logger: testutil.DiscardLogger()})
	b.Bind(reg)
	return b
}

func TestBroadcaster_ExcludesOrigin(t *testing.T) {
	t.Parallel()
	alpha := &authmocks.AlphaHook{}
	beta := &authmocks.BetaHook{}
	gamma := &authmocks.GammaHook{}
	b := newBoundBroadcaster(t, alpha, beta, gamma)

	diff := &model.UserDiff{UserID: "user-1"}
	diff.SetParam("password", "email", "a@example.com")

	b.Notify(testutil.Ctx(), "alpha_hook", diff, nil)
	b.Wait()

	assert.Empty(t, alpha.Deliveries(), "the originator must not hear its own update")
	require.Len(t, beta.Deliveries(), 1)
	require.Len(t, gamma.Deliveries(), 1)

	got := beta.Deliveries()[0]
	assert.Equal(t, "user-1", got.NewDiff.UserID)
	v, ok := got.NewDiff.Param("password", "email")
	assert.True(t, ok)
	assert.Equal(t, "a@example.com", v)
	assert.Nil(t, got.OldDiff)
}

func TestBroadcaster_EmptyOriginReachesEveryone(t *testing.T) {
	t.Parallel()
	alpha := &authmocks.AlphaHook{}
	beta := &authmocks.BetaHook{}
	b := newBoundBroadcaster(t, alpha, beta)

	b.Notify(testutil.Ctx(), "", nil, &model.UserDiff{UserID: "user-1"})
	b.Wait()

	assert.Len(t, alpha.Deliveries(), 1)
	assert.Len(t, beta.Deliveries(), 1)
}

func TestBroadcaster_FailingHookDoesNotBlockOthers(t *testing.T) {
	t.Parallel()
	broken := &authmocks.AlphaHook{}
	broken.Err = errors.New("remote down")
	healthy := &authmocks.BetaHook{}
	b := newBoundBroadcaster(t, broken, healthy)

	b.Notify(testutil.Ctx(), "", &model.UserDiff{UserID: "user-1"}, nil)
	b.Wait()

	assert.Len(t, broken.Deliveries(), 1)
	assert.Len(t, healthy.Deliveries(), 1)
}

func TestBroadcaster_PanickingHookIsContained(t *testing.T) {
	t.Parallel()
	bomb := &authmocks.AlphaHook{}
	bomb.PanicMsg = "boom"
	healthy := &authmocks.BetaHook{}
	b := newBoundBroadcaster(t, bomb, healthy)

	require.NotPanics(t, func() {
		b.Notify(testutil.Ctx(), "", &model.UserDiff{UserID: "user-1"}, nil)
		b.Wait()
	})
	assert.Len(t, healthy.Deliveries(), 1)
}

func TestBroadcaster_DetachedFromCallerCancellation(t *testing.T) {
	t.Parallel()
	hook := &authmocks.AlphaHook{}
	b := newBoundBroadcaster(t, hook)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.Notify(ctx, "", &model.UserDiff{UserID: "user-1"}, nil)
	b.Wait()

	assert.Len(t, hook.Deliveries(), 1, "delivery must survive caller cancellation")
}

func TestBroadcaster_UnboundRegistryIsSafe(t *testing.T) {
	t.Parallel()
	b := NewBroadcaster(BroadcasterOptions{Logger: testutil.DiscardLogger()})
	require.NotPanics(t, func() {
		b.Notify(testutil.Ctx(), "", &model.UserDiff{UserID: "user-1"}, nil)
		b.Wait()
	})
}
