package password

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ferrite-id/ferrite/internal/errors"

	"github.com/ferrite-id/ferrite/config"
	"github.com/ferrite-id/ferrite/internal/core"
	"github.com/ferrite-id/ferrite/internal/data"
	"github.com/ferrite-id/ferrite/internal/domain/model"
	authmocks "github.com/ferrite-id/ferrite/internal/mocks/auth"
	"github.com/ferrite-id/ferrite/internal/service"
	"github.com/ferrite-id/ferrite/internal/testutil"
)

type fixture struct {
	users     *authmocks.MemUserRepo
	creds     *authmocks.MemCredentialRepo
	groups    *authmocks.MemGroupRepo
	dynamic   *authmocks.MemOptionRepo
	notifier  *authmocks.CaptureNotifier
	publisher *authmocks.CaptureEventPublisher
	method    *Password
	now       time.Time
}

func newFixture(t *testing.T, cfg config.PasswordConfig) *fixture {
	t.Helper()
	scopes := authmocks.NewMemScopeRepo()
	groups := authmocks.NewMemGroupRepo(scopes)
	graph, err := service.NewScopeGraphService(service.ScopeGraphOptions{Groups: groups})
	require.NoError(t, err)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sessions, err := service.NewSessionService(service.SessionServiceOptions{
		Sessions:   authmocks.NewMemSessionRepo(),
		Scopes:     scopes,
		ScopeGraph: graph,
		Config:     config.SessionConfig{TokenLength: 32, Lifetime: time.Hour},
		Now:        testutil.FixedClock(now),
	})
	require.NoError(t, err)

	f := &fixture{
		users:     authmocks.NewMemUserRepo(),
		creds:     authmocks.NewMemCredentialRepo(),
		groups:    groups,
		dynamic:   authmocks.NewMemOptionRepo(),
		notifier:  &authmocks.CaptureNotifier{},
		publisher: &authmocks.CaptureEventPublisher{},
		now:       now,
	}
	if cfg.MinLength == 0 {
		cfg.MinLength = 8
	}
	if cfg.ResetTokenTTL == 0 {
		cfg.ResetTokenTTL = time.Hour
	}
	f.method, err = New(Options{
		Users:       f.users,
		Credentials: f.creds,
		Groups:      groups,
		Dynamic:     f.dynamic,
		Sessions:    sessions,
		Notifier:    f.notifier,
		Publisher:   f.publisher,
		Config:      cfg,
		Logger:      testutil.DiscardLogger(),
		Now:         testutil.FixedClock(now),
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) register(t *testing.T, email, password string) *model.Session {
	t.Helper()
	sess, err := f.method.Register(testutil.Ctx(), core.RegisterInput{
		Params: map[string]string{"email": email, "password": password},
	})
	require.NoError(t, err)
	return sess
}

func TestNew_RequiredDependencies(t *testing.T) {
	t.Parallel()

	m, err := New(Options{})
	require.Error(t, err)
	assert.Nil(t, m)
	assert.Contains(t, err.Error(), "UserRepository is required")
}

func TestMethodName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "password", core.MethodName(&Password{}))
}

func TestRegisterThenLogin(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.PasswordConfig{})
	ctx := testutil.Ctx()

	sess := f.register(t, "Jane.Doe@Example.com", "correct horse battery")
	require.NotNil(t, sess)
	assert.NotEmpty(t, sess.Token)

	// The address is normalized, so case differences still log in.
	got, err := f.method.Login(ctx, core.LoginInput{
		Params: map[string]string{"email": "jane.doe@example.com", "password": "correct horse battery"},
	})
	require.NoError(t, err)
	assert.Equal(t, sess.UserID, got.UserID)
	assert.NotEqual(t, sess.Token, got.Token)

	// Only a hash is stored.
	row, err := f.creds.Get(ctx, sess.UserID, "password", model.ParamPasswordHash)
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse battery", row.Value)
	assert.True(t, len(row.Value) > 20)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.PasswordConfig{})

	f.register(t, "jane@example.com", "correct horse battery")
	_, err := f.method.Register(testutil.Ctx(), core.RegisterInput{
		Params: map[string]string{"email": "JANE@example.com", "password": "another password"},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsAlreadyExists(err))
}

// raceWindowCreds reports a miss on the next identity lookups even though the
// row exists, recreating two registrations overlapping between the lookup and
// the insert.
type raceWindowCreds struct {
	*authmocks.MemCredentialRepo
	misses int
}

func (r *raceWindowCreds) FindUserID(ctx context.Context, method, key, value string) (string, error) {
	if r.misses > 0 {
		r.misses--
		return "", data.ErrCredentialNotFound
	}
	return r.MemCredentialRepo.FindUserID(ctx, method, key, value)
}

func TestRegisterConcurrentDuplicateEmail(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.PasswordConfig{})

	f.register(t, "jane@example.com", "correct horse battery")

	// The winner's row landed between this registration's existence check
	// and its insert. The identity index must still reject the duplicate.
	f.method.creds = &raceWindowCreds{MemCredentialRepo: f.creds, misses: 1}
	_, err := f.method.Register(testutil.Ctx(), core.RegisterInput{
		Params: map[string]string{"email": "jane@example.com", "password": "another password"},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsAlreadyExists(err))
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.PasswordConfig{})

	tests := []struct {
		name     string
		email    string
		password string
		field    string
	}{
		{name: "bad email", email: "not-an-address", password: "long enough pw", field: "email"},
		{name: "short password", email: "a@example.com", password: "short", field: "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.method.Register(testutil.Ctx(), core.RegisterInput{
				Params: map[string]string{"email": tt.email, "password": tt.password},
			})
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err))
			assert.Equal(t, tt.field, apperrors.GetField(err))
		})
	}
}

func TestRegisterEmailDomainAllowList(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.PasswordConfig{AllowedEmailDomains: []string{"corp.example.com"}})

	f.register(t, "jane@corp.example.com", "correct horse battery")

	_, err := f.method.Register(testutil.Ctx(), core.RegisterInput{
		Params: map[string]string{"email": "eve@elsewhere.com", "password": "correct horse battery"},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Equal(t, "email", apperrors.GetField(err))
}

func TestRegisterJoinsDefaultGroup(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.PasswordConfig{})
	ctx := testutil.Ctx()

	g, err := f.groups.Create(ctx, model.CreateGroupRequest{Name: "users"})
	require.NoError(t, err)
	require.NoError(t, f.dynamic.SetString(ctx, model.OptionDefaultGroupID, g.ID))

	sess := f.register(t, "jane@example.com", "correct horse battery")

	memberOf, err := f.groups.MemberGroupIDs(ctx, sess.UserID)
	require.NoError(t, err)
	assert.Equal(t, []string{g.ID}, memberOf)
}

func TestRegisterLinksToExistingSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.PasswordConfig{})
	ctx := testutil.Ctx()

	u, err := f.users.Create(ctx)
	require.NoError(t, err)
	current := &model.Session{ID: "s1", UserID: u.ID, Token: "tok", Expires: f.now.Add(time.Hour)}

	got, err := f.method.Register(ctx, core.RegisterInput{
		Session: current,
		Params:  map[string]string{"email": "jane@example.com", "password": "correct horse battery"},
	})
	require.NoError(t, err)
	assert.Same(t, current, got, "linking keeps the caller's session")

	// Linking did not create a second user.
	userID, err := f.creds.FindUserID(ctx, "password", model.ParamEmail, "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, userID)
}

func TestRegisterDiffCarriesPlaintextOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.PasswordConfig{})

	f.register(t, "jane@example.com", "correct horse battery")

	require.Equal(t, 1, f.notifier.Len())
	call := f.notifier.Calls[0]
	assert.Equal(t, "password", call.Origin)
	assert.Nil(t, call.OldDiff, "fresh registration has no before-state")

	v, ok := call.NewDiff.Param("password", "password")
	assert.True(t, ok)
	assert.Equal(t, "correct horse battery", v)
	v, ok = call.NewDiff.Param("password", "email")
	assert.True(t, ok)
	assert.Equal(t, "jane@example.com", v)
}

func TestRegisterPublishesEvent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.PasswordConfig{})

	sess := f.register(t, "jane@example.com", "correct horse battery")

	require.Len(t, f.publisher.Events, 1)
	assert.Equal(t, EventTopicRegistered, f.publisher.Events[0].Topic)
	assert.Equal(t, sess.UserID, f.publisher.Events[0].Key)
}

func TestLoginUniformFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.PasswordConfig{})
	f.register(t, "jane@example.com", "correct horse battery")

	tests := []struct {
		name   string
		params map[string]string
	}{
		{name: "unknown email", params: map[string]string{"email": "nobody@example.com", "password": "whatever"}},
		{name: "wrong password", params: map[string]string{"email": "jane@example.com", "password": "wrong"}},
		{name: "malformed email", params: map[string]string{"email": ":::", "password": "whatever"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.method.Login(testutil.Ctx(), core.LoginInput{Params: tt.params})
			require.Error(t, err)
			assert.True(t, apperrors.IsAuthFailed(err))
			assert.Equal(t, "invalid email or password", apperrors.GetMessage(err))
		})
	}
}

func TestChangePassword(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.PasswordConfig{})
	ctx := testutil.Ctx()
	sess := f.register(t, "jane@example.com", "correct horse battery")

	require.NoError(t, f.method.ChangePassword(ctx, sess.UserID, "new password here"))

	_, err := f.method.Login(ctx, core.LoginInput{
		Params: map[string]string{"email": "jane@example.com", "password": "correct horse battery"},
	})
	assert.True(t, apperrors.IsAuthFailed(err))

	_, err = f.method.Login(ctx, core.LoginInput{
		Params: map[string]string{"email": "jane@example.com", "password": "new password here"},
	})
	require.NoError(t, err)

	// The diff forwards the new plaintext for mirroring.
	last := f.notifier.Calls[f.notifier.Len()-1]
	v, ok := last.NewDiff.Param("password", "password")
	assert.True(t, ok)
	assert.Equal(t, "new password here", v)

	err = f.method.ChangePassword(ctx, "nobody", "new password here")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestResetFlow(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.PasswordConfig{})
	ctx := testutil.Ctx()
	f.register(t, "jane@example.com", "correct horse battery")

	token, err := f.method.CreateResetToken(ctx, "jane@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	require.NoError(t, f.method.ResetPassword(ctx, token, "brand new password"))

	_, err = f.method.Login(ctx, core.LoginInput{
		Params: map[string]string{"email": "jane@example.com", "password": "brand new password"},
	})
	require.NoError(t, err)

	// Tokens are single use.
	err = f.method.ResetPassword(ctx, token, "yet another password")
	require.Error(t, err)
	assert.True(t, apperrors.IsAuthFailed(err))
}

func TestResetTokenExpiry(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.PasswordConfig{ResetTokenTTL: time.Minute})
	ctx := testutil.Ctx()
	f.register(t, "jane@example.com", "correct horse battery")

	token, err := f.method.CreateResetToken(ctx, "jane@example.com")
	require.NoError(t, err)

	f.method.now = testutil.FixedClock(f.now.Add(2 * time.Minute))
	err = f.method.ResetPassword(ctx, token, "brand new password")
	require.Error(t, err)
	assert.True(t, apperrors.IsAuthFailed(err))
}

func TestCreateResetTokenUnknownEmail(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.PasswordConfig{})

	_, err := f.method.CreateResetToken(testutil.Ctx(), "nobody@example.com")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestUnregisterSoftDeletesAndNotifies(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.PasswordConfig{})
	ctx := testutil.Ctx()
	sess := f.register(t, "jane@example.com", "correct horse battery")

	require.NoError(t, f.method.Unregister(ctx, sess.UserID))

	linked, err := f.creds.ListMethods(ctx, sess.UserID)
	require.NoError(t, err)
	assert.Empty(t, linked)

	last := f.notifier.Calls[f.notifier.Len()-1]
	assert.Equal(t, "password", last.Origin)
	require.NotNil(t, last.NewDiff)
	_, ok := last.NewDiff.Param("password", "password")
	assert.False(t, ok, "unlink diff carries no parameters")
}
