package outersync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ferrite-id/ferrite/internal/errors"

	"github.com/ferrite-id/ferrite/config"
	"github.com/ferrite-id/ferrite/internal/domain/model"
	authmocks "github.com/ferrite-id/ferrite/internal/mocks/auth"
	"github.com/ferrite-id/ferrite/internal/testutil"
)

// fakeBackend is an in-memory external system with per-call failure
// injection for exercising the retry policy.
type fakeBackend struct {
	mu        sync.Mutex
	accounts  map[string]string
	failNext  int
	failWith  error
	callCount int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{accounts: make(map[string]string)}
}

func (b *fakeBackend) failing(n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext = n
	b.failWith = err
}

func (b *fakeBackend) fail() error {
	if b.failNext > 0 {
		b.failNext--
		return b.failWith
	}
	return nil
}

func (b *fakeBackend) UserExists(_ context.Context, username string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callCount++
	if err := b.fail(); err != nil {
		return false, err
	}
	_, ok := b.accounts[username]
	return ok, nil
}

func (b *fakeBackend) CreateExternalUser(_ context.Context, username, password string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callCount++
	if err := b.fail(); err != nil {
		return err
	}
	b.accounts[username] = password
	return nil
}

func (b *fakeBackend) DeleteExternalUser(_ context.Context, username string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callCount++
	if err := b.fail(); err != nil {
		return err
	}
	delete(b.accounts, username)
	return nil
}

func (b *fakeBackend) UpdateExternalPassword(_ context.Context, username, password string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callCount++
	if err := b.fail(); err != nil {
		return err
	}
	b.accounts[username] = password
	return nil
}

func (b *fakeBackend) password(username string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.accounts[username]
	return p, ok
}

func testConfig() config.OuterSyncConfig {
	return config.OuterSyncConfig{
		PasswordPath:     "params.password.password",
		CallTimeout:      time.Second,
		RetryMaxAttempts: 3,
		RetryMaxElapsed:  10 * time.Second,
	}
}

type mirrorFixture struct {
	backend *fakeBackend
	creds   *authmocks.MemCredentialRepo
	mirror  *mirror
}

func newMirrorFixture(t *testing.T) *mirrorFixture {
	t.Helper()
	backend := newFakeBackend()
	creds := authmocks.NewMemCredentialRepo()
	mir, err := newMirror(mirrorOptions{
		Name:        "mail_sync",
		Backend:     backend,
		Credentials: creds,
		Config:      testConfig(),
		Username:    func(email string) string { return email },
		Logger:      testutil.DiscardLogger(),
	})
	require.NoError(t, err)
	return &mirrorFixture{backend: backend, creds: creds, mirror: mir}
}

func passwordDiff(userID, email, password string) *model.UserDiff {
	d := &model.UserDiff{UserID: userID}
	if email != "" {
		d.SetParam("password", "email", email)
	}
	if password != "" {
		d.SetParam("password", "password", password)
	}
	return d
}

func TestNewMirror_Validation(t *testing.T) {
	t.Parallel()
	creds := authmocks.NewMemCredentialRepo()

	tests := []struct {
		name string
		opts mirrorOptions
		want string
	}{
		{name: "missing name", opts: mirrorOptions{}, want: "method name is required"},
		{name: "missing backend", opts: mirrorOptions{Name: "m"}, want: "backend is required"},
		{
			name: "missing credentials",
			opts: mirrorOptions{Name: "m", Backend: newFakeBackend()},
			want: "CredentialRepository is required",
		},
		{
			name: "missing username derivation",
			opts: mirrorOptions{Name: "m", Backend: newFakeBackend(), Credentials: creds},
			want: "username derivation is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newMirror(tt.opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	// An invalid password expression is refused at construction time.
	bad := testConfig()
	bad.PasswordPath = "params.["
	_, err := newMirror(mirrorOptions{
		Name:        "m",
		Backend:     newFakeBackend(),
		Credentials: creds,
		Config:      bad,
		Username:    func(string) string { return "" },
	})
	require.Error(t, err)
}

func TestMirror_CreatesExternalAccountOnFirstContact(t *testing.T) {
	t.Parallel()
	f := newMirrorFixture(t)
	ctx := testutil.Ctx()

	err := f.mirror.OnUserUpdate(ctx, passwordDiff("user-1", "jane@example.com", "s3cret"), nil)
	require.NoError(t, err)

	got, ok := f.backend.password("jane@example.com")
	assert.True(t, ok)
	assert.Equal(t, "s3cret", got)

	// The derived username is persisted as the method's credential row.
	row, err := f.creds.Get(ctx, "user-1", "mail_sync", model.ParamOuterUsername)
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", row.Value)
}

func TestMirror_UpdatesExistingAccount(t *testing.T) {
	t.Parallel()
	f := newMirrorFixture(t)
	ctx := testutil.Ctx()

	require.NoError(t, f.mirror.OnUserUpdate(ctx, passwordDiff("user-1", "jane@example.com", "old"), nil))
	require.NoError(t, f.mirror.OnUserUpdate(ctx, passwordDiff("user-1", "", "new"), nil))

	got, _ := f.backend.password("jane@example.com")
	assert.Equal(t, "new", got)
}

func TestMirror_IgnoresDiffsWithoutPassword(t *testing.T) {
	t.Parallel()
	f := newMirrorFixture(t)

	diff := &model.UserDiff{UserID: "user-1"}
	diff.SetParam("oauth", "subject", "abc")

	require.NoError(t, f.mirror.OnUserUpdate(testutil.Ctx(), diff, nil))
	assert.Equal(t, 0, f.backend.callCount)
}

func TestMirror_SkipsWhenNoEmailIsKnown(t *testing.T) {
	t.Parallel()
	f := newMirrorFixture(t)

	// Password present but nothing to derive a username from, anywhere.
	diff := &model.UserDiff{UserID: "user-1"}
	diff.SetParam("password", "password", "s3cret")

	require.NoError(t, f.mirror.OnUserUpdate(testutil.Ctx(), diff, nil))
	assert.Equal(t, 0, f.backend.callCount)
}

func TestMirror_FallsBackToStoredEmail(t *testing.T) {
	t.Parallel()
	f := newMirrorFixture(t)
	ctx := testutil.Ctx()

	// The email lives in the credential store, not in this diff.
	_, err := f.creds.Set(ctx, model.SetCredentialParam{
		UserID: "user-1", Method: "password", Key: model.ParamEmail, Value: "jane@example.com",
	})
	require.NoError(t, err)

	diff := &model.UserDiff{UserID: "user-1"}
	diff.SetParam("password", "password", "s3cret")
	require.NoError(t, f.mirror.OnUserUpdate(ctx, diff, nil))

	_, ok := f.backend.password("jane@example.com")
	assert.True(t, ok)
}

func TestMirror_DeleteOnNilAfterDiff(t *testing.T) {
	t.Parallel()
	f := newMirrorFixture(t)
	ctx := testutil.Ctx()

	require.NoError(t, f.mirror.OnUserUpdate(ctx, passwordDiff("user-1", "jane@example.com", "s3cret"), nil))

	// The deletion path reads the username captured in the before-diff.
	oldDiff := &model.UserDiff{UserID: "user-1"}
	oldDiff.SetParam("mail_sync", model.ParamOuterUsername, "jane@example.com")
	require.NoError(t, f.mirror.OnUserUpdate(ctx, nil, oldDiff))

	_, ok := f.backend.password("jane@example.com")
	assert.False(t, ok)
}

func TestMirror_DeleteFallsBackToCredentialRow(t *testing.T) {
	t.Parallel()
	f := newMirrorFixture(t)
	ctx := testutil.Ctx()

	require.NoError(t, f.mirror.OnUserUpdate(ctx, passwordDiff("user-1", "jane@example.com", "s3cret"), nil))
	require.NoError(t, f.mirror.OnUserUpdate(ctx, nil, &model.UserDiff{UserID: "user-1"}))

	_, ok := f.backend.password("jane@example.com")
	assert.False(t, ok)
}

func TestMirror_DeleteToleratesUnlinkedUser(t *testing.T) {
	t.Parallel()
	f := newMirrorFixture(t)

	require.NoError(t, f.mirror.OnUserUpdate(testutil.Ctx(), nil, &model.UserDiff{UserID: "stranger"}))
	require.NoError(t, f.mirror.OnUserUpdate(testutil.Ctx(), nil, nil))
	assert.Equal(t, 0, f.backend.callCount)
}

func TestMirror_RetriesCommunicationFailures(t *testing.T) {
	t.Parallel()
	f := newMirrorFixture(t)

	f.backend.failing(2, apperrors.OuterSyncComm("connection refused"))
	err := f.mirror.OnUserUpdate(testutil.Ctx(), passwordDiff("user-1", "jane@example.com", "s3cret"), nil)
	require.NoError(t, err, "transient failures within the retry budget succeed")
	_, ok := f.backend.password("jane@example.com")
	assert.True(t, ok)
}

func TestMirror_GivesUpAfterRetryBudget(t *testing.T) {
	t.Parallel()
	f := newMirrorFixture(t)

	f.backend.failing(10, apperrors.OuterSyncComm("connection refused"))
	err := f.mirror.OnUserUpdate(testutil.Ctx(), passwordDiff("user-1", "jane@example.com", "s3cret"), nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsOuterSyncComm(err))
}

func TestMirror_NonCommunicationErrorsAbortImmediately(t *testing.T) {
	t.Parallel()
	f := newMirrorFixture(t)

	f.backend.failing(10, errors.New("malformed request"))
	err := f.mirror.OnUserUpdate(testutil.Ctx(), passwordDiff("user-1", "jane@example.com", "s3cret"), nil)
	require.Error(t, err)
	assert.Equal(t, 1, f.backend.callCount, "permanent errors are not retried")
}

func TestRoleNameFromEmail(t *testing.T) {
	t.Parallel()

	tests := []struct {
		email string
		want  string
	}{
		{email: "jane@example.com", want: "jane"},
		{email: "Jane.Doe@example.com", want: "jane_doe"},
		{email: "j+tag@example.com", want: "j_tag"},
		{email: "7days@example.com", want: "u_7days"},
		{email: "under_score@example.com", want: "under_score"},
		{email: "no-at-sign", want: ""},
		{email: "@example.com", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			assert.Equal(t, tt.want, roleNameFromEmail(tt.email))
		})
	}
}
