package httpx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferrite-id/ferrite/config"
	"github.com/ferrite-id/ferrite/internal/adapters/password"
	"github.com/ferrite-id/ferrite/internal/core"
	"github.com/ferrite-id/ferrite/internal/domain/model"
	authmocks "github.com/ferrite-id/ferrite/internal/mocks/auth"
	"github.com/ferrite-id/ferrite/internal/service"
	"github.com/ferrite-id/ferrite/internal/testutil"
)

// testServer assembles the full request path (router, middleware, handlers)
// on top of in-memory repositories and the real password method.
type testServer struct {
	handler  http.Handler
	users    *authmocks.MemUserRepo
	creds    *authmocks.MemCredentialRepo
	scopes   *authmocks.MemScopeRepo
	groups   *authmocks.MemGroupRepo
	sessions *service.SessionService
	jwksFile string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	scopes := authmocks.NewMemScopeRepo()
	groups := authmocks.NewMemGroupRepo(scopes)
	graph, err := service.NewScopeGraphService(service.ScopeGraphOptions{Groups: groups})
	require.NoError(t, err)

	sessions, err := service.NewSessionService(service.SessionServiceOptions{
		Sessions:   authmocks.NewMemSessionRepo(),
		Scopes:     scopes,
		ScopeGraph: graph,
		Config:     config.SessionConfig{TokenLength: 32, Lifetime: time.Hour, UpdateScope: ScopeSessionUpdate},
		Logger:     testutil.DiscardLogger(),
	})
	require.NoError(t, err)

	users := authmocks.NewMemUserRepo()
	creds := authmocks.NewMemCredentialRepo()
	notifier := &authmocks.CaptureNotifier{}

	pw, err := password.New(password.Options{
		Users:       users,
		Credentials: creds,
		Sessions:    sessions,
		Notifier:    notifier,
		Config:      config.PasswordConfig{MinLength: 8, ResetTokenTTL: time.Hour},
		Logger:      testutil.DiscardLogger(),
	})
	require.NoError(t, err)

	registry, err := service.NewRegistry(service.RegistryOptions{
		Methods:     []core.AuthMethod{pw, &authmocks.EmailLogin{Creds: creds}},
		Credentials: creds,
		Logger:      testutil.DiscardLogger(),
	})
	require.NoError(t, err)

	userSvc, err := service.NewUserService(service.UserServiceOptions{
		Users:       users,
		Credentials: creds,
		Registry:    registry,
		Sessions:    sessions,
		Notifier:    notifier,
		Logger:      testutil.DiscardLogger(),
	})
	require.NoError(t, err)

	jwksFile := filepath.Join(t.TempDir(), "jwks.json")
	require.NoError(t, os.WriteFile(jwksFile, []byte(`{"keys":[]}`), 0o600))

	handler := NewRouter(RouterServices{
		Registry: registry,
		Sessions: sessions,
		Users:    userSvc,
		Scopes:   scopes,
		Issuer:   "https://id.example.com",
		BaseURL:  "https://id.example.com",
		JWKSFile: jwksFile,
		Logger:   testutil.DiscardLogger(),
	})

	return &testServer{
		handler:  handler,
		users:    users,
		creds:    creds,
		scopes:   scopes,
		groups:   groups,
		sessions: sessions,
		jwksFile: jwksFile,
	}
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *testServer) doForm(t *testing.T, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	return out
}

// register creates a user through the real endpoint and returns the session.
func (s *testServer) register(t *testing.T, email string) sessionResponse {
	t.Helper()
	w := s.do(t, http.MethodPost, "/auth/password/register", "", credentialRequest{
		Params: map[string]string{"email": email, "password": "correct horse battery"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeBody[sessionResponse](t, w)
}

// grantScope puts the user in a fresh group carrying the scope.
func (s *testServer) grantScope(t *testing.T, userID, scopeName string) {
	t.Helper()
	ctx := testutil.Ctx()
	scope, err := s.scopes.GetByName(ctx, scopeName)
	if err != nil {
		scope, err = s.scopes.Create(ctx, scopeName, "", nil)
		require.NoError(t, err)
	}
	g, err := s.groups.Create(ctx, model.CreateGroupRequest{Name: fmt.Sprintf("g-%s-%s", userID, scopeName)})
	require.NoError(t, err)
	require.NoError(t, s.groups.AddScope(ctx, g.ID, scope.ID))
	require.NoError(t, s.groups.AddMember(ctx, g.ID, userID))
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestRegisterAndLoginEndpoints(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	sess := s.register(t, "jane@example.com")
	assert.NotEmpty(t, sess.Token)
	assert.NotEmpty(t, sess.UserID)
	_, err := time.Parse(time.RFC3339, sess.Expires)
	assert.NoError(t, err)

	w := s.do(t, http.MethodPost, "/auth/password/login", "", credentialRequest{
		Params: map[string]string{"email": "jane@example.com", "password": "correct horse battery"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeBody[sessionResponse](t, w)
	assert.Equal(t, sess.UserID, got.UserID)
	assert.NotEqual(t, sess.Token, got.Token)
}

func TestRegisterDuplicateEmailConflict(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.register(t, "jane@example.com")

	w := s.do(t, http.MethodPost, "/auth/password/register", "", credentialRequest{
		Params: map[string]string{"email": "jane@example.com", "password": "another password"},
	})
	require.Equal(t, http.StatusConflict, w.Code)
	body := decodeBody[errorBody](t, w)
	assert.Equal(t, "already_exists", body.Error)
}

func TestLoginFailureIsUnauthorized(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.register(t, "jane@example.com")

	w := s.do(t, http.MethodPost, "/auth/password/login", "", credentialRequest{
		Params: map[string]string{"email": "jane@example.com", "password": "wrong"},
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	body := decodeBody[errorBody](t, w)
	assert.Equal(t, "auth_failed", body.Error)
	assert.Equal(t, "invalid email or password", body.Message)
}

func TestUnknownMethodIs404(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/auth/carrier_pigeon/login", "", credentialRequest{})
	require.Equal(t, http.StatusNotFound, w.Code)
	body := decodeBody[errorBody](t, w)
	assert.Equal(t, "not_found", body.Error)
}

func TestMethodWithoutCapabilityIs400(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	// email_login is loginable but not registrable.
	w := s.do(t, http.MethodPost, "/auth/email_login/register", "", credentialRequest{})
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody[errorBody](t, w)
	assert.Equal(t, "validation", body.Error)
}

func TestMalformedJSONBody(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/password/login", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody[errorBody](t, w)
	assert.Equal(t, "validation", body.Error)
	assert.Equal(t, "request body is not valid JSON", body.Message)
}

func TestMethodsDiscovery(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/auth/methods", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Methods []struct {
			Name        string `json:"name"`
			Registrable bool   `json:"registrable"`
			Loginable   bool   `json:"loginable"`
			OAuth       bool   `json:"oauth"`
		} `json:"methods"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Len(t, body.Methods, 2)

	byName := make(map[string]bool)
	for _, m := range body.Methods {
		byName[m.Name] = true
		switch m.Name {
		case "password":
			assert.True(t, m.Registrable)
			assert.True(t, m.Loginable)
			assert.False(t, m.OAuth)
		case "email_login":
			assert.False(t, m.Registrable)
			assert.True(t, m.Loginable)
		}
	}
	assert.True(t, byName["password"])
	assert.True(t, byName["email_login"])
}

func TestRefreshEndpoint(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	sess := s.register(t, "jane@example.com")

	w := s.do(t, http.MethodPost, "/auth/refresh", sess.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	fresh := decodeBody[sessionResponse](t, w)
	assert.NotEqual(t, sess.Token, fresh.Token)

	// The consumed token no longer refreshes.
	w = s.do(t, http.MethodPost, "/auth/refresh", sess.Token, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	body := decodeBody[errorBody](t, w)
	assert.Equal(t, "session_expired", body.Error)

	// No bearer at all.
	w = s.do(t, http.MethodPost, "/auth/refresh", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogoutEndpoints(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	sess := s.register(t, "jane@example.com")

	// A second session for the same user.
	w := s.do(t, http.MethodPost, "/auth/password/login", "", credentialRequest{
		Params: map[string]string{"email": "jane@example.com", "password": "correct horse battery"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	other := decodeBody[sessionResponse](t, w)

	// logout_all from the first session kills the second, keeps the first.
	w = s.do(t, http.MethodPost, "/auth/logout_all", sess.Token, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, http.MethodPost, "/auth/logout", other.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/auth/logout", sess.Token, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	// The revoked token no longer authenticates.
	w = s.do(t, http.MethodPost, "/auth/logout", sess.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateScopedSession(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	first := s.register(t, "jane@example.com")
	s.grantScope(t, first.UserID, "crm.read")

	// The bootstrap session predates the grant, so re-login to snapshot it.
	w := s.do(t, http.MethodPost, "/auth/password/login", "", credentialRequest{
		Params: map[string]string{"email": "jane@example.com", "password": "correct horse battery"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	sess := decodeBody[sessionResponse](t, w)
	assert.Contains(t, sess.Scopes, "crm.read")

	w = s.do(t, http.MethodPost, "/auth/sessions", sess.Token, createSessionRequest{
		Scopes: []string{"crm.read"},
		Label:  "ci",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	scoped := decodeBody[sessionResponse](t, w)
	assert.Equal(t, []string{"crm.read"}, scoped.Scopes)
	assert.Equal(t, "ci", scoped.Label)

	// Requesting beyond the effective set is forbidden.
	w = s.do(t, http.MethodPost, "/auth/sessions", sess.Token, createSessionRequest{
		Scopes: []string{"admin.everything"},
	})
	require.Equal(t, http.StatusForbidden, w.Code)
	body := decodeBody[errorBody](t, w)
	assert.Equal(t, "scope_not_granted", body.Error)
}

func TestUnregisterLastMethodConflict(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	sess := s.register(t, "jane@example.com")

	w := s.do(t, http.MethodDelete, "/auth/password", sess.Token, nil)
	require.Equal(t, http.StatusConflict, w.Code)
	body := decodeBody[errorBody](t, w)
	assert.Equal(t, "last_auth_method", body.Error)

	// Linking a second login method unblocks the unlink.
	_, err := s.creds.Set(testutil.Ctx(), model.SetCredentialParam{
		UserID: sess.UserID, Method: "email_login", Key: "subject", Value: "x",
	})
	require.NoError(t, err)

	w = s.do(t, http.MethodDelete, "/auth/password", sess.Token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestAdminEndpointsRequireScopes(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	sess := s.register(t, "admin@example.com")
	target := s.register(t, "victim@example.com")

	// Without the scope: forbidden.
	w := s.do(t, http.MethodGet, "/admin/users/"+target.UserID, sess.Token, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	// Grant and re-login so the snapshot carries the scopes.
	s.grantScope(t, sess.UserID, ScopeUserRead)
	s.grantScope(t, sess.UserID, ScopeUserDelete)
	w = s.do(t, http.MethodPost, "/auth/password/login", "", credentialRequest{
		Params: map[string]string{"email": "admin@example.com", "password": "correct horse battery"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	admin := decodeBody[sessionResponse](t, w)

	w = s.do(t, http.MethodGet, "/admin/users/"+target.UserID, admin.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodDelete, "/admin/users/"+target.UserID, admin.Token, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, http.MethodGet, "/admin/users/"+target.UserID, admin.Token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Unauthenticated access never reaches the handler.
	w = s.do(t, http.MethodGet, "/admin/users/"+target.UserID, "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTokenEndpointRefreshGrant(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	sess := s.register(t, "jane@example.com")

	w := s.doForm(t, "/auth/token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {sess.Token},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	tok := decodeBody[tokenResponse](t, w)
	assert.Equal(t, "bearer", tok.TokenType)
	assert.NotEmpty(t, tok.AccessToken)
	assert.NotEqual(t, sess.Token, tok.AccessToken)
	assert.Greater(t, tok.ExpiresIn, int64(0))
}

func TestTokenEndpointClientCredentials(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	sess := s.register(t, "svc@example.com")
	s.grantScope(t, sess.UserID, "crm.read")

	w := s.doForm(t, "/auth/token", url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"svc@example.com"},
		"client_secret": {"correct horse battery"},
		"scope":         {"crm.read"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	tok := decodeBody[tokenResponse](t, w)
	assert.Equal(t, "crm.read", tok.Scope)

	// Bad credentials surface as unauthorized.
	w = s.doForm(t, "/auth/token", url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"svc@example.com"},
		"client_secret": {"nope"},
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Unknown grants are rejected.
	w = s.doForm(t, "/auth/token", url.Values{"grant_type": {"implicit"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDiscoveryDocument(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	_, err := s.scopes.Create(testutil.Ctx(), "crm.read", "", nil)
	require.NoError(t, err)

	w := s.do(t, http.MethodGet, "/.well-known/openid-configuration", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var doc struct {
		Issuer          string   `json:"issuer"`
		TokenEndpoint   string   `json:"token_endpoint"`
		JWKSURI         string   `json:"jwks_uri"`
		ScopesSupported []string `json:"scopes_supported"`
		GrantTypes      []string `json:"grant_types_supported"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&doc))
	assert.Equal(t, "https://id.example.com", doc.Issuer)
	assert.Equal(t, "https://id.example.com/auth/token", doc.TokenEndpoint)
	assert.Equal(t, "https://id.example.com/auth/jwks", doc.JWKSURI)
	assert.Contains(t, doc.ScopesSupported, "crm.read")
	assert.ElementsMatch(t, []string{"refresh_token", "client_credentials"}, doc.GrantTypes)
}

func TestJWKSServedVerbatim(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/auth/jwks", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"keys":[]}`, w.Body.String())
}

func TestBearerTokenParsing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{name: "standard", header: "Bearer tok123", want: "tok123"},
		{name: "lowercase scheme", header: "bearer tok123", want: "tok123"},
		{name: "missing", header: "", want: ""},
		{name: "wrong scheme", header: "Basic dXNlcjpwYXNz", want: ""},
		{name: "scheme only", header: "Bearer ", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, bearerToken(req))
		})
	}
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := Recover(testutil.DiscardLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	require.NotPanics(t, func() {
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
