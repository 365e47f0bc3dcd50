package httpx

import (
	"log/slog"
	"net/http"
	"time"

	apperrors "github.com/ferrite-id/ferrite/internal/errors"

	"github.com/ferrite-id/ferrite/internal/core"
	"github.com/ferrite-id/ferrite/internal/domain/model"
	"github.com/ferrite-id/ferrite/internal/service"
)

// AuthHandlers serves registration, login, and session lifecycle endpoints.
type AuthHandlers struct {
	Registry *service.Registry
	Sessions *service.SessionService
	Logger   *slog.Logger
}

// sessionResponse is the wire shape of an issued session.
type sessionResponse struct {
	Token     string   `json:"token"`
	UserID    string   `json:"user_id"`
	Expires   string   `json:"expires"`
	Label     string   `json:"label,omitempty"`
	Unbounded bool     `json:"unbounded,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
}

func renderSession(w http.ResponseWriter, status int, sess *model.Session) {
	WriteJSON(w, status, sessionResponse{
		Token:     sess.Token,
		UserID:    sess.UserID,
		Expires:   sess.Expires.UTC().Format(time.RFC3339),
		Label:     sess.Label,
		Unbounded: sess.Unbounded,
		Scopes:    sess.Scopes,
	})
}

// credentialRequest is the body of register and login calls: opaque
// method-specific parameters.
type credentialRequest struct {
	Params map[string]string `json:"params"`
}

// Register handles POST /auth/{method}/register. A valid bearer session
// links the method to the existing user instead of creating a fresh one.
func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	method, ok := h.registrable(w, r)
	if !ok {
		return
	}

	var req credentialRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	// Linking is optional here, so the token is resolved leniently: absent
	// or invalid tokens fall back to fresh registration.
	var linking *model.Session
	if token := bearerToken(r); token != "" {
		if sess, err := h.Sessions.Authenticate(r.Context(), token); err == nil {
			linking = sess
		}
	}

	sess, err := method.Register(r.Context(), core.RegisterInput{Session: linking, Params: req.Params})
	if err != nil {
		RenderError(w, r, err, h.Logger)
		return
	}
	renderSession(w, http.StatusCreated, sess)
}

// Login handles POST /auth/{method}/login.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	method, ok := h.loginable(w, r)
	if !ok {
		return
	}

	var req credentialRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	sess, err := method.Login(r.Context(), core.LoginInput{Params: req.Params})
	if err != nil {
		RenderError(w, r, err, h.Logger)
		return
	}
	renderSession(w, http.StatusOK, sess)
}

// Unregister handles DELETE /auth/{method}. It goes through the registry so
// the last-auth-method guard applies.
func (h *AuthHandlers) Unregister(w http.ResponseWriter, r *http.Request) {
	sess := GetSessionFromContext(r.Context())
	if sess == nil {
		RenderError(w, r, apperrors.SessionExpired("session not found or expired"), h.Logger)
		return
	}

	if err := h.Registry.Unregister(r.Context(), sess.UserID, r.PathValue("method")); err != nil {
		RenderError(w, r, err, h.Logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// OAuthStart handles GET /auth/{method}/start: it redirects the browser to
// the provider's authorization URL.
func (h *AuthHandlers) OAuthStart(w http.ResponseWriter, r *http.Request) {
	method, ok := h.oauthCapable(w, r)
	if !ok {
		return
	}

	state := r.URL.Query().Get("state")
	target, err := method.AuthURL(r.Context(), state)
	if err != nil {
		RenderError(w, r, err, h.Logger)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// OAuthCallback handles GET /auth/{method}/callback: the provider redirect
// carrying the authorization code. A failed login whose identity verified
// returns the continuation token in the error body.
func (h *AuthHandlers) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	method, ok := h.oauthCapable(w, r)
	if !ok {
		return
	}

	code := r.URL.Query().Get("code")
	sess, err := method.Login(r.Context(), core.LoginInput{Params: map[string]string{"code": code}})
	if err != nil {
		RenderError(w, r, err, h.Logger)
		return
	}
	renderSession(w, http.StatusOK, sess)
}

// createSessionRequest is the body of POST /auth/sessions.
type createSessionRequest struct {
	Scopes    []string `json:"scopes"`
	Label     string   `json:"label"`
	Unbounded bool     `json:"unbounded"`
}

// CreateSession handles POST /auth/sessions: a scoped (or unbounded)
// secondary session for the authenticated user.
func (h *AuthHandlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	sess := GetSessionFromContext(r.Context())
	if sess == nil {
		RenderError(w, r, apperrors.SessionExpired("session not found or expired"), h.Logger)
		return
	}

	var req createSessionRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	created, err := h.Sessions.Create(r.Context(), service.CreateSessionInput{
		UserID:     sess.UserID,
		ScopeNames: req.Scopes,
		Label:      req.Label,
		Unbounded:  req.Unbounded,
	})
	if err != nil {
		RenderError(w, r, err, h.Logger)
		return
	}
	renderSession(w, http.StatusCreated, created)
}

// Refresh handles POST /auth/refresh: the bearer token is atomically
// replaced and the old one stops working immediately.
func (h *AuthHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		RenderError(w, r, apperrors.SessionExpired("session not found or expired"), h.Logger)
		return
	}

	sess, err := h.Sessions.Refresh(r.Context(), token)
	if err != nil {
		RenderError(w, r, err, h.Logger)
		return
	}
	renderSession(w, http.StatusOK, sess)
}

// Logout handles POST /auth/logout: revokes the current session. Revocation
// is idempotent, so a second logout with the same token still succeeds.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	sess := GetSessionFromContext(r.Context())
	if sess == nil {
		RenderError(w, r, apperrors.SessionExpired("session not found or expired"), h.Logger)
		return
	}

	if err := h.Sessions.Revoke(r.Context(), sess); err != nil {
		RenderError(w, r, err, h.Logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll handles POST /auth/logout_all: revokes every session of the
// user except the one making the call.
func (h *AuthHandlers) LogoutAll(w http.ResponseWriter, r *http.Request) {
	sess := GetSessionFromContext(r.Context())
	if sess == nil {
		RenderError(w, r, apperrors.SessionExpired("session not found or expired"), h.Logger)
		return
	}

	if err := h.Sessions.RevokeAll(r.Context(), sess.UserID, sess); err != nil {
		RenderError(w, r, err, h.Logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Methods handles GET /auth/methods: the active method names and their
// capabilities, for login-page discovery.
func (h *AuthHandlers) Methods(w http.ResponseWriter, r *http.Request) {
	type methodInfo struct {
		Name        string `json:"name"`
		Registrable bool   `json:"registrable"`
		Loginable   bool   `json:"loginable"`
		OAuth       bool   `json:"oauth"`
	}

	active := h.Registry.Active()
	out := make([]methodInfo, 0, len(active))
	for _, nm := range active {
		info := methodInfo{Name: nm.Name}
		_, info.Registrable = nm.Method.(core.Registrable)
		_, info.Loginable = nm.Method.(core.Loginable)
		_, info.OAuth = nm.Method.(core.OAuthCapable)
		out = append(out, info)
	}
	WriteJSON(w, http.StatusOK, map[string]any{"methods": out})
}

func (h *AuthHandlers) registrable(w http.ResponseWriter, r *http.Request) (core.Registrable, bool) {
	m, ok := h.Registry.Get(r.PathValue("method"))
	if !ok {
		RenderError(w, r, apperrors.NotFound("unknown auth method"), h.Logger)
		return nil, false
	}
	reg, ok := m.(core.Registrable)
	if !ok {
		RenderError(w, r, apperrors.Validation("method does not support registration"), h.Logger)
		return nil, false
	}
	return reg, true
}

func (h *AuthHandlers) loginable(w http.ResponseWriter, r *http.Request) (core.Loginable, bool) {
	m, ok := h.Registry.Get(r.PathValue("method"))
	if !ok {
		RenderError(w, r, apperrors.NotFound("unknown auth method"), h.Logger)
		return nil, false
	}
	login, ok := m.(core.Loginable)
	if !ok {
		RenderError(w, r, apperrors.Validation("method does not support login"), h.Logger)
		return nil, false
	}
	return login, true
}

func (h *AuthHandlers) oauthCapable(w http.ResponseWriter, r *http.Request) (core.OAuthCapable, bool) {
	m, ok := h.Registry.Get(r.PathValue("method"))
	if !ok {
		RenderError(w, r, apperrors.NotFound("unknown auth method"), h.Logger)
		return nil, false
	}
	oa, ok := m.(core.OAuthCapable)
	if !ok {
		RenderError(w, r, apperrors.Validation("method does not support the browser flow"), h.Logger)
		return nil, false
	}
	return oa, true
}
