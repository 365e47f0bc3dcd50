package httpx

import (
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	apperrors "github.com/ferrite-id/ferrite/internal/errors"

	"github.com/ferrite-id/ferrite/internal/core"
	"github.com/ferrite-id/ferrite/internal/domain/model"
	"github.com/ferrite-id/ferrite/internal/service"
)

// OIDCHandlers serves the token endpoint and the discovery documents that
// let this service act as an identity provider for downstream clients.
type OIDCHandlers struct {
	Registry *service.Registry
	Sessions *service.SessionService
	Scopes   core.ScopeRepository
	Issuer   string
	BaseURL  string
	JWKSFile string
	Logger   *slog.Logger
}

// tokenResponse is the OAuth-shaped response of the token endpoint. The
// access token is an opaque session token, not a JWT.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

func renderToken(w http.ResponseWriter, sess *model.Session) {
	WriteJSON(w, http.StatusOK, tokenResponse{
		AccessToken: sess.Token,
		TokenType:   "bearer",
		ExpiresIn:   int64(time.Until(sess.Expires).Seconds()),
		Scope:       strings.Join(sess.Scopes, " "),
	})
}

// Token handles POST /auth/token with form-encoded OAuth grants:
// refresh_token rotates an existing session, client_credentials exchanges
// password-method credentials for a session bound to the requested scopes.
func (h *OIDCHandlers) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		RenderError(w, r, apperrors.Validation("malformed form body"), h.Logger)
		return
	}

	switch grant := r.PostForm.Get("grant_type"); grant {
	case "refresh_token":
		h.refreshGrant(w, r)
	case "client_credentials":
		h.clientCredentialsGrant(w, r)
	default:
		RenderError(w, r, apperrors.Validation("unsupported grant_type"), h.Logger)
	}
}

func (h *OIDCHandlers) refreshGrant(w http.ResponseWriter, r *http.Request) {
	token := r.PostForm.Get("refresh_token")
	if token == "" {
		RenderError(w, r, apperrors.Validation("refresh_token is required"), h.Logger)
		return
	}

	sess, err := h.Sessions.Refresh(r.Context(), token)
	if err != nil {
		RenderError(w, r, err, h.Logger)
		return
	}
	renderToken(w, sess)
}

// clientCredentialsGrant authenticates through the password method and, when
// a scope parameter is present, narrows the issued session to that subset.
func (h *OIDCHandlers) clientCredentialsGrant(w http.ResponseWriter, r *http.Request) {
	clientID, clientSecret, ok := r.BasicAuth()
	if !ok {
		clientID = r.PostForm.Get("client_id")
		clientSecret = r.PostForm.Get("client_secret")
	}

	m, found := h.Registry.Get("password")
	if !found {
		RenderError(w, r, apperrors.NotFound("password method is not active"), h.Logger)
		return
	}
	login, isLogin := m.(core.Loginable)
	if !isLogin {
		RenderError(w, r, apperrors.NotFound("password method is not active"), h.Logger)
		return
	}

	sess, err := login.Login(r.Context(), core.LoginInput{Params: map[string]string{
		"email":    clientID,
		"password": clientSecret,
	}})
	if err != nil {
		RenderError(w, r, err, h.Logger)
		return
	}

	if scope := strings.Fields(r.PostForm.Get("scope")); len(scope) > 0 {
		narrowed, err := h.Sessions.Create(r.Context(), service.CreateSessionInput{
			UserID:     sess.UserID,
			ScopeNames: scope,
			Label:      "client_credentials",
		})
		if err != nil {
			RenderError(w, r, err, h.Logger)
			return
		}
		// The bootstrap session is replaced by the narrowed one.
		if revokeErr := h.Sessions.Revoke(r.Context(), sess); revokeErr != nil && h.Logger != nil {
			h.Logger.WarnContext(r.Context(), "revoke bootstrap session failed", "error", revokeErr)
		}
		sess = narrowed
	}

	renderToken(w, sess)
}

// Discovery handles GET /.well-known/openid-configuration.
func (h *OIDCHandlers) Discovery(w http.ResponseWriter, r *http.Request) {
	scopes, err := h.Scopes.ListNames(r.Context())
	if err != nil {
		RenderError(w, r, err, h.Logger)
		return
	}

	base := strings.TrimRight(h.BaseURL, "/")
	issuer := h.Issuer
	if issuer == "" {
		issuer = base
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"issuer":                issuer,
		"token_endpoint":        base + "/auth/token",
		"jwks_uri":              base + "/auth/jwks",
		"scopes_supported":      scopes,
		"grant_types_supported": []string{"refresh_token", "client_credentials"},
	})
}

// JWKS handles GET /auth/jwks: it serves the configured key-set file
// verbatim. Key material generation happens outside this service.
func (h *OIDCHandlers) JWKS(w http.ResponseWriter, r *http.Request) {
	if h.JWKSFile == "" {
		RenderError(w, r, apperrors.NotFound("no key set is configured"), h.Logger)
		return
	}

	data, err := os.ReadFile(h.JWKSFile)
	if err != nil {
		RenderError(w, r, apperrors.Internal("key set unavailable"), h.Logger)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
