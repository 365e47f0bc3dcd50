package config

import (
	"time"
)

const (
	minTokenLength = 32
	maxTokenLength = 128
)

// SessionConfig controls token issuance and session lifetime.
type SessionConfig struct {
	// TokenLength is the length of opaque session tokens.
	TokenLength int `env:"TOKEN_LENGTH" envDefault:"64"`

	// Lifetime is the validity window granted at issuance and on
	// sliding-window renewal.
	Lifetime time.Duration `env:"LIFETIME" envDefault:"24h"`

	// UpdateScope is the scope that opts a session into sliding-window
	// renewal on authenticate and full-window refresh.
	UpdateScope string `env:"UPDATE_SCOPE" envDefault:"auth.session.update"`
}

// Sanitize clamps token length to a sane range.
func (s *SessionConfig) Sanitize() {
	if s.TokenLength < minTokenLength {
		s.TokenLength = minTokenLength
	}
	if s.TokenLength > maxTokenLength {
		s.TokenLength = maxTokenLength
	}
	if s.Lifetime <= 0 {
		s.Lifetime = 24 * time.Hour
	}
}

// OAuthConfig contains OAuth/OIDC provider configuration for the generic
// oauth method.
type OAuthConfig struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURL  string `env:"REDIRECT_URL"  envDefault:"http://localhost:8080/auth/oauth/callback"`
	Scope        string `env:"SCOPE"         envDefault:"openid profile email"`
	DiscoveryURL string `env:"DISCOVERY_URL"`

	// ContinuationSecret signs the short-lived verified-identity token handed
	// back on oauth_auth_failed so a follow-up registration can re-use the
	// verified subject without a second provider round-trip.
	ContinuationSecret string        `env:"CONTINUATION_SECRET"`
	ContinuationTTL    time.Duration `env:"CONTINUATION_TTL" envDefault:"10m"`
}

// PasswordConfig controls the local password method.
type PasswordConfig struct {
	// AllowedEmailDomains restricts registration to the listed registrable
	// email domains (eTLD+1). Empty allows every domain.
	AllowedEmailDomains []string `env:"ALLOWED_EMAIL_DOMAINS" envSeparator:";"`

	// MinLength is the minimum accepted password length.
	MinLength int `env:"MIN_LENGTH" envDefault:"8"`

	// ResetTokenTTL bounds the validity of password reset tokens.
	ResetTokenTTL time.Duration `env:"RESET_TOKEN_TTL" envDefault:"1h"`
}

// OuterSyncConfig is shared by outer-sync methods that mirror passwords into
// external systems.
type OuterSyncConfig struct {
	// MailAPIURL is the admin API base URL of the external mail system.
	MailAPIURL   string `env:"MAIL_API_URL"`
	MailAPIToken string `env:"MAIL_API_TOKEN"`

	// DBRoleDSN is the DSN of the external database cluster whose roles
	// mirror local passwords.
	DBRoleDSN string `env:"DB_ROLE_DSN"`

	// PasswordPath is the expression locating the changed plaintext password
	// inside a user diff.
	PasswordPath string `env:"PASSWORD_PATH" envDefault:"params.password.password"`

	// CallTimeout bounds each external call.
	CallTimeout time.Duration `env:"CALL_TIMEOUT" envDefault:"10s"`

	// RetryMaxAttempts and RetryMaxElapsed cap the retry policy applied to
	// communication failures at the call site.
	RetryMaxAttempts uint          `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryMaxElapsed  time.Duration `env:"RETRY_MAX_ELAPSED"  envDefault:"30s"`
}

// AuthConfig groups all authentication-related configuration.
type AuthConfig struct {
	// EnabledMethods is the allow-list of active auth method names. Empty
	// means every installed method is active.
	EnabledMethods []string `env:"ENABLED_METHODS" envSeparator:";"`

	Session   SessionConfig   `envPrefix:"SESSION_"`
	OAuth     OAuthConfig     `envPrefix:"OAUTH_"`
	Password  PasswordConfig  `envPrefix:"PASSWORD_"`
	OuterSync OuterSyncConfig `envPrefix:"OUTER_SYNC_"`

	// JWKSFile points at the JWKS document owned by the external
	// key-management collaborator, served verbatim at /auth/jwks.
	JWKSFile string `env:"JWKS_FILE"`

	// Issuer is the issuer URL advertised in the discovery document.
	Issuer string `env:"ISSUER" envDefault:"http://localhost:8080"`
}

// Sanitize applies guardrails to auth configuration values.
func (a *AuthConfig) Sanitize() {
	a.Session.Sanitize()
	if a.Password.MinLength < 1 {
		a.Password.MinLength = 1
	}
}
