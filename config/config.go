package config

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - auth.go: sessions, auth methods, OAuth, outer sync
//   - database.go: PostgreSQL and Redis configuration
//   - http.go: HTTP server configuration
type AppConfig struct {
	// IsDev controls development mode behavior (dev auth method, relaxed
	// cookie flags). Set DEV=true for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// Authentication and session configuration
	Auth AuthConfig

	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// HTTP server configuration
	HTTP HTTPConfig

	// Events configuration
	Events EventsConfig `envPrefix:"EVENTS_"`
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Auth.Sanitize()
}

// EventsConfig controls the outbound event publisher.
type EventsConfig struct {
	// Enabled toggles publishing of user.registered / user.login events.
	Enabled bool `env:"ENABLED" envDefault:"true"`

	// StreamPrefix is prepended to every topic name.
	StreamPrefix string `env:"STREAM_PREFIX" envDefault:"ferrite."`
}
