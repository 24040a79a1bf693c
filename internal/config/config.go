// config.go

// Environment variable loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Persistence backends selectable via PERSISTENCE.
const (
	PersistenceCookie   = "cookie"
	PersistenceRedis    = "redis"
	PersistencePostgres = "postgres"
)

// Token endpoint response formats selectable via TOKEN_RESPONSE.
const (
	TokenResponseOAuth2 = "oauth2" // RFC 6749 JSON, parsed by golang.org/x/oauth2
	TokenResponseRaw    = "raw"    // JSON access_token if present, else the raw body
)

// minCookieSecretLen keeps the HMAC key input from being guessable.
const minCookieSecretLen = 32

// Config holds all env configuration vars for the gate.
type Config struct {
	Port     string
	LogLevel slog.Level

	// Authorization server and client registration.
	AuthBaseURL  string
	AuthPath     string // defaults to /oauth/authorize
	TokenPath    string // defaults to /oauth/token
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       []string

	// APIBaseURL is the protected upstream the gate proxies to.
	APIBaseURL string

	// Persistence selects where CSRF values and tokens live. Default cookie.
	Persistence  string
	DatabaseURL  string // required when Persistence is postgres
	RedisURL     string // required when Persistence is redis
	CookieSecret string // required when Persistence is cookie
	CookiePrefix string
	CookieSecure bool

	// TokenTTL bounds how long an assigned token is honored. Default 1h.
	TokenTTL time.Duration
	// ExchangeTimeout bounds one call to the token endpoint. Default 10s.
	ExchangeTimeout time.Duration

	TokenResponse string
	// OIDCIssuer enables id_token verification when set.
	OIDCIssuer string
	// Nonce binds a CSRF-derived nonce to each redirect; the OIDC exchanger rejects id_tokens that don't echo it.
	Nonce bool
}

// LoadConfig reads environment variables and returns a validated Config.
// Returns an error if required variables are missing or inconsistent.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	required := []struct {
		key string
		dst *string
	}{
		{"OAUTH_AUTH_BASE_URL", &cfg.AuthBaseURL},
		{"OAUTH_CLIENT_ID", &cfg.ClientID},
		{"OAUTH_CLIENT_SECRET", &cfg.ClientSecret},
		{"OAUTH_CALLBACK_URL", &cfg.CallbackURL},
		{"API_BASE_URL", &cfg.APIBaseURL},
	}
	for _, req := range required {
		*req.dst = os.Getenv(req.key)
		if *req.dst == "" {
			return nil, fmt.Errorf("%s is required", req.key)
		}
	}

	cfg.AuthPath = envString("OAUTH_AUTH_PATH", "/oauth/authorize")
	cfg.TokenPath = envString("OAUTH_TOKEN_PATH", "/oauth/token")
	cfg.Scopes = parseScopes(os.Getenv("OAUTH_SCOPES"))

	cfg.Port = envString("PORT", "7865")

	// Parse log level, default to info
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	cfg.Persistence = strings.ToLower(envString("PERSISTENCE", PersistenceCookie))
	cfg.CookiePrefix = envString("COOKIE_PREFIX", "service")
	// Default true -- only explicit "false" disables (plain-HTTP local dev).
	cfg.CookieSecure = os.Getenv("COOKIE_SECURE") != "false"

	switch cfg.Persistence {
	case PersistenceCookie:
		cfg.CookieSecret = os.Getenv("COOKIE_SECRET")
		if len(cfg.CookieSecret) < minCookieSecretLen {
			return nil, fmt.Errorf("COOKIE_SECRET must be at least %d characters for cookie persistence", minCookieSecretLen)
		}
	case PersistenceRedis:
		cfg.RedisURL = os.Getenv("REDIS_URL")
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required for redis persistence")
		}
	case PersistencePostgres:
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for postgres persistence")
		}
	default:
		return nil, fmt.Errorf("PERSISTENCE must be one of cookie, redis, postgres; got %q", cfg.Persistence)
	}

	cfg.TokenTTL = envDuration("TOKEN_TTL", time.Hour)
	cfg.ExchangeTimeout = envDuration("EXCHANGE_TIMEOUT", 10*time.Second)

	cfg.TokenResponse = strings.ToLower(envString("TOKEN_RESPONSE", TokenResponseOAuth2))
	if cfg.TokenResponse != TokenResponseOAuth2 && cfg.TokenResponse != TokenResponseRaw {
		return nil, fmt.Errorf("TOKEN_RESPONSE must be oauth2 or raw; got %q", cfg.TokenResponse)
	}

	cfg.OIDCIssuer = os.Getenv("OIDC_ISSUER")
	if cfg.OIDCIssuer != "" && cfg.TokenResponse != TokenResponseOAuth2 {
		return nil, fmt.Errorf("OIDC_ISSUER requires TOKEN_RESPONSE=oauth2")
	}
	// OIDC without a nonce would accept an id_token captured from another login.
	cfg.Nonce = envBool("OAUTH_NONCE", cfg.OIDCIssuer != "")

	return cfg, nil
}

// parseScopes splits on commas and whitespace, dropping empties. Order is kept.
func parseScopes(v string) []string {
	return strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}

// envString reads an env var, returning def if missing.
func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envBool reads an env var as bool, returning def if missing or unparseable.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}

// envDuration reads an env var as time.Duration, returning def if missing or unparseable.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}
