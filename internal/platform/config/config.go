// Package config loads and validates runtime configuration from the
// environment and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"

	ProviderLocal           = "local"
	ProviderIdentityToolkit = "identitytoolkit"

	envProduction = "production"

	devCookieHashKey   = "dev-cookie-hash-key-change-in-production-0123456789"
	devSigningKey      = "dev-secret-key-change-in-production"
	devVerificationKey = "dev-verification-key-change-in-production"
)

// Server captures the BFF process configuration.
type Server struct {
	Addr           string        `mapstructure:"SERVER_ADDR"`
	ServiceAPIURL  string        `mapstructure:"SERVICE_API_URL"`
	BackendTimeout time.Duration `mapstructure:"BACKEND_TIMEOUT"`
	SessionStore   string        `mapstructure:"SESSION_STORE"`
	// SessionCacheSize and SessionIdleTTL bound the in-memory session
	// managers; evicted sessions are rebuilt from the store.
	SessionCacheSize int           `mapstructure:"SESSION_CACHE_SIZE"`
	SessionIdleTTL   time.Duration `mapstructure:"SESSION_IDLE_TTL"`
	SQLitePath       string        `mapstructure:"SQLITE_PATH"`
	DatabaseURL      string        `mapstructure:"DATABASE_URL"`
	Env              string        `mapstructure:"APP_ENV"`
	LogLevel         string        `mapstructure:"LOG_LEVEL"`
	LogFormat        string        `mapstructure:"LOG_FORMAT"`

	// CookieHashKey authenticates the browser session cookie; CookieBlockKey
	// (16, 24 or 32 bytes) encrypts it when set.
	CookieHashKey  string `mapstructure:"COOKIE_HASH_KEY"`
	CookieBlockKey string `mapstructure:"COOKIE_BLOCK_KEY"`
	CookieSecure   bool   `mapstructure:"COOKIE_SECURE"`

	Redis        RedisConfig        `mapstructure:",squash"`
	Verification VerificationConfig `mapstructure:",squash"`
	Audit        AuditConfig        `mapstructure:",squash"`
	DevBackend   DevBackendConfig   `mapstructure:",squash"`
}

// RedisConfig configures the go-redis client used by the redis session store.
type RedisConfig struct {
	URL          string        `mapstructure:"REDIS_URL"`
	PoolSize     int           `mapstructure:"REDIS_POOL_SIZE"`
	MinIdleConns int           `mapstructure:"REDIS_MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `mapstructure:"REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `mapstructure:"REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"REDIS_WRITE_TIMEOUT"`
}

// VerificationConfig selects and configures the phone verification provider.
type VerificationConfig struct {
	Provider string `mapstructure:"VERIFICATION_PROVIDER"`
	// APIKey and BaseURL are used by the Identity Toolkit provider.
	APIKey  string `mapstructure:"IDENTITY_TOOLKIT_API_KEY"`
	BaseURL string `mapstructure:"IDENTITY_TOOLKIT_BASE_URL"`
	// SigningKey signs ID tokens minted by the local provider. The dev backend
	// must share it to accept those tokens.
	SigningKey string `mapstructure:"VERIFICATION_SIGNING_KEY"`
}

// AuditConfig enables Kafka audit publishing when brokers are set.
type AuditConfig struct {
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string `mapstructure:"AUDIT_KAFKA_TOPIC"`
}

// DevBackendConfig configures cmd/devbackend.
type DevBackendConfig struct {
	Addr          string        `mapstructure:"DEV_BACKEND_ADDR"`
	JWTSigningKey string        `mapstructure:"JWT_SIGNING_KEY"`
	TokenTTL      time.Duration `mapstructure:"JWT_TOKEN_TTL"`
}

// Load reads .env (if present), then builds and validates Server from the
// environment. Env vars override .env.
func Load() (*Server, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // missing .env is fine

	v.AutomaticEnv()
	setDefaults(v)

	var cfg Server
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_ADDR", ":8081")
	v.SetDefault("SERVICE_API_URL", "http://localhost:8080")
	v.SetDefault("BACKEND_TIMEOUT", "30s")
	v.SetDefault("SESSION_STORE", StoreMemory)
	v.SetDefault("SESSION_CACHE_SIZE", 10000)
	v.SetDefault("SESSION_IDLE_TTL", "30m")
	v.SetDefault("SQLITE_PATH", "p3am-session.db")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("COOKIE_HASH_KEY", devCookieHashKey)
	v.SetDefault("COOKIE_BLOCK_KEY", "")
	v.SetDefault("COOKIE_SECURE", false)

	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_POOL_SIZE", 10)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 2)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	v.SetDefault("VERIFICATION_PROVIDER", ProviderLocal)
	v.SetDefault("IDENTITY_TOOLKIT_API_KEY", "")
	v.SetDefault("IDENTITY_TOOLKIT_BASE_URL", "https://identitytoolkit.googleapis.com")
	v.SetDefault("VERIFICATION_SIGNING_KEY", devVerificationKey)

	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUDIT_KAFKA_TOPIC", "p3am-session-audit")

	v.SetDefault("DEV_BACKEND_ADDR", ":8080")
	v.SetDefault("JWT_SIGNING_KEY", devSigningKey)
	v.SetDefault("JWT_TOKEN_TTL", "1h")
}

// Validate checks cross-field rules. Load calls it; tests may call it directly.
func (c *Server) Validate() error {
	if c.Addr == "" {
		return errors.New("config: SERVER_ADDR must be set")
	}
	if c.ServiceAPIURL == "" {
		return errors.New("config: SERVICE_API_URL must be set")
	}
	if c.BackendTimeout < 0 {
		return errors.New("config: BACKEND_TIMEOUT must not be negative")
	}

	if c.SessionCacheSize <= 0 {
		return errors.New("config: SESSION_CACHE_SIZE must be positive")
	}
	if c.SessionIdleTTL <= 0 {
		return errors.New("config: SESSION_IDLE_TTL must be positive")
	}

	switch c.SessionStore {
	case StoreMemory, StoreSQLite:
	case StoreRedis:
		if c.Redis.URL == "" {
			return errors.New("config: REDIS_URL is required when SESSION_STORE=redis")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL is required when SESSION_STORE=postgres")
		}
	default:
		return fmt.Errorf("config: unknown SESSION_STORE %q", c.SessionStore)
	}

	switch c.Verification.Provider {
	case ProviderLocal:
	case ProviderIdentityToolkit:
		if c.Verification.APIKey == "" {
			return errors.New("config: IDENTITY_TOOLKIT_API_KEY is required when VERIFICATION_PROVIDER=identitytoolkit")
		}
	default:
		return fmt.Errorf("config: unknown VERIFICATION_PROVIDER %q", c.Verification.Provider)
	}

	switch n := len(c.CookieBlockKey); n {
	case 0, 16, 24, 32:
	default:
		return fmt.Errorf("config: COOKIE_BLOCK_KEY must be 16, 24 or 32 bytes, got %d", n)
	}

	if c.IsProduction() {
		if c.Verification.Provider == ProviderLocal {
			return errors.New("config: VERIFICATION_PROVIDER=local must not be used when APP_ENV=production")
		}
		if c.CookieHashKey == devCookieHashKey {
			return errors.New("config: COOKIE_HASH_KEY must be overridden when APP_ENV=production")
		}
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Server) IsProduction() bool {
	return strings.EqualFold(c.Env, envProduction)
}

// KafkaBrokersList returns broker addresses from the comma-separated config.
// An empty list disables Kafka audit publishing.
func (c *Server) KafkaBrokersList() []string {
	if c == nil || c.Audit.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.Audit.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
