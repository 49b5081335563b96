// Package config loads the resmo application settings from the environment.
//
// Every variable is prefixed with RESMO_. A .env file in the working
// directory is loaded first when present; variables already set in the
// environment take precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	auth "github.com/resmoai/resmo-auth"
	"github.com/resmoai/resmo-auth/resume"
)

const (
	EnvPrefix = "RESMO_"

	ProviderLocal = "local"
	ProviderRedis = "redis"

	StorageMemory = "memory"
	StorageGCS    = "gcs"
)

// Config is the application configuration.
type Config struct {
	Auth     AuthConfig     `envPrefix:"AUTH_"`
	Session  SessionConfig  `envPrefix:"SESSION_"`
	Identity IdentityConfig `envPrefix:"IDENTITY_"`
	Redis    RedisConfig    `envPrefix:"REDIS_"`
	Database DatabaseConfig `envPrefix:"DB_"`
	Backend  BackendConfig  `envPrefix:"BACKEND_"`
	Storage  StorageConfig  `envPrefix:"STORAGE_"`
	HTTP     HTTPConfig     `envPrefix:"HTTP_"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Email and Password are the account used by CLI commands.
	Email    string `env:"EMAIL"`
	Password string `env:"PASSWORD"`
}

var _ auth.Config = (*Config)(nil)

// AuthConfig configures id token minting.
type AuthConfig struct {
	SigningKey      string   `env:"SIGNING_KEY"      envDefault:"resmo-development-signing-key"`
	TokenExpiration int      `env:"TOKEN_EXPIRATION" envDefault:"60"`
	Issuer          string   `env:"ISSUER"           envDefault:"resmo"`
	Audience        []string `env:"AUDIENCE"         envDefault:"resmo-backend"`
}

// SessionConfig configures the session manager.
type SessionConfig struct {
	LookupTimeout time.Duration `env:"LOOKUP_TIMEOUT" envDefault:"10s"`
}

// IdentityConfig selects the identity provider.
type IdentityConfig struct {
	Provider string `env:"PROVIDER" envDefault:"local"`
	Channel  string `env:"CHANNEL"  envDefault:"resmo:identity"`
}

// RedisConfig configures the Redis connection used by the redis identity
// provider.
type RedisConfig struct {
	URI      string `env:"URI"      envDefault:"localhost:6379"`
	Password string `env:"PASSWORD" envDefault:""`
	DB       int    `env:"DB"       envDefault:"0"`
}

// DatabaseConfig configures the profile database.
type DatabaseConfig struct {
	DSN   string `env:"DSN"   envDefault:"file:resmo.db?cache=shared"`
	Debug bool   `env:"DEBUG" envDefault:"false"`
}

// BackendConfig configures the resume backend client.
type BackendConfig struct {
	URL                     string        `env:"URL"                       envDefault:"https://resmoai-backend-421758484376.europe-west1.run.app"`
	Timeout                 time.Duration `env:"TIMEOUT"                   envDefault:"2m"`
	BreakerEnabled          bool          `env:"BREAKER_ENABLED"           envDefault:"true"`
	BreakerMaxRequests      uint32        `env:"BREAKER_MAX_REQUESTS"      envDefault:"1"`
	BreakerInterval         time.Duration `env:"BREAKER_INTERVAL"          envDefault:"1m"`
	BreakerTimeout          time.Duration `env:"BREAKER_TIMEOUT"           envDefault:"30s"`
	BreakerMinRequests      uint32        `env:"BREAKER_MIN_REQUESTS"      envDefault:"5"`
	BreakerFailureThreshold float64       `env:"BREAKER_FAILURE_THRESHOLD" envDefault:"0.6"`
}

// StorageConfig configures where resume files are uploaded.
type StorageConfig struct {
	Driver          string `env:"DRIVER"           envDefault:"memory"`
	Bucket          string `env:"BUCKET"`
	CredentialsFile string `env:"CREDENTIALS_FILE"`
	Endpoint        string `env:"ENDPOINT"`
}

// HTTPConfig configures the web surface.
type HTTPConfig struct {
	Addr         string        `env:"ADDR"          envDefault:":8080"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT"  envDefault:"30s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"3m"`
	BodyLimit    int           `env:"BODY_LIMIT"    envDefault:"10485760"`
}

// Load reads the optional .env files and parses the environment.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("load .env file: %w", err)
		}
	}
	return Parse()
}

// Parse reads the configuration from the current environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Sanitize normalizes values loaded from the environment.
func (c *Config) Sanitize() {
	c.Identity.Provider = strings.ToLower(strings.TrimSpace(c.Identity.Provider))
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.Email = strings.TrimSpace(c.Email)
	if c.Auth.TokenExpiration <= 0 {
		c.Auth.TokenExpiration = 60
	}
	if c.Session.LookupTimeout <= 0 {
		c.Session.LookupTimeout = auth.DefaultLookupTimeout
	}
}

// Validate reports invalid combinations of settings.
func (c *Config) Validate() error {
	switch c.Identity.Provider {
	case ProviderLocal, ProviderRedis:
	default:
		return fmt.Errorf("unknown identity provider %q", c.Identity.Provider)
	}

	switch c.Storage.Driver {
	case StorageMemory:
	case StorageGCS:
		if c.Storage.Bucket == "" {
			return errors.New("storage bucket is required for the gcs driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if strings.TrimSpace(c.Auth.SigningKey) == "" {
		return errors.New("signing key is required")
	}
	return nil
}

// GetSigningKey implements auth.Config.
func (c *Config) GetSigningKey() string {
	return c.Auth.SigningKey
}

// GetTokenExpiration implements auth.Config, in minutes.
func (c *Config) GetTokenExpiration() int {
	return c.Auth.TokenExpiration
}

// GetIssuer implements auth.Config.
func (c *Config) GetIssuer() string {
	return c.Auth.Issuer
}

// GetAudience implements auth.Config.
func (c *Config) GetAudience() []string {
	return c.Auth.Audience
}

// GetLookupTimeout returns the profile lookup timeout.
func (c *Config) GetLookupTimeout() time.Duration {
	return c.Session.LookupTimeout
}

// BreakerSettings maps the backend breaker settings.
func (c *Config) BreakerSettings() resume.BreakerSettings {
	return resume.BreakerSettings{
		Enabled:          c.Backend.BreakerEnabled,
		MaxRequests:      c.Backend.BreakerMaxRequests,
		Interval:         c.Backend.BreakerInterval,
		Timeout:          c.Backend.BreakerTimeout,
		MinRequests:      c.Backend.BreakerMinRequests,
		FailureThreshold: c.Backend.BreakerFailureThreshold,
	}
}

// NewRedisClient builds a client from the Redis settings. URI may be a
// host:port pair or a redis:// URL.
func (c *Config) NewRedisClient() (redis.UniversalClient, error) {
	uri := strings.TrimSpace(c.Redis.URI)
	if uri == "" {
		return nil, errors.New("redis uri is required")
	}

	if strings.HasPrefix(uri, "redis://") || strings.HasPrefix(uri, "rediss://") {
		opt, err := redis.ParseURL(uri)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}

	return redis.NewClient(&redis.Options{
		Addr:     uri,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	}), nil
}
