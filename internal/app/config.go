package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"

	"github.com/xenking/storefront/internal/domain/txn"
	"github.com/xenking/storefront/internal/storage/postgres"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (STOREFRONT_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (STOREFRONT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Auth        AuthConfig
	Checkout    CheckoutConfig
	Redis       RedisConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// AuthConfig holds the bearer token verification key.
type AuthConfig struct {
	Secret string `usage:"HS256 secret used to verify bearer tokens (STOREFRONT_AUTH_SECRET or JWT_SECRET)" flag:"auth-secret"`
}

// CheckoutConfig controls transaction isolation and contention retries for
// cart mutations and checkout.
type CheckoutConfig struct {
	Isolation      string        `default:"read_committed" usage:"Transaction isolation: read_committed, repeatable_read or serializable"`
	MaxAttempts    int           `default:"5"     usage:"Attempts per unit of work before reporting TransactionFailed"`
	InitialBackoff time.Duration `default:"10ms"  usage:"First retry delay"`
	MaxBackoff     time.Duration `default:"250ms" usage:"Retry delay cap"`
}

// RedisConfig enables the cart read cache when Addr is set.
type RedisConfig struct {
	Addr     string        `default:"" usage:"Redis address for the cart cache; empty disables caching"`
	Password string        `default:"" usage:"Redis password"`
	DB       int           `default:"0" usage:"Redis database number"`
	TTL      time.Duration `default:"5m" usage:"Base lifetime of a cached cart"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig reads .env when present, then loads configuration from
// environment variables and YAML config files, and applies platform-specific
// defaults.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "STOREFRONT",
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's STOREFRONT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Auth.Secret == "" {
		c.Auth.Secret = os.Getenv("JWT_SECRET")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set STOREFRONT_DATABASE_URL or DATABASE_URL")
	}
	if c.Auth.Secret == "" {
		return errors.New("auth secret is required: set STOREFRONT_AUTH_SECRET or JWT_SECRET")
	}
	if c.Checkout.MaxAttempts < 1 {
		return errors.Errorf("checkout max attempts must be positive, got %d", c.Checkout.MaxAttempts)
	}
	if _, err := c.Checkout.isoLevel(); err != nil {
		return err
	}
	return nil
}

func (c CheckoutConfig) isoLevel() (pgx.TxIsoLevel, error) {
	return postgres.ParseIsolation(c.Isolation)
}

func (c CheckoutConfig) retryPolicy() txn.Policy {
	return txn.Policy{
		MaxAttempts:    c.MaxAttempts,
		InitialBackoff: c.InitialBackoff,
		MaxBackoff:     c.MaxBackoff,
	}
}
