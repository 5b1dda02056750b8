package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	EnvironmentDevelopment = "development"

	GrantStoreSQL   = "sql"
	GrantStoreRedis = "redis"
)

var (
	// ErrMissingKeyMaterial is returned outside development when no signing
	// key has been configured
	ErrMissingKeyMaterial = errors.New("need to configure key material")

	// ErrInvalidConfig is returned for inconsistent settings
	ErrInvalidConfig = errors.New("invalid configuration")
)

// GoogleConfig holds the external login provider credentials. The login
// flow itself lives in the protocol host; both values are either set or
// empty.
type GoogleConfig struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
}

// Config is the process configuration, read from IDP_* environment variables
type Config struct {
	Environment string `env:"IDP_ENVIRONMENT" envDefault:"development"`
	Port        string `env:"IDP_PORT" envDefault:"8080"`

	DBPath      string        `env:"IDP_DB_PATH" envDefault:"./auth_server.db"`
	LockFile    string        `env:"IDP_LOCK_FILE"`
	LockTimeout time.Duration `env:"IDP_LOCK_TIMEOUT" envDefault:"30s"`

	StoreTimeout time.Duration `env:"IDP_STORE_TIMEOUT" envDefault:"5s"`

	// SeedFile replaces the embedded canonical configuration when set
	SeedFile string `env:"IDP_SEED_FILE"`

	GrantStore     string        `env:"IDP_GRANT_STORE" envDefault:"sql"`
	RedisAddr      string        `env:"IDP_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword  string        `env:"IDP_REDIS_PASSWORD"`
	RedisDB        int           `env:"IDP_REDIS_DB" envDefault:"0"`
	RedisKeyPrefix string        `env:"IDP_REDIS_KEY_PREFIX" envDefault:"idp:"`
	GrantRetention time.Duration `env:"IDP_GRANT_RETENTION" envDefault:"1h"`

	CacheEnabled bool          `env:"IDP_CACHE_ENABLED" envDefault:"false"`
	CacheTTL     time.Duration `env:"IDP_CACHE_TTL" envDefault:"5m"`

	SweepInterval  time.Duration `env:"IDP_SWEEP_INTERVAL" envDefault:"1h"`
	SweepBatchSize int           `env:"IDP_SWEEP_BATCH_SIZE" envDefault:"100"`

	// APIToken is the bearer token the protocol host presents
	APIToken string `env:"IDP_API_TOKEN"`

	SigningKeyPath string `env:"IDP_SIGNING_KEY_PATH"`

	Google GoogleConfig `envPrefix:"IDP_GOOGLE_"`
}

// Load reads the configuration from the process environment and checks it
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads the configuration from the given variables instead of the
// process environment
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.LockFile == "" {
		cfg.LockFile = cfg.DBPath + ".lock"
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the startup preconditions
func (c Config) Validate() error {
	if !c.IsDevelopment() && c.SigningKeyPath == "" {
		return fmt.Errorf("%w: set IDP_SIGNING_KEY_PATH for environment %q", ErrMissingKeyMaterial, c.Environment)
	}
	if c.SigningKeyPath != "" {
		if _, err := os.Stat(c.SigningKeyPath); err != nil {
			return fmt.Errorf("%w: signing key: %w", ErrMissingKeyMaterial, err)
		}
	}
	if c.DBPath == "" {
		return fmt.Errorf("%w: IDP_DB_PATH is required", ErrInvalidConfig)
	}
	switch c.GrantStore {
	case GrantStoreSQL:
	case GrantStoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("%w: IDP_REDIS_ADDR is required for the redis grant store", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown grant store %q", ErrInvalidConfig, c.GrantStore)
	}
	if c.SweepBatchSize <= 0 {
		return fmt.Errorf("%w: IDP_SWEEP_BATCH_SIZE must be positive", ErrInvalidConfig)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("%w: IDP_SWEEP_INTERVAL must be positive", ErrInvalidConfig)
	}
	if (c.Google.ClientID == "") != (c.Google.ClientSecret == "") {
		return fmt.Errorf("%w: google client id and secret must be set together", ErrInvalidConfig)
	}
	return nil
}

// IsDevelopment reports whether the process runs in the development environment
func (c Config) IsDevelopment() bool {
	return c.Environment == EnvironmentDevelopment
}

// DSN is the sqlite3 connection string for DBPath
func (c Config) DSN() string {
	return DSN(c.DBPath)
}

// DSN builds a sqlite3 connection string with foreign keys enforced and a
// busy timeout so concurrent writers wait instead of failing at once.
func DSN(path string) string {
	return "file:" + path + "?_foreign_keys=on&_busy_timeout=5000"
}
