package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

const defaultAddr = "0.0.0.0:8080"

// Inventory and rate limit backends.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Config holds the complete application configuration, loadable from
// environment variables (PROMO_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (PROMO_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Currency    string `default:"USD" usage:"Currency assumed when a request names none"`
	Redis       RedisConfig
	Rules       RulesConfig
	Inventory   InventoryConfig
	Voucher     VoucherConfig
	RateLimit   RateLimitConfig
	Graceful    GracefulConfig
}

// RedisConfig is used when any backend is "redis". URL wins over Addr.
type RedisConfig struct {
	URL      string `usage:"Redis URL (PROMO_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	Addr     string `default:"localhost:6379" usage:"Redis address"`
	Password string `usage:"Redis password"`
	DB       int    `default:"0" usage:"Redis database"`
}

// RulesConfig selects where promotion rules come from.
type RulesConfig struct {
	File    string        `usage:"Rule catalog file (.json or .json.gz); rules are read from PostgreSQL when empty" flag:"rules-file"`
	Refresh time.Duration `default:"30s" usage:"How long loaded rules are cached; 0 caches forever" flag:"rules-refresh"`
}

// InventoryConfig selects the limited-deal counter backend.
type InventoryConfig struct {
	Backend string `default:"postgres" usage:"Inventory backend: postgres, redis or memory" flag:"inventory-backend"`
}

// VoucherConfig tunes voucher issuance and replacement.
type VoucherConfig struct {
	CodeLength       int           `default:"12" usage:"Redemption code length"`
	ExpectedCodes    uint          `default:"1000000" usage:"Expected number of codes, sizes the bloom filter"`
	ReplacementGrace time.Duration `default:"0s" usage:"Extra validity granted to replacements for time spent lost"`
}

// RateLimitConfig controls the per-customer rate limiter on order endpoints.
type RateLimitConfig struct {
	Backend string        `default:"memory" usage:"Rate limit backend: memory or redis" flag:"ratelimit-backend"`
	Max     int           `default:"100" usage:"Max requests per window"`
	Window  time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "PROMO",
		Files:     []string{"config.yaml", "/etc/promo/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set PROMO_DATABASE_URL or DATABASE_URL")
	}
	switch c.Inventory.Backend {
	case BackendPostgres:
		// Postgres counters reference rule rows, which a rules file never writes.
		if c.Rules.File != "" {
			return errors.New("postgres inventory requires rules from PostgreSQL; use redis or memory with a rules file")
		}
	case BackendRedis, BackendMemory:
	default:
		return errors.Errorf("unknown inventory backend %q", c.Inventory.Backend)
	}
	switch c.RateLimit.Backend {
	case BackendRedis, BackendMemory:
	default:
		return errors.Errorf("unknown rate limit backend %q", c.RateLimit.Backend)
	}
	return nil
}

// NeedsRedis reports whether any backend uses Redis.
func (c *Config) NeedsRedis() bool {
	return c.Inventory.Backend == BackendRedis || c.RateLimit.Backend == BackendRedis
}

// RedisOptions builds client options from URL or the discrete fields.
func (c *Config) RedisOptions() (*redis.Options, error) {
	if c.Redis.URL != "" {
		opts, err := redis.ParseURL(c.Redis.URL)
		if err != nil {
			return nil, errors.Wrap(err, "parse redis url")
		}
		return opts, nil
	}
	return &redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	}, nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL, REDIS_URL and PORT.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Redis.URL == "" {
		c.Redis.URL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
