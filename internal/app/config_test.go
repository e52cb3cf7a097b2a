package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Addr:        defaultAddr,
		DatabaseURL: "postgres://localhost/promo",
		Inventory:   InventoryConfig{Backend: BackendPostgres},
		RateLimit:   RateLimitConfig{Backend: BackendMemory},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"valid", func(*Config) {}, ""},
		{"no database", func(c *Config) { c.DatabaseURL = "" }, "database URL is required"},
		{"unknown inventory", func(c *Config) { c.Inventory.Backend = "etcd" }, `unknown inventory backend "etcd"`},
		{"unknown limiter", func(c *Config) { c.RateLimit.Backend = "etcd" }, `unknown rate limit backend "etcd"`},
		{"file rules with postgres counters", func(c *Config) { c.Rules.File = "rules.json" }, "postgres inventory requires"},
		{"file rules with redis counters", func(c *Config) {
			c.Rules.File = "rules.json"
			c.Inventory.Backend = BackendRedis
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestConfig_PlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("REDIS_URL", "redis://:secret@cache:6380/2")
	t.Setenv("PORT", "9000")

	cfg := Config{Addr: defaultAddr}
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)

	opts, err := cfg.RedisOptions()
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)
}

func TestConfig_RedisOptionsFromFields(t *testing.T) {
	cfg := validConfig()
	cfg.Redis = RedisConfig{Addr: "localhost:6379", DB: 1}
	assert.False(t, cfg.NeedsRedis())

	cfg.RateLimit.Backend = BackendRedis
	assert.True(t, cfg.NeedsRedis())

	opts, err := cfg.RedisOptions()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 1, opts.DB)

	cfg.Redis.URL = "://bad"
	_, err = cfg.RedisOptions()
	require.Error(t, err)
}
