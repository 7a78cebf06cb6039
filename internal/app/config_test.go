package app

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/fanfare-hq/fanfare/testing"
)

func validConfig() *Config {
	return &Config{
		SessionSecret:     "session-secret",
		CSRFSecret:        "csrf-secret",
		SessionTokenKey:   "token-key",
		NotifyMaxRetry:    5,
		WorkerConcurrency: 10,
		PGDSN:             "postgres://fanfare@localhost/fanfare",
		PGMaxConns:        8,
		RedisAddr:         "127.0.0.1:6379",
		RedisDB:           1,
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s")
	t.Setenv("CSRF_SECRET", "c")
	t.Setenv("SESSION_TOKEN_KEY", "k")
	t.Setenv("APP_RATE_LIMIT", "42")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.AppRateLimit)
	assert.Equal(t, 5, cfg.NotifyMaxRetry)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.False(t, cfg.IsProduction())
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	cases := map[string]func(*Config){
		"session secret":   func(c *Config) { c.SessionSecret = "" },
		"csrf secret":      func(c *Config) { c.CSRFSecret = "" },
		"token key":        func(c *Config) { c.SessionTokenKey = "" },
		"long token key":   func(c *Config) { c.SessionTokenKey = strings.Repeat("k", 65) },
		"negative retry":   func(c *Config) { c.NotifyMaxRetry = -1 },
		"negative conns":   func(c *Config) { c.PGMaxConns = -1 },
		"zero concurrency": func(c *Config) { c.WorkerConcurrency = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfigDerivedOptions(t *testing.T) {
	cfg := validConfig()

	pool := cfg.PoolConfig()
	assert.Equal(t, cfg.PGDSN, pool.DSN)
	assert.Equal(t, int32(8), pool.MaxConns)

	redisOpts := cfg.RedisOptions()
	assert.Equal(t, "127.0.0.1:6379", redisOpts.Addr)
	assert.Equal(t, 1, redisOpts.QueueOpt().DB)
}
