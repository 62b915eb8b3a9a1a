package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Sternrassler/roster-client/pkg/health"
	"github.com/Sternrassler/roster-client/pkg/logging"
	"github.com/Sternrassler/roster-client/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 100, cfg.Fetch.BatchSize)
	assert.Equal(t, 10000, cfg.Fetch.MaxItems)
	assert.Equal(t, 24*time.Hour, cfg.Fetch.RecordsTTL)
	assert.Equal(t, health.DefaultSchedule, cfg.Health.Schedule)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Log.Level)

	// Remote base URL has no default.
	assert.Error(t, cfg.Validate())
	cfg.Remote.BaseURL = "https://remote.example"
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("ROSTER_BASE_URL", "https://remote.example")
	t.Setenv("ROSTER_BATCH_SIZE", "50")
	t.Setenv("ROSTER_QUEUE_TIMEOUT", "5s")
	t.Setenv("ROSTER_LOG_PRETTY", "true")
	t.Setenv("ROSTER_REDIS_ADDR", "redis:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://remote.example", cfg.Remote.BaseURL)
	assert.Equal(t, 50, cfg.Fetch.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Queue.Timeout)
	assert.True(t, cfg.Log.Pretty)

	opts, ok := cfg.RedisOptions()
	require.True(t, ok)
	assert.Equal(t, "redis:6379", opts.Addr)
}

func TestLoad_InvalidEnv(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"integer", "ROSTER_BATCH_SIZE", "many"},
		{"duration", "ROSTER_RECORDS_TTL", "forever"},
		{"boolean", "ROSTER_LOG_PRETTY", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ROSTER_BASE_URL", "https://remote.example")
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv("REMOTE_TOKEN", "secret")
	path := writeFile(t, `
remote:
  base_url: https://remote.example
  token_header: Csrf-Token
  token: ${REMOTE_TOKEN}
queue:
  min_delay: 2s
  max_delay: 4s
fetch:
  batch_size: 25
log:
  level: debug
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.Remote.Token)
	assert.Equal(t, 2*time.Second, cfg.Queue.MinDelay)
	assert.Equal(t, 4*time.Second, cfg.Queue.MaxDelay)
	assert.Equal(t, 25, cfg.Fetch.BatchSize)
	// Untouched fields keep their defaults.
	assert.Equal(t, 10000, cfg.Fetch.MaxItems)
	assert.Equal(t, "/records", cfg.Remote.PagePath)
	assert.Equal(t, logging.LevelDebug, cfg.LoggingConfig().Level)
}

func TestLoadFile_EnvOverridesFile(t *testing.T) {
	t.Setenv("ROSTER_BATCH_SIZE", "10")
	path := writeFile(t, "remote:\n  base_url: https://remote.example\nfetch:\n  batch_size: 25\n")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Fetch.BatchSize)
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = LoadFile(writeFile(t, "remote: [unterminated"))
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.Remote.BaseURL = "https://remote.example"
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log level"},
		{"missing user agent", func(c *Config) { c.Remote.UserAgent = "" }, "user agent"},
		{"zero cache size", func(c *Config) { c.Cache.MaxSizeBytes = 0 }, "cache max size"},
		{"prefix covers critical log", func(c *Config) { c.Cache.KeyPrefix = "roster:" }, "critical error log"},
		{"prefix equals critical log", func(c *Config) { c.Cache.KeyPrefix = "roster:errors:critical" }, "critical error log"},
		{"inverted delays", func(c *Config) { c.Queue.MinDelay, c.Queue.MaxDelay = 3*time.Second, time.Second }, "max delay"},
		{"negative retries", func(c *Config) { c.Queue.MaxRetries = -1 }, "max retries"},
		{"zero batch", func(c *Config) { c.Fetch.BatchSize = 0 }, "batch size"},
		{"cap below batch", func(c *Config) { c.Fetch.MaxItems = 10 }, "max items"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.Remote.BaseURL = "https://remote.example"
	cfg.Remote.Authorization = "Bearer abc"
	cfg.Queue.MaxRetries = 5
	cfg.Remote.LogoPath = "/logos/{key}"

	assert.Equal(t, 5, cfg.QueueConfig().MaxRetries)
	noRetries := cfg
	noRetries.Queue.MaxRetries = 0
	assert.Equal(t, -1, noRetries.QueueConfig().MaxRetries, "zero retries must not fall back to the queue default")
	assert.Equal(t, cfg.Cache.MaxSizeBytes, cfg.CacheOptions().MaxSizeBytes)
	assert.Equal(t, "/logos/{key}", cfg.FetcherConfig().LogoPath)
	assert.Equal(t, "roster-proxy", cfg.LoggingConfig().Service)

	httpCfg := cfg.HTTPConfig(context.Background())
	assert.Equal(t, "https://remote.example", httpCfg.BaseURL)
	assert.IsType(t, &transport.StaticCredentials{}, httpCfg.Credentials)

	cfg.Remote.OAuth2 = OAuth2Config{TokenURL: "https://auth.example/token", ClientID: "roster"}
	require.NoError(t, cfg.Validate())
	assert.IsType(t, &transport.OAuth2Credentials{}, cfg.HTTPConfig(context.Background()).Credentials)

	cfg.Remote.OAuth2.ClientID = ""
	assert.ErrorContains(t, cfg.Validate(), "oauth2 client id")

	_, ok := cfg.RedisOptions()
	assert.False(t, ok)
}
