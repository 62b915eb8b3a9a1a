// Package config loads the roster client configuration from a YAML file,
// a .env file and ROSTER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/roster-client/pkg/cache"
	"github.com/Sternrassler/roster-client/pkg/classify"
	"github.com/Sternrassler/roster-client/pkg/fetcher"
	"github.com/Sternrassler/roster-client/pkg/health"
	"github.com/Sternrassler/roster-client/pkg/logging"
	"github.com/Sternrassler/roster-client/pkg/queue"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config is the full application configuration.
type Config struct {
	Remote RemoteConfig `yaml:"remote"`
	Redis  RedisConfig  `yaml:"redis"`
	Cache  CacheConfig  `yaml:"cache"`
	Queue  QueueConfig  `yaml:"queue"`
	Fetch  FetchConfig  `yaml:"fetch"`
	Health HealthConfig `yaml:"health"`
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
}

// RemoteConfig describes the remote roster service.
type RemoteConfig struct {
	BaseURL       string `yaml:"base_url"`
	UserAgent     string `yaml:"user_agent"`
	Authorization string `yaml:"authorization"`
	TokenHeader   string `yaml:"token_header"`
	Token         string `yaml:"token"`
	PagePath      string `yaml:"page_path"`
	LogoPath      string `yaml:"logo_path"`

	// OAuth2 replaces the static credentials when a token URL is set.
	OAuth2 OAuth2Config `yaml:"oauth2"`
}

// OAuth2Config holds client credentials for a token endpoint.
type OAuth2Config struct {
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

// RedisConfig selects the Redis store. An empty Addr keeps the cache in memory.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// CacheConfig mirrors cache.Options.
type CacheConfig struct {
	MaxSizeBytes         int64  `yaml:"max_size_bytes"`
	CompressionThreshold int    `yaml:"compression_threshold"`
	KeyPrefix            string `yaml:"key_prefix"`
}

// QueueConfig mirrors the tunable part of queue.Config.
type QueueConfig struct {
	MinDelay              time.Duration `yaml:"min_delay"`
	MaxDelay              time.Duration `yaml:"max_delay"`
	Timeout               time.Duration `yaml:"timeout"`
	MaxRetries            int           `yaml:"max_retries"`
	RetryBaseDelay        time.Duration `yaml:"retry_base_delay"`
	RetryJitter           time.Duration `yaml:"retry_jitter"`
	DefaultRateLimitDelay time.Duration `yaml:"default_rate_limit_delay"`
}

// FetchConfig mirrors the tunable part of fetcher.Config.
type FetchConfig struct {
	BatchSize              int           `yaml:"batch_size"`
	MaxItems               int           `yaml:"max_items"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"`
	RecordsTTL             time.Duration `yaml:"records_ttl"`
	LogoTTL                time.Duration `yaml:"logo_ttl"`
	EnrichBatchSize        int           `yaml:"enrich_batch_size"`
}

// HealthConfig configures the maintenance schedule.
type HealthConfig struct {
	Schedule string `yaml:"schedule"`
}

// ServerConfig configures the proxy HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the default configuration.
func Default() Config {
	q := queue.DefaultConfig()
	f := fetcher.DefaultConfig()
	c := cache.DefaultOptions()

	return Config{
		Remote: RemoteConfig{
			UserAgent: "roster-client/0.1.0",
			PagePath:  f.PagePath,
			LogoPath:  f.LogoPath,
		},
		Cache: CacheConfig{
			MaxSizeBytes:         c.MaxSizeBytes,
			CompressionThreshold: c.CompressionThreshold,
			KeyPrefix:            c.KeyPrefix,
		},
		Queue: QueueConfig{
			MinDelay:              q.MinDelay,
			MaxDelay:              q.MaxDelay,
			Timeout:               q.DefaultTimeout,
			MaxRetries:            q.MaxRetries,
			RetryBaseDelay:        q.RetryBaseDelay,
			RetryJitter:           q.RetryJitter,
			DefaultRateLimitDelay: q.DefaultRateLimitDelay,
		},
		Fetch: FetchConfig{
			BatchSize:              f.BatchSize,
			MaxItems:               f.MaxItems,
			MaxConsecutiveFailures: f.MaxConsecutiveFailures,
			RecordsTTL:             f.RecordsTTL,
			LogoTTL:                f.LogoTTL,
			EnrichBatchSize:        f.EnrichBatchSize,
		},
		Health: HealthConfig{Schedule: health.DefaultSchedule},
		Server: ServerConfig{Addr: ":8080"},
		Log:    LogConfig{Level: string(logging.LevelInfo)},
	}
}

// Load returns the defaults overridden by a .env file in the working
// directory (if present) and ROSTER_* environment variables.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to read .env file: %w", err)
	}

	cfg := Default()
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// LoadFile reads a YAML configuration file. ${VAR} references are expanded
// from the environment; fields missing from the file keep their defaults,
// and ROSTER_* variables still take precedence.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Remote.BaseURL == "":
		return errors.New("remote base url is required (ROSTER_BASE_URL)")
	case c.Remote.UserAgent == "":
		return errors.New("user agent is required (ROSTER_USER_AGENT)")
	case c.Remote.OAuth2.TokenURL != "" && c.Remote.OAuth2.ClientID == "":
		return errors.New("oauth2 client id is required with a token url (ROSTER_OAUTH2_CLIENT_ID)")
	case !validLogLevel(c.Log.Level):
		return fmt.Errorf("unknown log level %q (ROSTER_LOG_LEVEL)", c.Log.Level)
	case c.Cache.MaxSizeBytes <= 0:
		return fmt.Errorf("cache max size must be positive (got %d)", c.Cache.MaxSizeBytes)
	case c.Cache.KeyPrefix != "" && strings.HasPrefix(classify.DefaultCriticalKey, c.Cache.KeyPrefix):
		// Clear and maintenance remove every key under the prefix.
		return fmt.Errorf("cache key prefix %q covers the critical error log key %q", c.Cache.KeyPrefix, classify.DefaultCriticalKey)
	case c.Queue.MaxDelay < c.Queue.MinDelay:
		return fmt.Errorf("queue max delay %s is below min delay %s", c.Queue.MaxDelay, c.Queue.MinDelay)
	case c.Queue.MaxRetries < 0:
		return fmt.Errorf("queue max retries must not be negative (got %d)", c.Queue.MaxRetries)
	case c.Fetch.BatchSize <= 0:
		return fmt.Errorf("fetch batch size must be positive (got %d)", c.Fetch.BatchSize)
	case c.Fetch.MaxItems < c.Fetch.BatchSize:
		return fmt.Errorf("fetch max items %d is below batch size %d", c.Fetch.MaxItems, c.Fetch.BatchSize)
	}
	return nil
}

func validLogLevel(name string) bool {
	_, err := logging.ParseLevel(name)
	return err == nil
}

// envVar binds one ROSTER_* variable to a setter.
type envVar struct {
	name string
	set  func(string) error
}

func (c *Config) envVars() []envVar {
	return []envVar{
		{"ROSTER_BASE_URL", str(&c.Remote.BaseURL)},
		{"ROSTER_USER_AGENT", str(&c.Remote.UserAgent)},
		{"ROSTER_AUTHORIZATION", str(&c.Remote.Authorization)},
		{"ROSTER_TOKEN_HEADER", str(&c.Remote.TokenHeader)},
		{"ROSTER_TOKEN", str(&c.Remote.Token)},
		{"ROSTER_OAUTH2_TOKEN_URL", str(&c.Remote.OAuth2.TokenURL)},
		{"ROSTER_OAUTH2_CLIENT_ID", str(&c.Remote.OAuth2.ClientID)},
		{"ROSTER_OAUTH2_CLIENT_SECRET", str(&c.Remote.OAuth2.ClientSecret)},
		{"ROSTER_REDIS_ADDR", str(&c.Redis.Addr)},
		{"ROSTER_REDIS_PASSWORD", str(&c.Redis.Password)},
		{"ROSTER_REDIS_DB", integer(&c.Redis.DB)},
		{"ROSTER_CACHE_MAX_BYTES", int64Var(&c.Cache.MaxSizeBytes)},
		{"ROSTER_QUEUE_MIN_DELAY", duration(&c.Queue.MinDelay)},
		{"ROSTER_QUEUE_MAX_DELAY", duration(&c.Queue.MaxDelay)},
		{"ROSTER_QUEUE_TIMEOUT", duration(&c.Queue.Timeout)},
		{"ROSTER_QUEUE_MAX_RETRIES", integer(&c.Queue.MaxRetries)},
		{"ROSTER_BATCH_SIZE", integer(&c.Fetch.BatchSize)},
		{"ROSTER_MAX_ITEMS", integer(&c.Fetch.MaxItems)},
		{"ROSTER_RECORDS_TTL", duration(&c.Fetch.RecordsTTL)},
		{"ROSTER_LOGO_TTL", duration(&c.Fetch.LogoTTL)},
		{"ROSTER_HEALTH_SCHEDULE", str(&c.Health.Schedule)},
		{"ROSTER_LISTEN_ADDR", str(&c.Server.Addr)},
		{"ROSTER_LOG_LEVEL", str(&c.Log.Level)},
		{"ROSTER_LOG_PRETTY", boolean(&c.Log.Pretty)},
	}
}

func (c *Config) applyEnv() error {
	for _, v := range c.envVars() {
		raw, ok := os.LookupEnv(v.name)
		if !ok || raw == "" {
			continue
		}
		if err := v.set(raw); err != nil {
			return fmt.Errorf("invalid %s: %w", v.name, err)
		}
	}
	return nil
}

func str(dst *string) func(string) error {
	return func(s string) error {
		*dst = s
		return nil
	}
}

func integer(dst *int) func(string) error {
	return func(s string) error {
		n, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func int64Var(dst *int64) func(string) error {
	return func(s string) error {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func duration(dst *time.Duration) func(string) error {
	return func(s string) error {
		d, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

func boolean(dst *bool) func(string) error {
	return func(s string) error {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}
