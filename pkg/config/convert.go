package config

import (
	"context"
	"net/http"

	"github.com/Sternrassler/roster-client/pkg/cache"
	"github.com/Sternrassler/roster-client/pkg/fetcher"
	"github.com/Sternrassler/roster-client/pkg/logging"
	"github.com/Sternrassler/roster-client/pkg/queue"
	"github.com/Sternrassler/roster-client/pkg/transport"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2/clientcredentials"
)

// CacheOptions returns the cache options.
func (c Config) CacheOptions() cache.Options {
	opts := cache.DefaultOptions()
	opts.MaxSizeBytes = c.Cache.MaxSizeBytes
	opts.CompressionThreshold = c.Cache.CompressionThreshold
	opts.KeyPrefix = c.Cache.KeyPrefix
	return opts
}

// QueueConfig returns the queue configuration. A max_retries of zero
// disables retries.
func (c Config) QueueConfig() queue.Config {
	q := queue.DefaultConfig()
	q.MinDelay = c.Queue.MinDelay
	q.MaxDelay = c.Queue.MaxDelay
	q.DefaultTimeout = c.Queue.Timeout
	q.MaxRetries = c.Queue.MaxRetries
	if q.MaxRetries == 0 {
		q.MaxRetries = -1
	}
	q.RetryBaseDelay = c.Queue.RetryBaseDelay
	q.RetryJitter = c.Queue.RetryJitter
	q.DefaultRateLimitDelay = c.Queue.DefaultRateLimitDelay
	return q
}

// FetcherConfig returns the fetcher configuration.
func (c Config) FetcherConfig() fetcher.Config {
	f := fetcher.DefaultConfig()
	f.BatchSize = c.Fetch.BatchSize
	f.MaxItems = c.Fetch.MaxItems
	f.MaxConsecutiveFailures = c.Fetch.MaxConsecutiveFailures
	f.RecordsTTL = c.Fetch.RecordsTTL
	f.LogoTTL = c.Fetch.LogoTTL
	f.EnrichBatchSize = c.Fetch.EnrichBatchSize
	f.PagePath = c.Remote.PagePath
	f.LogoPath = c.Remote.LogoPath
	return f
}

// HTTPConfig returns the HTTP transport configuration. Token refreshes of
// the OAuth2 source run under ctx.
func (c Config) HTTPConfig(ctx context.Context) transport.HTTPConfig {
	cfg := transport.HTTPConfig{
		BaseURL:   c.Remote.BaseURL,
		UserAgent: c.Remote.UserAgent,
		Client:    &http.Client{},
	}

	switch {
	case c.Remote.OAuth2.TokenURL != "":
		cc := clientcredentials.Config{
			ClientID:     c.Remote.OAuth2.ClientID,
			ClientSecret: c.Remote.OAuth2.ClientSecret,
			TokenURL:     c.Remote.OAuth2.TokenURL,
			Scopes:       c.Remote.OAuth2.Scopes,
		}
		cfg.Credentials = transport.NewOAuth2Credentials(cc.TokenSource(ctx))
	case c.Remote.Authorization != "" || c.Remote.Token != "":
		cfg.Credentials = transport.NewStaticCredentials(c.Remote.Authorization, c.Remote.TokenHeader, c.Remote.Token)
	}
	return cfg
}

// RedisOptions returns the Redis client options; ok is false when Redis is
// not configured.
func (c Config) RedisOptions() (*redis.Options, bool) {
	if c.Redis.Addr == "" {
		return nil, false
	}
	return &redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	}, true
}

// LoggingConfig returns the logging configuration.
func (c Config) LoggingConfig() logging.Config {
	l := logging.DefaultConfig()
	if level, err := logging.ParseLevel(c.Log.Level); err == nil {
		l.Level = level
	}
	l.Pretty = c.Log.Pretty
	l.Service = "roster-proxy"
	return l
}
