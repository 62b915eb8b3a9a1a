// Command roster-proxy serves the cached, enriched roster over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/roster-client/pkg/cache"
	"github.com/Sternrassler/roster-client/pkg/classify"
	"github.com/Sternrassler/roster-client/pkg/config"
	"github.com/Sternrassler/roster-client/pkg/fetcher"
	"github.com/Sternrassler/roster-client/pkg/health"
	"github.com/Sternrassler/roster-client/pkg/logging"
	"github.com/Sternrassler/roster-client/pkg/queue"
	"github.com/Sternrassler/roster-client/pkg/transport"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (defaults plus ROSTER_* env when empty)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "roster-proxy: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.LoggingConfig())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Proxy failed")
	}
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFile(path)
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	a.monitor.Start()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.server.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Server.Addr).
			Str("remote", cfg.Remote.BaseURL).
			Str("user_agent", cfg.Remote.UserAgent).
			Msg("Starting roster proxy")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

// app holds the wired components of the proxy.
type app struct {
	redis   *redis.Client
	fetcher *fetcher.Fetcher
	monitor *health.Monitor
	server  *server
	logger  zerolog.Logger
}

func newApp(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{logger: logger}

	var store cache.Store
	if opts, ok := cfg.RedisOptions(); ok {
		a.redis = redis.NewClient(opts)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.redis.Close()
			return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
		}
		logger.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
		store = cache.NewRedisStore(a.redis)
	} else {
		logger.Warn().Msg("No Redis configured, cache is kept in memory")
		store = cache.NewMemoryStore()
	}

	cacheOpts := cfg.CacheOptions()
	cacheOpts.Logger = &logger
	c := cache.New(store, cacheOpts)

	classifier := classify.New(store, classify.Options{Logger: &logger})
	if err := classifier.Restore(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to restore critical error log")
	}

	httpCfg := cfg.HTTPConfig(context.Background())
	httpCfg.Logger = &logger
	t, err := transport.NewHTTPTransport(httpCfg)
	if err != nil {
		a.closeRedis()
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	queueCfg := cfg.QueueConfig()
	queueCfg.Logger = &logger
	q := queue.New(t, classifier, queueCfg)

	fetcherCfg := cfg.FetcherConfig()
	fetcherCfg.Logger = &logger
	a.fetcher = fetcher.New(q, c, classifier, fetcherCfg)

	a.monitor, err = health.NewMonitor(health.Sources{
		Cache:      c,
		Classifier: classifier,
		Queue:      q,
	}, health.MonitorConfig{Schedule: cfg.Health.Schedule, Logger: &logger})
	if err != nil {
		a.fetcher.Close()
		a.closeRedis()
		return nil, err
	}

	a.server = &server{fetcher: a.fetcher, monitor: a.monitor, logger: logger}
	return a, nil
}

// Close stops the monitor, the fetcher and its queue, then the Redis client.
func (a *app) Close() {
	a.monitor.Stop()
	a.fetcher.Close()
	a.closeRedis()
}

func (a *app) closeRedis() {
	if a.redis == nil {
		return
	}
	if err := a.redis.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to close Redis client")
	}
}
