package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/roster-client/pkg/cache"
	"github.com/Sternrassler/roster-client/pkg/classify"
	"github.com/Sternrassler/roster-client/pkg/logging"
	"github.com/Sternrassler/roster-client/pkg/queue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSchedule runs maintenance every five minutes.
const DefaultSchedule = "@every 5m"

var (
	healthChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_health_checks_total",
		Help: "Total health checks by resulting status",
	}, []string{"status"})

	maintenanceRemoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_health_maintenance_removed_total",
		Help: "Cache entries removed by maintenance, by reason",
	}, []string{"reason"})
)

// Sources are the components a Monitor inspects.
type Sources struct {
	Cache      *cache.Cache
	Classifier *classify.Classifier
	Queue      *queue.Queue
}

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	// Schedule is a cron spec or descriptor such as "@every 5m".
	Schedule string

	// Timeout bounds a single maintenance run.
	Timeout time.Duration

	Now    func() time.Time
	Logger *zerolog.Logger
}

// Monitor periodically cleans up and validates the cache and records a report.
type Monitor struct {
	src    Sources
	cfg    MonitorConfig
	logger zerolog.Logger
	cron   *cron.Cron

	mu   sync.RWMutex
	last *Report
}

// NewMonitor creates a monitor. It does not start until Start is called.
func NewMonitor(src Sources, cfg MonitorConfig) (*Monitor, error) {
	if src.Cache == nil || src.Classifier == nil || src.Queue == nil {
		return nil, fmt.Errorf("health monitor needs cache, classifier and queue")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	m := &Monitor{
		src:    src,
		cfg:    cfg,
		logger: logging.Resolve(cfg.Logger, "health-monitor"),
	}

	cronLogger := cron.PrintfLogger(&m.logger)
	m.cron = cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	if _, err := m.cron.AddFunc(cfg.Schedule, m.tick); err != nil {
		return nil, fmt.Errorf("invalid health schedule %q: %w", cfg.Schedule, err)
	}
	return m, nil
}

// Start begins the scheduled runs.
func (m *Monitor) Start() {
	m.cron.Start()
	m.logger.Info().Str("schedule", m.cfg.Schedule).Msg("Health monitor started")
}

// Stop halts the schedule and waits for a running check to finish.
func (m *Monitor) Stop() {
	<-m.cron.Stop().Done()
	m.logger.Info().Msg("Health monitor stopped")
}

func (m *Monitor) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Timeout)
	defer cancel()
	if _, err := m.RunOnce(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("Health check failed")
	}
}

// RunOnce removes expired entries, validates the cache and records a report.
func (m *Monitor) RunOnce(ctx context.Context) (Report, error) {
	removed, err := m.src.Cache.CleanupExpired(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("cleanup expired: %w", err)
	}
	maintenanceRemoved.WithLabelValues("expired").Add(float64(removed))

	validation, err := m.src.Cache.Validate(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("validate cache: %w", err)
	}
	maintenanceRemoved.WithLabelValues("invalid").Add(float64(validation.Repaired))

	report, err := Check(ctx, m.src, m.cfg.Now())
	if err != nil {
		return Report{}, err
	}

	m.mu.Lock()
	m.last = &report
	m.mu.Unlock()

	event := m.logger.Info()
	if report.Status != StatusHealthy {
		event = m.logger.Warn()
	}
	event.
		Str("status", string(report.Status)).
		Int("expired_removed", removed).
		Int("invalid_repaired", validation.Repaired).
		Strs("issues", report.Issues).
		Msg("Health check completed")

	return report, nil
}

// LastReport returns the most recent report; ok is false before the first run.
func (m *Monitor) LastReport() (Report, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.last == nil {
		return Report{}, false
	}
	return *m.last, true
}

// Check gathers the current statistics from src and evaluates them.
func Check(ctx context.Context, src Sources, now time.Time) (Report, error) {
	cacheStats, err := src.Cache.Stats(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("cache stats: %w", err)
	}
	queueStats := src.Queue.Stats()

	report := Evaluate(Inputs{
		Cache:       cacheStats,
		Errors:      src.Classifier.Analyze(),
		Queue:       queueStats,
		QueueHealth: queueStats.Health(),
	}, now)
	healthChecks.WithLabelValues(string(report.Status)).Inc()
	return report, nil
}
