// Package metrics exposes the Prometheus registry used by the roster client.
// Metrics are defined with promauto in the packages that record them
// (cache, classify, queue, ratelimit, transport, fetcher, health) so that
// this package has no dependency on them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all roster metrics are registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer reads back what Registry collected.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the collected metrics in the Prometheus exposition format.
// Scrapes are counted on Registry as promhttp_metric_handler_requests_total.
func Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(Registry, promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{}))
}

// Metrics Documentation
//
// Cache (pkg/cache):
//   - roster_cache_hits_total (Counter): Cache hits
//   - roster_cache_misses_total{reason} (Counter): Cache misses (absent, expired, corrupt)
//   - roster_cache_evictions_total{reason} (Counter): Entries evicted to stay under the size ceiling
//   - roster_cache_size_bytes (Gauge): Accounted size of stored entries
//   - roster_cache_errors_total{operation} (Counter): Store or codec failures
//
// Errors (pkg/classify):
//   - roster_classified_errors_total{kind} (Counter): Classified errors by kind
//   - roster_critical_log_persist_failures_total (Counter): Failed writes of the durable critical log
//
// Queue (pkg/queue):
//   - roster_queue_requests_total{kind, outcome} (Counter): Dispatched requests
//   - roster_queue_request_duration_seconds{kind} (Histogram): Dispatch latency
//   - roster_queue_length (Gauge): Waiting requests
//   - roster_queue_retries_total{error_kind} (Counter): Retry attempts
//   - roster_queue_retry_backoff_seconds{error_kind} (Histogram): Retry delay
//   - roster_queue_retry_exhausted_total{error_kind} (Counter): Requests that ran out of retries
//
// Rate limiting (pkg/ratelimit):
//   - roster_rate_limit_backoff_seconds (Gauge): Current global backoff
//   - roster_rate_limit_hits_total (Counter): Throttling responses observed
//
// Transport (pkg/transport):
//   - roster_http_requests_total{kind, status} (Counter): Remote HTTP requests
//   - roster_http_request_duration_seconds{kind} (Histogram): Remote HTTP latency
//
// Fetching (pkg/fetcher):
//   - roster_fetch_cycles_total{outcome} (Counter): GetRecords calls (cache_hit, fetched, aborted)
//   - roster_fetch_batches_total{outcome} (Counter): Page batches
//   - roster_fetch_duration_seconds (Histogram): Full remote fetches
//   - roster_fetch_records (Gauge): Records returned by the last remote fetch
//   - roster_enrichment_lookups_total{outcome} (Counter): Logo lookups
//
// Health (pkg/health):
//   - roster_health_checks_total{status} (Counter): Health checks by resulting status
//   - roster_health_maintenance_removed_total{reason} (Counter): Entries removed by maintenance
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(roster_cache_hits_total[5m])) /
//   (sum(rate(roster_cache_hits_total[5m])) + sum(rate(roster_cache_misses_total[5m])))
//
//   # Throttling
//   rate(roster_rate_limit_hits_total[5m]) > 0
//
//   # P95 Remote Latency
//   histogram_quantile(0.95, rate(roster_http_request_duration_seconds_bucket[5m]))
