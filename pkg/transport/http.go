package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/roster-client/pkg/logging"
	"github.com/Sternrassler/roster-client/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for HTTP transport operations.
var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_http_requests_total",
		Help: "Total remote HTTP requests by request kind and status",
	}, []string{"kind", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "roster_http_request_duration_seconds",
		Help:    "Remote HTTP request duration in seconds by request kind",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"kind"})
)

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 32 << 20

// HTTPConfig holds the HTTP transport configuration.
type HTTPConfig struct {
	// BaseURL of the remote service, e.g. "https://api.example.com/v2".
	BaseURL string

	// UserAgent sent with every request.
	UserAgent string

	// Credentials supplies authorization headers (optional).
	Credentials CredentialProvider

	// Client overrides the underlying http.Client (optional).
	Client *http.Client

	// Logger overrides the component logger (optional).
	Logger *zerolog.Logger
}

// HTTPTransport executes requests over HTTP and maps responses to
// Response / StatusError.
type HTTPTransport struct {
	baseURL   string
	userAgent string
	creds     CredentialProvider
	client    *http.Client
	logger    zerolog.Logger
}

// NewHTTPTransport creates a new HTTP transport.
func NewHTTPTransport(cfg HTTPConfig) (*HTTPTransport, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	client := cfg.Client
	if client == nil {
		// Per-request timeouts come from the caller context.
		client = &http.Client{}
	}

	return &HTTPTransport{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		creds:     cfg.Credentials,
		client:    client,
		logger:    logging.Resolve(cfg.Logger, "http-transport"),
	}, nil
}

// Execute performs req. Headers are merged over the credential headers.
func (t *HTTPTransport) Execute(ctx context.Context, req Request, headers http.Header) (*Response, error) {
	u := t.baseURL + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if t.creds != nil {
		credHeaders, err := t.creds.Headers(ctx)
		if err != nil {
			return nil, &StatusError{StatusCode: http.StatusUnauthorized, Status: err.Error()}
		}
		for k, vs := range credHeaders {
			for _, v := range vs {
				httpReq.Header.Add(k, v)
			}
		}
	}
	for k, vs := range headers {
		httpReq.Header.Del(k)
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("User-Agent", t.userAgent)
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := t.client.Do(httpReq)
	httpRequestDuration.WithLabelValues(req.Kind).Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			httpRequestsTotal.WithLabelValues(req.Kind, "timeout").Inc()
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		httpRequestsTotal.WithLabelValues(req.Kind, "network_error").Inc()
		t.logger.Debug().Err(err).Str("request", req.String()).Msg("HTTP request failed")
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: read body: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("read response body: %w", err)
	}

	httpRequestsTotal.WithLabelValues(req.Kind, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		se := &StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       body,
		}
		se.RetryAfter, se.HasRetryAfter = ratelimit.ParseRetryAfter(resp.Header)

		t.logger.Warn().
			Str("request", req.String()).
			Int("status_code", resp.StatusCode).
			Bool("throttled", se.Throttled()).
			Msg("Remote request error")
		return nil, se
	}

	t.logger.Debug().
		Str("request", req.String()).
		Int("status_code", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Remote request completed")

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}, nil
}
