package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/roster-client/pkg/classify"
	"github.com/Sternrassler/roster-client/pkg/fetcher"
	"github.com/Sternrassler/roster-client/pkg/health"
	"github.com/Sternrassler/roster-client/pkg/metrics"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// requestTimeout bounds a single proxied call, a full remote fetch included.
const requestTimeout = 5 * time.Minute

// server exposes the fetcher over HTTP.
type server struct {
	fetcher *fetcher.Fetcher
	monitor *health.Monitor
	logger  zerolog.Logger
}

func (s *server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/records", s.handleRecords).Methods(http.MethodGet)
	r.HandleFunc("/records/refresh", s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/cache/stats", s.handleCacheStats).Methods(http.MethodGet)
	r.HandleFunc("/cache", s.handleClearCache).Methods(http.MethodDelete)
	r.HandleFunc("/queue/stats", s.handleQueueStats).Methods(http.MethodGet)
	r.HandleFunc("/errors", s.handleErrors).Methods(http.MethodGet)
	r.HandleFunc("/errors", s.handleClearErrors).Methods(http.MethodDelete)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/last", s.handleLastHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	return r
}

type recordsResponse struct {
	Count   int `json:"count"`
	Records any `json:"records"`
}

func (s *server) handleRecords(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	records, err := s.fetcher.GetRecords(ctx, force)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, recordsResponse{Count: len(records), Records: records})
}

func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	records, err := s.fetcher.Refresh(ctx)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, recordsResponse{Count: len(records), Records: records})
}

func (s *server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.fetcher.CacheStats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := s.fetcher.ClearCache(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.fetcher.QueueStats())
}

func (s *server) handleErrors(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	s.writeJSON(w, http.StatusOK, s.fetcher.ErrorLog(limit))
}

func (s *server) handleClearErrors(w http.ResponseWriter, r *http.Request) {
	if err := s.fetcher.ClearErrorLog(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report, err := s.fetcher.HealthStatus(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusOK
	if report.Status == health.StatusCritical {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, report)
}

// handleLastHealth returns the report of the last scheduled maintenance run.
func (s *server) handleLastHealth(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		http.Error(w, "health monitor disabled", http.StatusNotFound)
		return
	}
	report, ok := s.monitor.LastReport()
	if !ok {
		http.Error(w, "no maintenance run yet", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

type errorResponse struct {
	Error *classify.Error `json:"error"`
}

// writeError maps classified failures onto gateway status codes.
func (s *server) writeError(w http.ResponseWriter, err error) {
	var ce *classify.Error
	if !errors.As(err, &ce) {
		s.logger.Error().Err(err).Msg("Request failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	status := http.StatusBadGateway
	switch ce.Kind {
	case classify.KindRateLimit:
		status = http.StatusServiceUnavailable
	case classify.KindTimeout:
		status = http.StatusGatewayTimeout
	case classify.KindCache:
		status = http.StatusInternalServerError
	}
	s.writeJSON(w, status, errorResponse{Error: ce})
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write response")
	}
}
