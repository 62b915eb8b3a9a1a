// Package testutil provides testing utilities for the roster client.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// MockRemote is a configurable mock of the remote roster service.
//
// Routes:
//
//	GET /records?start=N&count=M  -> page of elements
//	GET /affiliations/{key}/logo  -> {"logo": "..."}
type MockRemote struct {
	server *httptest.Server
	mu     sync.RWMutex

	elements []Element
	logos    map[string]string

	// throttleNext responds 429 to the next n requests.
	throttleNext int
	retryAfter   string

	// statusNext responds with the given status to the next request.
	statusNext int

	// Tracking
	RequestCount      int
	LastRequestHeader http.Header
	Paths             []string
}

// NewMockRemote creates a mock remote serving elements and logos.
func NewMockRemote(elements []Element, logos map[string]string) *MockRemote {
	if logos == nil {
		logos = map[string]string{}
	}
	mock := &MockRemote{
		elements: elements,
		logos:    logos,
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server URL.
func (m *MockRemote) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockRemote) Close() {
	m.server.Close()
}

// ThrottleNext makes the next n requests return 429 with Retry-After.
func (m *MockRemote) ThrottleNext(n int, retryAfter string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.throttleNext = n
	m.retryAfter = retryAfter
}

// FailNext makes the next request return status.
func (m *MockRemote) FailNext(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusNext = status
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockRemote) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetLastRequestHeader returns the headers of the most recent request.
func (m *MockRemote) GetLastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader.Clone()
}

func (m *MockRemote) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.RequestCount++
	m.LastRequestHeader = r.Header.Clone()
	m.Paths = append(m.Paths, r.URL.RequestURI())

	if m.throttleNext > 0 {
		m.throttleNext--
		retryAfter := m.retryAfter
		m.mu.Unlock()
		if retryAfter != "" {
			w.Header().Set("Retry-After", retryAfter)
		}
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": "Rate limit exceeded"}`))
		return
	}
	if m.statusNext != 0 {
		status := m.statusNext
		m.statusNext = 0
		m.mu.Unlock()
		w.WriteHeader(status)
		w.Write([]byte(`{"error": "scripted failure"}`))
		return
	}
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	switch {
	case r.URL.Path == "/records":
		m.serveRecords(w, r)
	case strings.HasPrefix(r.URL.Path, "/affiliations/") && strings.HasSuffix(r.URL.Path, "/logo"):
		key := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/affiliations/"), "/logo")
		m.mu.RLock()
		logo, ok := m.logos[key]
		m.mu.RUnlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error": "not found"}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"logo": logo})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (m *MockRemote) serveRecords(w http.ResponseWriter, r *http.Request) {
	start, _ := strconv.Atoi(r.URL.Query().Get("start"))
	count, err := strconv.Atoi(r.URL.Query().Get("count"))
	if err != nil || count <= 0 {
		count = 10
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	page := []Element{}
	if start < len(m.elements) {
		end := start + count
		if end > len(m.elements) {
			end = len(m.elements)
		}
		page = m.elements[start:end]
	}
	w.Write(PageBody(page...))
}
