package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Sternrassler/roster-client/pkg/transport"
)

// HandlerFunc produces the outcome of the n-th call (0-based).
type HandlerFunc func(ctx context.Context, req transport.Request, n int) (*transport.Response, error)

// Call records one Execute invocation.
type Call struct {
	Request transport.Request
	Headers http.Header
	At      time.Time
}

// ScriptTransport is a transport.Transport driven by a HandlerFunc.
type ScriptTransport struct {
	mu      sync.Mutex
	calls   []Call
	handler HandlerFunc
}

// NewScriptTransport creates a scripted transport.
func NewScriptTransport(h HandlerFunc) *ScriptTransport {
	return &ScriptTransport{handler: h}
}

// Execute implements transport.Transport.
func (s *ScriptTransport) Execute(ctx context.Context, req transport.Request, headers http.Header) (*transport.Response, error) {
	s.mu.Lock()
	n := len(s.calls)
	s.calls = append(s.calls, Call{Request: req, Headers: headers.Clone(), At: time.Now()})
	s.mu.Unlock()

	return s.handler(ctx, req, n)
}

// Calls returns a copy of the recorded calls.
func (s *ScriptTransport) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns the number of Execute calls.
func (s *ScriptTransport) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// Step is one scripted outcome.
type Step struct {
	Response *transport.Response
	Err      error
	// Delay blocks the call, honouring ctx.
	Delay time.Duration
}

// Sequence replays steps in order; the last step repeats once exhausted.
func Sequence(steps ...Step) HandlerFunc {
	return func(ctx context.Context, req transport.Request, n int) (*transport.Response, error) {
		if len(steps) == 0 {
			return nil, errors.New("no scripted steps")
		}
		if n >= len(steps) {
			n = len(steps) - 1
		}
		step := steps[n]
		if step.Delay > 0 {
			if err := Sleep(ctx, step.Delay); err != nil {
				return nil, err
			}
		}
		return step.Response, step.Err
	}
}

// Sleep waits for d or until ctx is done. A deadline expiry is reported
// as transport.ErrTimeout, matching HTTPTransport.
func Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", transport.ErrTimeout, ctx.Err())
		}
		return ctx.Err()
	}
}

// Affiliation is the nested affiliation object of an Element.
type Affiliation struct {
	Key  string `json:"key"`
	Logo string `json:"logo,omitempty"`
}

// Element is a roster element in the remote wire format.
type Element struct {
	ID          any          `json:"id"`
	DisplayName string       `json:"displayName,omitempty"`
	Affiliation *Affiliation `json:"affiliation,omitempty"`
}

// El builds an element, optionally with an affiliation key.
func El(id any, affiliation string) Element {
	e := Element{ID: id, DisplayName: fmt.Sprintf("Member %v", id)}
	if affiliation != "" {
		e.Affiliation = &Affiliation{Key: affiliation}
	}
	return e
}

// PageBody renders a page body.
func PageBody(elems ...Element) []byte {
	if elems == nil {
		elems = []Element{}
	}
	body, _ := json.Marshal(map[string]any{"elements": elems})
	return body
}

// Page returns a 200 response holding elems.
func Page(elems ...Element) *transport.Response {
	return OK(PageBody(elems...))
}

// Logo returns a 200 logo lookup response.
func Logo(ref string) *transport.Response {
	body, _ := json.Marshal(map[string]string{"logo": ref})
	return OK(body)
}

// OK wraps body in a 200 response.
func OK(body []byte) *transport.Response {
	return &transport.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       body,
	}
}

// Status returns a StatusError for code.
func Status(code int) error {
	return &transport.StatusError{StatusCode: code, Status: http.StatusText(code)}
}

// Throttled returns a 429 StatusError with a Retry-After hint.
func Throttled(retryAfter time.Duration) error {
	return &transport.StatusError{
		StatusCode:    http.StatusTooManyRequests,
		Status:        http.StatusText(http.StatusTooManyRequests),
		RetryAfter:    retryAfter,
		HasRetryAfter: true,
	}
}
