package transport

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Common errors returned by transports.
var (
	// ErrRateLimited marks a throttling response from the remote service.
	ErrRateLimited = errors.New("rate limited")

	// ErrTimeout is returned when a request exceeded its deadline.
	ErrTimeout = errors.New("request timeout")
)

// StatusError represents a non-2xx response.
type StatusError struct {
	StatusCode int
	Status     string
	// RetryAfter is the server supplied delay; zero if none was sent.
	RetryAfter time.Duration
	// HasRetryAfter distinguishes "Retry-After: 0" from a missing header.
	HasRetryAfter bool
	Body          []byte
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("remote returned status %d (%s), retry after %s",
			e.StatusCode, e.Status, e.RetryAfter)
	}
	return fmt.Sprintf("remote returned status %d (%s)", e.StatusCode, e.Status)
}

// Throttled reports whether the response is a rate limit signal: either an
// explicit 429 or any error status carrying a Retry-After hint.
func (e *StatusError) Throttled() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.HasRetryAfter
}

// Is lets errors.Is(err, ErrRateLimited) match throttling responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrRateLimited && e.Throttled()
}

// RetryAfterHint returns the throttling delay suggested by err, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var se *StatusError
	if errors.As(err, &se) && se.HasRetryAfter {
		return se.RetryAfter, true
	}
	return 0, false
}
