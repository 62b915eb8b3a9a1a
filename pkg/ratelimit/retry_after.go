package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ParseRetryAfter extracts the server supplied delay from a Retry-After
// header. Both delta-seconds and HTTP-date forms are accepted.
// Returns false if the header is absent or unparseable.
func ParseRetryAfter(headers http.Header) (time.Duration, bool) {
	return parseRetryAfterAt(headers, time.Now())
}

func parseRetryAfterAt(headers http.Header, now time.Time) (time.Duration, bool) {
	if headers == nil {
		return 0, false
	}
	value := strings.TrimSpace(headers.Get("Retry-After"))
	if value == "" {
		return 0, false
	}

	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}

	at, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}
	d := at.Sub(now)
	if d < 0 {
		// Date already passed: throttled, but nothing left to wait for.
		return 0, true
	}
	return d, true
}
