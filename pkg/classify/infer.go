package classify

import (
	"context"
	"errors"
	"net/http"

	"github.com/Sternrassler/roster-client/pkg/cache"
	"github.com/Sternrassler/roster-client/pkg/record"
	"github.com/Sternrassler/roster-client/pkg/transport"
)

// Infer maps a raw failure to a Kind.
//
// Throttling wins over status: a 503 carrying Retry-After is a rate limit.
// Failures with no more specific signal are treated as network errors.
func Infer(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}

	var se *transport.StatusError
	if errors.As(err, &se) {
		switch {
		case se.Throttled():
			return KindRateLimit
		case se.StatusCode == http.StatusUnauthorized:
			return KindAuth
		case se.StatusCode == http.StatusForbidden:
			return KindPermission
		}
		return KindNetwork
	}

	switch {
	case errors.Is(err, transport.ErrRateLimited):
		return KindRateLimit
	case errors.Is(err, transport.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindUnknown
	case errors.Is(err, record.ErrMalformed):
		return KindParsing
	case errors.Is(err, cache.ErrInvalidEntry):
		return KindCache
	}
	return KindNetwork
}
