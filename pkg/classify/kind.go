package classify

// Kind is the closed taxonomy of failures.
type Kind string

const (
	// KindAuth marks a missing or rejected session.
	KindAuth Kind = "auth"

	// KindNetwork marks transport-level and generic remote failures.
	KindNetwork Kind = "network"

	// KindRateLimit marks an explicit throttling signal from the remote.
	KindRateLimit Kind = "rate_limit"

	// KindParsing marks a response that could not be decoded.
	KindParsing Kind = "parsing"

	// KindCache marks a local cache failure.
	KindCache Kind = "cache"

	// KindPermission marks a request the session is not allowed to make.
	KindPermission Kind = "permission"

	// KindTimeout marks a request that exceeded its deadline.
	KindTimeout Kind = "timeout"

	// KindUnknown is the fallback.
	KindUnknown Kind = "unknown"
)

// Kinds lists every kind in display order.
var Kinds = []Kind{
	KindAuth, KindNetwork, KindRateLimit, KindParsing,
	KindCache, KindPermission, KindTimeout, KindUnknown,
}

type kindInfo struct {
	recoverable     bool
	userMessage     string
	suggestedAction string
}

var kindTable = map[Kind]kindInfo{
	KindAuth: {
		recoverable:     false,
		userMessage:     "Your session is no longer valid.",
		suggestedAction: "Sign in again and retry.",
	},
	KindNetwork: {
		recoverable:     true,
		userMessage:     "The remote service could not be reached.",
		suggestedAction: "Check your connection; the request will be retried.",
	},
	KindRateLimit: {
		recoverable:     true,
		userMessage:     "The remote service is throttling requests.",
		suggestedAction: "Wait a few minutes before refreshing.",
	},
	KindParsing: {
		recoverable:     true,
		userMessage:     "The remote service returned data in an unexpected format.",
		suggestedAction: "Retry later; report the problem if it persists.",
	},
	KindCache: {
		recoverable:     true,
		userMessage:     "Local cached data was unreadable and has been discarded.",
		suggestedAction: "Clear the cache if the problem persists.",
	},
	KindPermission: {
		recoverable:     false,
		userMessage:     "You do not have access to this resource.",
		suggestedAction: "Check the account permissions.",
	},
	KindTimeout: {
		recoverable:     true,
		userMessage:     "The remote service took too long to respond.",
		suggestedAction: "The request will be retried automatically.",
	},
	KindUnknown: {
		recoverable:     true,
		userMessage:     "An unexpected error occurred.",
	},
}

func lookup(kind Kind) kindInfo {
	if info, ok := kindTable[kind]; ok {
		return info
	}
	return kindTable[KindUnknown]
}

// Recoverable reports whether errors of kind can succeed on a later attempt.
func Recoverable(kind Kind) bool {
	return lookup(kind).recoverable
}

// Retryable reports whether the queue retries errors of kind in place.
func Retryable(kind Kind) bool {
	switch kind {
	case KindNetwork, KindTimeout, KindRateLimit:
		return true
	default:
		return false
	}
}
