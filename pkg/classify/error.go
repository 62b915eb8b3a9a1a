package classify

import (
	"fmt"
	"time"
)

// Error is a classified failure. It is immutable once constructed.
type Error struct {
	ID              string         `json:"id"`
	Kind            Kind           `json:"kind"`
	Message         string         `json:"message"`
	Cause           error          `json:"-"`
	CauseText       string         `json:"cause,omitempty"`
	Context         map[string]any `json:"context,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	Recoverable     bool           `json:"recoverable"`
	UserMessage     string         `json:"user_message"`
	SuggestedAction string         `json:"suggested_action,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Message, e.Cause)
	}
	if e.CauseText != "" {
		return fmt.Sprintf("%s error: %s: %s", e.Kind, e.Message, e.CauseText)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the queue would retry this error in place.
func (e *Error) Retryable() bool {
	return Retryable(e.Kind)
}
