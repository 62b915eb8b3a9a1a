package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// errMissingField marks an envelope that lacks created_at or ttl.
var errMissingField = errors.New("missing required field")

// Entry is a decoded cache entry.
type Entry struct {
	// Data is the stored payload (compressed if Compressed is set).
	Data []byte

	// CreatedAt is when the entry was written.
	CreatedAt time.Time

	// TTL is how long the entry stays visible after CreatedAt.
	TTL time.Duration

	// Compressed reports whether Data is zstd-compressed.
	Compressed bool

	// SizeBytes is the uncompressed payload size.
	SizeBytes int
}

// IsExpired reports whether the entry is no longer visible at now.
func (e *Entry) IsExpired(now time.Time) bool {
	return now.Sub(e.CreatedAt) >= e.TTL
}

// Remaining returns the time left before expiry at now, 0 if expired.
func (e *Entry) Remaining(now time.Time) time.Duration {
	left := e.TTL - now.Sub(e.CreatedAt)
	if left < 0 {
		return 0
	}
	return left
}

// Payload returns the uncompressed payload.
func (e *Entry) Payload() ([]byte, error) {
	if !e.Compressed {
		return e.Data, nil
	}
	return decompress(e.Data)
}

// envelope is the stored form. Pointer fields let decode detect
// structurally incomplete entries.
type envelope struct {
	Data       []byte     `json:"data"`
	CreatedAt  *time.Time `json:"created_at"`
	TTLNanos   *int64     `json:"ttl_ns"`
	Compressed bool       `json:"compressed"`
	SizeBytes  int        `json:"size_bytes"`
}

func encodeEntry(e *Entry) ([]byte, error) {
	created := e.CreatedAt
	ttl := int64(e.TTL)
	return json.Marshal(envelope{
		Data:       e.Data,
		CreatedAt:  &created,
		TTLNanos:   &ttl,
		Compressed: e.Compressed,
		SizeBytes:  e.SizeBytes,
	})
}

func decodeEntry(blob []byte) (*Entry, error) {
	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if env.CreatedAt == nil {
		return nil, fmt.Errorf("%w: created_at: %w", ErrInvalidEntry, errMissingField)
	}
	if env.TTLNanos == nil {
		return nil, fmt.Errorf("%w: ttl_ns: %w", ErrInvalidEntry, errMissingField)
	}
	return &Entry{
		Data:       env.Data,
		CreatedAt:  *env.CreatedAt,
		TTL:        time.Duration(*env.TTLNanos),
		Compressed: env.Compressed,
		SizeBytes:  env.SizeBytes,
	}, nil
}
