package session

import (
	"context"
	"errors"
	"time"
)

// Store is a persistence backend for session snapshots.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save persists data for id until expiresAt, overwriting any entry.
	Save(ctx context.Context, id string, data []byte, expiresAt time.Time) error

	// Load returns the data saved for id.
	// Returns (nil, nil) if the entry doesn't exist or has expired.
	Load(ctx context.Context, id string) ([]byte, error)

	// Delete removes id. Deleting a missing entry is not an error.
	Delete(ctx context.Context, id string) error

	// Touch moves the expiry of an existing entry.
	// Touching a missing entry is not an error.
	Touch(ctx context.Context, id string, expiresAt time.Time) error

	// SaveAll persists several entries, atomically where the backend allows.
	SaveAll(ctx context.Context, entries map[string]Entry) error

	// Close releases resources held by the store.
	Close() error
}

// Entry is one item passed to SaveAll.
type Entry struct {
	Data      []byte
	ExpiresAt time.Time
}

// Errors returned by stores.
var (
	// ErrStoreClosed is returned when a closed store is used.
	ErrStoreClosed = errors.New("session: store closed")

	// ErrUnsupportedVersion is returned by Decode for unknown snapshot formats.
	ErrUnsupportedVersion = errors.New("session: unsupported snapshot version")
)

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
