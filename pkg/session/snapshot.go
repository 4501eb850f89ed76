package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// SnapshotVersion is the current snapshot format.
// Increment on breaking changes.
const SnapshotVersion = 1

// Snapshot is the persisted form of a live session.
type Snapshot struct {
	// ID is the live session id.
	ID string `json:"id"`

	// State is the application state, encoded by the view's StateCodec.
	State json.RawMessage `json:"state"`

	// HTML is the last rendered snapshot; a restored session diffs against it.
	HTML string `json:"html"`

	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`

	// Version is the serialization format version.
	Version int `json:"version"`
}

// Encode serializes a snapshot, stamping the current version.
func Encode(s *Snapshot) ([]byte, error) {
	s.Version = SnapshotVersion
	return json.Marshal(s)
}

// Decode parses a snapshot written by Encode.
func Decode(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("session: decode snapshot: %w", err)
	}
	if s.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, s.Version)
	}
	return &s, nil
}
