package server

import (
	"sync"
	"time"

	"github.com/vango-dev/liveview/pkg/live"
)

// LiveSession is the server-held state of one logical live region: the
// application state and the HTML last rendered from it. It outlives the
// connection it is attached to for the resume window.
//
// state and lastRendered are guarded by mu, which the Dispatcher holds for
// the whole of one event so handlers for a session never overlap.
type LiveSession struct {
	id        string
	createdAt time.Time

	mu           sync.Mutex
	state        live.State
	lastRendered string

	meta       sync.Mutex
	lastActive time.Time
	deadline   time.Time // zero while attached
	owner      *Conn
}

func newLiveSession(id string, state live.State, html string, now time.Time) *LiveSession {
	return &LiveSession{
		id:           id,
		createdAt:    now,
		state:        state,
		lastRendered: html,
		lastActive:   now,
	}
}

// ID returns the session id, sent to clients as liveview_id.
func (s *LiveSession) ID() string {
	return s.id
}

// CreatedAt returns when the session was mounted.
func (s *LiveSession) CreatedAt() time.Time {
	return s.createdAt
}

// State returns the current application state. It waits for an in-flight
// event to finish.
func (s *LiveSession) State() live.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastRendered returns the HTML every next diff is computed against.
func (s *LiveSession) LastRendered() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRendered
}

// snapshot returns state and HTML as one consistent pair.
func (s *LiveSession) snapshot() (live.State, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.lastRendered
}

// LastActive returns the time of the last event or attach.
func (s *LiveSession) LastActive() time.Time {
	s.meta.Lock()
	defer s.meta.Unlock()
	return s.lastActive
}

// Deadline returns the eviction deadline of a detached session.
// ok is false while the session is attached.
func (s *LiveSession) Deadline() (deadline time.Time, ok bool) {
	s.meta.Lock()
	defer s.meta.Unlock()
	return s.deadline, s.owner == nil
}

// Attached reports whether a connection owns the session.
func (s *LiveSession) Attached() bool {
	s.meta.Lock()
	defer s.meta.Unlock()
	return s.owner != nil
}

func (s *LiveSession) touch(now time.Time) {
	s.meta.Lock()
	s.lastActive = now
	s.meta.Unlock()
}

func (s *LiveSession) ownedBy(c *Conn) bool {
	s.meta.Lock()
	defer s.meta.Unlock()
	return s.owner == c
}
