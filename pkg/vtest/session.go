package vtest

import (
	"context"
	"errors"
	"testing"

	"github.com/vango-dev/liveview/pkg/live"
	"github.com/vango-dev/liveview/pkg/server"
)

// ErrStillAttached is returned by SimulateReconnect while the session is
// attached.
var ErrStillAttached = errors.New("vtest: session is still attached")

// SimulateDisconnect detaches the session as a dropped connection does.
// The resume window starts and, when the view has a codec, the session is
// persisted.
func (l *Live) SimulateDisconnect() {
	l.tb.Helper()
	if l.owner == nil {
		return
	}
	if !l.registry.Detach(context.Background(), l.sess, l.owner) {
		l.tb.Fatalf("vtest: session %s was not attached", l.sess.ID())
	}
	l.owner = nil
}

// SimulateReconnect resumes the session on a new connection. When the
// session cannot be resumed the harness mounts a fresh one, as the server
// does, and returns the resume error (server.ErrSessionExpired or
// server.ErrSessionNotFound).
//
// Example:
//
//	lv.SimulateDisconnect()
//	lv.Advance(time.Minute)
//	if err := lv.SimulateReconnect(); err != nil {
//	    t.Fatalf("resume failed: %v", err)
//	}
func (l *Live) SimulateReconnect() error {
	l.tb.Helper()
	if l.owner != nil {
		return ErrStillAttached
	}
	return l.resume(l.sess.ID())
}

func (l *Live) resume(id string) error {
	l.tb.Helper()
	owner := &server.Conn{}
	sess, _, err := l.registry.Resume(context.Background(), id, owner)
	if err != nil {
		l.mount()
		return err
	}
	l.owner = owner
	l.attach(sess)
	return nil
}

// SimulateTakeover resumes the attached session from a second connection.
func (l *Live) SimulateTakeover() {
	l.tb.Helper()
	prev := l.owner
	owner := &server.Conn{}
	sess, old, err := l.registry.Resume(context.Background(), l.sess.ID(), owner)
	if err != nil {
		l.tb.Fatalf("vtest: takeover: %v", err)
	}
	if old != prev {
		l.tb.Errorf("vtest: takeover replaced an unexpected owner")
	}
	l.owner = owner
	l.attach(sess)
}

// SimulateServerRestart shuts the registry down, persisting sessions to
// the store, and resumes the session on a fresh registry. Without a codec
// on the view the session is lost and a fresh one is mounted.
func (l *Live) SimulateServerRestart() error {
	l.tb.Helper()
	id := l.sess.ID()
	if err := l.registry.Shutdown(context.Background()); err != nil {
		l.tb.Fatalf("vtest: shutdown: %v", err)
	}
	l.registry = l.newRegistry()
	l.owner = nil
	return l.resume(id)
}

// SimulateEviction evicts the session immediately. Reconnect attempts
// afterwards mount a fresh session.
func (l *Live) SimulateEviction() {
	l.tb.Helper()
	l.registry.Evict(context.Background(), l.sess.ID())
	l.owner = nil
}

// SimulateTimeout moves the clock past the resume window and runs a
// sweep, as the background sweeper would.
func (l *Live) SimulateTimeout() int {
	l.tb.Helper()
	l.Advance(l.config.ResumeWindow)
	return l.registry.Sweep(context.Background())
}

// AssertPersisted verifies that the session is saved in the store.
func (l *Live) AssertPersisted(tb testing.TB) {
	tb.Helper()
	data, err := l.store.Load(context.Background(), l.sess.ID())
	if err != nil {
		tb.Fatalf("failed to load session from store: %v", err)
	}
	if data == nil {
		tb.Fatal("session not found in store")
	}
}

// AssertNotPersisted verifies that the session is not in the store.
func (l *Live) AssertNotPersisted(tb testing.TB) {
	tb.Helper()
	data, err := l.store.Load(context.Background(), l.sess.ID())
	if err != nil {
		tb.Fatalf("failed to check session in store: %v", err)
	}
	if data != nil {
		tb.Fatal("session unexpectedly found in store")
	}
}

// Remount discards the session and mounts a new one with params.
func (l *Live) Remount(params live.Params) {
	l.tb.Helper()
	l.registry.Evict(context.Background(), l.sess.ID())
	l.config.Params = params
	l.mount()
}
