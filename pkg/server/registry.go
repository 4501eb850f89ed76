package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/vango-dev/liveview/pkg/live"
	"github.com/vango-dev/liveview/pkg/session"
)

// SessionRegistry owns the session id to LiveSession mapping. Detached
// sessions wait out the resume window in an LRU ordered by detach time; a
// background sweep evicts them once their deadline passes.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*LiveSession

	// detached holds detached sessions, least recently detached first.
	detached *lru.Cache[string, *LiveSession]

	config *Config
	store  session.Store
	codec  live.StateCodec
	logger *slog.Logger
	now    func() time.Time

	onEvict func(*LiveSession, string)

	done      chan struct{}
	sweepDone chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once

	totalCreated  atomic.Uint64
	totalResumed  atomic.Uint64
	totalRestored atomic.Uint64
	totalEvicted  atomic.Uint64
}

// RegistryOption configures a SessionRegistry.
type RegistryOption func(*SessionRegistry)

// WithStore persists detached sessions to store. Persistence is active
// only when a StateCodec is configured too.
func WithStore(store session.Store) RegistryOption {
	return func(r *SessionRegistry) {
		r.store = store
	}
}

// WithStateCodec sets the codec used to persist application state.
func WithStateCodec(codec live.StateCodec) RegistryOption {
	return func(r *SessionRegistry) {
		r.codec = codec
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *SessionRegistry) {
		r.now = now
	}
}

// WithEvictHook is called after a session is evicted, with the reason
// ("expired", "capacity" or "explicit").
func WithEvictHook(fn func(sess *LiveSession, reason string)) RegistryOption {
	return func(r *SessionRegistry) {
		r.onEvict = fn
	}
}

// NewSessionRegistry creates a registry and starts its sweep loop.
func NewSessionRegistry(config *Config, logger *slog.Logger, opts ...RegistryOption) *SessionRegistry {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	size := config.MaxDetachedSessions
	if size <= 0 {
		size = math.MaxInt32
	}
	detached, err := lru.New[string, *LiveSession](size)
	if err != nil {
		panic(fmt.Sprintf("server: detached cache: %v", err))
	}

	r := &SessionRegistry{
		sessions:  make(map[string]*LiveSession),
		detached:  detached,
		config:    config,
		logger:    logger.With("component", "session_registry"),
		now:       time.Now,
		done:      make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	go r.sweepLoop()
	return r
}

func (r *SessionRegistry) persistent() bool {
	return r.store != nil && r.codec != nil
}

// Add registers a freshly mounted session attached to c. When the session
// cap is reached the least recently detached session makes room; with no
// detached session to evict Add fails with ErrMaxSessionsReached.
func (r *SessionRegistry) Add(sess *LiveSession, c *Conn) error {
	if r.closed.Load() {
		return ErrRegistryClosed
	}

	r.mu.Lock()
	var victim *LiveSession
	if r.config.MaxSessions > 0 && len(r.sessions) >= r.config.MaxSessions {
		victim = r.evictOldestLocked()
		if victim == nil {
			r.mu.Unlock()
			return ErrMaxSessionsReached
		}
	}

	sess.meta.Lock()
	sess.owner = c
	sess.deadline = time.Time{}
	sess.meta.Unlock()

	r.sessions[sess.id] = sess
	r.mu.Unlock()

	if victim != nil {
		r.finishEvict(context.Background(), victim, "capacity")
	}
	r.totalCreated.Add(1)
	r.logger.Debug("session added", "session_id", sess.id)
	return nil
}

// Resume reattaches session id to c. It returns the connection that owned
// the session before, if it was still attached (a takeover); the caller
// closes it. A session missing from memory is restored from the store when
// persistence is configured.
//
// ErrSessionNotFound and ErrSessionExpired are never fatal for the caller:
// it falls back to a fresh mount.
func (r *SessionRegistry) Resume(ctx context.Context, id string, c *Conn) (*LiveSession, *Conn, error) {
	if r.closed.Load() {
		return nil, nil, ErrRegistryClosed
	}
	now := r.now()

	r.mu.Lock()
	sess, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return r.restore(ctx, id, c)
	}

	sess.meta.Lock()
	if sess.owner == nil && !now.Before(sess.deadline) {
		sess.meta.Unlock()
		r.removeLocked(id)
		r.mu.Unlock()
		r.finishEvict(ctx, sess, "expired")
		return nil, nil, ErrSessionExpired
	}
	prev := sess.owner
	sess.owner = c
	sess.deadline = time.Time{}
	sess.lastActive = now
	sess.meta.Unlock()

	r.detached.Remove(id)
	r.mu.Unlock()

	if prev == nil && r.persistent() {
		if err := r.store.Delete(ctx, id); err != nil {
			r.logger.Warn("store delete failed", "session_id", id, "error", err)
		}
	}

	r.totalResumed.Add(1)
	r.logger.Info("session resumed", "session_id", id, "takeover", prev != nil)
	return sess, prev, nil
}

// restore rebuilds a session from the store after a memory miss.
func (r *SessionRegistry) restore(ctx context.Context, id string, c *Conn) (*LiveSession, *Conn, error) {
	if !r.persistent() {
		return nil, nil, ErrSessionNotFound
	}

	data, err := r.store.Load(ctx, id)
	if err != nil {
		r.logger.Warn("store load failed", "session_id", id, "error", err)
		return nil, nil, &SessionError{SessionID: id, Op: "restore", Err: ErrSessionNotFound}
	}
	if data == nil {
		return nil, nil, ErrSessionNotFound
	}

	snap, err := session.Decode(data)
	if err != nil {
		return nil, nil, &SessionError{SessionID: id, Op: "restore", Err: err}
	}
	state, err := r.codec.Decode(snap.State)
	if err != nil {
		return nil, nil, &SessionError{SessionID: id, Op: "restore", Err: err}
	}

	sess := newLiveSession(id, state, snap.HTML, r.now())
	sess.createdAt = snap.CreatedAt

	r.mu.Lock()
	if _, exists := r.sessions[id]; exists {
		// Restored concurrently by another connection; resume that one.
		r.mu.Unlock()
		return r.Resume(ctx, id, c)
	}
	if r.config.MaxSessions > 0 && len(r.sessions) >= r.config.MaxSessions {
		r.mu.Unlock()
		return nil, nil, ErrMaxSessionsReached
	}
	sess.owner = c
	r.sessions[id] = sess
	r.mu.Unlock()

	if err := r.store.Delete(ctx, id); err != nil {
		r.logger.Warn("store delete failed", "session_id", id, "error", err)
	}

	r.totalRestored.Add(1)
	r.logger.Info("session restored", "session_id", id)
	return sess, nil, nil
}

// Detach releases the session from c and starts its resume window. It is a
// no-op (returning false) when c no longer owns the session, which happens
// after a takeover.
func (r *SessionRegistry) Detach(ctx context.Context, sess *LiveSession, c *Conn) bool {
	now := r.now()

	r.mu.Lock()
	if r.sessions[sess.id] != sess {
		r.mu.Unlock()
		return false
	}
	sess.meta.Lock()
	if sess.owner != c {
		sess.meta.Unlock()
		r.mu.Unlock()
		return false
	}
	sess.owner = nil
	sess.deadline = now.Add(r.config.ResumeWindow)
	sess.lastActive = now
	deadline := sess.deadline
	sess.meta.Unlock()

	var victim *LiveSession
	if r.config.MaxDetachedSessions > 0 && r.detached.Len() >= r.config.MaxDetachedSessions {
		victim = r.evictOldestLocked()
	}
	r.detached.Add(sess.id, sess)
	r.mu.Unlock()

	if victim != nil {
		r.finishEvict(ctx, victim, "capacity")
	}
	r.persist(ctx, sess, deadline)

	r.logger.Debug("session detached", "session_id", sess.id, "deadline", deadline)
	return true
}

// Get returns a held session, or nil.
func (r *SessionRegistry) Get(id string) *LiveSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Evict removes a session immediately, whether attached or not.
func (r *SessionRegistry) Evict(ctx context.Context, id string) bool {
	r.mu.Lock()
	sess := r.removeLocked(id)
	r.mu.Unlock()
	if sess == nil {
		return false
	}
	r.finishEvict(ctx, sess, "explicit")
	return true
}

// Count returns the number of held sessions.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep evicts detached sessions whose deadline has passed and returns how
// many went.
func (r *SessionRegistry) Sweep(ctx context.Context) int {
	now := r.now()

	r.mu.Lock()
	var expired []*LiveSession
	for _, id := range r.detached.Keys() {
		sess, ok := r.detached.Peek(id)
		if !ok {
			continue
		}
		deadline, detached := sess.Deadline()
		if detached && !now.Before(deadline) {
			r.removeLocked(id)
			expired = append(expired, sess)
		}
	}
	r.mu.Unlock()

	for _, sess := range expired {
		r.finishEvict(ctx, sess, "expired")
	}
	return len(expired)
}

func (r *SessionRegistry) removeLocked(id string) *LiveSession {
	sess, ok := r.sessions[id]
	if !ok {
		return nil
	}
	delete(r.sessions, id)
	r.detached.Remove(id)
	return sess
}

func (r *SessionRegistry) evictOldestLocked() *LiveSession {
	id, sess, ok := r.detached.RemoveOldest()
	if !ok {
		return nil
	}
	delete(r.sessions, id)
	return sess
}

func (r *SessionRegistry) finishEvict(ctx context.Context, sess *LiveSession, reason string) {
	r.totalEvicted.Add(1)
	if r.persistent() {
		if err := r.store.Delete(ctx, sess.id); err != nil {
			r.logger.Warn("store delete failed", "session_id", sess.id, "error", err)
		}
	}
	if r.onEvict != nil {
		r.onEvict(sess, reason)
	}
	r.logger.Info("session evicted", "session_id", sess.id, "reason", reason)
}

// persist saves a snapshot of sess, valid until expiresAt.
func (r *SessionRegistry) persist(ctx context.Context, sess *LiveSession, expiresAt time.Time) {
	if !r.persistent() {
		return
	}
	data, err := r.encode(sess)
	if err != nil {
		r.logger.Warn("snapshot encode failed", "session_id", sess.id, "error", err)
		return
	}
	if err := r.store.Save(ctx, sess.id, data, expiresAt); err != nil {
		r.logger.Warn("store save failed", "session_id", sess.id, "error", err)
	}
}

func (r *SessionRegistry) encode(sess *LiveSession) ([]byte, error) {
	state, html := sess.snapshot()
	raw, err := r.codec.Encode(state)
	if err != nil {
		return nil, err
	}
	return session.Encode(&session.Snapshot{
		ID:         sess.id,
		State:      raw,
		HTML:       html,
		CreatedAt:  sess.createdAt,
		LastActive: sess.LastActive(),
	})
}

func (r *SessionRegistry) sweepLoop() {
	defer close(r.sweepDone)

	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := r.Sweep(context.Background()); n > 0 {
				r.logger.Debug("sweep evicted sessions", "count", n)
			}
		case <-r.done:
			return
		}
	}
}

// RegistryStats is a point-in-time view of the registry.
type RegistryStats struct {
	Attached      int
	Detached      int
	TotalCreated  uint64
	TotalResumed  uint64
	TotalRestored uint64
	TotalEvicted  uint64
}

// Stats returns registry statistics.
func (r *SessionRegistry) Stats() RegistryStats {
	r.mu.RLock()
	total := len(r.sessions)
	detached := r.detached.Len()
	r.mu.RUnlock()

	return RegistryStats{
		Attached:      total - detached,
		Detached:      detached,
		TotalCreated:  r.totalCreated.Load(),
		TotalResumed:  r.totalResumed.Load(),
		TotalRestored: r.totalRestored.Load(),
		TotalEvicted:  r.totalEvicted.Load(),
	}
}

// Shutdown stops the sweep loop and, when persistence is configured,
// saves every held session so a restarted process can restore it.
// Sessions still attached get a full resume window.
func (r *SessionRegistry) Shutdown(ctx context.Context) error {
	var err error
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.done)

		select {
		case <-r.sweepDone:
		case <-ctx.Done():
			err = ctx.Err()
			return
		}
		err = r.saveAll(ctx)
	})
	return err
}

func (r *SessionRegistry) saveAll(ctx context.Context) error {
	if !r.persistent() {
		return nil
	}

	r.mu.RLock()
	all := make([]*LiveSession, 0, len(r.sessions))
	for _, sess := range r.sessions {
		all = append(all, sess)
	}
	r.mu.RUnlock()

	now := r.now()
	entries := make(map[string]session.Entry, len(all))
	var errs []error
	for _, sess := range all {
		expiresAt, detached := sess.Deadline()
		if !detached {
			expiresAt = now.Add(r.config.ResumeWindow)
		}
		if !now.Before(expiresAt) {
			continue
		}
		data, err := r.encode(sess)
		if err != nil {
			errs = append(errs, &SessionError{SessionID: sess.id, Op: "persist", Err: err})
			continue
		}
		entries[sess.id] = session.Entry{Data: data, ExpiresAt: expiresAt}
	}

	if err := r.store.SaveAll(ctx, entries); err != nil {
		errs = append(errs, err)
	}
	r.logger.Info("sessions persisted", "count", len(entries))
	return errors.Join(errs...)
}
