package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps snapshots in process memory.
// It survives reconnects but not restarts; use RedisStore, SQLStore or
// S3Store when sessions must outlive the process.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	closed  bool
	done    chan struct{}
	now     func() time.Time
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*memoryStoreConfig)

type memoryStoreConfig struct {
	cleanupInterval time.Duration
	now             func() time.Time
}

// WithCleanupInterval sets how often expired entries are purged.
// Default: 1 minute.
func WithCleanupInterval(d time.Duration) MemoryStoreOption {
	return func(c *memoryStoreConfig) {
		c.cleanupInterval = d
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) MemoryStoreOption {
	return func(c *memoryStoreConfig) {
		c.now = now
	}
}

// NewMemoryStore creates an in-memory store and starts its purge loop.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	cfg := &memoryStoreConfig{
		cleanupInterval: time.Minute,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	m := &MemoryStore{
		entries: make(map[string]Entry),
		done:    make(chan struct{}),
		now:     cfg.now,
	}
	go m.cleanupLoop(cfg.cleanupInterval)
	return m
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, id string, data []byte, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.entries[id] = Entry{Data: cloneBytes(data), ExpiresAt: expiresAt}
	return nil
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	e, ok := m.entries[id]
	if !ok || !m.now().Before(e.ExpiresAt) {
		return nil, nil
	}
	return cloneBytes(e.Data), nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	delete(m.entries, id)
	return nil
}

// Touch implements Store.
func (m *MemoryStore) Touch(_ context.Context, id string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	if e, ok := m.entries[id]; ok {
		e.ExpiresAt = expiresAt
		m.entries[id] = e
	}
	return nil
}

// SaveAll implements Store. All entries are written under one lock.
func (m *MemoryStore) SaveAll(_ context.Context, entries map[string]Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	for id, e := range entries {
		m.entries[id] = Entry{Data: cloneBytes(e.Data), ExpiresAt: e.ExpiresAt}
	}
	return nil
}

// Close stops the purge loop and drops all entries.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)
	m.entries = nil
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.purge()
		case <-m.done:
			return
		}
	}
}

// purge removes expired entries.
func (m *MemoryStore) purge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	now := m.now()
	for id, e := range m.entries {
		if !now.Before(e.ExpiresAt) {
			delete(m.entries, id)
		}
	}
}
