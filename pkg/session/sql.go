package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// SQLStore keeps snapshots in a database/sql table. Expiry is stored as
// Unix milliseconds so every dialect compares it the same way:
//
//	CREATE TABLE liveview_sessions (
//	    id         VARCHAR(64) PRIMARY KEY,
//	    data       BLOB NOT NULL,
//	    expires_at BIGINT NOT NULL
//	);
type SQLStore struct {
	db      *sql.DB
	table   string
	dialect SQLDialect
	closed  atomic.Bool
	done    chan struct{}
	now     func() time.Time
}

// SQLDialect selects placeholder and upsert syntax.
type SQLDialect int

const (
	// DialectPostgreSQL uses $n placeholders and ON CONFLICT.
	DialectPostgreSQL SQLDialect = iota
	// DialectSQLite uses ? placeholders and INSERT OR REPLACE.
	DialectSQLite
	// DialectMySQL uses ? placeholders and ON DUPLICATE KEY.
	DialectMySQL
)

// SQLStoreOption configures a SQLStore.
type SQLStoreOption func(*sqlStoreConfig)

type sqlStoreConfig struct {
	table           string
	dialect         SQLDialect
	cleanupInterval time.Duration
	createTable     bool
	now             func() time.Time
}

// WithSQLTableName sets the table name. Default: "liveview_sessions".
func WithSQLTableName(name string) SQLStoreOption {
	return func(c *sqlStoreConfig) {
		c.table = name
	}
}

// WithSQLDialect sets the dialect. Default: DialectPostgreSQL.
func WithSQLDialect(d SQLDialect) SQLStoreOption {
	return func(c *sqlStoreConfig) {
		c.dialect = d
	}
}

// WithSQLCleanupInterval sets how often expired rows are deleted.
// Default: 5 minutes. Zero disables the purge loop.
func WithSQLCleanupInterval(d time.Duration) SQLStoreOption {
	return func(c *sqlStoreConfig) {
		c.cleanupInterval = d
	}
}

// WithSQLCreateTable creates the table if it does not exist.
func WithSQLCreateTable() SQLStoreOption {
	return func(c *sqlStoreConfig) {
		c.createTable = true
	}
}

// WithSQLClock replaces time.Now, for tests.
func WithSQLClock(now func() time.Time) SQLStoreOption {
	return func(c *sqlStoreConfig) {
		c.now = now
	}
}

// NewSQLStore creates a SQL-backed store.
func NewSQLStore(ctx context.Context, db *sql.DB, opts ...SQLStoreOption) (*SQLStore, error) {
	cfg := &sqlStoreConfig{
		table:           "liveview_sessions",
		dialect:         DialectPostgreSQL,
		cleanupInterval: 5 * time.Minute,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &SQLStore{
		db:      db,
		table:   cfg.table,
		dialect: cfg.dialect,
		done:    make(chan struct{}),
		now:     cfg.now,
	}
	if cfg.createTable {
		if err := s.createTable(ctx); err != nil {
			return nil, fmt.Errorf("session: create table %s: %w", s.table, err)
		}
	}
	if cfg.cleanupInterval > 0 {
		go s.cleanupLoop(cfg.cleanupInterval)
	}
	return s, nil
}

func (s *SQLStore) createTable(ctx context.Context) error {
	blob := "BLOB"
	if s.dialect == DialectPostgreSQL {
		blob = "BYTEA"
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (id VARCHAR(64) PRIMARY KEY, data %s NOT NULL, expires_at BIGINT NOT NULL)`,
		s.table, blob))
	return err
}

// ph returns the n-th placeholder for the dialect.
func (s *SQLStore) ph(n int) string {
	if s.dialect == DialectPostgreSQL {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLStore) upsertQuery() string {
	switch s.dialect {
	case DialectSQLite:
		return fmt.Sprintf(`INSERT OR REPLACE INTO %s (id, data, expires_at) VALUES (?, ?, ?)`, s.table)
	case DialectMySQL:
		return fmt.Sprintf(`INSERT INTO %s (id, data, expires_at) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE data = VALUES(data), expires_at = VALUES(expires_at)`, s.table)
	default:
		return fmt.Sprintf(`INSERT INTO %s (id, data, expires_at) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, expires_at = EXCLUDED.expires_at`, s.table)
	}
}

// Save implements Store.
func (s *SQLStore) Save(ctx context.Context, id string, data []byte, expiresAt time.Time) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	_, err := s.db.ExecContext(ctx, s.upsertQuery(), id, data, expiresAt.UnixMilli())
	return err
}

// Load implements Store.
func (s *SQLStore) Load(ctx context.Context, id string) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	query := fmt.Sprintf(`SELECT data FROM %s WHERE id = %s AND expires_at > %s`, s.table, s.ph(1), s.ph(2))

	var data []byte
	err := s.db.QueryRowContext(ctx, query, id, s.now().UnixMilli()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = %s`, s.table, s.ph(1)), id)
	return err
}

// Touch implements Store.
func (s *SQLStore) Touch(ctx context.Context, id string, expiresAt time.Time) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	query := fmt.Sprintf(`UPDATE %s SET expires_at = %s WHERE id = %s`, s.table, s.ph(1), s.ph(2))
	_, err := s.db.ExecContext(ctx, query, expiresAt.UnixMilli(), id)
	return err
}

// SaveAll implements Store inside one transaction.
func (s *SQLStore) SaveAll(ctx context.Context, entries map[string]Entry) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.upsertQuery())
	if err != nil {
		return err
	}
	defer stmt.Close()

	for id, e := range entries {
		if _, err := stmt.ExecContext(ctx, id, e.Data, e.ExpiresAt.UnixMilli()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Close stops the purge loop. The *sql.DB stays owned by the caller.
func (s *SQLStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)
	return nil
}

func (s *SQLStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			_, _ = s.purge(ctx)
			cancel()
		case <-s.done:
			return
		}
	}
}

// purge deletes expired rows and reports how many went.
func (s *SQLStore) purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= %s`, s.table, s.ph(1)), s.now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
