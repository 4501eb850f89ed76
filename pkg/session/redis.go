package session

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps snapshots in Redis with native key expiry.
// It is suitable when several server processes share resume state.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	closed atomic.Bool
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithRedisPrefix sets the key prefix. Default: "liveview:session:".
func WithRedisPrefix(prefix string) RedisStoreOption {
	return func(r *RedisStore) {
		r.prefix = prefix
	}
}

// NewRedisStore wraps a go-redis client. The client stays owned by the
// caller; Close does not close it.
func NewRedisStore(client redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	r := &RedisStore{
		client: client,
		prefix: "liveview:session:",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisStore) key(id string) string {
	return r.prefix + id
}

// Save implements Store. An entry already past expiresAt is deleted.
func (r *RedisStore) Save(ctx context.Context, id string, data []byte, expiresAt time.Time) error {
	if r.closed.Load() {
		return ErrStoreClosed
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return r.client.Del(ctx, r.key(id)).Err()
	}
	return r.client.Set(ctx, r.key(id), data, ttl).Err()
}

// Load implements Store.
func (r *RedisStore) Load(ctx context.Context, id string) ([]byte, error) {
	if r.closed.Load() {
		return nil, ErrStoreClosed
	}
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Delete implements Store.
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if r.closed.Load() {
		return ErrStoreClosed
	}
	return r.client.Del(ctx, r.key(id)).Err()
}

// Touch implements Store.
func (r *RedisStore) Touch(ctx context.Context, id string, expiresAt time.Time) error {
	if r.closed.Load() {
		return ErrStoreClosed
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return r.client.Del(ctx, r.key(id)).Err()
	}
	return r.client.Expire(ctx, r.key(id), ttl).Err()
}

// SaveAll implements Store using a MULTI/EXEC pipeline.
func (r *RedisStore) SaveAll(ctx context.Context, entries map[string]Entry) error {
	if r.closed.Load() {
		return ErrStoreClosed
	}
	if len(entries) == 0 {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for id, e := range entries {
			if ttl := time.Until(e.ExpiresAt); ttl > 0 {
				pipe.Set(ctx, r.key(id), e.Data, ttl)
			}
		}
		return nil
	})
	return err
}

// Close marks the store closed.
func (r *RedisStore) Close() error {
	r.closed.Store(true)
	return nil
}

// Prefix returns the key prefix.
func (r *RedisStore) Prefix() string {
	return r.prefix
}
