// Package session persists detached live sessions so they can be resumed
// after a reconnect lands on a fresh process.
//
// # Stores
//
// The Store interface is the contract every backend implements:
//
//	store := session.NewMemoryStore()
//	// or
//	store := session.NewRedisStore(redis.NewClient(&redis.Options{Addr: addr}))
//	// or
//	store, err := session.NewSQLStore(ctx, db, session.WithSQLDialect(session.DialectSQLite))
//	// or
//	store := session.NewS3Store(s3.NewFromConfig(cfg), "bucket", "liveview/")
//
// Load returns (nil, nil) for a missing or expired entry so callers can fall
// back to a fresh mount without inspecting errors.
//
// # Snapshots
//
// A Snapshot is the JSON document a store holds for one session: the encoded
// application state, the last rendered HTML and timestamps. Snapshots carry a
// format version; Decode rejects versions it does not understand.
package session
