package main

import (
	"context"
	"database/sql"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/vango-dev/liveview/internal/config"
	"github.com/vango-dev/liveview/internal/errors"
	"github.com/vango-dev/liveview/pkg/session"
)

// stores opens one session store per view on a shared backend client.
type stores struct {
	cfg    config.StoreConfig
	logger *slog.Logger

	redis *redis.Client
	db    *sql.DB
	s3    *s3.Client

	opened []session.Store
}

func unavailable(kind string, err error) error {
	return errors.New(errors.CodeStoreUnavailable).WithDetail(kind).Wrap(err)
}

// openStores connects to the configured backend.
func openStores(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*stores, error) {
	s := &stores{cfg: cfg, logger: logger.With("component", "store", "kind", cfg.Kind)}

	switch cfg.Kind {
	case config.StoreMemory:
	case config.StoreRedis:
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.redis.Ping(pingCtx).Err(); err != nil {
			s.redis.Close()
			return nil, unavailable("redis at "+cfg.Redis.Addr, err)
		}
	case config.StoreSQLite:
		db, err := sql.Open("sqlite", cfg.SQLite.Path)
		if err != nil {
			return nil, unavailable("sqlite at "+cfg.SQLite.Path, err)
		}
		// SQLite serializes writers.
		db.SetMaxOpenConns(1)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, unavailable("sqlite at "+cfg.SQLite.Path, err)
		}
		s.db = db
	case config.StoreS3:
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.S3.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.S3.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, unavailable("s3 credentials", err)
		}
		s.s3 = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.S3.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.S3.Endpoint)
				o.UsePathStyle = true
			}
		})
	default:
		return nil, errors.New(errors.CodeStoreUnknown).WithDetail(cfg.Kind)
	}

	s.logger.Info("session store ready")
	return s, nil
}

// For returns the store for the view mounted as name. Views never share
// keys, since each decodes state with its own codec.
func (s *stores) For(ctx context.Context, name string) (session.Store, error) {
	var (
		store session.Store
		err   error
	)
	switch s.cfg.Kind {
	case config.StoreRedis:
		store = session.NewRedisStore(s.redis, session.WithRedisPrefix(s.cfg.Redis.Prefix+name+":"))
	case config.StoreSQLite:
		store, err = session.NewSQLStore(ctx, s.db,
			session.WithSQLDialect(session.DialectSQLite),
			session.WithSQLTableName(s.cfg.SQLite.Table+"_"+name),
			session.WithSQLCreateTable(),
		)
		if err != nil {
			return nil, unavailable("sqlite table for "+name, err)
		}
	case config.StoreS3:
		store = session.NewS3Store(s.s3, s.cfg.S3.Bucket, s.cfg.S3.Prefix+name+"/")
	default:
		store = session.NewMemoryStore()
	}
	s.opened = append(s.opened, store)
	return store, nil
}

// Close closes every store and then the shared client.
func (s *stores) Close() error {
	var errs []error
	for _, store := range s.opened {
		errs = append(errs, store.Close())
	}
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return stderrors.Join(errs...)
}
