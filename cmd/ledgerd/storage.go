package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jmerrifield20/serviceledger/internal/serviceledger"
)

// backend is the configured store and append lock, plus whatever must be
// closed on shutdown.
type backend struct {
	store   serviceledger.Store
	locker  serviceledger.AppendLocker
	closers []func()
}

func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// openBackend builds the store from storage.driver and the locker from
// ledger.append_lock.
func openBackend(ctx context.Context, logger *zap.Logger) (*backend, error) {
	b := &backend{}
	var pool *pgxpool.Pool

	switch driver := viper.GetString("storage.driver"); driver {
	case "postgres":
		var err error
		pool, err = pgxpool.New(ctx, viper.GetString("database.url"))
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		b.closers = append(b.closers, pool.Close)
		if err := pool.Ping(ctx); err != nil {
			b.close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")
		b.store = serviceledger.NewPostgresStore(pool, logger)

	case "sqlite":
		path := viper.GetString("sqlite.path")
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		store, err := serviceledger.OpenSQLite(serviceledger.SQLiteOptions{
			Path:     path,
			LogLevel: viper.GetString("sqlite.log_level"),
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		b.closers = append(b.closers, func() {
			if err := store.Close(); err != nil {
				logger.Warn("close sqlite", zap.Error(err))
			}
		})
		logger.Info("opened sqlite ledger", zap.String("path", path))
		b.store = store

	case "memory":
		logger.Warn("using in-memory ledger: records are lost on restart")
		b.store = serviceledger.NewMemoryStore()

	default:
		return nil, fmt.Errorf("unknown storage.driver %q (want postgres, sqlite or memory)", driver)
	}

	switch lock := viper.GetString("ledger.append_lock"); lock {
	case "process", "":
		b.locker = serviceledger.NewProcessLocker()
	case "none":
		b.locker = serviceledger.NoopLocker{}
	case "postgres":
		if pool == nil {
			b.close()
			return nil, fmt.Errorf("ledger.append_lock=postgres requires storage.driver=postgres")
		}
		b.locker = serviceledger.NewPostgresLocker(pool, logger)
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		})
		b.closers = append(b.closers, func() { _ = rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			b.close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		b.locker = serviceledger.NewRedisLocker(rdb, viper.GetString("redis.lock_key"), viper.GetDuration("redis.lock_ttl"), logger)
		logger.Info("using redis append lock", zap.String("addr", viper.GetString("redis.addr")))
	default:
		b.close()
		return nil, fmt.Errorf("unknown ledger.append_lock %q (want process, postgres, redis or none)", lock)
	}

	return b, nil
}
