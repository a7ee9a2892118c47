package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/eschool-hub/eschool-watcher/config"
	"github.com/eschool-hub/eschool-watcher/internal/domain/diary"
	"github.com/eschool-hub/eschool-watcher/internal/infrastructure/persistence/codec"
	"github.com/eschool-hub/eschool-watcher/internal/infrastructure/persistence/file"
	"github.com/eschool-hub/eschool-watcher/internal/infrastructure/persistence/postgres"
	"github.com/eschool-hub/eschool-watcher/internal/infrastructure/persistence/redis"
	"github.com/eschool-hub/eschool-watcher/internal/infrastructure/persistence/sqlite"
	"github.com/eschool-hub/eschool-watcher/pkg/logger"
	"github.com/eschool-hub/eschool-watcher/pkg/retry"
)

// openStore builds the configured snapshot store. The returned close func is
// never nil. A nil store (backend "none") disables persistence.
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (diary.SnapshotStore, func(), error) {
	noop := func() {}
	c := codec.New(cfg.Storage.Passphrase)
	account := cfg.Eschool.Username

	switch cfg.Storage.Backend {
	case config.StorageNone:
		log.Warn("snapshot storage disabled, every start logs in and baselines again")
		return nil, noop, nil

	case config.StorageFile:
		store := file.NewStore(cfg.Storage.Path, c)
		log.Info("using file snapshot storage", "path", store.Path(), "sealed", c.Sealed())
		return store, noop, nil

	case config.StorageSQLite:
		store, err := sqlite.Open(ctx, cfg.Storage.SQLitePath, account, c)
		if err != nil {
			return nil, noop, fmt.Errorf("open sqlite: %w", err)
		}
		log.Info("using sqlite snapshot storage", "path", store.Path(), "account", account, "sealed", c.Sealed())
		return store, func() {
			if err := store.Close(); err != nil {
				log.Warn("failed to close sqlite database", logger.Err(err))
			}
		}, nil

	case config.StorageRedis:
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

		client, err := retry.DoWithData(ctx, storageRetrier(log, "redis"), func(ctx context.Context, _ int) (*goredis.Client, error) {
			return redis.NewClient(ctx, redisCfg)
		})
		if err != nil {
			return nil, noop, fmt.Errorf("connect to redis: %w", err)
		}

		store := redis.NewSnapshotStore(client, account, c)
		log.Info("using redis snapshot storage", "addr", redisCfg.Addr(), "key", store.Key(), "sealed", c.Sealed())
		return store, func() {
			if err := client.Close(); err != nil {
				log.Warn("failed to close redis client", logger.Err(err))
			}
		}, nil

	case config.StoragePostgres:
		pgCfg := postgres.DefaultConfig()
		pgCfg.URL = cfg.Database.URL
		pgCfg.MaxConns = int32(cfg.Database.MaxConns)
		pgCfg.MinConns = int32(cfg.Database.MinConns)
		pgCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
		pgCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

		conn, err := retry.DoWithData(ctx, storageRetrier(log, "postgres"), func(ctx context.Context, _ int) (*postgres.Connection, error) {
			return postgres.NewConnection(ctx, pgCfg)
		})
		if err != nil {
			return nil, noop, fmt.Errorf("connect to database: %w", err)
		}

		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			conn.Close()
			return nil, noop, fmt.Errorf("run migrations: %w", err)
		}

		log.Info("using postgres snapshot storage", "account", account, "sealed", c.Sealed())
		return postgres.NewSnapshotRepository(conn, account, c), conn.Close, nil
	}

	return nil, noop, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

func storageRetrier(log *slog.Logger, backend string) *retry.Retrier {
	return retry.StorageRetrier(func(attempt int, err error, delay time.Duration) {
		log.Warn("storage connection failed, retrying",
			"backend", backend,
			"attempt", attempt,
			"retry_in", delay.String(),
			logger.Err(err),
		)
	})
}
