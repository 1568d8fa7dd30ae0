package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"bond-screener/internal/config"
)

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// OpenDocuments selects the document backend named in config. The returned
// closer is never nil.
func OpenDocuments(ctx context.Context, data config.DataConfig, redisCfg config.RedisConfig) (DocumentStore, func(), error) {
	switch data.Backend {
	case "", "file":
		return NewFileStore(data.Dir), func() {}, nil
	case "redis":
		client, err := NewRedisClient(ctx, redisCfg)
		if err != nil {
			return nil, nil, err
		}
		store := NewRedisStore(client, redisCfg.KeyPrefix)
		return store, func() { _ = store.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown data backend %q", data.Backend)
}
