// Package storage holds the durable key-value stores a sync client keeps its
// queue, last-sync time and cached dataset in.
package storage

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/xelth-com/rentsync/internal/config"
)

// Store is a durable string-keyed blob store. A missing key is reported
// with found=false and a nil error.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open builds the store selected by cfg.Backend
func Open(cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case config.StoreMemory:
		return NewMemoryStore(), nil
	case config.StoreSQLite:
		return NewSQLiteStore(cfg.SQLitePath)
	case config.StoreRedis:
		return NewRedisStore(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, cfg.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
