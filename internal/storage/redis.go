package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"bond-screener/internal/config"
)

// RedisStore keeps documents as plain string keys, for deployments
// where several readers share one cache.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisClient connects and pings the configured redis instance.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// NewRedisStore wraps a client; keys are prefix+document name.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Load fetches a document.
func (s *RedisStore) Load(ctx context.Context, name string) ([]byte, error) {
	payload, err := s.client.Get(ctx, s.prefix+name).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("redis get %s: %w", name, err)
	}
	return payload, nil
}

// Save replaces a document without expiry.
func (s *RedisStore) Save(ctx context.Context, name string, payload []byte) error {
	if err := s.client.Set(ctx, s.prefix+name, payload, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", name, err)
	}
	return nil
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ DocumentStore = (*RedisStore)(nil)
