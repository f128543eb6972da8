package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBackend is a Backend that stores each key as a JSON string value.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// RedisConfig holds the settings for a RedisBackend.
type RedisConfig struct {
	// URL is a redis:// or rediss:// connection URL.
	URL string
	// Prefix is prepended to every key (default "docchat:").
	Prefix string
}

// OpenRedis parses cfg.URL and verifies the server answers PING.
func OpenRedis(ctx context.Context, cfg *RedisConfig) (*RedisBackend, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("store: parse redis url: %w", err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "docchat:"
	}
	b := NewRedisBackend(redis.NewClient(opts), prefix)
	if err := b.Ping(ctx); err != nil {
		_ = b.client.Close()
		return nil, err
	}
	return b, nil
}

// NewRedisBackend wraps an existing client. Keys are stored as prefix+key.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix}
}

// Load returns the turns stored under key, or nil when the key is absent.
func (b *RedisBackend) Load(ctx context.Context, key string) ([]Turn, error) {
	raw, err := b.client.Get(ctx, b.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: redis get %q: %w", key, err)
	}
	var turns []Turn
	if err := json.Unmarshal(raw, &turns); err != nil {
		return nil, fmt.Errorf("store: redis decode %q: %w", key, err)
	}
	return turns, nil
}

// Save overwrites the value stored under key.
func (b *RedisBackend) Save(ctx context.Context, key string, turns []Turn) error {
	if turns == nil {
		turns = []Turn{}
	}
	raw, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("store: redis encode %q: %w", key, err)
	}
	if err := b.client.Set(ctx, b.prefix+key, raw, 0).Err(); err != nil {
		return fmt.Errorf("store: redis set %q: %w", key, err)
	}
	return nil
}

// Ping verifies the server is reachable.
func (b *RedisBackend) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("store: redis ping: %w", err)
	}
	return nil
}

// Close releases the client's connections.
func (b *RedisBackend) Close() error {
	if err := b.client.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
