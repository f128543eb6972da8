package store

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Disabled is the DOCCHAT_HISTORY_DB value that keeps history in memory only.
const Disabled = "disabled"

// NewBackendFromEnv selects the history backend from HISTORY_BACKEND
// (sqlite | redis, default sqlite).
//
//	sqlite: DOCCHAT_HISTORY_DB (path, or "disabled"; default ~/.docchat/history.db)
//	redis:  REDIS_URL (default redis://localhost:6379/0), HISTORY_REDIS_PREFIX
func NewBackendFromEnv(ctx context.Context) (Backend, error) {
	switch b := strings.ToLower(os.Getenv("HISTORY_BACKEND")); b {
	case "", "sqlite":
		path := os.Getenv("DOCCHAT_HISTORY_DB")
		if strings.EqualFold(path, Disabled) {
			return NewMemoryBackend(), nil
		}
		if path == "" {
			p, err := DefaultDBPath()
			if err != nil {
				return nil, err
			}
			path = p
		}
		return OpenSQLite(path)
	case "redis":
		url := os.Getenv("REDIS_URL")
		if url == "" {
			url = "redis://localhost:6379/0"
		}
		return OpenRedis(ctx, &RedisConfig{URL: url, Prefix: os.Getenv("HISTORY_REDIS_PREFIX")})
	case "memory":
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("store: unsupported HISTORY_BACKEND %q: must be one of sqlite, redis, memory", b)
	}
}

// MemoryBackend keeps turn logs in process memory. History does not
// survive a restart.
type MemoryBackend struct {
	mu   sync.Mutex
	data map[string][]Turn
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]Turn)}
}

// Load returns a copy of the turns stored under key.
func (m *MemoryBackend) Load(_ context.Context, key string) ([]Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	turns, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	return append([]Turn(nil), turns...), nil
}

// Save replaces the turns stored under key.
func (m *MemoryBackend) Save(_ context.Context, key string, turns []Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]Turn(nil), turns...)
	return nil
}

// Close is a no-op.
func (m *MemoryBackend) Close() error { return nil }
