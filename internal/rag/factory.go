package rag

import (
	"context"
	"fmt"
	"os"
	"strconv"
)

// Pinger is implemented by indexes that can report backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewIndexFromEnv constructs the VectorIndex selected by VECTOR_BACKEND
// (qdrant, redis, pgvector, memory; default qdrant). dims is the embedding
// length the index must accept.
//
// Backend variables:
//
//	qdrant:   QDRANT_HOST, QDRANT_PORT, QDRANT_COLLECTION, QDRANT_API_KEY, QDRANT_TLS
//	redis:    REDIS_URL, REDIS_INDEX
//	pgvector: PGVECTOR_DSN, PGVECTOR_TABLE
func NewIndexFromEnv(ctx context.Context, dims int) (VectorIndex, error) {
	backend := getEnvOrDefault("VECTOR_BACKEND", "qdrant")
	if dims <= 0 && backend != "memory" {
		return nil, fmt.Errorf("rag: %s index needs positive dimensions, got %d", backend, dims)
	}

	switch backend {
	case "qdrant":
		return NewQdrantIndex(ctx, &QdrantConfig{
			Host:       getEnvOrDefault("QDRANT_HOST", "localhost"),
			Port:       getEnvInt("QDRANT_PORT", 6334),
			Collection: getEnvOrDefault("QDRANT_COLLECTION", "docchat"),
			VectorSize: uint64(dims),
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     os.Getenv("QDRANT_TLS") == "true",
		})

	case "redis":
		return NewRedisIndex(ctx, &RedisConfig{
			URL:        getEnvOrDefault("REDIS_URL", "redis://localhost:6379/0"),
			Index:      getEnvOrDefault("REDIS_INDEX", "docchat-idx"),
			Dimensions: dims,
		})

	case "pgvector":
		dsn := os.Getenv("PGVECTOR_DSN")
		if dsn == "" {
			return nil, fmt.Errorf("rag: pgvector requires PGVECTOR_DSN")
		}
		return NewPgvectorIndex(ctx, &PgvectorConfig{
			DSN:        dsn,
			Table:      getEnvOrDefault("PGVECTOR_TABLE", "docchat_chunks"),
			Dimensions: dims,
		})

	case "memory":
		return NewMemoryIndex(), nil

	default:
		return nil, fmt.Errorf("rag: unknown VECTOR_BACKEND %q (valid: qdrant, redis, pgvector, memory)", backend)
	}
}

// getEnvOrDefault returns the value of key, or fallback when unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of key, or fallback when unset or invalid.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
