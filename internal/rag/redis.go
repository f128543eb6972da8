package rag

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/54b3r/docchat-go/internal/errs"
	"github.com/54b3r/docchat-go/internal/logging"
)

// Hash fields written for every record.
const (
	redisFieldEmbedding = "embedding"
	redisFieldExtra     = "extra"
	redisFieldScore     = "vector_score"
)

// RedisConfig holds connection parameters for a RediSearch-backed index.
type RedisConfig struct {
	// URL is a redis:// or rediss:// connection URL.
	URL string

	// Index is the RediSearch index name (default: docchat-idx).
	Index string

	// Prefix is the key prefix of indexed hashes (default: "<Index>:").
	Prefix string

	// Dimensions is the embedding length declared on the vector field.
	Dimensions int
}

// RedisIndex implements VectorIndex on Redis hashes indexed by RediSearch
// with an HNSW cosine vector field.
type RedisIndex struct {
	client *redis.Client
	cfg    *RedisConfig
}

// NewRedisIndex connects to Redis and creates the search index when absent.
func NewRedisIndex(ctx context.Context, cfg *RedisConfig) (*RedisIndex, error) {
	if cfg.Index == "" {
		cfg.Index = "docchat-idx"
	}
	if cfg.Prefix == "" {
		cfg.Prefix = cfg.Index + ":"
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("redis: dimensions must be positive")
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	// FT.* replies are only parsed into typed results under RESP2.
	opts.Protocol = 2

	idx := &RedisIndex{client: redis.NewClient(opts), cfg: cfg}
	if err := idx.ensureIndex(ctx); err != nil {
		_ = idx.client.Close()
		return nil, err
	}
	return idx, nil
}

// ensureIndex creates the FT index unless FT.INFO already knows it.
func (r *RedisIndex) ensureIndex(ctx context.Context) error {
	_, err := r.client.FTInfo(ctx, r.cfg.Index).Result()
	if err == nil {
		return nil
	}
	if !isUnknownIndex(err) {
		return classifyRedis("redis ft.info", err)
	}

	logging.FromContext(ctx).Info("redis: creating search index",
		slog.String("index", r.cfg.Index),
		slog.Int("dimensions", r.cfg.Dimensions),
	)
	err = r.client.FTCreate(ctx, r.cfg.Index,
		&redis.FTCreateOptions{OnHash: true, Prefix: []interface{}{r.cfg.Prefix}},
		&redis.FieldSchema{FieldName: payloadText, FieldType: redis.SearchFieldTypeText},
		&redis.FieldSchema{FieldName: payloadSource, FieldType: redis.SearchFieldTypeTag},
		&redis.FieldSchema{
			FieldName: redisFieldEmbedding,
			FieldType: redis.SearchFieldTypeVector,
			VectorArgs: &redis.FTVectorArgs{HNSWOptions: &redis.FTHNSWOptions{
				Type:           "FLOAT32",
				Dim:            r.cfg.Dimensions,
				DistanceMetric: "COSINE",
			}},
		},
	).Err()
	if err != nil {
		return classifyRedis("redis ft.create", err)
	}
	return nil
}

// Upsert replaces each record's hash in a single MULTI/EXEC so a reader never
// sees a half-written record.
func (r *RedisIndex) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	for _, rec := range records {
		if len(rec.Vector) != r.cfg.Dimensions {
			return fmt.Errorf("redis: record %s has %d dimensions, index has %d", rec.ID, len(rec.Vector), r.cfg.Dimensions)
		}
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, rec := range records {
			extra, err := json.Marshal(rec.Metadata.Extra)
			if err != nil {
				return fmt.Errorf("redis: encode metadata for %s: %w", rec.ID, err)
			}
			key := r.cfg.Prefix + rec.ID
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key,
				payloadText, rec.Metadata.Text,
				payloadSource, rec.Metadata.Source,
				redisFieldExtra, string(extra),
				redisFieldEmbedding, float32Bytes(rec.Vector),
			)
		}
		return nil
	})
	if err != nil {
		return classifyRedis("redis upsert", err)
	}
	return nil
}

// Query runs a KNN search. RediSearch reports cosine distance, converted
// here to similarity (1 - distance).
func (r *RedisIndex) Query(ctx context.Context, vector []float32, topK int, includeMetadata bool) ([]Match, error) {
	if topK <= 0 {
		return []Match{}, nil
	}
	ret := []redis.FTSearchReturn{{FieldName: redisFieldScore}}
	if includeMetadata {
		ret = append(ret,
			redis.FTSearchReturn{FieldName: payloadText},
			redis.FTSearchReturn{FieldName: payloadSource},
			redis.FTSearchReturn{FieldName: redisFieldExtra},
		)
	}

	q := fmt.Sprintf("*=>[KNN %d @%s $vec AS %s]", topK, redisFieldEmbedding, redisFieldScore)
	res, err := r.client.FTSearchWithArgs(ctx, r.cfg.Index, q, &redis.FTSearchOptions{
		Params:         map[string]interface{}{"vec": float32Bytes(vector)},
		DialectVersion: 2,
		SortBy:         []redis.FTSearchSortBy{{FieldName: redisFieldScore, Asc: true}},
		Return:         ret,
		Limit:          topK,
	}).Result()
	if err != nil {
		return nil, classifyRedis("redis query", err)
	}

	return decodeRedisDocs(res.Docs, r.cfg.Prefix, includeMetadata)
}

// Ping checks Redis connectivity.
func (r *RedisIndex) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return classifyRedis("redis ping", err)
	}
	return nil
}

// Close closes the Redis client.
func (r *RedisIndex) Close() error {
	return r.client.Close()
}

// decodeRedisDocs converts KNN search documents into matches. vector_score
// is a cosine distance, so the score is 1 - distance. Metadata is rebuilt
// from the text and source fields plus the JSON "extra" map.
func decodeRedisDocs(docs []redis.Document, prefix string, includeMetadata bool) ([]Match, error) {
	matches := make([]Match, 0, len(docs))
	for _, doc := range docs {
		id := strings.TrimPrefix(doc.ID, prefix)
		dist, err := strconv.ParseFloat(doc.Fields[redisFieldScore], 32)
		if err != nil {
			return nil, fmt.Errorf("redis: score for %s: %w", id, err)
		}
		m := Match{ID: id, Score: float32(1 - dist)}
		if includeMetadata {
			flat := map[string]string{}
			if raw := doc.Fields[redisFieldExtra]; raw != "" && raw != "null" {
				if err := json.Unmarshal([]byte(raw), &flat); err != nil {
					return nil, fmt.Errorf("redis: decode metadata for %s: %w", id, err)
				}
			}
			if text, ok := doc.Fields[payloadText]; ok {
				flat[payloadText] = text
			}
			flat[payloadSource] = doc.Fields[payloadSource]
			md, err := fromPayload(id, flat)
			if err != nil {
				return nil, err
			}
			m.Metadata = md
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// float32Bytes encodes v as little-endian IEEE-754 floats, the layout
// RediSearch expects for FLOAT32 vectors.
func float32Bytes(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func isUnknownIndex(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unknown index name") || strings.Contains(msg, "no such index")
}

// classifyRedis tags connectivity and auth failures as errs.ErrIndexUnavailable.
func classifyRedis(op string, err error) error {
	if isRedisUnavailable(err) {
		return errs.Wrap(errs.ErrIndexUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isRedisUnavailable reports whether err means the server could not be
// reached or refused our credentials.
func isRedisUnavailable(err error) bool {
	if errors.Is(err, redis.ErrClosed) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.HasPrefix(msg, "NOAUTH") || strings.HasPrefix(msg, "WRONGPASS") || strings.Contains(msg, "connection refused")
}
