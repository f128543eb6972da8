package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/54b3r/docchat-go/internal/errs"
	"github.com/54b3r/docchat-go/internal/logging"
)

// QdrantConfig holds connection parameters for a Qdrant instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantIndex implements VectorIndex backed by a Qdrant collection using
// cosine distance.
type QdrantIndex struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this index.
	cfg *QdrantConfig
}

// NewQdrantIndex connects to Qdrant and ensures the target collection exists,
// creating it if necessary.
func NewQdrantIndex(ctx context.Context, cfg *QdrantConfig) (*QdrantIndex, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant: collection name must not be empty")
	}
	if cfg.VectorSize == 0 {
		return nil, fmt.Errorf("qdrant: vector size must be positive")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, errs.Wrap(errs.ErrIndexUnavailable, "qdrant connect", err)
	}

	idx := &QdrantIndex{client: client, cfg: cfg}
	if err := idx.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return idx, nil
}

// ensureCollection creates the collection if it does not already exist.
func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.cfg.Collection)
	if err != nil {
		return classifyQdrant("qdrant collection exists", err)
	}
	if exists {
		return nil
	}

	logging.FromContext(ctx).Info("qdrant: creating collection",
		slog.String("collection", q.cfg.Collection),
		slog.Uint64("vector_size", q.cfg.VectorSize),
	)
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return classifyQdrant(fmt.Sprintf("qdrant create collection %q", q.cfg.Collection), err)
	}
	return nil
}

// Upsert writes records as points and waits for the write to be applied so a
// following Query observes it. Record ids must be UUIDs.
func (q *QdrantIndex) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		fields := make(map[string]any)
		for k, v := range toPayload(r.Metadata) {
			fields[k] = v
		}
		payload, err := qdrant.TryValueMap(fields)
		if err != nil {
			return fmt.Errorf("qdrant: payload for %s: %w", r.ID, err)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(r.ID),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: payload,
		})
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return classifyQdrant("qdrant upsert", err)
	}
	return nil
}

// Query performs a cosine similarity search and returns the top-k results.
func (q *QdrantIndex) Query(ctx context.Context, vector []float32, topK int, includeMetadata bool) ([]Match, error) {
	if topK <= 0 {
		return []Match{}, nil
	}
	limit := uint64(topK)
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(includeMetadata),
	})
	if err != nil {
		return nil, classifyQdrant("qdrant query", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		m := Match{ID: r.GetId().GetUuid(), Score: r.GetScore()}
		if includeMetadata {
			flat := make(map[string]string, len(r.GetPayload()))
			for k, v := range r.GetPayload() {
				flat[k] = v.GetStringValue()
			}
			md, err := fromPayload(m.ID, flat)
			if err != nil {
				return nil, err
			}
			m.Metadata = md
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// Ping checks that the Qdrant server answers a health check.
func (q *QdrantIndex) Ping(ctx context.Context) error {
	if _, err := q.client.HealthCheck(ctx); err != nil {
		return classifyQdrant("qdrant health", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

// classifyQdrant tags connectivity and auth failures as
// errs.ErrIndexUnavailable. Other gRPC failures (bad request, dimension
// mismatch) stay untagged.
func classifyQdrant(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrIndexUnavailable, op, err)
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.Unauthenticated, codes.PermissionDenied, codes.DeadlineExceeded:
			return errs.Wrap(errs.ErrIndexUnavailable, op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
