package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"

	"github.com/54b3r/docchat-go/internal/assistant"
	"github.com/54b3r/docchat-go/internal/embedder"
	"github.com/54b3r/docchat-go/internal/ingestion"
	"github.com/54b3r/docchat-go/internal/provider"
	"github.com/54b3r/docchat-go/internal/rag"
	"github.com/54b3r/docchat-go/internal/store"
)

// indexStack is the embedder plus the vector index it writes to. Both the
// read and the write path are built on it.
type indexStack struct {
	embedder *embedder.Guard
	index    rag.VectorIndex
}

func (s *indexStack) Close() error {
	return s.index.Close()
}

// buildIndexStack validates the embedding configuration and connects the
// vector index selected by VECTOR_BACKEND.
func buildIndexStack(ctx context.Context, log *slog.Logger) (*indexStack, error) {
	if err := embedder.Validate(log); err != nil {
		return nil, err
	}

	emb, err := embedder.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}

	idx, err := rag.NewIndexFromEnv(ctx, emb.Dimensions())
	if err != nil {
		return nil, fmt.Errorf("failed to open vector index: %w", err)
	}

	log.Info("vector index ready",
		slog.String("backend", getEnvOrDefault("VECTOR_BACKEND", "qdrant")),
		slog.String("embedder", embedder.Backend()),
		slog.Int("dimensions", emb.Dimensions()),
	)
	return &indexStack{embedder: emb, index: idx}, nil
}

// newPipeline builds the ingestion pipeline from CHUNK_SIZE and
// INGEST_WORKERS. progress may be nil.
func newPipeline(s *indexStack, progress func(source string)) (*ingestion.Pipeline, error) {
	return ingestion.NewPipeline(s.embedder, s.index, &ingestion.Config{
		ChunkSize: getEnvInt("CHUNK_SIZE", rag.DefaultChunkSize),
		Workers:   getEnvInt("INGEST_WORKERS", 0),
		Progress:  progress,
	})
}

// newFetcher builds the web fetcher from FETCH_RATE and FETCH_TIMEOUT.
func newFetcher() *ingestion.Fetcher {
	return ingestion.NewFetcher(&ingestion.FetcherConfig{
		RatePerSecond: getEnvFloat("FETCH_RATE", 0),
		Timeout:       getEnvDuration("FETCH_TIMEOUT", 0),
	})
}

// chatStack is everything a conversation needs. Close flushes the session
// before releasing the index.
type chatStack struct {
	*indexStack
	chatModel   model.BaseChatModel
	providerCfg *provider.Config
	history     store.Backend
	session     *store.Session
	assistant   *assistant.Assistant
}

func (s *chatStack) Close(ctx context.Context) error {
	return errors.Join(s.session.Close(ctx), s.indexStack.Close())
}

// buildChatStack wires provider, retriever, answerer and the persisted
// conversation session. Prior history is loaded before it returns.
func buildChatStack(ctx context.Context, log *slog.Logger) (*chatStack, error) {
	chatModel, providerCfg, err := provider.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	log.Info("provider initialised",
		slog.String("provider", string(providerCfg.Backend)),
		slog.String("model", providerCfg.ModelName()),
	)

	is, err := buildIndexStack(ctx, log)
	if err != nil {
		return nil, err
	}

	retriever, err := rag.NewRetriever(is.embedder, is.index, 0)
	if err != nil {
		_ = is.Close()
		return nil, err
	}
	answerer, err := rag.NewAnswerer(&rag.AnswererConfig{
		ChatModel:   chatModel,
		Retriever:   retriever,
		Temperature: &providerCfg.Tuning.Temperature,
	})
	if err != nil {
		_ = is.Close()
		return nil, err
	}

	backend, err := store.NewBackendFromEnv(ctx)
	if err != nil {
		_ = is.Close()
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}
	session, err := store.OpenSession(ctx, backend)
	if err != nil {
		_ = backend.Close()
		_ = is.Close()
		return nil, err
	}
	log.Info("history loaded",
		slog.String("backend", getEnvOrDefault("HISTORY_BACKEND", "sqlite")),
		slog.Int("turns", session.Len()),
	)

	a, err := assistant.New(answerer, session)
	if err != nil {
		_ = session.Close(ctx)
		_ = is.Close()
		return nil, err
	}

	return &chatStack{
		indexStack:  is,
		chatModel:   chatModel,
		providerCfg: providerCfg,
		history:     backend,
		session:     session,
		assistant:   a,
	}, nil
}

// openHistory opens the configured history backend and loads its session
// without touching the model or the index.
func openHistory(ctx context.Context) (*store.Session, error) {
	backend, err := store.NewBackendFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}
	session, err := store.OpenSession(ctx, backend)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return session, nil
}

// getEnvOrDefault returns the value of key, or def when unset or empty.
func getEnvOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// getEnvInt parses key as an int, falling back to def when unset or invalid.
func getEnvInt(key string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return v
}

// getEnvFloat parses key as a float64, falling back to def.
func getEnvFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return def
	}
	return v
}

// getEnvDuration parses key as a Go duration ("30s"), falling back to def.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return v
}
