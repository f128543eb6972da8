package embedder

import (
	"context"
	"fmt"
	"time"

	einoopenai "github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"

	"github.com/54b3r/docchat-go/internal/errs"
)

// EinoEmbedder adapts an eino embedding component to rag.Embedder. eino
// returns float64 vectors; they are narrowed to float32 for the index.
type EinoEmbedder struct {
	inner embedding.Embedder
	name  string
}

// NewEinoEmbedder wraps inner. name labels errors (e.g. "compatible").
func NewEinoEmbedder(inner embedding.Embedder, name string) *EinoEmbedder {
	return &EinoEmbedder{inner: inner, name: name}
}

// CompatibleConfig configures an OpenAI-compatible embedding endpoint
// (vLLM, LiteLLM, LocalAI, ...).
type CompatibleConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

// NewCompatibleEmbedder builds an EinoEmbedder over the eino-ext OpenAI
// embedding component pointed at cfg.BaseURL.
func NewCompatibleEmbedder(ctx context.Context, cfg *CompatibleConfig) (*EinoEmbedder, error) {
	ecfg := &einoopenai.EmbeddingConfig{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	}
	if cfg.Dimensions > 0 {
		dims := cfg.Dimensions
		ecfg.Dimensions = &dims
	}
	inner, err := einoopenai.NewEmbedder(ctx, ecfg)
	if err != nil {
		return nil, fmt.Errorf("embedder: compatible: %w", err)
	}
	return NewEinoEmbedder(inner, "compatible"), nil
}

// Embed converts a batch of texts into their corresponding embeddings.
func (e *EinoEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	op := e.name + " embed"

	raw, err := e.inner.EmbedStrings(ctx, texts)
	if err != nil {
		return nil, errs.Wrap(errs.ErrEmbeddingService, op, err)
	}
	if len(raw) != len(texts) {
		return nil, errs.New(errs.ErrEmbeddingService, op, "expected %d embeddings, got %d", len(texts), len(raw))
	}

	out := make([][]float32, len(raw))
	for i, v := range raw {
		vec := make([]float32, len(v))
		for j, f := range v {
			vec[j] = float32(f)
		}
		out[i] = vec
	}
	return out, nil
}
