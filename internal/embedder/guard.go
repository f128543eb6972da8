package embedder

import (
	"context"
	"sync"

	"github.com/54b3r/docchat-go/internal/errs"
	"github.com/54b3r/docchat-go/internal/rag"
)

// Guard wraps a rag.Embedder and rejects any reply that would corrupt the
// index or a query: a missing vector, an empty or all-zero vector, or a
// dimensionality different from the one pinned for this process. Every
// violation is reported as errs.ErrEmbeddingService.
type Guard struct {
	inner rag.Embedder

	mu   sync.Mutex
	dims int
}

// NewGuard wraps inner. dims pins the expected vector length; 0 pins it to
// the length of the first vector observed.
func NewGuard(inner rag.Embedder, dims int) *Guard {
	return &Guard{inner: inner, dims: dims}
}

// Dimensions returns the pinned vector length, or 0 if nothing has been
// observed yet.
func (g *Guard) Dimensions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dims
}

// Embed delegates to the wrapped embedder and validates the result.
func (g *Guard) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := g.inner.Embed(ctx, texts)
	if err != nil {
		return nil, errs.Wrap(errs.ErrEmbeddingService, "embed", err)
	}
	if len(vecs) != len(texts) {
		return nil, errs.New(errs.ErrEmbeddingService, "embed", "expected %d vectors, got %d", len(texts), len(vecs))
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for i, v := range vecs {
		if len(v) == 0 {
			return nil, errs.New(errs.ErrEmbeddingService, "embed", "vector %d is empty", i)
		}
		if isZero(v) {
			return nil, errs.New(errs.ErrEmbeddingService, "embed", "vector %d is all zeros", i)
		}
		if g.dims == 0 {
			g.dims = len(v)
		}
		if len(v) != g.dims {
			return nil, errs.New(errs.ErrEmbeddingService, "embed", "vector %d has %d dimensions, expected %d", i, len(v), g.dims)
		}
	}
	return vecs, nil
}

func isZero(v []float32) bool {
	for _, f := range v {
		if f != 0 {
			return false
		}
	}
	return true
}
