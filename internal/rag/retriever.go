package rag

import (
	"context"
	"fmt"

	"github.com/54b3r/docchat-go/internal/errs"
)

// DefaultTopK is the number of matches retrieved per question.
const DefaultTopK = 5

// EmbedOne embeds a single text with e. It fails with errs.ErrEmbeddingService
// when the backend errors or returns anything other than one non-empty vector.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, errs.Wrap(errs.ErrEmbeddingService, "embed", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, errs.New(errs.ErrEmbeddingService, "embed", "expected 1 vector, got %d", len(vecs))
	}
	return vecs[0], nil
}

// Retriever combines an Embedder and a VectorIndex. It embeds the query with
// the same model used at ingestion time and delegates the similarity search
// to the index.
type Retriever struct {
	// embedder converts query text to a dense vector.
	embedder Embedder

	// index performs the vector similarity search.
	index VectorIndex

	// topK is the number of results to return when the caller passes 0.
	topK int
}

// NewRetriever constructs a Retriever. topK <= 0 selects DefaultTopK.
func NewRetriever(embedder Embedder, index VectorIndex, topK int) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("rag: index must not be nil")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Retriever{embedder: embedder, index: index, topK: topK}, nil
}

// Retrieve embeds query and returns the best matching records with their
// metadata, highest score first.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]Match, error) {
	vec, err := EmbedOne(ctx, r.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query: %w", err)
	}

	// Backends tag connectivity and auth failures with errs.ErrIndexUnavailable
	// themselves; anything else keeps its own identity.
	matches, err := r.index.Query(ctx, vec, r.topK, true)
	if err != nil {
		return nil, fmt.Errorf("rag: vector query: %w", err)
	}
	return matches, nil
}
