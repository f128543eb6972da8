// Package rag defines the retrieval-augmented generation core: chunking,
// the vector index contract, query retrieval and context assembly.
// Concrete index backends (Qdrant, Redis, pgvector, in-memory) satisfy
// VectorIndex so the ingestion and assistant layers never depend on a
// specific store.
package rag

import (
	"context"
)

// Chunk is a bounded, contiguous substring of a document's extracted text.
type Chunk struct {
	// ID is assigned by the ingestion pipeline. The chunker leaves it empty.
	ID string

	// Text is the exact chunk content.
	Text string

	// Offset is the byte offset of Text within the extracted document text.
	Offset int
}

// Metadata is the payload stored alongside every vector.
type Metadata struct {
	// Text is the chunk text the vector was built from. Mandatory.
	Text string

	// Source is the file name or URL the chunk came from.
	Source string

	// Extra holds optional string attributes (media type, host, offset, ...).
	Extra map[string]string
}

// Record is one entry in the vector index.
type Record struct {
	ID       string
	Vector   []float32
	Metadata Metadata
}

// Match is one query result.
type Match struct {
	// ID is the record id.
	ID string

	// Score is the cosine similarity between the query and the record vector.
	Score float32

	// Metadata is populated only when the query asked for it.
	Metadata Metadata
}

// VectorIndex persists and searches embeddings.
// Implementations must be safe to call from multiple goroutines.
type VectorIndex interface {
	// Upsert inserts or overwrites records by id. Re-upserting an id replaces
	// both its vector and its metadata.
	Upsert(ctx context.Context, records []Record) error

	// Query returns at most topK matches ordered by descending score.
	// An empty index yields an empty slice and a nil error.
	Query(ctx context.Context, vector []float32, topK int, includeMetadata bool) ([]Match, error)

	// Close releases any resources held by the index.
	Close() error
}

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
