package ingestion

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/docchat-go/internal/errs"
	"github.com/54b3r/docchat-go/internal/rag"
)

// countingEmbedder returns a distinct non-zero vector per call and fails for
// texts listed in failOn.
type countingEmbedder struct {
	calls  atomic.Int32
	failOn map[string]bool
}

func (e *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	n := e.calls.Add(1)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if e.failOn[t] {
			return nil, errs.New(errs.ErrEmbeddingService, "stub embed", "refused %q", t[:1])
		}
		out[i] = []float32{float32(n), 1, float32(len(t))}
	}
	return out, nil
}

// recordingIndex wraps a MemoryIndex and counts upsert calls.
type recordingIndex struct {
	*rag.MemoryIndex
	mu      sync.Mutex
	upserts int
	failID  string
}

func (r *recordingIndex) Upsert(ctx context.Context, records []rag.Record) error {
	r.mu.Lock()
	r.upserts++
	r.mu.Unlock()
	for _, rec := range records {
		if rec.ID == r.failID {
			return errs.New(errs.ErrIndexUnavailable, "stub upsert", "connection refused")
		}
	}
	return r.MemoryIndex.Upsert(ctx, records)
}

func newRecordingIndex() *recordingIndex {
	return &recordingIndex{MemoryIndex: rag.NewMemoryIndex()}
}

func TestIngestDocument_ThousandCharsMakesTwoRecords(t *testing.T) {
	t.Parallel()
	idx := newRecordingIndex()
	p, err := NewPipeline(&countingEmbedder{}, idx, &Config{ChunkSize: 512})
	require.NoError(t, err)

	res, err := p.IngestDocument(context.Background(), Document{
		Name:      "notes.txt",
		MediaType: "text/plain",
		Data:      []byte(strings.Repeat("0123456789", 100)),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Chunks)
	assert.Equal(t, 2, res.ChunksIndexed)
	assert.Empty(t, res.Failures)
	assert.Equal(t, 2, idx.upserts)
	assert.Equal(t, 2, idx.Len())
}

func TestIngestDocument_FailingChunkIsIsolated(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("a", 10) + strings.Repeat("b", 10) + strings.Repeat("c", 10)
	emb := &countingEmbedder{failOn: map[string]bool{strings.Repeat("b", 10): true}}
	idx := newRecordingIndex()
	p, err := NewPipeline(emb, idx, &Config{ChunkSize: 10, Workers: 2})
	require.NoError(t, err)

	res, err := p.IngestDocument(context.Background(), Document{Name: "abc.txt", Data: []byte(text)})
	require.NoError(t, err, "a chunk failure must not fail the document")

	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, 2, res.ChunksIndexed)
	assert.LessOrEqual(t, idx.Len(), 3)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, 1, res.Failures[0].Index)
	assert.Equal(t, 10, res.Failures[0].Offset)
	assert.ErrorIs(t, res.Failures[0].Err, errs.ErrEmbeddingService)
}

func TestIngestDocument_UpsertFailureIsIsolated(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("x", 20)
	idx := newRecordingIndex()
	idx.failID = ChunkID(documentKey("x.txt", text), 10)
	p, err := NewPipeline(&countingEmbedder{}, idx, &Config{ChunkSize: 10})
	require.NoError(t, err)

	res, err := p.IngestDocument(context.Background(), Document{Name: "x.txt", Data: []byte(text)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ChunksIndexed)
	require.Len(t, res.Failures, 1)
	assert.ErrorIs(t, res.Failures[0].Err, errs.ErrIndexUnavailable)
}

func TestIngestDocument_ExtractionFailure(t *testing.T) {
	t.Parallel()
	idx := newRecordingIndex()
	p, err := NewPipeline(&countingEmbedder{}, idx, nil)
	require.NoError(t, err)

	_, err = p.IngestDocument(context.Background(), Document{
		Name:      "broken.pdf",
		MediaType: MediaTypePDF,
		Data:      []byte("definitely not a pdf"),
	})
	assert.ErrorIs(t, err, errs.ErrExtraction)
	assert.Zero(t, idx.upserts)
}

func TestIngestText_IDsStableAndUniqueAcrossDocuments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idx := newRecordingIndex()
	p, err := NewPipeline(&countingEmbedder{}, idx, &Config{ChunkSize: 8})
	require.NoError(t, err)

	_, err = p.IngestText(ctx, "a.txt", "first document body")
	require.NoError(t, err)
	_, err = p.IngestText(ctx, "b.txt", "second document body")
	require.NoError(t, err)
	afterTwo := idx.Len()
	assert.Equal(t, 6, afterTwo, "chunks at the same position in different documents must not collide")

	_, err = p.IngestText(ctx, "a.txt", "first document body")
	require.NoError(t, err)
	assert.Equal(t, afterTwo, idx.Len(), "re-ingesting identical content must overwrite, not duplicate")
}

func TestIngestText_EmptyText(t *testing.T) {
	t.Parallel()
	idx := newRecordingIndex()
	p, err := NewPipeline(&countingEmbedder{}, idx, nil)
	require.NoError(t, err)

	res, err := p.IngestText(context.Background(), "empty.txt", "")
	require.NoError(t, err)
	assert.Zero(t, res.Chunks)
	assert.Zero(t, idx.upserts)
}

func TestIngest_MetadataCarriesTextAndSource(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idx := newRecordingIndex()
	p, err := NewPipeline(&countingEmbedder{}, idx, nil)
	require.NoError(t, err)

	_, err = p.IngestPage(ctx, &Page{URL: "https://docs.example.com/guide", Title: "Guide", Text: "Paris is the capital of France."})
	require.NoError(t, err)

	matches, err := idx.Query(ctx, []float32{1, 1, 31}, 1, true)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	md := matches[0].Metadata
	assert.Equal(t, "Paris is the capital of France.", md.Text)
	assert.Equal(t, "https://docs.example.com/guide", md.Source)
	assert.Equal(t, "Guide", md.Extra[MetaTitle])
	assert.Equal(t, "web", md.Extra[MetaKind])
	assert.Equal(t, "0", md.Extra[MetaOffset])
}

func TestIngest_ProgressCalledPerChunk(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	p, err := NewPipeline(&countingEmbedder{}, newRecordingIndex(), &Config{
		ChunkSize: 4,
		Progress:  func(string) { calls.Add(1) },
	})
	require.NoError(t, err)

	_, err = p.IngestText(context.Background(), "s", "abcdefghij")
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
}

func TestIngest_CancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p, err := NewPipeline(&countingEmbedder{}, newRecordingIndex(), nil)
	require.NoError(t, err)

	_, err = p.IngestText(ctx, "s", "some text")
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNewPipeline_RequiresDependencies(t *testing.T) {
	t.Parallel()
	_, err := NewPipeline(nil, rag.NewMemoryIndex(), nil)
	assert.Error(t, err)
	_, err = NewPipeline(&countingEmbedder{}, nil, nil)
	assert.Error(t, err)
}
