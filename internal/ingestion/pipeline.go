package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/rag"
)

// chunkNamespace scopes the UUIDv5 record ids generated for chunks.
var chunkNamespace = uuid.MustParse("6f1c9a52-7d0e-4d1b-9a4b-1f2e3c4d5e6f")

// Document is one upload: raw bytes plus a declared media type.
type Document struct {
	// Name is the file name or URL; it becomes Metadata.Source.
	Name string
	// MediaType selects the extractor. Empty means infer from Name.
	MediaType string
	// Data is the raw document content.
	Data []byte
}

// ChunkFailure records a chunk that could not be embedded or upserted.
type ChunkFailure struct {
	Index  int
	Offset int
	Err    error
}

// IngestResult summarises one ingestion call.
type IngestResult struct {
	Source        string
	Chunks        int
	ChunksIndexed int
	Failures      []ChunkFailure
	Duration      time.Duration
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum number of characters per chunk.
	// Defaults to rag.DefaultChunkSize if zero.
	ChunkSize int

	// Workers bounds how many chunks are embedded and upserted concurrently.
	// Defaults to 4 if zero.
	Workers int

	// Progress, when set, is called once per finished chunk (success or failure).
	Progress func(source string)
}

// Pipeline orchestrates extract → chunk → embed → upsert.
type Pipeline struct {
	// extractor turns document bytes into text.
	extractor *Extractor

	// embedder converts chunk text into vectors.
	embedder rag.Embedder

	// index persists the embedded chunks.
	index rag.VectorIndex

	cfg Config
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(embedder rag.Embedder, index rag.VectorIndex, cfg *Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("ingestion: index must not be nil")
	}
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = rag.DefaultChunkSize
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	return &Pipeline{
		extractor: NewExtractor(),
		embedder:  embedder,
		index:     index,
		cfg:       c,
	}, nil
}

// IngestDocument extracts text from doc and indexes it. An extraction
// failure is returned as errs.ErrExtraction with nothing indexed; per-chunk
// failures are reported in the result and never abort the document.
func (p *Pipeline) IngestDocument(ctx context.Context, doc Document) (IngestResult, error) {
	mt := doc.MediaType
	if mt == "" {
		mt = MediaTypeFromName(doc.Name)
	}
	text, err := p.extractor.Extract(ctx, doc.Data, mt)
	if err != nil {
		return IngestResult{Source: doc.Name}, fmt.Errorf("ingestion: %s: %w", doc.Name, err)
	}
	return p.ingest(ctx, doc.Name, text, map[string]string{MetaMediaType: NormalizeMediaType(mt)})
}

// IngestText indexes already-extracted text, such as a fetched web page.
func (p *Pipeline) IngestText(ctx context.Context, source, text string) (IngestResult, error) {
	return p.ingest(ctx, source, text, nil)
}

// IngestPage indexes a fetched page, carrying its title as metadata.
func (p *Pipeline) IngestPage(ctx context.Context, page *Page) (IngestResult, error) {
	extra := map[string]string{MetaMediaType: MediaTypeHTML}
	if page.Title != "" {
		extra[MetaTitle] = page.Title
	}
	return p.ingest(ctx, page.URL, page.Text, extra)
}

// ingest chunks text and indexes each chunk on a bounded worker pool.
// The only returned error is context cancellation; everything else is a
// per-chunk failure.
func (p *Pipeline) ingest(ctx context.Context, source, text string, extra map[string]string) (IngestResult, error) {
	log := logging.FromContext(ctx).With(slog.String("source", source))
	start := time.Now()

	chunks := rag.Split(text, p.cfg.ChunkSize)
	res := IngestResult{Source: source, Chunks: len(chunks)}
	if len(chunks) == 0 {
		log.Warn("ingestion: document has no text")
		res.Duration = time.Since(start)
		return res, nil
	}

	docKey := documentKey(source, text)
	base := InferMetadata(source).Fields()
	for k, v := range extra {
		base[k] = v
	}

	var (
		mu       sync.Mutex
		indexed  int
		failures []ChunkFailure
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)

	for i, c := range chunks {
		if gctx.Err() != nil {
			break
		}
		c.ID = ChunkID(docKey, c.Offset)
		g.Go(func() error {
			err := p.indexChunk(gctx, source, i, c, base)

			mu.Lock()
			if err != nil {
				failures = append(failures, ChunkFailure{Index: i, Offset: c.Offset, Err: err})
			} else {
				indexed++
			}
			mu.Unlock()

			if err != nil {
				log.Warn("ingestion: chunk failed",
					slog.Int("chunk", i),
					slog.Int("offset", c.Offset),
					slog.Any("error", err),
				)
			}
			if p.cfg.Progress != nil {
				p.cfg.Progress(source)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(failures, func(a, b int) bool { return failures[a].Index < failures[b].Index })
	res.ChunksIndexed = indexed
	res.Failures = failures
	res.Duration = time.Since(start)

	log.Info("ingestion: document indexed",
		slog.Int("chunks", res.Chunks),
		slog.Int("indexed", res.ChunksIndexed),
		slog.Int("failures", len(res.Failures)),
		slog.Duration("duration", res.Duration),
	)
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("ingestion: %s: %w", source, err)
	}
	return res, nil
}

// indexChunk embeds one chunk and upserts its record.
func (p *Pipeline) indexChunk(ctx context.Context, source string, i int, c rag.Chunk, base map[string]string) error {
	vec, err := rag.EmbedOne(ctx, p.embedder, c.Text)
	if err != nil {
		return err
	}

	extra := make(map[string]string, len(base)+2)
	for k, v := range base {
		extra[k] = v
	}
	extra[MetaOffset] = strconv.Itoa(c.Offset)
	extra[MetaChunk] = strconv.Itoa(i)

	rec := rag.Record{
		ID:       c.ID,
		Vector:   vec,
		Metadata: rag.Metadata{Text: c.Text, Source: source, Extra: extra},
	}
	if err := p.index.Upsert(ctx, []rag.Record{rec}); err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	return nil
}

// documentKey identifies a document by its source and content digest.
func documentKey(source, text string) string {
	digest := sha256.Sum256([]byte(text))
	return source + "\x00" + hex.EncodeToString(digest[:])
}

// ChunkID derives a stable, globally unique record id from a document key
// and a chunk offset. The result is a UUIDv5 so every backend accepts it.
func ChunkID(docKey string, offset int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(docKey+"#"+strconv.Itoa(offset))).String()
}

