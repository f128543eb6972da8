package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docchat-go/internal/assistant"
	"github.com/54b3r/docchat-go/internal/ingestion"
	"github.com/54b3r/docchat-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// ChatTimeout bounds one /api/chat turn (retrieval plus generation).
	// Defaults to 5 minutes if zero.
	ChatTimeout time.Duration
	// MaxUploadBytes caps the multipart body of /api/ingest.
	// Defaults to 32 MiB if zero.
	MaxUploadBytes int64
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives the server's collectors.
	// Defaults to prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Deps are the pipeline components the handlers call into.
type Deps struct {
	Assistant *assistant.Assistant
	Pipeline  *ingestion.Pipeline
	Fetcher   *ingestion.Fetcher
}

// chatter is the interface handleChat and the history handlers call.
// *assistant.Assistant satisfies it; tests inject a fake.
type chatter interface {
	Ask(ctx context.Context, question string) (assistant.Reply, error)
	History() []store.Turn
	ClearHistory(ctx context.Context) error
}

// ingester is the interface the ingest handlers call.
// *ingestion.Pipeline satisfies it.
type ingester interface {
	IngestDocument(ctx context.Context, doc ingestion.Document) (ingestion.IngestResult, error)
	IngestPage(ctx context.Context, page *ingestion.Page) (ingestion.IngestResult, error)
}

// pageFetcher is the interface handleFetch calls.
// *ingestion.Fetcher satisfies it.
type pageFetcher interface {
	FetchAll(ctx context.Context, urls []string) []ingestion.FetchResult
}

// Server is the HTTP server that exposes the docchat pipeline.
type Server struct {
	// chat answers questions and owns the conversation session.
	chat chatter
	// ingest indexes uploaded documents and fetched pages.
	ingest ingester
	// fetch retrieves web pages.
	fetch pageFetcher
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
	// metrics holds the Prometheus collectors owned by this server.
	metrics *serverMetrics
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	// Message is the user's natural language question.
	Message string `json:"message"`
}

// sourceItem is one entry of the SSE "sources" event.
type sourceItem struct {
	ID     string            `json:"id"`
	Score  float32           `json:"score"`
	Source string            `json:"source"`
	Text   string            `json:"text"`
	Extra  map[string]string `json:"extra,omitempty"`
}

// chunkFailure is the JSON form of ingestion.ChunkFailure.
type chunkFailure struct {
	Index  int    `json:"index"`
	Offset int    `json:"offset"`
	Error  string `json:"error"`
}

// ingestItem reports the outcome for one uploaded file or fetched URL.
type ingestItem struct {
	// Source is the file name or URL.
	Source string `json:"source"`
	// Chunks is the number of chunks the text was split into.
	Chunks int `json:"chunks"`
	// ChunksIndexed is the number of chunks embedded and upserted.
	ChunksIndexed int `json:"chunksIndexed"`
	// Failures lists chunks that could not be indexed.
	Failures []chunkFailure `json:"failures,omitempty"`
	// DurationMs is the wall-clock time spent on this item.
	DurationMs int64 `json:"durationMs"`
	// Error is set when the whole item failed (extraction, fetch).
	Error string `json:"error,omitempty"`
	// Kind is the failure kind of Error (e.g. "extraction failed").
	Kind string `json:"kind,omitempty"`
}

// ingestResponse is the JSON response for POST /api/ingest.
type ingestResponse struct {
	Results []ingestItem `json:"results"`
}

// fetchRequest is the JSON body for POST /api/fetch.
type fetchRequest struct {
	// URLs are fetched in order; a failing URL does not stop the rest.
	URLs []string `json:"urls"`
	// Index also ingests every fetched page when true.
	Index bool `json:"index"`
}

// fetchItem reports one fetched URL.
type fetchItem struct {
	URL    string      `json:"url"`
	Title  string      `json:"title,omitempty"`
	Text   string      `json:"text,omitempty"`
	Error  string      `json:"error,omitempty"`
	Ingest *ingestItem `json:"ingest,omitempty"`
}

// fetchResponse is the JSON response for POST /api/fetch.
type fetchResponse struct {
	Results []fetchItem `json:"results"`
}

// historyResponse is the JSON response for GET /api/history.
type historyResponse struct {
	Turns []store.Turn `json:"turns"`
}
