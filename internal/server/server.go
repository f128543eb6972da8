// Package server implements the HTTP API that exposes the docchat pipeline:
// chat over Server-Sent Events, document upload, web page fetching, the
// conversation history, health and readiness probes, and Prometheus metrics.
// The server is started by the `docchat serve` CLI command.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/docchat-go/internal/errs"
	"github.com/54b3r/docchat-go/internal/logging"
)

// New constructs a Server from the provided pipeline components and config.
func New(deps *Deps, cfg *Config) (*Server, error) {
	if deps == nil || deps.Assistant == nil {
		return nil, fmt.Errorf("server: assistant must not be nil")
	}
	if deps.Pipeline == nil {
		return nil, fmt.Errorf("server: ingestion pipeline must not be nil")
	}
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("server: fetcher must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must cover a full chat turn and a large ingest.
		cfg.WriteTimeout = 10 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.ChatTimeout == 0 {
		cfg.ChatTimeout = 5 * time.Minute
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 32 << 20
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		chat:    deps.Assistant,
		ingest:  deps.Pipeline,
		fetch:   deps.Fetcher,
		cfg:     cfg,
		log:     cfg.Logger,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(cfg.MetricsRegistry),
	}

	if cfg.APIKey == "" {
		s.log.Warn("server: DOCCHAT_API_KEY is not set; API authentication is disabled")
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log)
	s.stopRL = stop

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.routes(rl),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// routes builds the request mux. Pipeline endpoints sit behind auth and the
// per-IP rate limiter; probes and metrics are public.
func (s *Server) routes(rl *rateLimiter) http.Handler {
	protect := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(s.cfg.APIKey, h)
	}
	limited := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(s.cfg.APIKey, rl.middleware(h))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/chat", s.instrument("chat", limited(s.handleChat)))
	mux.Handle("POST /api/ingest", s.instrument("ingest", limited(s.handleIngest)))
	mux.Handle("POST /api/fetch", s.instrument("fetch", limited(s.handleFetch)))
	mux.Handle("GET /api/history", s.instrument("history", protect(s.handleHistory)))
	mux.Handle("DELETE /api/history", s.instrument("history_clear", protect(s.handleClearHistory)))
	mux.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	return requestLogger(s.log, mux)
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("docchat server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleChat handles POST /api/chat. The answer is delivered as SSE data
// frames followed by a "sources" event, an optional "warning" event when the
// history could not be saved, and a final "done" event. Failures are
// delivered in-band as an "error" event.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	log := logging.FromContext(r.Context())
	start := time.Now()
	if s.metrics != nil {
		s.metrics.chatActiveStreams.Inc()
		defer s.metrics.chatActiveStreams.Dec()
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.chatTimeout())
	defer cancel()

	sw := &sseWriter{w: w, flusher: flusher}
	reply, err := s.chat.Ask(ctx, req.Message)
	if err != nil {
		outcome := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		s.observeChat(outcome, start)
		log.Error("chat failed", slog.String("kind", kindLabel(err)), slog.Any("error", err))
		sw.event("error", err.Error())
		return
	}

	if _, err := sw.Write([]byte(reply.Text)); err != nil {
		log.Warn("chat: client went away", slog.Any("error", err))
		s.observeChat("error", start)
		return
	}

	sources := make([]sourceItem, 0, len(reply.Matches))
	for _, m := range reply.Matches {
		sources = append(sources, sourceItem{
			ID:     m.ID,
			Score:  m.Score,
			Source: m.Metadata.Source,
			Text:   m.Metadata.Text,
			Extra:  m.Metadata.Extra,
		})
	}
	if b, err := json.Marshal(sources); err == nil {
		sw.event("sources", string(b))
	}
	if reply.PersistErr != nil {
		sw.event("warning", "conversation history not saved: "+reply.PersistErr.Error())
	}
	sw.event("done", "[DONE]")
	s.observeChat("ok", start)
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// chatTimeout returns the configured per-turn timeout.
func (s *Server) chatTimeout() time.Duration {
	if s.cfg == nil || s.cfg.ChatTimeout <= 0 {
		return 5 * time.Minute
	}
	return s.cfg.ChatTimeout
}

// observeChat records the outcome and duration of one chat turn.
func (s *Server) observeChat(outcome string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// statusFor maps a failure kind to the HTTP status reported for it.
func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.ErrExtraction:
		return http.StatusUnprocessableEntity
	case errs.ErrFetch, errs.ErrEmbeddingService, errs.ErrGenerationService:
		return http.StatusBadGateway
	case errs.ErrIndexUnavailable, errs.ErrPersistence:
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// kindLabel returns the failure kind text of err, or "internal".
func kindLabel(err error) string {
	if k := errs.KindOf(err); k != nil {
		return k.Error()
	}
	return "internal"
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sseWriter wraps an http.ResponseWriter to emit Server-Sent Event frames.
type sseWriter struct {
	// w is the underlying response writer.
	w http.ResponseWriter

	// flusher flushes buffered data to the client after each write.
	flusher http.Flusher
}

// Write formats p as one or more SSE data lines and flushes to the client.
// Each newline in p is prefixed with "data: " so multi-line chunks never
// break the SSE frame boundary.
func (s *sseWriter) Write(p []byte) (n int, err error) {
	if _, err = fmt.Fprint(s.w, dataLines(string(bytes.Clone(p)))); err != nil {
		return 0, err
	}
	s.flusher.Flush()
	return len(p), nil
}

// event emits a named SSE event.
func (s *sseWriter) event(name, data string) {
	fmt.Fprintf(s.w, "event: %s\n%s", name, dataLines(data))
	s.flusher.Flush()
}

// dataLines renders text as "data:" lines terminated by a blank line.
func dataLines(text string) string {
	var buf strings.Builder
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
	return buf.String()
}
