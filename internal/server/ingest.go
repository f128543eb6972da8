package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/docchat-go/internal/ingestion"
	"github.com/54b3r/docchat-go/internal/logging"
)

// maxFetchURLs bounds the number of URLs accepted by one /api/fetch call.
const maxFetchURLs = 50

// handleIngest handles POST /api/ingest. Every multipart part named "file"
// is extracted and indexed; a failing file is reported in its own result
// and the remaining files are still processed.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "expected multipart/form-data body", http.StatusBadRequest)
		return
	}

	var resp ingestResponse
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "upload too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "malformed multipart body", http.StatusBadRequest)
			return
		}
		if part.FormName() != "file" || part.FileName() == "" {
			_ = part.Close()
			continue
		}

		data, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "upload too large", http.StatusRequestEntityTooLarge)
				return
			}
			resp.Results = append(resp.Results, ingestItem{Source: part.FileName(), Error: err.Error()})
			continue
		}

		doc := ingestion.Document{
			Name:      part.FileName(),
			MediaType: partMediaType(part.Header.Get("Content-Type"), part.FileName()),
			Data:      data,
		}
		res, err := s.ingest.IngestDocument(r.Context(), doc)
		item := toIngestItem(doc.Name, res, err)
		s.observeIngest(item)
		if err != nil {
			log.Warn("ingest: document failed",
				slog.String("source", doc.Name),
				slog.String("kind", item.Kind),
				slog.Any("error", err),
			)
		}
		resp.Results = append(resp.Results, item)
	}

	if len(resp.Results) == 0 {
		http.Error(w, `no "file" parts in request`, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleFetch handles POST /api/fetch. Each URL is fetched in order and
// reported inline; with index=true every fetched page is also ingested.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.URLs) == 0 {
		http.Error(w, "urls is required", http.StatusBadRequest)
		return
	}
	if len(req.URLs) > maxFetchURLs {
		http.Error(w, "too many urls", http.StatusBadRequest)
		return
	}

	var resp fetchResponse
	for _, fr := range s.fetch.FetchAll(r.Context(), req.URLs) {
		item := fetchItem{URL: fr.URL}
		if fr.Err != nil {
			item.Error = fr.Err.Error()
			s.observeFetch("error")
			log.Warn("fetch: url failed", slog.String("url", fr.URL), slog.Any("error", fr.Err))
			resp.Results = append(resp.Results, item)
			continue
		}
		s.observeFetch("ok")
		item.Title = fr.Page.Title
		item.Text = fr.Page.Text

		if req.Index {
			res, err := s.ingest.IngestPage(r.Context(), fr.Page)
			ii := toIngestItem(fr.URL, res, err)
			s.observeIngest(ii)
			item.Ingest = &ii
		}
		resp.Results = append(resp.Results, item)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleHistory handles GET /api/history.
func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, historyResponse{Turns: s.chat.History()})
}

// handleClearHistory handles DELETE /api/history. The in-memory log is
// always emptied; a failure to persist the empty log is reported with the
// status of its kind.
func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.chat.ClearHistory(r.Context()); err != nil {
		logging.FromContext(r.Context()).Error("history: clear failed",
			slog.String("kind", kindLabel(err)),
			slog.Any("error", err),
		)
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// partMediaType prefers the declared part type unless it is the generic
// octet-stream, in which case the file extension decides.
func partMediaType(declared, name string) string {
	mt := ingestion.NormalizeMediaType(declared)
	if declared == "" || strings.EqualFold(mt, "application/octet-stream") {
		return ingestion.MediaTypeFromName(name)
	}
	return mt
}

// toIngestItem converts a pipeline result to its JSON form.
func toIngestItem(source string, res ingestion.IngestResult, err error) ingestItem {
	item := ingestItem{
		Source:        source,
		Chunks:        res.Chunks,
		ChunksIndexed: res.ChunksIndexed,
		DurationMs:    res.Duration.Milliseconds(),
	}
	for _, f := range res.Failures {
		item.Failures = append(item.Failures, chunkFailure{Index: f.Index, Offset: f.Offset, Error: f.Err.Error()})
	}
	if err != nil {
		item.Error = err.Error()
		item.Kind = kindLabel(err)
	}
	return item
}

// observeIngest records document and chunk outcomes.
func (s *Server) observeIngest(item ingestItem) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if item.Error != "" {
		outcome = "error"
	}
	s.metrics.ingestDocumentsTotal.WithLabelValues(outcome).Inc()
	s.metrics.ingestChunksTotal.WithLabelValues("indexed").Add(float64(item.ChunksIndexed))
	s.metrics.ingestChunksTotal.WithLabelValues("failed").Add(float64(len(item.Failures)))
}

// observeFetch records one fetched URL.
func (s *Server) observeFetch(outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.fetchPagesTotal.WithLabelValues(outcome).Inc()
}
