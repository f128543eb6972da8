package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/54b3r/docchat-go/internal/errs"
	"github.com/54b3r/docchat-go/internal/ingestion"
)

// fakeIngester records the documents and pages it receives. Documents whose
// name is in failDocs fail with an extraction error.
type fakeIngester struct {
	docs     []ingestion.Document
	pages    []*ingestion.Page
	failDocs map[string]bool
}

func (f *fakeIngester) IngestDocument(_ context.Context, doc ingestion.Document) (ingestion.IngestResult, error) {
	f.docs = append(f.docs, doc)
	if f.failDocs[doc.Name] {
		return ingestion.IngestResult{Source: doc.Name}, errs.New(errs.ErrExtraction, "ingestion: extract", "unreadable %s", doc.Name)
	}
	return ingestion.IngestResult{
		Source:        doc.Name,
		Chunks:        3,
		ChunksIndexed: 2,
		Failures:      []ingestion.ChunkFailure{{Index: 2, Offset: 1024, Err: errors.New("embed: 503")}},
		Duration:      15 * time.Millisecond,
	}, nil
}

func (f *fakeIngester) IngestPage(_ context.Context, page *ingestion.Page) (ingestion.IngestResult, error) {
	f.pages = append(f.pages, page)
	return ingestion.IngestResult{Source: page.URL, Chunks: 1, ChunksIndexed: 1}, nil
}

// fakeFetcher returns a page for every URL except those in fail.
type fakeFetcher struct {
	fail map[string]bool
}

func (f *fakeFetcher) FetchAll(_ context.Context, urls []string) []ingestion.FetchResult {
	out := make([]ingestion.FetchResult, 0, len(urls))
	for _, u := range urls {
		if f.fail[u] {
			out = append(out, ingestion.FetchResult{URL: u, Err: errs.New(errs.ErrFetch, "ingestion: fetch", "status 404")})
			continue
		}
		out = append(out, ingestion.FetchResult{URL: u, Page: &ingestion.Page{URL: u, Title: "Title " + u, Text: "body of " + u}})
	}
	return out
}

type uploadFile struct {
	name        string
	contentType string
	body        string
}

// multipartBody encodes files as "file" parts plus one unrelated form field.
func multipartBody(t *testing.T, files ...uploadFile) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("note", "ignored"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+f.name+`"`)
		if f.contentType != "" {
			h.Set("Content-Type", f.contentType)
		}
		pw, err := mw.CreatePart(h)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		if _, err := pw.Write([]byte(f.body)); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func newIngestTestServer(ing ingester, fetch pageFetcher) *Server {
	s := newTestServer()
	s.ingest = ing
	s.fetch = fetch
	return s
}

// ---------------------------------------------------------------------------
// POST /api/ingest
// ---------------------------------------------------------------------------

func TestHandleIngest_PerFileResults(t *testing.T) {
	t.Parallel()

	ing := &fakeIngester{failDocs: map[string]bool{"broken.pdf": true}}
	s := newIngestTestServer(ing, nil)

	body, ct := multipartBody(t,
		uploadFile{name: "notes.md", contentType: "application/octet-stream", body: "# Notes"},
		uploadFile{name: "broken.pdf", contentType: "application/pdf", body: "%PDF-garbage"},
		uploadFile{name: "page.html", contentType: "text/html; charset=utf-8", body: "<p>hi</p>"},
	)
	req := httptest.NewRequest(http.MethodPost, "/api/ingest", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	s.handleIngest(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp ingestResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(resp.Results))
	}

	ok := resp.Results[0]
	if ok.Source != "notes.md" || ok.Chunks != 3 || ok.ChunksIndexed != 2 || ok.Error != "" {
		t.Errorf("unexpected first result: %+v", ok)
	}
	if len(ok.Failures) != 1 || ok.Failures[0].Offset != 1024 || ok.Failures[0].Error != "embed: 503" {
		t.Errorf("unexpected chunk failures: %+v", ok.Failures)
	}
	if ok.DurationMs != 15 {
		t.Errorf("durationMs: want 15, got %d", ok.DurationMs)
	}

	failed := resp.Results[1]
	if failed.Source != "broken.pdf" || failed.Kind != errs.ErrExtraction.Error() || !strings.Contains(failed.Error, "unreadable broken.pdf") {
		t.Errorf("unexpected failed result: %+v", failed)
	}

	if got := ing.docs[0].MediaType; got != ingestion.MediaTypeMarkdown {
		t.Errorf("octet-stream part: want media type from extension, got %q", got)
	}
	if got := ing.docs[2].MediaType; got != ingestion.MediaTypeHTML {
		t.Errorf("declared part type: want text/html, got %q", got)
	}
	if string(ing.docs[2].Data) != "<p>hi</p>" {
		t.Errorf("part data not passed through: %q", ing.docs[2].Data)
	}
}

func TestHandleIngest_NotMultipart(t *testing.T) {
	t.Parallel()

	s := newIngestTestServer(&fakeIngester{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.handleIngest(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleIngest_NoFileParts(t *testing.T) {
	t.Parallel()

	s := newIngestTestServer(&fakeIngester{}, nil)
	body, ct := multipartBody(t)
	req := httptest.NewRequest(http.MethodPost, "/api/ingest", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	s.handleIngest(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleIngest_TooLarge(t *testing.T) {
	t.Parallel()

	ing := &fakeIngester{}
	s := newIngestTestServer(ing, nil)
	s.cfg.MaxUploadBytes = 512

	body, ct := multipartBody(t, uploadFile{name: "big.txt", body: strings.Repeat("x", 4096)})
	req := httptest.NewRequest(http.MethodPost, "/api/ingest", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	s.handleIngest(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", w.Code)
	}
	if len(ing.docs) != 0 {
		t.Errorf("expected nothing ingested, got %d documents", len(ing.docs))
	}
}

// ---------------------------------------------------------------------------
// POST /api/fetch
// ---------------------------------------------------------------------------

func TestHandleFetch_InlineErrorsAndIndexing(t *testing.T) {
	t.Parallel()

	ing := &fakeIngester{}
	s := newIngestTestServer(ing, &fakeFetcher{fail: map[string]bool{"https://b.example/missing": true}})

	req := httptest.NewRequest(http.MethodPost, "/api/fetch",
		strings.NewReader(`{"urls":["https://a.example/","https://b.example/missing"],"index":true}`))
	w := httptest.NewRecorder()
	s.handleFetch(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp fetchResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(resp.Results))
	}

	first := resp.Results[0]
	if first.Title != "Title https://a.example/" || first.Error != "" {
		t.Errorf("unexpected first result: %+v", first)
	}
	if first.Ingest == nil || first.Ingest.ChunksIndexed != 1 {
		t.Errorf("expected ingest result on first item, got %+v", first.Ingest)
	}

	second := resp.Results[1]
	if !strings.Contains(second.Error, "status 404") || second.Ingest != nil {
		t.Errorf("unexpected second result: %+v", second)
	}
	if len(ing.pages) != 1 || ing.pages[0].URL != "https://a.example/" {
		t.Errorf("expected only the fetched page to be ingested, got %+v", ing.pages)
	}
}

func TestHandleFetch_WithoutIndex(t *testing.T) {
	t.Parallel()

	ing := &fakeIngester{}
	s := newIngestTestServer(ing, &fakeFetcher{})

	req := httptest.NewRequest(http.MethodPost, "/api/fetch", strings.NewReader(`{"urls":["https://a.example/"]}`))
	w := httptest.NewRecorder()
	s.handleFetch(w, req)

	var resp fetchResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Text != "body of https://a.example/" {
		t.Errorf("unexpected results: %+v", resp.Results)
	}
	if len(ing.pages) != 0 {
		t.Errorf("expected no ingestion without index=true")
	}
}

func TestHandleFetch_Validation(t *testing.T) {
	t.Parallel()

	tooMany := make([]string, maxFetchURLs+1)
	for i := range tooMany {
		tooMany[i] = "https://a.example/"
	}
	tooManyBody, err := json.Marshal(fetchRequest{URLs: tooMany})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	cases := map[string]string{
		"invalid json": `nope`,
		"no urls":      `{"urls":[]}`,
		"too many":     string(tooManyBody),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			s := newIngestTestServer(&fakeIngester{}, &fakeFetcher{})
			w := httptest.NewRecorder()
			s.handleFetch(w, httptest.NewRequest(http.MethodPost, "/api/fetch", strings.NewReader(body)))
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
		})
	}
}

func TestPartMediaType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		declared, name, want string
	}{
		{"", "report.pdf", ingestion.MediaTypePDF},
		{"application/octet-stream", "notes.docx", ingestion.MediaTypeDOCX},
		{"text/html; charset=utf-8", "index.txt", ingestion.MediaTypeHTML},
		{"", "README", ingestion.MediaTypeText},
	}
	for _, tc := range cases {
		if got := partMediaType(tc.declared, tc.name); got != tc.want {
			t.Errorf("partMediaType(%q, %q) = %q, want %q", tc.declared, tc.name, got, tc.want)
		}
	}
}
