package ingestion

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/54b3r/docchat-go/internal/errs"
	"github.com/54b3r/docchat-go/internal/logging"
)

const (
	// MaxFetchSize is the largest page body accepted (5 MiB). Larger pages
	// fail rather than being truncated.
	MaxFetchSize = int64(5 << 20)

	defaultFetchTimeout = 30 * time.Second
	defaultFetchRate    = 2.0
	defaultUserAgent    = "docchat/1.0 (+https://github.com/54b3r/docchat-go)"
)

// contentSelectors are tried in order; the first non-empty match wins over
// the whole body.
var contentSelectors = []string{"main", "article", "[role=main]", "#content", ".content"}

// Page is the visible text of one fetched URL.
type Page struct {
	URL   string
	Title string
	Text  string
}

// FetchResult pairs a URL with its page or its failure so callers can report
// each URL inline.
type FetchResult struct {
	URL  string
	Page *Page
	Err  error
}

// FetcherConfig holds the settings for a Fetcher.
type FetcherConfig struct {
	// Timeout bounds each request (default 30s).
	Timeout time.Duration
	// RatePerSecond limits outgoing requests (default 2). Burst is 1.
	RatePerSecond float64
	// UserAgent is sent with every request.
	UserAgent string
	// Client overrides the HTTP client. Timeout is ignored when set.
	Client *http.Client
}

// Fetcher retrieves web pages and strips them to visible text.
// It is safe for concurrent use.
type Fetcher struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
}

// NewFetcher constructs a Fetcher from cfg. A nil cfg selects the defaults.
func NewFetcher(cfg *FetcherConfig) *Fetcher {
	if cfg == nil {
		cfg = &FetcherConfig{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = defaultFetchRate
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Fetcher{
		client:    client,
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		userAgent: ua,
	}
}

// Fetch downloads rawURL and returns its visible text. Network, HTTP status,
// oversize and parse failures are returned as errs.ErrFetch.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	op := "fetch " + rawURL

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errs.New(errs.ErrFetch, op, "url must be absolute http(s)")
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, errs.Wrap(errs.ErrFetch, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errs.Wrap(errs.ErrFetch, op, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html, text/plain;q=0.9")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.ErrFetch, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errs.New(errs.ErrFetch, op, "unexpected status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, MaxFetchSize+1))
	if err != nil {
		return nil, errs.Wrap(errs.ErrFetch, op, err)
	}
	if int64(len(raw)) > MaxFetchSize {
		return nil, errs.New(errs.ErrFetch, op, "page exceeds %d bytes", MaxFetchSize)
	}

	var page *Page
	if ct := NormalizeMediaType(resp.Header.Get("Content-Type")); ct == MediaTypeText {
		page = &Page{URL: rawURL, Text: collapseSpace(string(raw))}
	} else {
		page, err = parseHTML(rawURL, bytes.NewReader(raw))
		if err != nil {
			return nil, errs.Wrap(errs.ErrFetch, op, err)
		}
	}

	logging.FromContext(ctx).Debug("fetched page",
		slog.String("url", rawURL),
		slog.Int("status", resp.StatusCode),
		slog.Int("chars", len(page.Text)),
		slog.Duration("duration", time.Since(start)),
	)
	return page, nil
}

// FetchAll fetches each URL in order. A failing URL is recorded in its
// result and does not stop the remaining ones.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) []FetchResult {
	results := make([]FetchResult, 0, len(urls))
	for _, u := range urls {
		page, err := f.Fetch(ctx, u)
		results = append(results, FetchResult{URL: u, Page: page, Err: err})
	}
	return results
}

// parseHTML extracts the title and visible text of an HTML page.
func parseHTML(rawURL string, r io.Reader) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript, template, svg, iframe, nav, header, footer").Remove()

	page := &Page{URL: rawURL, Title: collapseSpace(doc.Find("title").First().Text())}
	for _, sel := range contentSelectors {
		if text := collapseSpace(doc.Find(sel).First().Text()); text != "" {
			page.Text = text
			return page, nil
		}
	}
	page.Text = collapseSpace(doc.Find("body").Text())
	return page, nil
}

// collapseSpace joins whitespace-separated fields with single spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
