package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HealthCheckConfig probes a backend without spending tokens.
type HealthCheckConfig interface {
	HealthCheck(ctx context.Context) error
}

// httpHealthCheck issues a GET and expects a 2xx reply.
type httpHealthCheck struct {
	url    string
	header http.Header
	client *http.Client
}

// HealthCheck performs the probe request.
func (h *httpHealthCheck) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, vs := range h.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", h.url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d", h.url, resp.StatusCode)
	}
	return nil
}

// NewHealthCheck returns a listing-endpoint probe for backends that expose
// one (Ollama, OpenAI, Azure). It returns nil for the others; callers then
// fall back to a minimal generate call.
func NewHealthCheck(cfg *Config) HealthCheckConfig {
	client := &http.Client{Timeout: 5 * time.Second}
	switch cfg.Backend {
	case BackendOllama:
		return &httpHealthCheck{
			url:    strings.TrimRight(cfg.Ollama.Host, "/") + "/api/tags",
			client: client,
		}
	case BackendOpenAI:
		base := cfg.OpenAI.BaseURL
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		h := http.Header{}
		h.Set("Authorization", "Bearer "+cfg.OpenAI.APIKey)
		return &httpHealthCheck{url: strings.TrimRight(base, "/") + "/models", header: h, client: client}
	case BackendAzure:
		h := http.Header{}
		h.Set("api-key", cfg.AzureOpenAI.APIKey)
		return &httpHealthCheck{
			url:    fmt.Sprintf("%s/openai/models?api-version=%s", strings.TrimRight(cfg.AzureOpenAI.Endpoint, "/"), cfg.AzureOpenAI.APIVersion),
			header: h,
			client: client,
		}
	default:
		return nil
	}
}
