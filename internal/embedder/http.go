// Package embedder provides implementations of rag.Embedder. The Ollama and
// OpenAI/Azure backends talk plain HTTP; the "compatible" backend goes through
// the eino-ext OpenAI embedding component. Every backend is wrapped in a
// Guard that enforces the vector invariants the index depends on.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/54b3r/docchat-go/internal/errs"
)

// maxErrorBody bounds how much of a failed response is read for the message.
const maxErrorBody = 4 << 10

// httpError is a non-2xx reply from an embedding endpoint.
type httpError struct {
	Status  int
	Message string
}

func (e *httpError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// postJSON marshals in, POSTs it to url, and decodes a 2xx reply into out.
// Non-2xx replies become *httpError carrying errMessage(body) when available.
// Every failure is tagged errs.ErrEmbeddingService under op.
func postJSON(ctx context.Context, client *http.Client, op, url string, header http.Header, in, out any, errMessage func([]byte) string) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return errs.Wrap(errs.ErrEmbeddingService, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		herr := &httpError{Status: resp.StatusCode}
		if errMessage != nil {
			herr.Message = errMessage(body)
		}
		return errs.Wrap(errs.ErrEmbeddingService, op, herr)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Wrap(errs.ErrEmbeddingService, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
