package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// fakePinger is a test double for the Pinger interface.
type fakePinger struct {
	name string
	err  error
}

func (f *fakePinger) Name() string                 { return f.name }
func (f *fakePinger) Ping(_ context.Context) error { return f.err }

// pingFunc adapts a function to the dependency Ping method.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// fakeHealthCheck implements provider.HealthCheckConfig.
type fakeHealthCheck struct{ err error }

func (f *fakeHealthCheck) HealthCheck(_ context.Context) error { return f.err }

// countingModel records Generate calls.
type countingModel struct {
	calls int
	err   error
}

func (m *countingModel) Generate(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return schema.AssistantMessage("pong", nil), nil
}

func (m *countingModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func TestHandleHealth_OK(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	newTestServer().handleHealth(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: expected application/json, got %q", ct)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status: expected ok, got %q", body["status"])
	}
}

func TestHandleReady(t *testing.T) {
	t.Parallel()

	down := errors.New("connection refused")
	tests := []struct {
		name       string
		pingers    []Pinger
		wantStatus int
		wantReady  bool
		// wantOK is the expected ok flag per check, in registration order.
		wantOK []bool
	}{
		{
			name:       "no pingers",
			wantStatus: http.StatusOK,
			wantReady:  true,
		},
		{
			name: "all healthy",
			pingers: []Pinger{
				&fakePinger{name: "ollama"},
				&fakePinger{name: "vector-index"},
				&fakePinger{name: "history"},
			},
			wantStatus: http.StatusOK,
			wantReady:  true,
			wantOK:     []bool{true, true, true},
		},
		{
			name: "index down",
			pingers: []Pinger{
				&fakePinger{name: "ollama"},
				&fakePinger{name: "vector-index", err: down},
				&fakePinger{name: "history"},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantOK:     []bool{true, false, true},
		},
		{
			name: "everything down",
			pingers: []Pinger{
				&fakePinger{name: "ollama", err: down},
				&fakePinger{name: "history", err: down},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantOK:     []bool{false, false},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := newTestServer()
			s.pingers = tc.pingers
			w := httptest.NewRecorder()
			s.handleReady(w, httptest.NewRequest(http.MethodGet, "/api/ready", nil))

			if w.Code != tc.wantStatus {
				t.Fatalf("status: want %d, got %d", tc.wantStatus, w.Code)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type: expected application/json, got %q", ct)
			}
			var resp readyResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Ready != tc.wantReady {
				t.Errorf("ready: want %v, got %v", tc.wantReady, resp.Ready)
			}
			if len(resp.Checks) != len(tc.wantOK) {
				t.Fatalf("checks: want %d, got %d", len(tc.wantOK), len(resp.Checks))
			}
			for i, c := range resp.Checks {
				if c.Name != tc.pingers[i].Name() {
					t.Errorf("check %d: want name %q, got %q", i, tc.pingers[i].Name(), c.Name)
				}
				if c.OK != tc.wantOK[i] {
					t.Errorf("check %q: want ok=%v", c.Name, tc.wantOK[i])
				}
				if !c.OK && !strings.Contains(c.Error, "connection refused") {
					t.Errorf("check %q: want error text, got %q", c.Name, c.Error)
				}
			}
		})
	}
}

func TestDependencyPinger(t *testing.T) {
	t.Parallel()

	ok := NewDependencyPinger("history", pingFunc(func(context.Context) error { return nil }))
	if ok.Name() != "history" || ok.Ping(context.Background()) != nil {
		t.Errorf("healthy dependency reported a failure")
	}

	cause := errors.New("NOAUTH")
	bad := NewDependencyPinger("vector-index", pingFunc(func(context.Context) error { return cause }))
	if err := bad.Ping(context.Background()); !errors.Is(err, cause) {
		t.Errorf("want wrapped cause, got %v", err)
	}
}

func TestLLMPinger_PrefersHealthCheck(t *testing.T) {
	t.Parallel()

	m := &countingModel{}
	p := NewLLMPinger(m, &fakeHealthCheck{}, "openai")
	if err := p.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if m.calls != 0 {
		t.Errorf("health check available, but Generate was called %d times", m.calls)
	}

	failing := NewLLMPinger(m, &fakeHealthCheck{err: errors.New("401")}, "openai")
	if err := failing.Ping(context.Background()); err == nil || !strings.Contains(err.Error(), "openai") {
		t.Errorf("want labelled health check failure, got %v", err)
	}
}

func TestLLMPinger_FallsBackToGenerate(t *testing.T) {
	t.Parallel()

	m := &countingModel{}
	if err := NewLLMPinger(m, nil, "gemini").Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if m.calls != 1 {
		t.Errorf("want 1 Generate call, got %d", m.calls)
	}

	m.err = errors.New("quota exceeded")
	if err := NewLLMPinger(m, nil, "gemini").Ping(context.Background()); err == nil {
		t.Error("want generate failure")
	}
}
