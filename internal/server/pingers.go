package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/provider"
)

// LLMPinger probes the chat backend for GET /api/ready.
type LLMPinger struct {
	// model is probed with a one-word generate call when no health check exists.
	model model.BaseChatModel
	// healthCheck is a zero-token listing probe; nil for backends without one.
	healthCheck provider.HealthCheckConfig
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
}

// NewLLMPinger constructs an LLMPinger for the given model and backend name.
func NewLLMPinger(m model.BaseChatModel, hc provider.HealthCheckConfig, name string) *LLMPinger {
	return &LLMPinger{model: m, healthCheck: hc, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

// Ping probes the LLM backend. The health check is used when available;
// otherwise a minimal Generate call is made, which consumes tokens.
func (p *LLMPinger) Ping(ctx context.Context) error {
	if p.healthCheck != nil {
		if err := p.healthCheck.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s health check failed: %w", p.name, err)
		}
		return nil
	}

	logging.FromContext(ctx).Debug("pinger: no health check endpoint, probing with generate",
		slog.String("backend", p.name),
	)
	resp, err := p.model.Generate(ctx, []*schema.Message{schema.UserMessage("ping")})
	if err != nil {
		return fmt.Errorf("generate failed: %w", err)
	}
	if resp == nil {
		return fmt.Errorf("generate returned nil response")
	}
	return nil
}

// dependencyPinger adapts anything with a Ping method (vector index,
// history backend) to the Pinger interface.
type dependencyPinger struct {
	name string
	dep  interface{ Ping(ctx context.Context) error }
}

// NewDependencyPinger labels dep for readiness responses.
func NewDependencyPinger(name string, dep interface{ Ping(ctx context.Context) error }) Pinger {
	return &dependencyPinger{name: name, dep: dep}
}

// Name returns the dependency label used in readiness responses.
func (p *dependencyPinger) Name() string { return p.name }

// Ping delegates to the wrapped dependency.
func (p *dependencyPinger) Ping(ctx context.Context) error {
	if err := p.dep.Ping(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
