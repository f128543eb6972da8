package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/provider"
	"github.com/54b3r/docchat-go/internal/rag"
	"github.com/54b3r/docchat-go/internal/server"
	"github.com/54b3r/docchat-go/internal/tracing"
)

// NewServeCmd constructs the `docchat serve` command, which starts the HTTP
// API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the docchat HTTP API",
		Long: `Start the HTTP API:

  POST /api/chat      answer a question (Server-Sent Events)
  POST /api/ingest    upload files (multipart, "file" parts)
  POST /api/fetch     fetch URLs, optionally indexing them
  GET  /api/history   conversation history
  DELETE /api/history clear the conversation history
  GET  /api/health    liveness
  GET  /api/ready     readiness of the model, vector index and history store
  GET  /metrics       Prometheus metrics

Set DOCCHAT_API_KEY to require "Authorization: Bearer <key>" on /api/chat,
/api/ingest, /api/fetch and /api/history.

Examples:
  docchat serve
  docchat serve --port 9090
  VECTOR_BACKEND=redis docchat serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			if !cmd.Flags().Changed("host") {
				host = getEnvOrDefault("DOCCHAT_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = getEnvInt("DOCCHAT_PORT", port)
			}

			flush := tracing.Setup(log)
			defer flush()

			stack, err := buildChatStack(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() {
				if err := stack.Close(context.WithoutCancel(ctx)); err != nil {
					log.Warn("serve: closing session failed", slog.Any("error", err))
				}
			}()

			pipeline, err := newPipeline(stack.indexStack, nil)
			if err != nil {
				return fmt.Errorf("serve: failed to create pipeline: %w", err)
			}

			srv, err := server.New(&server.Deps{
				Assistant: stack.assistant,
				Pipeline:  pipeline,
				Fetcher:   newFetcher(),
			}, &server.Config{
				Host:           host,
				Port:           port,
				ChatTimeout:    getEnvDuration("CHAT_TIMEOUT", 0),
				MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_BYTES", 0)),
				Logger:         log,
				Pingers:        buildPingers(stack),
				APIKey:         os.Getenv("DOCCHAT_API_KEY"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (env DOCCHAT_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (env DOCCHAT_PORT)")

	return cmd
}

// buildPingers assembles the readiness probes: the chat backend, the vector
// index and the history store, each only when it can report reachability.
func buildPingers(s *chatStack) []server.Pinger {
	pingers := []server.Pinger{
		server.NewLLMPinger(s.chatModel, provider.NewHealthCheck(s.providerCfg), string(s.providerCfg.Backend)),
	}
	if p, ok := s.index.(rag.Pinger); ok {
		pingers = append(pingers, server.NewDependencyPinger("vector-index", p))
	}
	if p, ok := s.history.(rag.Pinger); ok {
		pingers = append(pingers, server.NewDependencyPinger("history", p))
	}
	return pingers
}
