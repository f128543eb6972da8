// Package tracing wires Langfuse into every eino model and embedding call
// through the global callback registry.
package tracing

import (
	"log/slog"
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"

	"github.com/54b3r/docchat-go/internal/version"
)

const defaultLangfuseHost = "http://localhost:3000"

// Enabled reports whether LANGFUSE_PUBLIC_KEY and LANGFUSE_SECRET_KEY are
// both set.
func Enabled() bool {
	return os.Getenv("LANGFUSE_PUBLIC_KEY") != "" && os.Getenv("LANGFUSE_SECRET_KEY") != ""
}

// Setup registers the Langfuse callback handler globally when tracing is
// enabled. The returned flush function must run before process exit so
// buffered traces are sent; it is a no-op when tracing is disabled.
func Setup(log *slog.Logger) (flush func()) {
	if !Enabled() {
		log.Debug("tracing: langfuse disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY or LANGFUSE_SECRET_KEY not set"))
		return func() {}
	}

	host := os.Getenv("LANGFUSE_HOST")
	if host == "" {
		host = defaultLangfuseHost
	}

	handler, flusher := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      host,
		PublicKey: os.Getenv("LANGFUSE_PUBLIC_KEY"),
		SecretKey: os.Getenv("LANGFUSE_SECRET_KEY"),
		Name:      "docchat",
		Release:   version.Version,
	})
	callbacks.AppendGlobalHandlers(handler)

	log.Info("tracing: langfuse enabled", slog.String("host", host))
	return flusher
}
