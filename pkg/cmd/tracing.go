package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/mufaro/bankflow/pkg/otelhelper"
)

// SetupTracing installs the global OTLP tracer provider when an OTLP
// endpoint is configured. Without one the global no-op tracer stays in
// place and spans are free.
func SetupTracing(ctx context.Context, serviceName string, logger *slog.Logger) {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
		return
	}

	_, err := otelhelper.NewTracer(ctx, serviceName)
	if err != nil {
		logger.WarnContext(ctx, "Failed to initialize tracing", "error", err)

		return
	}

	logger.InfoContext(ctx, "Tracing initialized", "service", serviceName)
}
