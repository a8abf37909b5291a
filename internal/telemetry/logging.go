package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/italolelis/jdownloader_remote/internal/logctx"
)

// LogConfig configures the process log pipeline.
type LogConfig struct {
	Writer       io.Writer
	Level        slog.Leveler
	ServiceName  string
	OTLPEndpoint string
}

// NewLogHandler builds the root slog handler. Records always go to Writer as
// JSON; with an OTLP endpoint they are also exported through the OpenTelemetry
// log bridge. The returned shutdown flushes the exporter.
func NewLogHandler(ctx context.Context, cfg LogConfig) (slog.Handler, func(context.Context) error, error) {
	jsonHandler := slog.NewJSONHandler(cfg.Writer, &slog.HandlerOptions{Level: cfg.Level})

	if cfg.OTLPEndpoint == "" {
		return logctx.NewTraceHandler(jsonHandler), func(context.Context) error { return nil }, nil
	}

	exporter, err := otlploggrpc.New(ctx,
		otlploggrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlploggrpc.WithInsecure(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create otlp log exporter: %w", err)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)

	otelHandler := otelslog.NewHandler(cfg.ServiceName, otelslog.WithLoggerProvider(provider))

	return logctx.NewTraceHandler(slogmulti.Fanout(jsonHandler, otelHandler)), provider.Shutdown, nil
}
