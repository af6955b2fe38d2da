package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const (
	serviceName    = "applybot"
	instrumentName = "github.com/cchalm/applybot"
)

// Config holds the configuration for telemetry
type Config struct {
	Enabled bool
	// Endpoint is the OTLP/HTTP collector URL, e.g. http://localhost:4318
	Endpoint       string
	ServiceVersion string
}

// Provider owns the tracer provider. When telemetry is disabled every span is a no-op.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
	logger *zap.Logger
}

// NewProvider creates a new telemetry provider
func NewProvider(ctx context.Context, config Config, logger *zap.Logger) (*Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !config.Enabled {
		logger.Debug("telemetry disabled")
		return &Provider{tracer: noop.NewTracerProvider().Tracer(instrumentName), logger: logger}, nil
	}

	var opts []otlptracehttp.Option
	if config.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpointURL(config.Endpoint))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", config.ServiceVersion),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	logger.Info("telemetry enabled", zap.String("endpoint", config.Endpoint))

	return &Provider{tp: tp, tracer: tp.Tracer(instrumentName), logger: logger}, nil
}

// Tracer returns the tracer for pipeline spans
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Shutdown flushes pending spans
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	p.logger.Debug("shutting down telemetry provider")
	err := p.tp.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("failed to shut down tracer provider: %w", err)
	}
	return nil
}

// ApplyStats summarizes one apply for its span
type ApplyStats struct {
	SessionID         string
	FilesCreated      int
	FilesUpdated      int
	PackagesInstalled int
	PackagesFailed    int
	Commands          int
	Errors            int
	AutoCompleted     bool
	MissingImports    int
}

// RecordApply attaches apply statistics to span
func RecordApply(span trace.Span, stats ApplyStats) {
	span.SetAttributes(
		attribute.String("applybot.session_id", stats.SessionID),
		attribute.Int("applybot.files_created", stats.FilesCreated),
		attribute.Int("applybot.files_updated", stats.FilesUpdated),
		attribute.Int("applybot.packages_installed", stats.PackagesInstalled),
		attribute.Int("applybot.packages_failed", stats.PackagesFailed),
		attribute.Int("applybot.commands", stats.Commands),
		attribute.Int("applybot.errors", stats.Errors),
		attribute.Bool("applybot.auto_completed", stats.AutoCompleted),
		attribute.Int("applybot.missing_imports", stats.MissingImports),
	)
}
