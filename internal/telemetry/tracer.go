// Package telemetry sets up the OpenTelemetry tracer provider.
package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// InitTracer initializes OpenTelemetry tracing with spans exported to stdout.
func InitTracer(serviceName string, logger *slog.Logger) (ShutdownFunc, error) {
	return initTracer(serviceName, os.Stdout, logger)
}

// Setup initializes tracing when enabled and otherwise leaves the global
// no-op provider in place.
func Setup(serviceName string, enabled bool, logger *slog.Logger) (ShutdownFunc, error) {
	if !enabled {
		logger.Debug("tracing disabled")
		return func(context.Context) error { return nil }, nil
	}
	return InitTracer(serviceName, logger)
}

func initTracer(serviceName string, w io.Writer, logger *slog.Logger) (ShutdownFunc, error) {
	// Create stdout exporter for development
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)

	logger.Info("OpenTelemetry initialized", slog.String("service", serviceName))

	return tp.Shutdown, nil
}
