package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// tracerName identifies the orchestrator's spans in any exporter's output.
const tracerName = "github.com/aegisrun/aegis/internal/service"

// NewTracerProvider builds a TracerProvider that writes spans to stdout as
// pretty-printed JSON and registers it as the global provider, so every
// RunAgent/DelegateToAgent call is traced without a collector dependency.
// The returned shutdown func must be called before the process exits so
// the batch exporter flushes.
func NewTracerProvider() (shutdown func(context.Context) error, err error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("service: building trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
