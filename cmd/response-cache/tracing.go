package main

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Span exporters
const (
	tracingNone   = "none"
	tracingStdout = "stdout"
	tracingOTLP   = "otlp"
)

// newTracerProvider creates a tracer provider exporting inner service spans.
// The endpoint of the otlp exporter is taken from the standard OTEL_EXPORTER_OTLP_* variables.
func newTracerProvider(ctx context.Context, exporter string, out io.Writer) (*sdktrace.TracerProvider, error) {
	var (
		exp sdktrace.SpanExporter
		err error
	)
	switch exporter {
	case tracingNone, "":
		return sdktrace.NewTracerProvider(), nil
	case tracingStdout:
		exp, err = stdouttrace.New(stdouttrace.WithWriter(out))
	case tracingOTLP:
		exp, err = otlptracegrpc.New(ctx)
	default:
		return nil, fmt.Errorf("unknown span exporter %q", exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s span exporter: %w", exporter, err)
	}
	return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp)), nil
}
