package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStdoutSpans(t *testing.T) {
	var buf bytes.Buffer
	tp, err := newTracerProvider(context.Background(), tracingStdout, &buf)
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(context.Background(), "inner_service")
	span.End()
	require.NoError(t, tp.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), `"Name":"inner_service"`)
}

func TestNoSpanExporter(t *testing.T) {
	tp, err := newTracerProvider(context.Background(), "", nil)
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestUnknownSpanExporter(t *testing.T) {
	_, err := newTracerProvider(context.Background(), "zipkin", nil)
	assert.Error(t, err)
}
