package trace

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitTrace_Stdout(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()
	shutdown, err := InitTrace(ctx, "custody-test", Config{Stdout: true}, &buf)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(ctx, "scan evm")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, shutdown(ctx))
	assert.Contains(t, buf.String(), "scan evm")
	assert.Contains(t, buf.String(), "custody-test")
}

func TestConfigEnabled(t *testing.T) {
	assert.False(t, Config{}.Enabled())
	assert.True(t, Config{Endpoint: "localhost:4317"}.Enabled())
	assert.True(t, Config{Stdout: true}.Enabled())
}
