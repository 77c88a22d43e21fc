package requestctx

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoggerDefaultsToNoop(t *testing.T) {
	assert.Same(t, NoopLogger(), Logger(context.Background()))

	logger := zap.NewExample()
	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, Logger(ctx))
}

func TestRequestIDPinnedAndGenerated(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	assert.Equal(t, "req-1", RequestID(ctx))

	generated := RequestID(context.Background())
	_, err := uuid.Parse(generated)
	require.NoError(t, err)

	pinned := WithRequestID(context.Background(), "")
	assert.Equal(t, RequestID(pinned), RequestID(pinned))
}

func TestTraceRoundTrip(t *testing.T) {
	_, ok := Trace(context.Background())
	assert.False(t, ok)

	info := TraceInfo{TraceID: "abc", SpanID: "def", Sampled: true}
	got, ok := Trace(WithTrace(context.Background(), info))
	require.True(t, ok)
	assert.Equal(t, info, got)
}
