package tracer

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracer_SpanLifecycle(t *testing.T) {
	tr := New(16, slog.Default())
	ctx := context.Background()

	traceID := tr.StartTrace(ctx, "user-1")
	spanID := tr.StartSpan(traceID, "complexity", "assess")
	require.NotEqual(t, uuid.Nil, spanID)

	tr.EndSpan(traceID, spanID, StatusOK)
	tr.EndTrace(traceID, StatusOK)

	got, err := tr.GetTrace(traceID)
	require.NoError(t, err)
	assert.True(t, got.Closed())
	assert.Equal(t, StatusOK, got.Status)
	require.Len(t, got.Spans, 1)

	span := got.Spans[0]
	assert.Equal(t, "complexity", span.ServiceName)
	assert.Equal(t, "assess", span.Operation)
	require.NotNil(t, span.EndedAt)
	assert.False(t, span.EndedAt.Before(span.StartedAt), "EndedAt must be >= StartedAt")
}

func TestTracer_EndSpanAfterEndTraceIsNoop(t *testing.T) {
	tr := New(16, slog.Default())

	traceID := tr.StartTrace(context.Background(), "user-1")
	spanID := tr.StartSpan(traceID, "registry", "execute")
	tr.EndTrace(traceID, StatusOK)

	before, err := tr.GetTrace(traceID)
	require.NoError(t, err)

	// Must be rejected silently: the trace already closed.
	tr.EndSpan(traceID, spanID, StatusError)

	after, err := tr.GetTrace(traceID)
	require.NoError(t, err)
	assert.Equal(t, before.Spans[0].Status, after.Spans[0].Status)
	assert.Equal(t, before.Spans[0].EndedAt, after.Spans[0].EndedAt)
}

func TestTracer_OpenSpansForceClosedWithTrace(t *testing.T) {
	tr := New(16, slog.Default())

	traceID := tr.StartTrace(context.Background(), "user-1")
	tr.StartSpan(traceID, "model-backend", "generate")
	tr.EndTrace(traceID, StatusError)

	got, err := tr.GetTrace(traceID)
	require.NoError(t, err)
	require.Len(t, got.Spans, 1)
	require.NotNil(t, got.Spans[0].EndedAt, "every span must be closed by the time the trace is")
	assert.Equal(t, StatusError, got.Spans[0].Status)
}

func TestTracer_EndSpanSetOnce(t *testing.T) {
	tr := New(16, slog.Default())

	traceID := tr.StartTrace(context.Background(), "user-1")
	spanID := tr.StartSpan(traceID, "selector", "select_tools")
	tr.EndSpan(traceID, spanID, StatusOK)

	first, err := tr.GetTrace(traceID)
	require.NoError(t, err)

	tr.EndSpan(traceID, spanID, StatusError)

	second, err := tr.GetTrace(traceID)
	require.NoError(t, err)
	assert.Equal(t, first.Spans[0].EndedAt, second.Spans[0].EndedAt, "EndedAt is set exactly once")
	assert.Equal(t, StatusOK, second.Spans[0].Status)
}

func TestTracer_UnknownTrace(t *testing.T) {
	tr := New(16, slog.Default())

	_, err := tr.GetTrace(uuid.New())
	assert.ErrorIs(t, err, ErrTraceNotFound)

	// Operations on unknown traces are no-ops rather than panics.
	assert.Equal(t, uuid.Nil, tr.StartSpan(uuid.New(), "svc", "op"))
	tr.EndSpan(uuid.New(), uuid.New(), StatusOK)
	tr.EndTrace(uuid.New(), StatusOK)
}

func TestTracer_ClosedTraceEviction(t *testing.T) {
	tr := New(2, slog.Default())
	ctx := context.Background()

	first := tr.StartTrace(ctx, "user-1")
	tr.EndTrace(first, StatusOK)
	second := tr.StartTrace(ctx, "user-1")
	tr.EndTrace(second, StatusOK)
	third := tr.StartTrace(ctx, "user-1")
	tr.EndTrace(third, StatusOK)

	_, err := tr.GetTrace(first)
	assert.ErrorIs(t, err, ErrTraceNotFound, "oldest closed trace is evicted")

	_, err = tr.GetTrace(second)
	assert.NoError(t, err)
	_, err = tr.GetTrace(third)
	assert.NoError(t, err)
}

func TestTracer_ActiveCount(t *testing.T) {
	tr := New(16, slog.Default())

	a := tr.StartTrace(context.Background(), "user-1")
	b := tr.StartTrace(context.Background(), "user-2")
	assert.Equal(t, 2, tr.ActiveCount())

	tr.EndTrace(a, StatusOK)
	tr.EndTrace(b, StatusError)
	assert.Equal(t, 0, tr.ActiveCount())
}
