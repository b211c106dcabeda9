package stream

import (
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T, opts ...BrokerOption) *Broker {
	t.Helper()
	b := NewBroker(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})), opts...)
	t.Cleanup(b.Shutdown)
	return b
}

func TestEmitAndConsumeInOrder(t *testing.T) {
	b := newTestBroker(t)
	id := b.CreateSession()

	ch, err := b.Subscribe(id)
	require.NoError(t, err)

	b.Emit(id, Chunk{Type: ChunkDelta, Content: "你好"})
	b.Emit(id, Chunk{Type: ChunkDelta, Content: "，家长"})
	b.Emit(id, Chunk{Type: ChunkDone})
	b.Close(id)

	var got []Chunk
	for c := range ch {
		got = append(got, c)
	}
	require.Len(t, got, 3)
	assert.Equal(t, "你好", got[0].Content)
	assert.Equal(t, ChunkDone, got[2].Type)
}

func TestEmitAfterCloseIsNoOp(t *testing.T) {
	b := newTestBroker(t)
	id := b.CreateSession()
	ch, err := b.Subscribe(id)
	require.NoError(t, err)

	b.Close(id)
	// A late chunk from a cancelled call must not panic or show up.
	b.Emit(id, Chunk{Type: ChunkDelta, Content: "late"})

	_, open := <-ch
	assert.False(t, open)

	m, err := b.GetMetrics(id)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Chunks)
	assert.True(t, m.Closed)
}

func TestCloseIsIdempotent(t *testing.T) {
	b := newTestBroker(t)
	id := b.CreateSession()

	b.Close(id)
	assert.NotPanics(t, func() { b.Close(id) })
}

func TestEmitUnknownSessionIsNoOp(t *testing.T) {
	b := newTestBroker(t)
	assert.NotPanics(t, func() { b.Emit("missing", Chunk{Type: ChunkDelta, Content: "x"}) })

	_, err := b.Subscribe("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = b.GetMetrics("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSlowConsumerDropsOldest(t *testing.T) {
	b := newTestBroker(t, WithBufferSize(4))
	id := b.CreateSession()
	ch, err := b.Subscribe(id)
	require.NoError(t, err)

	// No consumer yet: producer must not block past the buffer.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			b.Emit(id, Chunk{Type: ChunkDelta, Content: fmt.Sprintf("chunk-%d", i)})
		}
		b.Close(id)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producer blocked on a full buffer")
	}

	var got []Chunk
	for c := range ch {
		got = append(got, c)
	}
	// Buffer holds 4; the newest survive.
	require.Len(t, got, 4)
	assert.Equal(t, "chunk-9", got[len(got)-1].Content)

	m, err := b.GetMetrics(id)
	require.NoError(t, err)
	assert.Equal(t, 10, m.Chunks)
	assert.Equal(t, 6, m.Dropped)
}

func TestMetricsCountBytesAndAge(t *testing.T) {
	b := newTestBroker(t)
	id := b.CreateSession()

	b.Emit(id, Chunk{Type: ChunkDelta, Content: "abcd"})
	b.Emit(id, Chunk{Type: ChunkDelta, Content: "ef"})

	m, err := b.GetMetrics(id)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Chunks)
	assert.Equal(t, int64(6), m.Bytes)
	assert.GreaterOrEqual(t, m.Age, time.Duration(0))
	assert.False(t, m.Closed)
}

func TestEvictClosedSessions(t *testing.T) {
	b := newTestBroker(t)
	id := b.CreateSession()
	b.Close(id)

	b.evictClosed(time.Now().Add(time.Second))

	_, err := b.GetMetrics(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestShutdownClosesAllSessions(t *testing.T) {
	b := newTestBroker(t)
	a := b.CreateSession()
	c := b.CreateSession()

	b.Shutdown()

	for _, id := range []string{a, c} {
		m, err := b.GetMetrics(id)
		require.NoError(t, err)
		assert.True(t, m.Closed)
	}
}
