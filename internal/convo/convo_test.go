package convo

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinderwise-ai/dispatch/internal/registry"
)

func newTestStore(t *testing.T, opts ...StoreOption) *Store {
	t.Helper()
	s := NewStore(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})), opts...)
	t.Cleanup(s.Close)
	return s
}

func TestRoundLifecycle(t *testing.T) {
	s := newTestStore(t)
	id := s.StartConversation("user-1")

	idx, err := s.AddRound(id, "查询学生人数")
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	conv, err := s.GetConversation(id)
	require.NoError(t, err)
	require.Len(t, conv.Rounds, 1)
	assert.Equal(t, RoundInProgress, conv.Rounds[0].Status)

	results := []registry.Result{{Name: "student_count", Status: registry.StatusSuccess, Result: 42}}
	require.NoError(t, s.CompleteRound(id, idx, "共有42名学生", results))

	conv, err = s.GetConversation(id)
	require.NoError(t, err)
	assert.Equal(t, RoundComplete, conv.Rounds[0].Status)
	assert.Equal(t, "共有42名学生", conv.Rounds[0].AIResponse)
	assert.Len(t, conv.Rounds[0].ToolResults, 1)
}

func TestFailRound(t *testing.T) {
	s := newTestStore(t)
	id := s.StartConversation("user-1")

	idx, err := s.AddRound(id, "hello")
	require.NoError(t, err)
	require.NoError(t, s.FailRound(id, idx, "model call failed"))

	conv, err := s.GetConversation(id)
	require.NoError(t, err)
	assert.Equal(t, RoundError, conv.Rounds[0].Status)
	assert.Equal(t, "model call failed", conv.Rounds[0].Error)
}

func TestTerminalRoundRejectsFurtherTransitions(t *testing.T) {
	s := newTestStore(t)
	id := s.StartConversation("user-1")

	idx, err := s.AddRound(id, "hello")
	require.NoError(t, err)
	require.NoError(t, s.CompleteRound(id, idx, "done", nil))

	assert.Error(t, s.CompleteRound(id, idx, "again", nil))
	assert.Error(t, s.FailRound(id, idx, "late failure"))
}

func TestUnknownConversationAndRound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.AddRound("missing", "hi")
	assert.ErrorIs(t, err, ErrConversationNotFound)

	_, err = s.GetConversation("missing")
	assert.ErrorIs(t, err, ErrConversationNotFound)

	id := s.StartConversation("user-1")
	assert.ErrorIs(t, s.CompleteRound(id, 5, "x", nil), ErrRoundNotFound)
	assert.ErrorIs(t, s.FailRound(id, -1, "x"), ErrRoundNotFound)
}

func TestConcurrentAddRoundIndicesAreDense(t *testing.T) {
	s := newTestStore(t)
	id := s.StartConversation("user-1")

	const n = 64
	indices := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			idx, err := s.AddRound(id, fmt.Sprintf("message %d", i))
			require.NoError(t, err)
			indices <- idx
		}(i)
	}
	wg.Wait()
	close(indices)

	seen := make(map[int]bool, n)
	for idx := range indices {
		assert.False(t, seen[idx], "duplicate index %d", idx)
		seen[idx] = true
	}
	// Exactly 0..n-1, no gaps.
	for i := 0; i < n; i++ {
		assert.True(t, seen[i], "missing index %d", i)
	}

	conv, err := s.GetConversation(id)
	require.NoError(t, err)
	require.Len(t, conv.Rounds, n)
	for i, r := range conv.Rounds {
		assert.Equal(t, i, r.Index)
	}
}

func TestDifferentConversationsDoNotShareIndices(t *testing.T) {
	s := newTestStore(t)
	a := s.StartConversation("user-a")
	b := s.StartConversation("user-b")

	idxA, err := s.AddRound(a, "first in a")
	require.NoError(t, err)
	idxB, err := s.AddRound(b, "first in b")
	require.NoError(t, err)

	assert.Equal(t, 0, idxA)
	assert.Equal(t, 0, idxB)
}

func TestSnapshotIsDetached(t *testing.T) {
	s := newTestStore(t)
	id := s.StartConversation("user-1")
	_, err := s.AddRound(id, "hello")
	require.NoError(t, err)

	snap, err := s.GetConversation(id)
	require.NoError(t, err)
	snap.Rounds[0].UserMessage = "tampered"

	fresh, err := s.GetConversation(id)
	require.NoError(t, err)
	assert.Equal(t, "hello", fresh.Rounds[0].UserMessage)
}

func TestIdleEviction(t *testing.T) {
	s := newTestStore(t, WithIdleTimeout(10*time.Millisecond), WithSweepInterval(5*time.Millisecond))
	id := s.StartConversation("user-1")

	require.Equal(t, 1, s.Len())
	assert.Eventually(t, func() bool {
		_, err := s.GetConversation(id)
		return err != nil
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, s.Len())
}

func TestEndConversationRemovesImmediately(t *testing.T) {
	s := newTestStore(t)
	id := s.StartConversation("user-1")

	s.EndConversation(id)
	_, err := s.GetConversation(id)
	assert.ErrorIs(t, err, ErrConversationNotFound)
}
