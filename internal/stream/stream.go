// Package stream delivers incremental output to callers. Each session has a
// single producer and a single consumer joined by a bounded buffer; when the
// consumer falls behind, the oldest chunk is dropped so the producer never
// blocks indefinitely. A closed session swallows late emits, so a chunk from
// a cancelled call can never corrupt the session id.
package stream

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrSessionNotFound = errors.New("stream session not found")

// ChunkType tags one streamed chunk.
type ChunkType string

const (
	ChunkDelta      ChunkType = "delta"
	ChunkToolResult ChunkType = "tool_result"
	ChunkError      ChunkType = "error"
	ChunkDone       ChunkType = "done"
)

// Chunk is one unit of incremental output.
type Chunk struct {
	Type    ChunkType `json:"type"`
	Content string    `json:"content"`
}

// Metrics summarizes one session's delivery so far.
type Metrics struct {
	Chunks  int           `json:"chunks"`
	Bytes   int64         `json:"bytes"`
	Dropped int           `json:"dropped"`
	Age     time.Duration `json:"age"`
	Closed  bool          `json:"closed"`
}

const (
	defaultBufferSize      = 64
	defaultClosedRetention = 5 * time.Minute
	sweepInterval          = time.Minute
)

// Broker owns all live sessions. Closed sessions linger briefly so their
// metrics stay queryable, then a background sweeper drops them.
type Broker struct {
	logger     *slog.Logger
	bufferSize int
	retention  time.Duration

	mu       sync.Mutex
	sessions map[string]*session

	done      chan struct{}
	closeOnce sync.Once
}

type session struct {
	mu       sync.Mutex
	ch       chan Chunk
	closed   bool
	created  time.Time
	closedAt time.Time
	chunks   int
	bytes    int64
	dropped  int
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize overrides the per-session buffer capacity.
func WithBufferSize(n int) BrokerOption {
	return func(b *Broker) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithClosedRetention overrides how long closed sessions stay queryable.
func WithClosedRetention(d time.Duration) BrokerOption {
	return func(b *Broker) {
		if d > 0 {
			b.retention = d
		}
	}
}

// NewBroker creates a broker and starts its sweeper.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{
		logger:     logger,
		bufferSize: defaultBufferSize,
		retention:  defaultClosedRetention,
		sessions:   make(map[string]*session),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.sweep()
	return b
}

// CreateSession opens a new session and returns its id.
func (b *Broker) CreateSession() string {
	s := &session{
		ch:      make(chan Chunk, b.bufferSize),
		created: time.Now(),
	}
	id := uuid.NewString()

	b.mu.Lock()
	b.sessions[id] = s
	b.mu.Unlock()

	return id
}

// Subscribe returns the session's chunk channel. The channel is closed by
// Close; it delivers chunks in emit order minus any dropped under pressure.
func (b *Broker) Subscribe(sessionID string) (<-chan Chunk, error) {
	s, err := b.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return s.ch, nil
}

// Emit appends a chunk to the session. Never blocks: when the buffer is
// full the oldest chunk is discarded. Emits on an unknown or closed session
// are silent no-ops.
func (b *Broker) Emit(sessionID string, chunk Chunk) {
	s, err := b.lookup(sessionID)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.ch <- chunk:
	default:
		// Consumer is behind; shed the oldest chunk.
		select {
		case <-s.ch:
			s.dropped++
		default:
		}
		select {
		case s.ch <- chunk:
		default:
		}
	}
	s.chunks++
	s.bytes += int64(len(chunk.Content))
}

// Close ends the session. Idempotent; subsequent Emit calls no-op and the
// consumer's channel is closed.
func (b *Broker) Close(sessionID string) {
	s, err := b.lookup(sessionID)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.closedAt = time.Now()
	close(s.ch)
}

// GetMetrics reports the session's delivery counters.
func (b *Broker) GetMetrics(sessionID string) (Metrics, error) {
	s, err := b.lookup(sessionID)
	if err != nil {
		return Metrics{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return Metrics{
		Chunks:  s.chunks,
		Bytes:   s.bytes,
		Dropped: s.dropped,
		Age:     time.Since(s.created),
		Closed:  s.closed,
	}, nil
}

// Shutdown closes every live session and stops the sweeper.
func (b *Broker) Shutdown() {
	b.closeOnce.Do(func() {
		close(b.done)

		b.mu.Lock()
		ids := make([]string, 0, len(b.sessions))
		for id := range b.sessions {
			ids = append(ids, id)
		}
		b.mu.Unlock()

		for _, id := range ids {
			b.Close(id)
		}
	})
}

func (b *Broker) lookup(sessionID string) (*session, error) {
	b.mu.Lock()
	s, ok := b.sessions[sessionID]
	b.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (b *Broker) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.evictClosed(time.Now().Add(-b.retention))
		}
	}
}

func (b *Broker) evictClosed(cutoff time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, s := range b.sessions {
		s.mu.Lock()
		stale := s.closed && s.closedAt.Before(cutoff)
		s.mu.Unlock()
		if stale {
			delete(b.sessions, id)
		}
	}
}
