// Package convo tracks multi-round dialogue state per session. All state is
// in-memory and scoped to the process; idle conversations are evicted as a
// whole by a background sweeper.
package convo

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kinderwise-ai/dispatch/internal/registry"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrRoundNotFound        = errors.New("round not found")
)

// RoundStatus is the lifecycle state of one Round:
// pending -> in_progress -> complete | error.
type RoundStatus string

const (
	RoundPending    RoundStatus = "pending"
	RoundInProgress RoundStatus = "in_progress"
	RoundComplete   RoundStatus = "complete"
	RoundError      RoundStatus = "error"
)

// Round is one user turn and its outcome. Index is assigned at creation and
// never changes; rounds are never reordered or deleted.
type Round struct {
	Index       int               `json:"index"`
	UserMessage string            `json:"user_message"`
	AIResponse  string            `json:"ai_response,omitempty"`
	ToolResults []registry.Result `json:"tool_results,omitempty"`
	Status      RoundStatus       `json:"status"`
	Error       string            `json:"error,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// Conversation is the ordered round history for one session.
type Conversation struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Rounds     []Round   `json:"rounds"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

const (
	defaultIdleTimeout   = 30 * time.Minute
	defaultSweepInterval = time.Minute
)

// Store owns all conversations. The map lock is held only to locate an
// entry; each conversation has its own lock, so work on different
// conversation ids never blocks while rounds on the same id are serialized.
type Store struct {
	logger        *slog.Logger
	idleTimeout   time.Duration
	sweepInterval time.Duration

	mu     sync.Mutex
	convos map[string]*entry

	done      chan struct{}
	closeOnce sync.Once
}

type entry struct {
	mu   sync.Mutex
	conv Conversation
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithIdleTimeout overrides how long a conversation may sit untouched
// before eviction.
func WithIdleTimeout(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.idleTimeout = d
		}
	}
}

// WithSweepInterval overrides how often the eviction sweeper runs.
func WithSweepInterval(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

// NewStore creates a conversation store and starts its eviction sweeper.
func NewStore(logger *slog.Logger, opts ...StoreOption) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		logger:        logger,
		idleTimeout:   defaultIdleTimeout,
		sweepInterval: defaultSweepInterval,
		convos:        make(map[string]*entry),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.sweep()
	return s
}

// StartConversation creates an empty conversation for the user and returns
// its id.
func (s *Store) StartConversation(userID string) string {
	now := time.Now()
	e := &entry{conv: Conversation{
		ID:         uuid.NewString(),
		UserID:     userID,
		CreatedAt:  now,
		LastActive: now,
	}}

	s.mu.Lock()
	s.convos[e.conv.ID] = e
	s.mu.Unlock()

	return e.conv.ID
}

// AddRound appends a round for the user message and returns its index.
// The round is created pending and immediately moved to in_progress.
// Rounds on the same conversation are strictly ordered even when callers
// race; indices are dense with no gaps or duplicates.
func (s *Store) AddRound(conversationID, userMessage string) (int, error) {
	e, err := s.lookup(conversationID)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	r := Round{
		Index:       len(e.conv.Rounds),
		UserMessage: userMessage,
		Status:      RoundPending,
		Timestamp:   time.Now(),
	}
	r.Status = RoundInProgress
	e.conv.Rounds = append(e.conv.Rounds, r)
	e.conv.LastActive = r.Timestamp
	return r.Index, nil
}

// CompleteRound moves an in-progress round to complete with its response
// and tool results.
func (s *Store) CompleteRound(conversationID string, index int, aiResponse string, toolResults []registry.Result) error {
	return s.finishRound(conversationID, index, func(r *Round) {
		r.AIResponse = aiResponse
		r.ToolResults = toolResults
		r.Status = RoundComplete
	})
}

// FailRound moves an in-progress round to error, recording the message.
func (s *Store) FailRound(conversationID string, index int, errMsg string) error {
	return s.finishRound(conversationID, index, func(r *Round) {
		r.Error = errMsg
		r.Status = RoundError
	})
}

func (s *Store) finishRound(conversationID string, index int, apply func(*Round)) error {
	e, err := s.lookup(conversationID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if index < 0 || index >= len(e.conv.Rounds) {
		return fmt.Errorf("%w: conversation %s round %d", ErrRoundNotFound, conversationID, index)
	}
	r := &e.conv.Rounds[index]
	if r.Status == RoundComplete || r.Status == RoundError {
		return fmt.Errorf("round %d already terminal (%s)", index, r.Status)
	}
	apply(r)
	e.conv.LastActive = time.Now()
	return nil
}

// GetConversation returns a snapshot of the conversation. Mutating the
// returned value does not affect the store.
func (s *Store) GetConversation(conversationID string) (Conversation, error) {
	e, err := s.lookup(conversationID)
	if err != nil {
		return Conversation{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	snap := e.conv
	snap.Rounds = make([]Round, len(e.conv.Rounds))
	copy(snap.Rounds, e.conv.Rounds)
	return snap, nil
}

// EndConversation removes a conversation explicitly, ahead of idle eviction.
func (s *Store) EndConversation(conversationID string) {
	s.mu.Lock()
	delete(s.convos, conversationID)
	s.mu.Unlock()
}

// Len reports how many conversations are live.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.convos)
}

// Close stops the eviction sweeper.
func (s *Store) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Store) lookup(conversationID string) (*entry, error) {
	s.mu.Lock()
	e, ok := s.convos[conversationID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
	}
	return e, nil
}

func (s *Store) sweep() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.evictIdle(time.Now().Add(-s.idleTimeout))
		}
	}
}

// evictIdle drops conversations whose last activity predates the cutoff.
// Whole conversations only; individual rounds are never removed.
func (s *Store) evictIdle(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.convos {
		e.mu.Lock()
		idle := e.conv.LastActive.Before(cutoff)
		e.mu.Unlock()
		if idle {
			delete(s.convos, id)
			s.logger.Debug("convo: evicted idle conversation", "conversation_id", id)
		}
	}
}
