// Package coordinator sequences one incoming query through the dispatch
// pipeline: rate limit, trace, conversation round, complexity assessment,
// tool and model selection, memory retrieval, the model call with retries,
// tool execution, and the round's final state.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kinderwise-ai/dispatch/internal/complexity"
	"github.com/kinderwise-ai/dispatch/internal/convo"
	"github.com/kinderwise-ai/dispatch/internal/faults"
	"github.com/kinderwise-ai/dispatch/internal/memory"
	"github.com/kinderwise-ai/dispatch/internal/models"
	"github.com/kinderwise-ai/dispatch/internal/ratelimit"
	"github.com/kinderwise-ai/dispatch/internal/registry"
	"github.com/kinderwise-ai/dispatch/internal/selector"
	"github.com/kinderwise-ai/dispatch/internal/stream"
	"github.com/kinderwise-ai/dispatch/internal/telemetry"
	"github.com/kinderwise-ai/dispatch/internal/tracer"
)

// Message is one turn handed to the model backend.
type Message struct {
	Role    string `json:"role"` // "system", "user", or "assistant"
	Content string `json:"content"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ModelReply is what one model call produced.
type ModelReply struct {
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ModelBackend generates text from messages. Implemented externally; any
// error it returns is categorized from its message text alone.
type ModelBackend interface {
	// Generate runs one non-streaming completion.
	Generate(ctx context.Context, profileID string, messages []Message, tools []registry.Definition) (*ModelReply, error)

	// GenerateStream runs one completion, delivering text deltas through
	// emit as they arrive. The returned reply carries the full text.
	GenerateStream(ctx context.Context, profileID string, messages []Message, tools []registry.Definition, emit func(delta string)) (*ModelReply, error)
}

// Request is one incoming query from the outer boundary.
type Request struct {
	Utterance      string
	UserID         string
	Role           string
	ConversationID string // Empty starts a new conversation.
}

// Response is the terminal result of one dispatched query.
type Response struct {
	ConversationID string                `json:"conversation_id"`
	RoundIndex     int                   `json:"round_index"`
	Text           string                `json:"text"`
	ToolResults    []registry.Result     `json:"tool_results,omitempty"`
	Assessment     complexity.Assessment `json:"assessment"`
	ModelProfile   models.Profile        `json:"model_profile"`
	Mode           selector.Mode         `json:"mode,omitempty"`
	SelectedTools  []string              `json:"selected_tools"`
	TraceID        uuid.UUID             `json:"trace_id"`
}

// Config carries the coordinator's operational knobs.
type Config struct {
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	ModelTimeout   time.Duration
	HistoryRounds  int // How many prior rounds feed the model context.
}

// Deps wires the coordinator to every component it sequences.
type Deps struct {
	Logger   *slog.Logger
	Registry *registry.Registry
	Selector *selector.Selector
	Catalog  *models.Catalog
	Convos   *convo.Store
	Broker   *stream.Broker
	Errors   *faults.Store
	Policy   *faults.Policy
	Tracer   *tracer.Tracer
	Limiter  ratelimit.Limiter
	Memory   memory.Store
	Backend  ModelBackend
	Metrics  *telemetry.PipelineMetrics
}

// Coordinator is re-entrant: each query runs on its own goroutine and the
// only shared mutable state lives in the component stores, each with its
// own synchronization.
type Coordinator struct {
	cfg  Config
	deps Deps
}

const defaultHistoryRounds = 10

// New validates the wiring and returns a Coordinator.
func New(cfg Config, deps Deps) (*Coordinator, error) {
	switch {
	case deps.Registry == nil:
		return nil, fmt.Errorf("coordinator: registry is required")
	case deps.Selector == nil:
		return nil, fmt.Errorf("coordinator: selector is required")
	case deps.Catalog == nil:
		return nil, fmt.Errorf("coordinator: model catalog is required")
	case deps.Convos == nil:
		return nil, fmt.Errorf("coordinator: conversation store is required")
	case deps.Broker == nil:
		return nil, fmt.Errorf("coordinator: stream broker is required")
	case deps.Errors == nil || deps.Policy == nil:
		return nil, fmt.Errorf("coordinator: error store and retry policy are required")
	case deps.Tracer == nil:
		return nil, fmt.Errorf("coordinator: tracer is required")
	case deps.Backend == nil:
		return nil, fmt.Errorf("coordinator: model backend is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.NoopLimiter{}
	}
	if deps.Memory == nil {
		deps.Memory = memory.NoopStore{}
	}
	if cfg.HistoryRounds <= 0 {
		cfg.HistoryRounds = defaultHistoryRounds
	}
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = 60 * time.Second
	}
	return &Coordinator{cfg: cfg, deps: deps}, nil
}
