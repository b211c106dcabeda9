package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Role is a user's role in the kindergarten. Tool access is scoped per role.
type Role string

const (
	RoleAdmin     Role = "admin"
	RolePrincipal Role = "principal"
	RoleTeacher   Role = "teacher"
	RoleParent    Role = "parent"
)

// Query is one incoming user utterance.
type Query struct {
	// Utterance is the raw user text. Required.
	Utterance string
	// UserID identifies the asking user for rate limiting, conversation
	// ownership, and memory retrieval. Required.
	UserID string
	// Role scopes which tool groups may be selected.
	Role Role
	// ConversationID continues an existing conversation. Empty starts a
	// new one.
	ConversationID string
}

// Complexity is the scored judgment of one utterance.
type Complexity struct {
	Score              float64
	Level              string // simple | moderate | complex | very_complex
	EstimatedSteps     int
	EstimatedTime      string
	SuggestedApproach  string // direct | guided_steps | workflow | workflow_with_subtasks
	NeedsDecomposition bool
	Recommendations    []string
}

// ToolResult is the outcome of one tool execution within an answer.
type ToolResult struct {
	Name   string
	Status string // success | error
	Result any
	Error  string
}

// Answer is the terminal result of one dispatched query.
type Answer struct {
	ConversationID string
	Round          int
	Text           string
	Model          string
	Mode           string // "" | emergency | detailed | demo
	SelectedTools  []string
	ToolResults    []ToolResult
	Complexity     Complexity
	TraceID        uuid.UUID
}

// ChunkType discriminates streamed chunks.
type ChunkType string

const (
	ChunkDelta      ChunkType = "delta"
	ChunkToolResult ChunkType = "tool_result"
	ChunkError      ChunkType = "error"
	ChunkDone       ChunkType = "done"
)

// StreamChunk is one unit delivered on a streaming answer channel.
type StreamChunk struct {
	Type    ChunkType
	Content string
}

// Span is one timed sub-operation inside a request trace.
type Span struct {
	ServiceName string
	Operation   string
	StartedAt   time.Time
	EndedAt     *time.Time
	Status      string // ok | error | pending
}

// Trace is the recorded path of one request through the pipeline.
type Trace struct {
	ID        uuid.UUID
	UserID    string
	Spans     []Span
	Status    string
	StartedAt time.Time
	EndedAt   *time.Time
}

// Round is one user turn with its response and tool results.
type Round struct {
	Index       int
	UserMessage string
	AIResponse  string
	ToolResults []ToolResult
	Status      string // pending | in_progress | complete | error
	Error       string
	Timestamp   time.Time
}

// Conversation is a detached snapshot of one conversation's history.
type Conversation struct {
	ID         string
	UserID     string
	Rounds     []Round
	CreatedAt  time.Time
	LastActive time.Time
}

// ErrorStats aggregates the retained fault records.
type ErrorStats struct {
	Total      int
	ByCategory map[string]int
	BySeverity map[string]int
}

// MemorySnippet is one retrieved long-term memory fragment.
type MemorySnippet struct {
	Text  string
	Score float32
}

// Message is one turn handed to a model backend.
type Message struct {
	Role    string // "system", "user", or "assistant"
	Content string
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	Name string
	Args map[string]any
}

// ModelReply is what one model call produced.
type ModelReply struct {
	Text      string
	ToolCalls []ToolCall
}

// ToolSchema describes one callable tool to a model backend.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Tool is an externally supplied tool registered via WithTool.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Category    string
	Handler     ToolHandler
}

// ToolHandler executes one external tool call.
type ToolHandler func(ctx context.Context, args map[string]any) (any, error)
