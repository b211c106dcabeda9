package dispatch

import "context"

// ModelBackend generates model completions. Required — supply one via
// WithModelBackend. The dispatcher never talks to a model gateway itself;
// it hands the backend the selected profile ID, the conversation messages,
// and the schemas of the tools selected for this query.
//
// Errors returned by the backend are categorized from their message text
// and retried per the retry policy when the category is retryable.
type ModelBackend interface {
	// Generate runs one non-streaming completion.
	Generate(ctx context.Context, model string, messages []Message, tools []ToolSchema) (*ModelReply, error)

	// GenerateStream runs one completion, delivering text deltas through
	// emit as they arrive. The returned reply carries the full text.
	GenerateStream(ctx context.Context, model string, messages []Message, tools []ToolSchema, emit func(delta string)) (*ModelReply, error)
}

// MemoryStore retrieves long-term memory snippets for a user's query and
// records new facts. When provided via WithMemoryStore, replaces the
// config-selected store (Qdrant or noop). Retrieval failures degrade the
// query to empty memory context; they never fail it.
type MemoryStore interface {
	RetrieveRelevant(ctx context.Context, query, userID string) ([]MemorySnippet, error)
	Remember(ctx context.Context, userID, text string) error
	Close() error
}
