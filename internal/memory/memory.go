// Package memory is the long-term context store consulted before a model
// call. Retrieval is best-effort: any failure degrades to an empty context
// and never fails the request.
package memory

import "context"

// Snippet is one retrieved piece of prior context.
type Snippet struct {
	Text  string  `json:"text"`
	Score float32 `json:"score"`
}

// Store retrieves and records long-term context per user.
// Implementations must be safe for concurrent use.
type Store interface {
	// RetrieveRelevant returns snippets relevant to the query, best first.
	RetrieveRelevant(ctx context.Context, query, userID string) ([]Snippet, error)

	// Remember stores a piece of context for later retrieval.
	Remember(ctx context.Context, userID, text string) error

	// Close releases connections.
	Close() error
}

// NoopStore remembers nothing and retrieves nothing. Used when long-term
// memory is disabled.
type NoopStore struct{}

func (NoopStore) RetrieveRelevant(context.Context, string, string) ([]Snippet, error) {
	return nil, nil
}

func (NoopStore) Remember(context.Context, string, string) error { return nil }

func (NoopStore) Close() error { return nil }
