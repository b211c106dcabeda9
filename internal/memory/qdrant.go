package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds the connection settings for a Qdrant-backed store.
type QdrantConfig struct {
	Host       string
	Port       int // gRPC port, typically 6334.
	APIKey     string
	UseTLS     bool
	Collection string
}

// retrieveLimit bounds how many snippets one retrieval returns.
const retrieveLimit = 5

// QdrantStore implements Store on a Qdrant collection. Each remembered text
// is one point carrying the user id and creation time as payload; retrieval
// is a dense-vector query filtered to the requesting user.
type QdrantStore struct {
	client     *qdrant.Client
	embedder   Embedder
	collection string
	logger     *slog.Logger
}

// NewQdrantStore connects to Qdrant via gRPC. The connection is lazy; the
// first RPC surfaces connectivity problems.
func NewQdrantStore(cfg QdrantConfig, embedder Embedder, logger *slog.Logger) (*QdrantStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("memory: embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("memory: connect to qdrant at %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	return &QdrantStore{
		client:     client,
		embedder:   embedder,
		collection: cfg.Collection,
		logger:     logger,
	}, nil
}

// EnsureCollection creates the collection if missing and makes sure the
// user_id payload index exists. CreateFieldIndex is idempotent on Qdrant,
// so the index call safely backfills on restart.
func (q *QdrantStore) EnsureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("memory: check collection exists: %w", err)
	}

	if !exists {
		if err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(q.embedder.Dimensions()),
				Distance: qdrant.Distance_Cosine,
			}),
		}); err != nil {
			return fmt.Errorf("memory: create collection %q: %w", q.collection, err)
		}
		q.logger.Info("memory: created collection",
			"collection", q.collection,
			"dims", q.embedder.Dimensions())
	}

	keywordType := qdrant.FieldType_FieldTypeKeyword
	if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: q.collection,
		FieldName:      "user_id",
		FieldType:      &keywordType,
	}); err != nil {
		return fmt.Errorf("memory: ensure index on user_id: %w", err)
	}

	return nil
}

// Remember embeds the text and upserts it under a fresh point id.
func (q *QdrantStore) Remember(ctx context.Context, userID, text string) error {
	vec, err := q.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("memory: embed: %w", err)
	}

	_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(uuid.NewString()),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(map[string]any{
				"user_id":      userID,
				"text":         text,
				"created_unix": float64(time.Now().Unix()),
			}),
		}},
	})
	if err != nil {
		return fmt.Errorf("memory: qdrant upsert: %w", err)
	}
	return nil
}

// RetrieveRelevant embeds the query and returns the user's closest
// snippets, best first.
func (q *QdrantStore) RetrieveRelevant(ctx context.Context, query, userID string) ([]Snippet, error) {
	vec, err := q.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}

	limit := uint64(retrieveLimit)
	scored, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("user_id", userID),
			},
		},
		Limit:       &limit,
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("memory: qdrant query: %w", err)
	}

	snippets := make([]Snippet, 0, len(scored))
	for _, sp := range scored {
		text := sp.Payload["text"].GetStringValue()
		if text == "" {
			continue
		}
		snippets = append(snippets, Snippet{Text: text, Score: sp.Score})
	}
	return snippets, nil
}

// Close closes the gRPC connection.
func (q *QdrantStore) Close() error {
	return q.client.Close()
}
