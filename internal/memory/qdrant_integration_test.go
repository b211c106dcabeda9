package memory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// testStore is shared by the integration tests in this file. Nil when the
// Qdrant container is not enabled.
var testStore *QdrantStore

func TestMain(m *testing.M) {
	if os.Getenv("DISPATCH_QDRANT_TEST") == "" {
		// Unit tests in this package run without a container.
		os.Exit(m.Run())
	}

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "qdrant/qdrant:latest",
		ExposedPorts: []string{"6334/tcp"},
		WaitingFor: wait.ForListeningPort("6334/tcp").
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start qdrant container: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container host: %v\n", err)
		os.Exit(1)
	}
	port, err := container.MappedPort(ctx, "6334")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get mapped port: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	testStore, err = NewQdrantStore(QdrantConfig{
		Host:       host,
		Port:       port.Int(),
		Collection: "dispatch_memory_test",
	}, fakeEmbedder{dims: 8}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create qdrant store: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	_ = testStore.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func requireStore(t *testing.T) *QdrantStore {
	t.Helper()
	if testStore == nil {
		t.Skip("set DISPATCH_QDRANT_TEST=1 to run qdrant integration tests")
	}
	return testStore
}

func TestQdrantRememberAndRetrieve(t *testing.T) {
	s := requireStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureCollection(ctx))
	// Idempotent: ensuring twice must not fail.
	require.NoError(t, s.EnsureCollection(ctx))

	require.NoError(t, s.Remember(ctx, "teacher-1", "上次春游去了植物园"))
	require.NoError(t, s.Remember(ctx, "teacher-1", "班里有42名学生"))
	require.NoError(t, s.Remember(ctx, "parent-9", "别的家长的记录"))

	snippets, err := s.RetrieveRelevant(ctx, "春游", "teacher-1")
	require.NoError(t, err)
	require.NotEmpty(t, snippets)
	assert.LessOrEqual(t, len(snippets), retrieveLimit)

	// Tenant isolation: another user's snippets never leak in.
	for _, sn := range snippets {
		assert.NotEqual(t, "别的家长的记录", sn.Text)
	}
}

func TestQdrantRetrieveUnknownUserIsEmpty(t *testing.T) {
	s := requireStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureCollection(ctx))

	snippets, err := s.RetrieveRelevant(ctx, "任何问题", "nobody")
	require.NoError(t, err)
	assert.Empty(t, snippets)
}
