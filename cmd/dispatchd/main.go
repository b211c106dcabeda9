package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/kinderwise-ai/dispatch"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("DISPATCH_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	// MCP owns stdout; logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	app, err := dispatch.New(
		dispatch.WithLogger(logger),
		dispatch.WithVersion(version),
		dispatch.WithModelBackend(stubBackend{}),
	)
	if err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	defer func() {
		if err := app.Close(context.Background()); err != nil {
			logger.Warn("shutdown incomplete", "error", err)
		}
	}()

	logger.Info("dispatchd serving MCP over stdio", "version", version)
	if err := app.ServeMCP(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp: %w", err)
	}
	return nil
}

// stubBackend is a placeholder model backend so the binary runs without a
// model gateway. It answers with the selected model and tool names instead
// of generated text. Replace via the library API for real deployments.
type stubBackend struct{}

func (stubBackend) Generate(_ context.Context, model string, messages []dispatch.Message, tools []dispatch.ToolSchema) (*dispatch.ModelReply, error) {
	return &dispatch.ModelReply{Text: stubText(model, messages, tools)}, nil
}

func (stubBackend) GenerateStream(_ context.Context, model string, messages []dispatch.Message, tools []dispatch.ToolSchema, emit func(string)) (*dispatch.ModelReply, error) {
	text := stubText(model, messages, tools)
	emit(text)
	return &dispatch.ModelReply{Text: text}, nil
}

func stubText(model string, messages []dispatch.Message, tools []dispatch.ToolSchema) string {
	last := ""
	if len(messages) > 0 {
		last = messages[len(messages)-1].Content
	}
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return fmt.Sprintf("[stub:%s] received %q (tools available: %s)", model, last, strings.Join(names, ", "))
}
