// Package dispatch is the public API for embedding the kindergarten AI
// query dispatcher.
//
// Consumers construct an App with a model backend, then feed it queries:
//
//	app, err := dispatch.New(
//	    dispatch.WithModelBackend(myBackend),
//	    dispatch.WithLogger(logger),
//	)
//	if err != nil { ... }
//	defer app.Close(context.Background())
//
//	answer, err := app.Ask(ctx, dispatch.Query{
//	    Utterance: "查询我们班的学生人数",
//	    UserID:    "teacher-1",
//	    Role:      dispatch.RoleTeacher,
//	})
//
// The import graph enforces a strict no-cycle rule: dispatch (root) imports
// internal/*, but internal/* never imports dispatch (root). Public types
// (Answer, Trace, Conversation, etc.) are standalone structs with no
// internal imports; conversion helpers (toPublicAnswer, toPublicTrace) live
// here because this is the only file that sees both sides of the boundary.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/kinderwise-ai/dispatch/internal/complexity"
	"github.com/kinderwise-ai/dispatch/internal/config"
	"github.com/kinderwise-ai/dispatch/internal/convo"
	"github.com/kinderwise-ai/dispatch/internal/coordinator"
	"github.com/kinderwise-ai/dispatch/internal/faults"
	"github.com/kinderwise-ai/dispatch/internal/mcp"
	"github.com/kinderwise-ai/dispatch/internal/memory"
	"github.com/kinderwise-ai/dispatch/internal/models"
	"github.com/kinderwise-ai/dispatch/internal/ratelimit"
	"github.com/kinderwise-ai/dispatch/internal/registry"
	"github.com/kinderwise-ai/dispatch/internal/selector"
	"github.com/kinderwise-ai/dispatch/internal/stream"
	"github.com/kinderwise-ai/dispatch/internal/telemetry"
	"github.com/kinderwise-ai/dispatch/internal/tracer"
)

const closedTraceCapacity = 256

// App is the dispatcher lifecycle. Construct with New(), tear down with
// Close(). App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	coord        *coordinator.Coordinator
	reg          *registry.Registry
	sel          *selector.Selector
	convos       *convo.Store
	broker       *stream.Broker
	errs         *faults.Store
	trc          *tracer.Tracer
	limiter      ratelimit.Limiter
	mem          memory.Store
	mcpSrv       *mcp.Server
	otelShutdown telemetry.Shutdown
	watchCancel  context.CancelFunc
	logger       *slog.Logger
	version      string
}

// New wires the full dispatch pipeline and returns a ready App. The only
// goroutines it starts are the component sweepers and, when a selector
// config file is set, the reload watcher.
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	if o.backend == nil {
		return nil, fmt.Errorf("dispatch: model backend is required (use WithModelBackend)")
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.selectorPath != "" {
		cfg.SelectorConfigPath = o.selectorPath
	}
	if o.modelsPath != "" {
		cfg.ModelsConfigPath = o.modelsPath
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("dispatch starting", "version", version)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, true)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	metrics, err := telemetry.NewPipelineMetrics()
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Tool registry: built-ins plus caller-supplied tools.
	reg := registry.New(logger)
	reg.RegisterAll(registry.Builtin())
	for _, t := range o.extraTools {
		if err := reg.Register(toDefinition(t)); err != nil {
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("tool %q: %w", t.Name, err)
		}
	}

	sel, err := selector.New(cfg.SelectorConfigPath, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("selector: %w", err)
	}
	var watchCancel context.CancelFunc = func() {}
	if cfg.SelectorConfigPath != "" {
		watchCtx, cancel := context.WithCancel(context.Background())
		watchCancel = cancel
		if err := sel.Watch(watchCtx); err != nil {
			logger.Warn("selector: config watch unavailable, reload disabled", "error", err)
		}
	}

	catalog, err := models.LoadCatalog(cfg.ModelsConfigPath)
	if err != nil {
		watchCancel()
		_ = sel.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("models: %w", err)
	}

	convos := convo.NewStore(logger, convo.WithIdleTimeout(cfg.ConversationIdleTimeout))
	broker := stream.NewBroker(logger, stream.WithBufferSize(cfg.StreamBufferSize))
	errStore := faults.NewStore(cfg.ErrorStoreCapacity, cfg.ErrorStoreRetention, logger)
	policy := faults.NewPolicy(errStore, logger)
	trc := tracer.New(closedTraceCapacity, logger)

	var limiter ratelimit.Limiter
	if o.disableRateLimit || cfg.UserRateLimit <= 0 {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	} else {
		limiter = ratelimit.NewMemoryLimiter(cfg.UserRateLimit, cfg.UserRateBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rate", cfg.UserRateLimit, "burst", cfg.UserRateBurst)
	}

	// Memory store — external override takes priority over config.
	var mem memory.Store
	if o.memoryStore != nil {
		mem = &memoryAdapter{s: o.memoryStore}
	} else {
		mem = newMemoryStore(cfg, logger)
	}

	coord, err := coordinator.New(coordinator.Config{
		MaxRetries:     cfg.MaxRetries,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		ModelTimeout:   cfg.ModelTimeout,
	}, coordinator.Deps{
		Logger:   logger,
		Registry: reg,
		Selector: sel,
		Catalog:  catalog,
		Convos:   convos,
		Broker:   broker,
		Errors:   errStore,
		Policy:   policy,
		Tracer:   trc,
		Limiter:  limiter,
		Memory:   mem,
		Backend:  &backendAdapter{b: o.backend},
		Metrics:  metrics,
	})
	if err != nil {
		watchCancel()
		_ = sel.Close()
		convos.Close()
		broker.Shutdown()
		_ = errStore.Close()
		_ = mem.Close()
		_ = otelShutdown(context.Background())
		return nil, err
	}

	mcpSrv := mcp.New(mcp.Deps{
		Coordinator: coord,
		Selector:    sel,
		Errors:      errStore,
		Registry:    reg,
		Logger:      logger,
		Version:     version,
	})

	return &App{
		cfg:          cfg,
		coord:        coord,
		reg:          reg,
		sel:          sel,
		convos:       convos,
		broker:       broker,
		errs:         errStore,
		trc:          trc,
		limiter:      limiter,
		mem:          mem,
		mcpSrv:       mcpSrv,
		otelShutdown: otelShutdown,
		watchCancel:  watchCancel,
		logger:       logger,
		version:      version,
	}, nil
}

// Ask dispatches one query and blocks until its round completes.
func (a *App) Ask(ctx context.Context, q Query) (*Answer, error) {
	resp, err := a.coord.Ask(ctx, coordinator.Request{
		Utterance:      q.Utterance,
		UserID:         q.UserID,
		Role:           string(q.Role),
		ConversationID: q.ConversationID,
	})
	if err != nil {
		return nil, err
	}
	answer := toPublicAnswer(resp)
	return &answer, nil
}

// AskStream dispatches one query and returns the streaming session id plus
// a channel of chunks. The channel is closed after the terminal done or
// error chunk. Cancelling ctx aborts the query; the session is closed
// either way.
func (a *App) AskStream(ctx context.Context, q Query) (string, <-chan StreamChunk, error) {
	sessionID, inner, err := a.coord.AskStream(ctx, coordinator.Request{
		Utterance:      q.Utterance,
		UserID:         q.UserID,
		Role:           string(q.Role),
		ConversationID: q.ConversationID,
	})
	if err != nil {
		return "", nil, err
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		for chunk := range inner {
			select {
			case out <- StreamChunk{Type: ChunkType(chunk.Type), Content: chunk.Content}:
			case <-ctx.Done():
				// Caller gave up on the stream; stop forwarding so the
				// goroutine does not outlive the session.
				return
			}
		}
	}()
	return sessionID, out, nil
}

// AssessComplexity scores one utterance without dispatching it.
func (a *App) AssessComplexity(utterance string) Complexity {
	return toPublicComplexity(complexity.Assess(utterance))
}

// PreviewTools reports which tools the routing table would select for an
// utterance and role, without dispatching anything.
func (a *App) PreviewTools(utterance string, role Role) (tools []string, mode string) {
	sel := a.sel.SelectTools(utterance, string(role))
	return sel.Tools, string(sel.Mode)
}

// Tools returns all registered tool names in declaration order.
func (a *App) Tools() []string { return a.reg.Names() }

// ErrorReport renders a human-readable summary of retained fault records.
func (a *App) ErrorReport() string { return a.errs.Report() }

// ErrorStats returns aggregate fault counts by category and severity.
func (a *App) ErrorStats() ErrorStats {
	stats := a.errs.Stats()
	out := ErrorStats{
		Total:      stats.Total,
		ByCategory: make(map[string]int, len(stats.ByCategory)),
		BySeverity: make(map[string]int, len(stats.BySeverity)),
	}
	for cat, n := range stats.ByCategory {
		out.ByCategory[string(cat)] = n
	}
	for sev, n := range stats.BySeverity {
		out.BySeverity[string(sev)] = n
	}
	return out
}

// GetTrace returns the recorded trace for one request.
func (a *App) GetTrace(id uuid.UUID) (Trace, error) {
	t, err := a.trc.GetTrace(id)
	if err != nil {
		return Trace{}, err
	}
	return toPublicTrace(t), nil
}

// GetConversation returns a detached snapshot of one conversation.
func (a *App) GetConversation(id string) (Conversation, error) {
	conv, err := a.convos.GetConversation(id)
	if err != nil {
		return Conversation{}, err
	}
	return toPublicConversation(conv), nil
}

// EndConversation removes a conversation and its history.
func (a *App) EndConversation(id string) {
	a.convos.EndConversation(id)
}

// ServeMCP serves the dispatcher's MCP surface over stdio until ctx is
// cancelled. Blocks; run it from the caller's main goroutine or its own.
func (a *App) ServeMCP(ctx context.Context) error {
	return a.mcpSrv.ServeStdio(ctx)
}

// Close tears the App down: stops the config watcher and sweepers, closes
// all streaming sessions, and flushes the OTel providers.
func (a *App) Close(ctx context.Context) error {
	a.logger.Info("dispatch shutting down")

	a.watchCancel()
	_ = a.sel.Close()
	a.broker.Shutdown()
	a.convos.Close()
	_ = a.errs.Close()
	_ = a.limiter.Close()
	if err := a.mem.Close(); err != nil {
		a.logger.Warn("memory store close failed", "error", err)
	}
	err := a.otelShutdown(ctx)

	a.logger.Info("dispatch stopped")
	return err
}

// ErrorCategory extracts the fault category from an error returned by Ask
// or AskStream. Returns "" when the error carries no category.
func ErrorCategory(err error) string {
	var fe *faults.Error
	if errors.As(err, &fe) {
		return string(fe.Record.Category)
	}
	return ""
}

// ── Memory store selection (config-driven) ──────

func newMemoryStore(cfg config.Config, logger *slog.Logger) memory.Store {
	switch cfg.MemoryProvider {
	case "qdrant":
		embedder := memory.NewOllamaEmbedder(cfg.OllamaURL, cfg.OllamaModel, cfg.EmbeddingDimensions)
		store, err := memory.NewQdrantStore(memory.QdrantConfig{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.MemoryCollection,
		}, embedder, logger)
		if err != nil {
			logger.Error("memory: qdrant init failed, falling back to noop", "error", err)
			return memory.NoopStore{}
		}
		if err := store.EnsureCollection(context.Background()); err != nil {
			logger.Warn("memory: qdrant unreachable, falling back to noop", "error", err)
			_ = store.Close()
			return memory.NoopStore{}
		}
		logger.Info("memory: qdrant", "collection", cfg.MemoryCollection, "dimensions", cfg.EmbeddingDimensions)
		return store
	default:
		logger.Info("memory: noop (long-term memory disabled)")
		return memory.NoopStore{}
	}
}

// ── Adapters (defined here because this file imports both sides) ───────────────

// backendAdapter wraps a public ModelBackend to satisfy coordinator.ModelBackend.
type backendAdapter struct {
	b ModelBackend
}

func (a *backendAdapter) Generate(ctx context.Context, profileID string, messages []coordinator.Message, tools []registry.Definition) (*coordinator.ModelReply, error) {
	reply, err := a.b.Generate(ctx, profileID, toPublicMessages(messages), toSchemas(tools))
	if err != nil {
		return nil, err
	}
	return toInternalReply(reply), nil
}

func (a *backendAdapter) GenerateStream(ctx context.Context, profileID string, messages []coordinator.Message, tools []registry.Definition, emit func(string)) (*coordinator.ModelReply, error) {
	reply, err := a.b.GenerateStream(ctx, profileID, toPublicMessages(messages), toSchemas(tools), emit)
	if err != nil {
		return nil, err
	}
	return toInternalReply(reply), nil
}

// memoryAdapter wraps a public MemoryStore to satisfy memory.Store.
type memoryAdapter struct {
	s MemoryStore
}

func (a *memoryAdapter) RetrieveRelevant(ctx context.Context, query, userID string) ([]memory.Snippet, error) {
	snippets, err := a.s.RetrieveRelevant(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	out := make([]memory.Snippet, len(snippets))
	for i, s := range snippets {
		out[i] = memory.Snippet{Text: s.Text, Score: s.Score}
	}
	return out, nil
}

func (a *memoryAdapter) Remember(ctx context.Context, userID, text string) error {
	return a.s.Remember(ctx, userID, text)
}

func (a *memoryAdapter) Close() error { return a.s.Close() }

// ── Type converters ────────────────────────────────────────────────────────────

func toDefinition(t Tool) registry.Definition {
	return registry.Definition{
		Name:            t.Name,
		Description:     t.Description,
		ParameterSchema: t.Parameters,
		Category:        t.Category,
		Handler:         registry.Handler(t.Handler),
	}
}

func toPublicMessages(in []coordinator.Message) []Message {
	out := make([]Message, len(in))
	for i, m := range in {
		out[i] = Message{Role: m.Role, Content: m.Content}
	}
	return out
}

func toSchemas(defs []registry.Definition) []ToolSchema {
	out := make([]ToolSchema, len(defs))
	for i, d := range defs {
		out[i] = ToolSchema{Name: d.Name, Description: d.Description, Parameters: d.ParameterSchema}
	}
	return out
}

func toInternalReply(r *ModelReply) *coordinator.ModelReply {
	if r == nil {
		return nil
	}
	reply := &coordinator.ModelReply{Text: r.Text}
	for _, call := range r.ToolCalls {
		reply.ToolCalls = append(reply.ToolCalls, coordinator.ToolCall{Name: call.Name, Args: call.Args})
	}
	return reply
}

func toPublicAnswer(resp *coordinator.Response) Answer {
	return Answer{
		ConversationID: resp.ConversationID,
		Round:          resp.RoundIndex,
		Text:           resp.Text,
		Model:          resp.ModelProfile.ID,
		Mode:           string(resp.Mode),
		SelectedTools:  resp.SelectedTools,
		ToolResults:    toPublicResults(resp.ToolResults),
		Complexity:     toPublicComplexity(resp.Assessment),
		TraceID:        resp.TraceID,
	}
}

func toPublicComplexity(a complexity.Assessment) Complexity {
	return Complexity{
		Score:              a.Score,
		Level:              string(a.Level),
		EstimatedSteps:     a.EstimatedSteps,
		EstimatedTime:      a.EstimatedTime,
		SuggestedApproach:  string(a.SuggestedApproach),
		NeedsDecomposition: a.NeedsDecomposition,
		Recommendations:    a.Recommendations,
	}
}

func toPublicResults(in []registry.Result) []ToolResult {
	if len(in) == 0 {
		return nil
	}
	out := make([]ToolResult, len(in))
	for i, r := range in {
		out[i] = ToolResult{Name: r.Name, Status: string(r.Status), Result: r.Result, Error: r.Error}
	}
	return out
}

func toPublicTrace(t tracer.Trace) Trace {
	spans := make([]Span, len(t.Spans))
	for i, s := range t.Spans {
		spans[i] = Span{
			ServiceName: s.ServiceName,
			Operation:   s.Operation,
			StartedAt:   s.StartedAt,
			EndedAt:     s.EndedAt,
			Status:      string(s.Status),
		}
	}
	return Trace{
		ID:        t.ID,
		UserID:    t.UserID,
		Spans:     spans,
		Status:    string(t.Status),
		StartedAt: t.StartedAt,
		EndedAt:   t.EndedAt,
	}
}

func toPublicConversation(c convo.Conversation) Conversation {
	rounds := make([]Round, len(c.Rounds))
	for i, r := range c.Rounds {
		rounds[i] = Round{
			Index:       r.Index,
			UserMessage: r.UserMessage,
			AIResponse:  r.AIResponse,
			ToolResults: toPublicResults(r.ToolResults),
			Status:      string(r.Status),
			Error:       r.Error,
			Timestamp:   r.Timestamp,
		}
	}
	return Conversation{
		ID:         c.ID,
		UserID:     c.UserID,
		Rounds:     rounds,
		CreatedAt:  c.CreatedAt,
		LastActive: c.LastActive,
	}
}
