package coordinator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/kinderwise-ai/dispatch/internal/complexity"
	"github.com/kinderwise-ai/dispatch/internal/convo"
	"github.com/kinderwise-ai/dispatch/internal/faults"
	"github.com/kinderwise-ai/dispatch/internal/models"
	"github.com/kinderwise-ai/dispatch/internal/registry"
	"github.com/kinderwise-ai/dispatch/internal/stream"
	"github.com/kinderwise-ai/dispatch/internal/tracer"
)

// toolConcurrency bounds parallel tool executions per round.
const toolConcurrency = 4

// Ask dispatches one query and returns its terminal response. Any failure
// comes back as *faults.Error carrying the classified triple.
func (c *Coordinator) Ask(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := c.dispatch(ctx, req, nil)
	c.observe(ctx, start, err)
	return resp, err
}

// AskStream dispatches one query, streaming output into a fresh session.
// The caller reads the returned channel until it closes; cancelling ctx
// cancels the in-flight model call and closes the session, after which any
// late emit is a no-op.
func (c *Coordinator) AskStream(ctx context.Context, req Request) (string, <-chan stream.Chunk, error) {
	sessionID := c.deps.Broker.CreateSession()
	ch, err := c.deps.Broker.Subscribe(sessionID)
	if err != nil {
		return "", nil, c.classified(err, "stream", "subscribe")
	}

	go func() {
		defer c.deps.Broker.Close(sessionID)

		start := time.Now()
		emit := func(chunk stream.Chunk) { c.deps.Broker.Emit(sessionID, chunk) }
		resp, err := c.dispatch(ctx, req, emit)
		c.observe(ctx, start, err)
		if err != nil {
			rec := faults.Classify(err, "coordinator", "dispatch")
			emit(stream.Chunk{Type: stream.ChunkError, Content: rec.Message})
			return
		}
		emit(stream.Chunk{Type: stream.ChunkDone, Content: resp.Text})
	}()

	return sessionID, ch, nil
}

// dispatch runs the pipeline. When emit is non-nil the model call streams
// its deltas through it; tool results are emitted as they land.
func (c *Coordinator) dispatch(ctx context.Context, req Request, emit func(stream.Chunk)) (*Response, error) {
	if strings.TrimSpace(req.Utterance) == "" {
		return nil, c.classified(fmt.Errorf("invalid request: utterance is empty"), "coordinator", "validate")
	}
	if req.UserID == "" {
		return nil, c.classified(fmt.Errorf("invalid request: user id is empty"), "coordinator", "validate")
	}

	if err := c.checkRateLimit(ctx, req.UserID); err != nil {
		return nil, err
	}

	traceID := c.deps.Tracer.StartTrace(ctx, req.UserID)
	status := tracer.StatusError
	defer func() { c.deps.Tracer.EndTrace(traceID, status) }()

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = c.deps.Convos.StartConversation(req.UserID)
	}
	roundIndex, err := c.deps.Convos.AddRound(conversationID, req.Utterance)
	if err != nil {
		return nil, c.classified(err, "convo", "add_round")
	}

	resp, err := c.runRound(ctx, req, traceID, conversationID, roundIndex, emit)
	if err != nil {
		rec := faults.Classify(err, "coordinator", "dispatch")
		if failErr := c.deps.Convos.FailRound(conversationID, roundIndex, rec.Message); failErr != nil {
			c.deps.Logger.Warn("coordinator: failed to mark round as error",
				"conversation_id", conversationID, "round", roundIndex, "error", failErr)
		}
		return nil, err
	}

	status = tracer.StatusOK
	resp.ConversationID = conversationID
	resp.RoundIndex = roundIndex
	resp.TraceID = traceID
	return resp, nil
}

func (c *Coordinator) runRound(ctx context.Context, req Request, traceID uuid.UUID, conversationID string, roundIndex int, emit func(stream.Chunk)) (*Response, error) {
	// Complexity never fails; a malformed utterance just scores simple.
	span := c.deps.Tracer.StartSpan(traceID, "complexity", "assess")
	assessment := complexity.Assess(req.Utterance)
	c.deps.Tracer.EndSpan(traceID, span, tracer.StatusOK)

	span = c.deps.Tracer.StartSpan(traceID, "selector", "select_tools")
	selection := c.deps.Selector.SelectTools(req.Utterance, req.Role)
	c.deps.Tracer.EndSpan(traceID, span, tracer.StatusOK)

	span = c.deps.Tracer.StartSpan(traceID, "models", "select_model")
	profile := c.deps.Catalog.SelectModel(phaseFor(assessment), classifyQueryType(req.Utterance))
	c.deps.Tracer.EndSpan(traceID, span, tracer.StatusOK)

	snippets := c.retrieveMemory(ctx, traceID, req)

	history, err := c.deps.Convos.GetConversation(conversationID)
	if err != nil {
		return nil, c.classified(err, "convo", "get_conversation")
	}
	messages := c.buildMessages(req, assessment, snippets, history, roundIndex)
	toolDefs := c.selectedDefinitions(selection.Tools)

	reply, err := c.callModel(ctx, traceID, profile, messages, toolDefs, emit)
	if err != nil {
		return nil, err
	}

	results := c.executeToolCalls(ctx, traceID, reply.ToolCalls, selection.Tools, emit)

	if err := c.deps.Convos.CompleteRound(conversationID, roundIndex, reply.Text, results); err != nil {
		return nil, c.classified(err, "convo", "complete_round")
	}

	return &Response{
		Text:          reply.Text,
		ToolResults:   results,
		Assessment:    assessment,
		ModelProfile:  profile,
		Mode:          selection.Mode,
		SelectedTools: selection.Tools,
	}, nil
}

func (c *Coordinator) checkRateLimit(ctx context.Context, userID string) error {
	allowed, err := c.deps.Limiter.Allow(ctx, userID)
	if err != nil {
		// A broken limiter fails open; refusing traffic on a limiter bug
		// would turn an internal fault into a user-facing outage.
		c.deps.Logger.Warn("coordinator: rate limiter failed open", "error", err)
		return nil
	}
	if allowed {
		return nil
	}
	if c.deps.Metrics != nil {
		c.deps.Metrics.RateLimited.Add(ctx, 1)
	}
	return c.classified(fmt.Errorf("rate limit exceeded for user %s", userID), "ratelimit", "allow")
}

// retrieveMemory is best-effort: failures degrade to no context.
func (c *Coordinator) retrieveMemory(ctx context.Context, traceID uuid.UUID, req Request) []string {
	span := c.deps.Tracer.StartSpan(traceID, "memory", "retrieve_relevant")
	snippets, err := c.deps.Memory.RetrieveRelevant(ctx, req.Utterance, req.UserID)
	if err != nil {
		c.deps.Tracer.EndSpan(traceID, span, tracer.StatusError)
		rec := faults.Classify(err, "memory", "retrieve_relevant")
		c.deps.Errors.Record(rec)
		c.deps.Logger.Warn("coordinator: memory retrieval degraded to empty context",
			"category", rec.Category, "error", err)
		return nil
	}
	c.deps.Tracer.EndSpan(traceID, span, tracer.StatusOK)

	texts := make([]string, 0, len(snippets))
	for _, s := range snippets {
		texts = append(texts, s.Text)
	}
	return texts
}

func (c *Coordinator) callModel(ctx context.Context, traceID uuid.UUID, profile models.Profile, messages []Message, toolDefs []registry.Definition, emit func(stream.Chunk)) (*ModelReply, error) {
	span := c.deps.Tracer.StartSpan(traceID, "model_backend", "generate")

	var reply *ModelReply
	attempts := 0
	err := c.deps.Policy.Retry(ctx, "model_backend", "generate",
		c.cfg.MaxRetries, c.cfg.RetryBaseDelay, c.cfg.RetryMaxDelay,
		func(ctx context.Context) error {
			attempts++
			callCtx, cancel := context.WithTimeout(ctx, c.cfg.ModelTimeout)
			defer cancel()

			var err error
			if emit != nil {
				reply, err = c.deps.Backend.GenerateStream(callCtx, profile.ID, messages, toolDefs, func(delta string) {
					emit(stream.Chunk{Type: stream.ChunkDelta, Content: delta})
				})
			} else {
				reply, err = c.deps.Backend.Generate(callCtx, profile.ID, messages, toolDefs)
			}
			return err
		})

	if c.deps.Metrics != nil && attempts > 1 {
		c.deps.Metrics.ModelRetries.Add(ctx, int64(attempts-1))
	}
	if err != nil {
		c.deps.Tracer.EndSpan(traceID, span, tracer.StatusError)
		return nil, err
	}
	c.deps.Tracer.EndSpan(traceID, span, tracer.StatusOK)
	if reply == nil {
		return nil, c.classified(fmt.Errorf("internal: model backend returned no reply"), "model_backend", "generate")
	}
	return reply, nil
}

// executeToolCalls runs the model's tool calls concurrently, each in its own
// span. Calls outside the selected set are refused without execution. Tool
// failures are recorded but never auto-retried: a tool that mutates business
// data must not re-run without the caller knowing.
func (c *Coordinator) executeToolCalls(ctx context.Context, traceID uuid.UUID, calls []ToolCall, selected []string, emit func(stream.Chunk)) []registry.Result {
	if len(calls) == 0 {
		return nil
	}

	allowed := make(map[string]bool, len(selected))
	for _, name := range selected {
		allowed[name] = true
	}

	results := make([]registry.Result, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(toolConcurrency)

	for i, call := range calls {
		g.Go(func() error {
			span := c.deps.Tracer.StartSpan(traceID, "registry", "execute:"+call.Name)

			var res registry.Result
			if !allowed[call.Name] {
				res = registry.Result{
					Name:   call.Name,
					Status: registry.StatusError,
					Error:  fmt.Sprintf("tool %q is not allowed for this request", call.Name),
				}
			} else {
				res = c.deps.Registry.Execute(gctx, call.Name, call.Args)
			}
			results[i] = res

			spanStatus := tracer.StatusOK
			if res.Status == registry.StatusError {
				spanStatus = tracer.StatusError
				c.deps.Errors.Record(faults.Classify(fmt.Errorf("%s", res.Error), "registry", call.Name))
			}
			c.deps.Tracer.EndSpan(traceID, span, spanStatus)

			if c.deps.Metrics != nil {
				c.deps.Metrics.ToolExecutions.Add(gctx, 1, metric.WithAttributes(
					attribute.String("tool", call.Name),
					attribute.String("status", string(res.Status)),
				))
			}
			if emit != nil {
				emit(stream.Chunk{Type: stream.ChunkToolResult, Content: res.Name})
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// buildMessages assembles the model context: system prompt, retrieved
// memory, recent history, then the current utterance.
func (c *Coordinator) buildMessages(req Request, assessment complexity.Assessment, snippets []string, history convo.Conversation, currentRound int) []Message {
	var sys strings.Builder
	sys.WriteString("You are the assistant of a kindergarten management system. ")
	sys.WriteString(fmt.Sprintf("The caller's role is %q. ", req.Role))
	sys.WriteString(fmt.Sprintf("Task complexity: %s; suggested approach: %s.", assessment.Level, assessment.SuggestedApproach))
	if len(snippets) > 0 {
		sys.WriteString("\nRelevant context from earlier sessions:\n")
		for _, s := range snippets {
			sys.WriteString("- " + s + "\n")
		}
	}

	messages := []Message{{Role: "system", Content: sys.String()}}

	from := 0
	if currentRound > c.cfg.HistoryRounds {
		from = currentRound - c.cfg.HistoryRounds
	}
	for _, r := range history.Rounds {
		if r.Index < from || r.Index >= currentRound {
			continue
		}
		messages = append(messages, Message{Role: "user", Content: r.UserMessage})
		if r.AIResponse != "" {
			messages = append(messages, Message{Role: "assistant", Content: r.AIResponse})
		}
	}

	return append(messages, Message{Role: "user", Content: req.Utterance})
}

func (c *Coordinator) selectedDefinitions(names []string) []registry.Definition {
	defs := make([]registry.Definition, 0, len(names))
	for _, name := range names {
		if def, ok := c.deps.Registry.Get(name); ok {
			defs = append(defs, def)
		}
	}
	return defs
}

// classified records err in the error store and wraps it so the caller sees
// the category/severity/retryable triple.
func (c *Coordinator) classified(err error, serviceName, operation string) error {
	rec := faults.Classify(err, serviceName, operation)
	c.deps.Errors.Record(rec)
	return &faults.Error{Record: rec, Err: err}
}

func (c *Coordinator) observe(ctx context.Context, start time.Time, err error) {
	if c.deps.Metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.deps.Metrics.QueriesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	c.deps.Metrics.QueryDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
}

// phaseFor maps the suggested approach to the model selection phase:
// direct work is pure execution, stepped work mixes planning and execution,
// and subtask decomposition needs a dedicated planning pass.
func phaseFor(a complexity.Assessment) models.Phase {
	switch a.SuggestedApproach {
	case complexity.ApproachWorkflowSubtasks:
		return models.PhasePlanning
	case complexity.ApproachGuidedSteps, complexity.ApproachWorkflow:
		return models.PhaseMixed
	default:
		return models.PhaseExecution
	}
}

// classifyQueryType buckets the utterance for model selection. Ordered
// keyword matching over the lowercased text, first bucket wins.
var queryTypeBuckets = []struct {
	name     string
	keywords []string
}{
	{"analysis", []string{"分析", "统计", "报告", "报表", "analy", "report", "statistic"}},
	{"creation", []string{"创建", "新建", "生成", "制作", "create", "generate", "make"}},
	{"query", []string{"查询", "多少", "哪些", "人数", "query", "count", "list", "how many"}},
}

func classifyQueryType(utterance string) string {
	text := strings.ToLower(utterance)
	for _, b := range queryTypeBuckets {
		for _, kw := range b.keywords {
			if strings.Contains(text, kw) {
				return b.name
			}
		}
	}
	return "general"
}
