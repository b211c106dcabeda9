// Package tracer records nested timing spans per request in memory and
// mirrors them onto the global OpenTelemetry tracer.
package tracer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Status marks how a trace or span ended.
type Status string

const (
	StatusOK      Status = "ok"
	StatusError   Status = "error"
	StatusPending Status = "pending"
)

// Span is one timed, named sub-operation inside a Trace.
// EndedAt is set exactly once; it is always >= StartedAt.
type Span struct {
	ID          uuid.UUID  `json:"id"`
	TraceID     uuid.UUID  `json:"trace_id"`
	ServiceName string     `json:"service_name"`
	Operation   string     `json:"operation"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Status      Status     `json:"status"`
}

// Trace is one request's span collection, created at request entry and
// closed at request exit.
type Trace struct {
	ID        uuid.UUID  `json:"id"`
	UserID    string     `json:"user_id"`
	Spans     []Span     `json:"spans"`
	Status    Status     `json:"status"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Closed reports whether the trace has ended.
func (t Trace) Closed() bool { return t.EndedAt != nil }

var ErrTraceNotFound = errors.New("tracer: trace not found")

// activeTrace is the mutable per-trace state. otelCtx carries the root otel
// span so child spans nest under it.
type activeTrace struct {
	trace     Trace
	otelCtx   context.Context
	otelRoot  oteltrace.Span
	otelSpans map[uuid.UUID]oteltrace.Span
}

// Tracer holds active and recently closed traces. Closed traces are kept in
// a bounded ring (oldest evicted) so callers can inspect recent requests.
type Tracer struct {
	logger   *slog.Logger
	capacity int
	otel     oteltrace.Tracer

	mu     sync.Mutex
	active map[uuid.UUID]*activeTrace
	closed []uuid.UUID // eviction order for closed traces still in traces
	traces map[uuid.UUID]Trace
}

// New creates a tracer keeping up to capacity closed traces.
func New(capacity int, logger *slog.Logger) *Tracer {
	if capacity <= 0 {
		capacity = 256
	}
	return &Tracer{
		logger:   logger,
		capacity: capacity,
		otel:     otel.Tracer("dispatch/tracer"),
		active:   make(map[uuid.UUID]*activeTrace),
		traces:   make(map[uuid.UUID]Trace),
	}
}

// StartTrace opens a new trace for one request.
func (t *Tracer) StartTrace(ctx context.Context, userID string) uuid.UUID {
	id := uuid.New()
	now := time.Now().UTC()

	otelCtx, root := t.otel.Start(ctx, "dispatch.request",
		oteltrace.WithAttributes(attribute.String("dispatch.user_id", userID)))

	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[id] = &activeTrace{
		trace: Trace{
			ID:        id,
			UserID:    userID,
			Status:    StatusPending,
			StartedAt: now,
		},
		otelCtx:   otelCtx,
		otelRoot:  root,
		otelSpans: make(map[uuid.UUID]oteltrace.Span),
	}
	return id
}

// StartSpan opens a span inside an active trace. Returns uuid.Nil if the
// trace is unknown or already closed; callers treat that as a no-op handle.
func (t *Tracer) StartSpan(traceID uuid.UUID, serviceName, operation string) uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()

	at, ok := t.active[traceID]
	if !ok {
		return uuid.Nil
	}

	id := uuid.New()
	_, span := t.otel.Start(at.otelCtx, serviceName+"."+operation)
	at.otelSpans[id] = span
	at.trace.Spans = append(at.trace.Spans, Span{
		ID:          id,
		TraceID:     traceID,
		ServiceName: serviceName,
		Operation:   operation,
		StartedAt:   time.Now().UTC(),
		Status:      StatusPending,
	})
	return id
}

// EndSpan closes a span. Calling it for a closed trace, an unknown span, or
// a span that already ended is a no-op: spans end exactly once, and never
// after their parent trace.
func (t *Tracer) EndSpan(traceID, spanID uuid.UUID, status Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	at, ok := t.active[traceID]
	if !ok {
		return
	}
	for i := range at.trace.Spans {
		s := &at.trace.Spans[i]
		if s.ID != spanID || s.EndedAt != nil {
			continue
		}
		now := time.Now().UTC()
		if now.Before(s.StartedAt) {
			now = s.StartedAt
		}
		s.EndedAt = &now
		s.Status = status
		if otelSpan, ok := at.otelSpans[spanID]; ok {
			if status == StatusError {
				otelSpan.SetStatus(codes.Error, "span failed")
			}
			otelSpan.End()
			delete(at.otelSpans, spanID)
		}
		return
	}
}

// EndTrace closes the trace, force-closing any spans left open so every
// span ends no later than its parent trace. The closed trace moves to the
// bounded history ring.
func (t *Tracer) EndTrace(traceID uuid.UUID, status Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	at, ok := t.active[traceID]
	if !ok {
		return
	}

	now := time.Now().UTC()
	for i := range at.trace.Spans {
		s := &at.trace.Spans[i]
		if s.EndedAt == nil {
			end := now
			s.EndedAt = &end
			s.Status = status
			t.logger.Debug("tracer: span force-closed with trace",
				"trace_id", traceID, "operation", s.Operation)
		}
	}
	for id, span := range at.otelSpans {
		span.End()
		delete(at.otelSpans, id)
	}
	if status == StatusError {
		at.otelRoot.SetStatus(codes.Error, "request failed")
	}
	at.otelRoot.End()

	at.trace.EndedAt = &now
	at.trace.Status = status
	t.traces[traceID] = at.trace
	t.closed = append(t.closed, traceID)
	delete(t.active, traceID)

	if len(t.closed) > t.capacity {
		evict := t.closed[0]
		t.closed = t.closed[1:]
		delete(t.traces, evict)
	}
}

// GetTrace returns a snapshot of an active or recently closed trace.
func (t *Tracer) GetTrace(traceID uuid.UUID) (Trace, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if at, ok := t.active[traceID]; ok {
		return snapshot(at.trace), nil
	}
	if tr, ok := t.traces[traceID]; ok {
		return snapshot(tr), nil
	}
	return Trace{}, ErrTraceNotFound
}

// ActiveCount returns the number of currently open traces.
func (t *Tracer) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

func snapshot(tr Trace) Trace {
	out := tr
	out.Spans = make([]Span, len(tr.Spans))
	copy(out.Spans, tr.Spans)
	return out
}
