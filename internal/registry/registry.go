// Package registry holds callable tool definitions and dispatches execution.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Handler is the plain-function callable shape.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Executor is the method-based callable shape. Some business tools are
// structs carrying their own state and expose Execute instead of a bare
// function.
type Executor interface {
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// Definition describes one callable tool. Exactly one of Handler or Executor
// must be set; the registry normalizes both shapes into a single invoke path
// at registration time, so callers never branch on which shape a tool uses.
type Definition struct {
	Name            string
	Description     string
	ParameterSchema map[string]any
	Category        string
	Weight          float64
	Handler         Handler
	Executor        Executor
}

// Status of one tool execution.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Result is the outcome of executing one tool. Status "error" always carries
// a non-empty Error message.
type Result struct {
	Name     string         `json:"name"`
	Status   Status         `json:"status"`
	Result   any            `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// entry is a registered tool with its callable resolved to one shape.
type entry struct {
	def    Definition
	invoke Handler
}

// Registry is the process-lifetime tool table. Registration happens at
// startup; after that the table is read-mostly and safe for concurrent reads.
type Registry struct {
	logger *slog.Logger

	mu    sync.RWMutex
	tools map[string]entry
	order []string // declaration order, for stable listings
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logger,
		tools:  make(map[string]entry),
	}
}

// Register adds a tool. Idempotent by name: registering the same name again
// replaces the previous definition (last write wins) without changing its
// declaration order.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("registry: tool name is required")
	}

	var invoke Handler
	switch {
	case def.Handler != nil && def.Executor != nil:
		return fmt.Errorf("registry: tool %q declares both handler and executor", def.Name)
	case def.Handler != nil:
		invoke = def.Handler
	case def.Executor != nil:
		invoke = def.Executor.Execute
	default:
		return fmt.Errorf("registry: tool %q has no callable", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; !exists {
		r.order = append(r.order, def.Name)
	}
	r.tools[def.Name] = entry{def: def, invoke: invoke}
	return nil
}

// RegisterAll registers a batch of tools, wrapping each registration
// individually: a failure to register one tool is logged and skipped, it
// never blocks the others. Returns the number registered.
func (r *Registry) RegisterAll(defs []Definition) int {
	registered := 0
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			r.logger.Warn("registry: skipping tool", "tool", def.Name, "error", err)
			continue
		}
		registered++
	}
	r.logger.Info("registry: tools registered", "count", registered, "total", len(defs))
	return registered
}

// Get returns the definition for name.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e.def, ok
}

// Names returns all registered tool names in declaration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Execute runs the named tool. An unknown name yields an error-status Result
// whose message classifies as not_found. A panicking tool is contained and
// reported as an error result rather than crashing the request.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) Result {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return Result{
			Name:   name,
			Status: StatusError,
			Error:  fmt.Sprintf("tool not found: %q", name),
		}
	}

	start := time.Now()
	payload, err := r.safeInvoke(ctx, e, args)
	meta := map[string]any{
		"duration_ms": time.Since(start).Milliseconds(),
		"category":    e.def.Category,
	}

	if err != nil {
		return Result{
			Name:     name,
			Status:   StatusError,
			Error:    err.Error(),
			Metadata: meta,
		}
	}
	return Result{
		Name:     name,
		Status:   StatusSuccess,
		Result:   payload,
		Metadata: meta,
	}
}

func (r *Registry) safeInvoke(ctx context.Context, e entry, args map[string]any) (payload any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("registry: tool panicked", "tool", e.def.Name, "panic", rec)
			err = fmt.Errorf("registry: internal: tool %q panicked: %v", e.def.Name, rec)
		}
	}()
	return e.invoke(ctx, args)
}
