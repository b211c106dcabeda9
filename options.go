package dispatch

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	logger           *slog.Logger
	version          string
	backend          ModelBackend
	memoryStore      MemoryStore
	selectorPath     string
	modelsPath       string
	extraTools       []Tool
	disableRateLimit bool
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs and the MCP surface.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithModelBackend sets the model backend. Required.
func WithModelBackend(b ModelBackend) Option {
	return func(o *resolvedOptions) { o.backend = b }
}

// WithMemoryStore replaces the config-selected long-term memory store
// (Qdrant or noop). Only the last call wins.
func WithMemoryStore(s MemoryStore) Option {
	return func(o *resolvedOptions) { o.memoryStore = s }
}

// WithSelectorConfig overrides the tool-routing table path from config
// (DISPATCH_SELECTOR_CONFIG env var). The file is hot reloaded on change.
func WithSelectorConfig(path string) Option {
	return func(o *resolvedOptions) { o.selectorPath = path }
}

// WithModelsConfig overrides the model catalog path from config
// (DISPATCH_MODELS_CONFIG env var).
func WithModelsConfig(path string) Option {
	return func(o *resolvedOptions) { o.modelsPath = path }
}

// WithTool registers an additional tool alongside the built-in set.
// Multiple tools may be registered; selection still requires the tool to
// appear in a routing-table group, so pair custom tools with
// WithSelectorConfig.
func WithTool(t Tool) Option {
	return func(o *resolvedOptions) { o.extraTools = append(o.extraTools, t) }
}

// WithoutRateLimiting disables per-user rate limiting regardless of config.
func WithoutRateLimiting() Option {
	return func(o *resolvedOptions) { o.disableRateLimit = true }
}
