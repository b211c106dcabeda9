// Package config loads and validates dispatch configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all dispatch configuration.
type Config struct {
	// Routing tables. Empty paths mean the embedded defaults.
	SelectorConfigPath string // TOML tool-routing table; hot reloaded when set.
	ModelsConfigPath   string // TOML model catalog.

	// Model backend settings.
	ModelEndpoint  string        // Base URL of the model gateway.
	ModelAPIKey    string
	ModelTimeout   time.Duration // Per model call; timeouts are retryable.
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// Long-term memory settings.
	MemoryProvider      string // "qdrant" or "noop"
	QdrantHost          string
	QdrantPort          int
	QdrantAPIKey        string
	MemoryCollection    string
	OllamaURL           string // Embedding provider for memory retrieval.
	OllamaModel         string
	EmbeddingDimensions int    // Must match the embedding model's output.

	// Conversation settings.
	ConversationIdleTimeout time.Duration
	StreamBufferSize        int

	// Error store settings.
	ErrorStoreCapacity  int
	ErrorStoreRetention time.Duration

	// Rate limiting. Zero rate disables limiting.
	UserRateLimit  float64 // Sustained queries per second per user.
	UserRateBurst  int

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		SelectorConfigPath:      envStr("DISPATCH_SELECTOR_CONFIG", ""),
		ModelsConfigPath:        envStr("DISPATCH_MODELS_CONFIG", ""),
		ModelEndpoint:           envStr("DISPATCH_MODEL_ENDPOINT", "http://localhost:11434"),
		ModelAPIKey:             envStr("DISPATCH_MODEL_API_KEY", ""),
		ModelTimeout:            envDuration("DISPATCH_MODEL_TIMEOUT", 60*time.Second),
		MaxRetries:              envInt("DISPATCH_MAX_RETRIES", 3),
		RetryBaseDelay:          envDuration("DISPATCH_RETRY_BASE_DELAY", 500*time.Millisecond),
		RetryMaxDelay:           envDuration("DISPATCH_RETRY_MAX_DELAY", 10*time.Second),
		MemoryProvider:          envStr("DISPATCH_MEMORY_PROVIDER", "noop"),
		QdrantHost:              envStr("QDRANT_HOST", "localhost"),
		QdrantPort:              envInt("QDRANT_PORT", 6334),
		QdrantAPIKey:            envStr("QDRANT_API_KEY", ""),
		MemoryCollection:        envStr("DISPATCH_MEMORY_COLLECTION", "dispatch_memory"),
		OllamaURL:               envStr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:             envStr("OLLAMA_MODEL", "mxbai-embed-large"),
		EmbeddingDimensions:     envInt("DISPATCH_EMBEDDING_DIMENSIONS", 1024),
		ConversationIdleTimeout: envDuration("DISPATCH_CONVERSATION_IDLE_TIMEOUT", 30*time.Minute),
		StreamBufferSize:        envInt("DISPATCH_STREAM_BUFFER_SIZE", 64),
		ErrorStoreCapacity:      envInt("DISPATCH_ERROR_STORE_CAPACITY", 1000),
		ErrorStoreRetention:     envDuration("DISPATCH_ERROR_STORE_RETENTION", 24*time.Hour),
		UserRateLimit:           envFloat("DISPATCH_USER_RATE_LIMIT", 0),
		UserRateBurst:           envInt("DISPATCH_USER_RATE_BURST", 10),
		OTELEndpoint:            envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:             envStr("OTEL_SERVICE_NAME", "dispatch"),
		LogLevel:                envStr("DISPATCH_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and coherent.
func (c Config) Validate() error {
	if c.ModelEndpoint == "" {
		return fmt.Errorf("config: DISPATCH_MODEL_ENDPOINT is required")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config: DISPATCH_MAX_RETRIES must not be negative")
	}
	if c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("config: retry delays must satisfy 0 < base <= max")
	}
	if c.ErrorStoreCapacity <= 0 {
		return fmt.Errorf("config: DISPATCH_ERROR_STORE_CAPACITY must be positive")
	}
	if c.StreamBufferSize <= 0 {
		return fmt.Errorf("config: DISPATCH_STREAM_BUFFER_SIZE must be positive")
	}
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("config: DISPATCH_EMBEDDING_DIMENSIONS must be positive")
	}
	switch c.MemoryProvider {
	case "noop", "qdrant":
	default:
		return fmt.Errorf("config: DISPATCH_MEMORY_PROVIDER must be noop or qdrant, got %q", c.MemoryProvider)
	}
	if c.UserRateLimit < 0 {
		return fmt.Errorf("config: DISPATCH_USER_RATE_LIMIT must not be negative")
	}
	if c.UserRateLimit > 0 && c.UserRateBurst <= 0 {
		return fmt.Errorf("config: DISPATCH_USER_RATE_BURST must be positive when limiting is on")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
