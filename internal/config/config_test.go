package config

import (
	"testing"
	"time"
)

func TestEnvStrFallback(t *testing.T) {
	t.Setenv("TEST_STR", "set")
	if v := envStr("TEST_STR", "default"); v != "set" {
		t.Fatalf("expected 'set', got %q", v)
	}
	if v := envStr("TEST_STR_MISSING", "default"); v != "default" {
		t.Fatalf("expected fallback 'default', got %q", v)
	}
}

func TestEnvIntParsing(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	if v := envInt("TEST_INT", 0); v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
	t.Setenv("TEST_INT_BAD", "abc")
	if v := envInt("TEST_INT_BAD", 7); v != 7 {
		t.Fatalf("expected fallback 7 for unparseable value, got %d", v)
	}
}

func TestEnvFloatParsing(t *testing.T) {
	t.Setenv("TEST_FLOAT", "2.5")
	if v := envFloat("TEST_FLOAT", 0); v != 2.5 {
		t.Fatalf("expected 2.5, got %f", v)
	}
	if v := envFloat("TEST_FLOAT_MISSING", 1.5); v != 1.5 {
		t.Fatalf("expected fallback 1.5, got %f", v)
	}
}

func TestEnvDurationParsing(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	if v := envDuration("TEST_DUR", 0); v != 5*time.Second {
		t.Fatalf("expected 5s, got %s", v)
	}
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	if v := envDuration("TEST_DUR_BAD", time.Minute); v != time.Minute {
		t.Fatalf("expected fallback 1m for unparseable value, got %s", v)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.MaxRetries != 3 {
		t.Fatalf("expected default max retries 3, got %d", cfg.MaxRetries)
	}
	if cfg.MemoryProvider != "noop" {
		t.Fatalf("expected default memory provider noop, got %q", cfg.MemoryProvider)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"empty model endpoint":  func(c *Config) { c.ModelEndpoint = "" },
		"negative retries":      func(c *Config) { c.MaxRetries = -1 },
		"inverted retry delays": func(c *Config) { c.RetryBaseDelay = time.Second; c.RetryMaxDelay = time.Millisecond },
		"zero error capacity":   func(c *Config) { c.ErrorStoreCapacity = 0 },
		"zero stream buffer":    func(c *Config) { c.StreamBufferSize = 0 },
		"bad memory provider":   func(c *Config) { c.MemoryProvider = "redis" },
		"negative rate limit":   func(c *Config) { c.UserRateLimit = -1 },
		"limit without burst":   func(c *Config) { c.UserRateLimit = 5; c.UserRateBurst = 0 },
	}

	for name, mutate := range cases {
		cfg, err := Load()
		if err != nil {
			t.Fatalf("%s: baseline Load failed: %v", name, err)
		}
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected Validate to fail", name)
		}
	}
}

func TestLoadHonorsOverrides(t *testing.T) {
	t.Setenv("DISPATCH_MODEL_TIMEOUT", "90s")
	t.Setenv("DISPATCH_USER_RATE_LIMIT", "2.5")
	t.Setenv("DISPATCH_MEMORY_PROVIDER", "qdrant")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ModelTimeout != 90*time.Second {
		t.Fatalf("expected 90s model timeout, got %s", cfg.ModelTimeout)
	}
	if cfg.UserRateLimit != 2.5 {
		t.Fatalf("expected rate limit 2.5, got %f", cfg.UserRateLimit)
	}
	if cfg.MemoryProvider != "qdrant" {
		t.Fatalf("expected qdrant provider, got %q", cfg.MemoryProvider)
	}
}
