package faults

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"
)

// Policy wraps external calls with classification-driven retries.
// Every attempt is independently classified and recorded to the store.
type Policy struct {
	store  *Store
	logger *slog.Logger
}

// NewPolicy creates a retry policy backed by the given store.
func NewPolicy(store *Store, logger *slog.Logger) *Policy {
	return &Policy{store: store, logger: logger}
}

// Retry executes fn, retrying on retryable classified failures with
// exponential backoff: wait min(baseDelay*2^attempt, maxDelay) plus
// jitter, clamped to maxDelay, before the next attempt, up to maxRetries.
// On a
// non-retryable failure, or once retries are exhausted, the last error
// propagates wrapped in *Error so the caller sees the classified triple.
func (p *Policy) Retry(ctx context.Context, serviceName, operation string, maxRetries int, baseDelay, maxDelay time.Duration, fn func(context.Context) error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 10 * time.Second
	}

	var lastErr *Error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		rec := Classify(err, serviceName, operation)
		p.store.Record(rec)
		lastErr = &Error{Record: rec, Err: err}

		if !rec.Retryable || attempt == maxRetries {
			break
		}

		delay := retryDelay(baseDelay, maxDelay, attempt)
		p.logger.Debug("faults: retrying after failure",
			"service", serviceName,
			"operation", operation,
			"attempt", attempt+1,
			"category", rec.Category,
			"delay_ms", delay.Milliseconds(),
		)

		select {
		case <-ctx.Done():
			rec := Classify(ctx.Err(), serviceName, operation)
			p.store.Record(rec)
			return &Error{Record: rec, Err: ctx.Err()}
		case <-time.After(delay):
		}
	}
	return lastErr
}

// retryDelay adds up to 25% jitter on top of the exponential backoff,
// clamped so maxDelay stays a hard ceiling on the wait.
func retryDelay(base, max time.Duration, attempt int) time.Duration {
	delay := backoff(base, max, attempt)
	delay += time.Duration(rand.Int64N(int64(delay)/4 + 1)) //nolint:gosec // jitter doesn't need crypto-strength randomness
	if delay > max {
		delay = max
	}
	return delay
}

// backoff computes min(base*2^attempt, max) without overflowing.
func backoff(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
