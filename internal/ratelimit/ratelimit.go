// Package ratelimit bounds how fast one user may push queries through the
// dispatch pipeline. The Limiter interface is the contract; the shipped
// implementation is an in-process token bucket, since all dispatch state is
// process-local by design.
package ratelimit

import "context"

// Limiter decides whether a query attributed to userID should proceed.
// Implementations must be safe for concurrent use. An error signals a
// limiter malfunction; callers treat errors as fail-open rather than
// refusing traffic.
type Limiter interface {
	Allow(ctx context.Context, userID string) (bool, error)

	// Close releases resources (cleanup goroutines).
	Close() error
}

// NoopLimiter permits every query. Used when limiting is disabled.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
