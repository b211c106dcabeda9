package ratelimit

import (
	"context"
	"sync"
	"time"
)

// bucket tracks one user's remaining query allowance.
type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// MemoryLimiter is a per-user token bucket. Each user refills at a
// sustained queries-per-second rate up to a burst capacity. A background
// goroutine evicts users idle past staleThreshold to bound memory.
type MemoryLimiter struct {
	rate  float64
	burst float64

	mu      sync.Mutex
	buckets map[string]*bucket

	stopOnce sync.Once
	done     chan struct{}
}

const staleThreshold = 10 * time.Minute

// NewMemoryLimiter creates a token bucket limiter.
//   - rate: sustained queries per second per user
//   - burst: maximum burst size (bucket capacity)
//
// Call Close to stop the eviction goroutine.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	m := &MemoryLimiter{
		rate:    rate,
		burst:   float64(burst),
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// Allow consumes one token for the user. False means rate limited.
func (m *MemoryLimiter) Allow(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	b, ok := m.buckets[userID]
	if !ok {
		// First query: full bucket minus the token just spent.
		m.buckets[userID] = &bucket{tokens: m.burst - 1, lastSeen: now}
		return true, nil
	}

	b.tokens += now.Sub(b.lastSeen).Seconds() * m.rate
	if b.tokens > m.burst {
		b.tokens = m.burst
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// Close stops the eviction goroutine. Safe to call multiple times.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictStale()
		}
	}
}

func (m *MemoryLimiter) evictStale() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-staleThreshold)
	for userID, b := range m.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(m.buckets, userID)
		}
	}
}
