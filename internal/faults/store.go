package faults

import (
	"log/slog"
	"sync"
	"time"
)

// Store is a bounded, time-windowed in-memory buffer of fault records.
// Oldest records are evicted when the buffer is full; a background sweep
// drops records older than the retention window. Call Close to stop the sweep.
type Store struct {
	logger    *slog.Logger
	capacity  int
	retention time.Duration

	mu      sync.Mutex
	records []Record

	stopOnce sync.Once
	done     chan struct{}
}

const (
	defaultCapacity  = 1000
	defaultRetention = 24 * time.Hour
	sweepInterval    = 1 * time.Minute
)

// NewStore creates a fault store. capacity <= 0 and retention <= 0 fall back
// to defaults. A background goroutine sweeps expired records; call Close to
// stop it.
func NewStore(capacity int, retention time.Duration, logger *slog.Logger) *Store {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	s := &Store{
		logger:    logger,
		capacity:  capacity,
		retention: retention,
		done:      make(chan struct{}),
	}
	go s.sweep()
	return s
}

// Record appends a classified failure, evicting the oldest record when the
// buffer is at capacity.
func (s *Store) Record(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.records) >= s.capacity {
		drop := len(s.records) - s.capacity + 1
		s.records = append(s.records[:0], s.records[drop:]...)
	}
	s.records = append(s.records, rec)

	if rec.Severity == SeverityCritical {
		s.logger.Error("faults: critical failure recorded",
			"category", rec.Category,
			"service", rec.ServiceName,
			"operation", rec.Operation,
			"recovery", rec.RecoveryStrategy,
		)
	}
}

// Len returns the current number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Stats aggregates record counts per category and per severity.
type Stats struct {
	Total      int              `json:"total"`
	ByCategory map[Category]int `json:"by_category"`
	BySeverity map[Severity]int `json:"by_severity"`
}

// Stats returns aggregate counts over the currently retained records.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Total:      len(s.records),
		ByCategory: make(map[Category]int),
		BySeverity: make(map[Severity]int),
	}
	for _, rec := range s.records {
		st.ByCategory[rec.Category]++
		st.BySeverity[rec.Severity]++
	}
	return st
}

// RecentCritical returns up to limit critical-severity records, newest first.
func (s *Store) RecentCritical(limit int) []Record {
	if limit <= 0 {
		limit = 10
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, limit)
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		if s.records[i].Severity == SeverityCritical {
			out = append(out, s.records[i])
		}
	}
	return out
}

// Close stops the sweep goroutine. Safe to call multiple times.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.done) })
	return nil
}

func (s *Store) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.expire(time.Now().Add(-s.retention))
		}
	}
}

// expire drops records older than cutoff. Records are appended in time order,
// so the retained suffix starts at the first record past the cutoff.
func (s *Store) expire(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keep := 0
	for keep < len(s.records) && s.records[keep].Timestamp.Before(cutoff) {
		keep++
	}
	if keep > 0 {
		s.records = append(s.records[:0], s.records[keep:]...)
	}
}
