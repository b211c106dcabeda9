package faults

import (
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStore_CapacityEviction(t *testing.T) {
	store := NewStore(5, time.Hour, slog.Default())
	defer func() { _ = store.Close() }()

	for i := 0; i < 8; i++ {
		store.Record(Classify(fmt.Errorf("connection refused #%d", i), "svc", "op"))
	}

	assert.Equal(t, 5, store.Len(), "store must never exceed its capacity")
}

func TestStore_Stats(t *testing.T) {
	store := NewStore(100, time.Hour, slog.Default())
	defer func() { _ = store.Close() }()

	store.Record(Classify(errors.New("connection refused"), "a", "op"))
	store.Record(Classify(errors.New("connection reset"), "a", "op"))
	store.Record(Classify(errors.New("request timed out"), "b", "op"))
	store.Record(Classify(errors.New("internal server error"), "c", "op"))

	stats := store.Stats()
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.ByCategory[CategoryNetwork])
	assert.Equal(t, 1, stats.ByCategory[CategoryTimeout])
	assert.Equal(t, 1, stats.ByCategory[CategoryInternal])
	assert.Equal(t, 2, stats.BySeverity[SeverityHigh])
	assert.Equal(t, 1, stats.BySeverity[SeverityCritical])
}

func TestStore_RecentCritical(t *testing.T) {
	store := NewStore(100, time.Hour, slog.Default())
	defer func() { _ = store.Close() }()

	store.Record(Classify(errors.New("panic: first"), "a", "op"))
	store.Record(Classify(errors.New("connection refused"), "a", "op"))
	store.Record(Classify(errors.New("panic: second"), "b", "op"))

	criticals := store.RecentCritical(10)
	assert.Len(t, criticals, 2)
	// Newest first.
	assert.Contains(t, criticals[0].Message, "second")
	assert.Contains(t, criticals[1].Message, "first")
}

func TestStore_Expire(t *testing.T) {
	store := NewStore(100, time.Hour, slog.Default())
	defer func() { _ = store.Close() }()

	old := Classify(errors.New("connection refused"), "a", "op")
	old.Timestamp = time.Now().Add(-2 * time.Hour)
	store.Record(old)
	store.Record(Classify(errors.New("request timed out"), "b", "op"))

	store.expire(time.Now().Add(-time.Hour))
	assert.Equal(t, 1, store.Len(), "records older than the retention window are purged")
	assert.Equal(t, 1, store.Stats().ByCategory[CategoryTimeout])
}

func TestStore_Report(t *testing.T) {
	store := NewStore(100, time.Hour, slog.Default())
	defer func() { _ = store.Close() }()

	store.Record(Classify(errors.New("connection refused"), "model-backend", "generate"))
	store.Record(Classify(errors.New("panic: boom"), "coordinator", "handle"))

	report := store.Report()
	assert.Contains(t, report, "Total records: 2")
	assert.Contains(t, report, "network")
	assert.Contains(t, report, "critical")
	assert.Contains(t, report, "coordinator/handle: panic: boom")
}

func TestStore_Defaults(t *testing.T) {
	store := NewStore(0, 0, slog.Default())
	defer func() { _ = store.Close() }()

	assert.Equal(t, defaultCapacity, store.capacity)
	assert.Equal(t, defaultRetention, store.retention)
}
