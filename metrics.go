package idfreelist

import (
	"sync/atomic"
	"time"
)

// MetricsCollector receives operational metrics.
// Implement it to integrate with a monitoring system; package prommetrics
// provides a Prometheus implementation.
type MetricsCollector interface {
	// RecordAssign is called after each AssignID. fresh is false when the key
	// was already bound. err is nil on success.
	RecordAssign(duration time.Duration, fresh bool, err error)

	// RecordRelease is called after each ReleaseID.
	RecordRelease(found bool)

	// RecordGrow is called after each capacity growth.
	RecordGrow(oldCapacity, newCapacity int)

	// RecordRecovery is called after FinishRecovery with the number of
	// bindings restored and the time since StartRecovery.
	RecordRecovery(bindings int, duration time.Duration)

	// RecordCheckpoint is called after each Registry checkpoint.
	RecordCheckpoint(duration time.Duration, err error)
}

// NoopMetricsCollector discards all metrics.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAssign(time.Duration, bool, error) {}
func (NoopMetricsCollector) RecordRelease(bool)                      {}
func (NoopMetricsCollector) RecordGrow(int, int)                     {}
func (NoopMetricsCollector) RecordRecovery(int, time.Duration)       {}
func (NoopMetricsCollector) RecordCheckpoint(time.Duration, error)   {}

// BasicMetricsCollector keeps simple in-memory counters.
type BasicMetricsCollector struct {
	AssignCount      atomic.Int64
	AssignFresh      atomic.Int64
	AssignErrors     atomic.Int64
	AssignTotalNanos atomic.Int64
	ReleaseCount     atomic.Int64
	ReleaseMisses    atomic.Int64
	GrowCount        atomic.Int64
	Capacity         atomic.Int64
	RecoveryCount    atomic.Int64
	RecoveredTotal   atomic.Int64
	CheckpointCount  atomic.Int64
	CheckpointErrors atomic.Int64
}

// RecordAssign implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAssign(duration time.Duration, fresh bool, err error) {
	b.AssignCount.Add(1)
	b.AssignTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.AssignErrors.Add(1)
		return
	}
	if fresh {
		b.AssignFresh.Add(1)
	}
}

// RecordRelease implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRelease(found bool) {
	b.ReleaseCount.Add(1)
	if !found {
		b.ReleaseMisses.Add(1)
	}
}

// RecordGrow implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGrow(_, newCapacity int) {
	b.GrowCount.Add(1)
	b.Capacity.Store(int64(newCapacity))
}

// RecordRecovery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRecovery(bindings int, _ time.Duration) {
	b.RecoveryCount.Add(1)
	b.RecoveredTotal.Add(int64(bindings))
}

// RecordCheckpoint implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCheckpoint(_ time.Duration, err error) {
	b.CheckpointCount.Add(1)
	if err != nil {
		b.CheckpointErrors.Add(1)
	}
}

// GetStats returns a snapshot of the current counters.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		AssignCount:      b.AssignCount.Load(),
		AssignFresh:      b.AssignFresh.Load(),
		AssignErrors:     b.AssignErrors.Load(),
		AssignAvgNanos:   b.avgAssignNanos(),
		ReleaseCount:     b.ReleaseCount.Load(),
		ReleaseMisses:    b.ReleaseMisses.Load(),
		GrowCount:        b.GrowCount.Load(),
		Capacity:         b.Capacity.Load(),
		RecoveryCount:    b.RecoveryCount.Load(),
		RecoveredTotal:   b.RecoveredTotal.Load(),
		CheckpointCount:  b.CheckpointCount.Load(),
		CheckpointErrors: b.CheckpointErrors.Load(),
	}
}

func (b *BasicMetricsCollector) avgAssignNanos() int64 {
	count := b.AssignCount.Load()
	if count == 0 {
		return 0
	}
	return b.AssignTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	AssignCount      int64
	AssignFresh      int64
	AssignErrors     int64
	AssignAvgNanos   int64
	ReleaseCount     int64
	ReleaseMisses    int64
	GrowCount        int64
	Capacity         int64
	RecoveryCount    int64
	RecoveredTotal   int64
	CheckpointCount  int64
	CheckpointErrors int64
}
