package mirrordb

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordFind is called after each find delivery. interim reports whether
	// this was the provisional local delivery; duration is the time from
	// dispatch to delivery.
	RecordFind(interim bool, results int, duration time.Duration, err error)

	// RecordUpload is called after each per-collection upload cycle.
	// items is the number of pending changes attempted, discarded the number
	// abandoned on permission/gone faults, conflicts the number left pending.
	RecordUpload(items, discarded, conflicts int, duration time.Duration)

	// RecordCache is called after each cache reconciliation.
	RecordCache(docs int, duration time.Duration, err error)

	// RecordQuickfind is called after each quickfind handshake.
	// changed is the number of shards the server reported as stale.
	RecordQuickfind(shards, changed int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordFind(bool, int, time.Duration, error)     {}
func (NoopMetricsCollector) RecordUpload(int, int, int, time.Duration)      {}
func (NoopMetricsCollector) RecordCache(int, time.Duration, error)          {}
func (NoopMetricsCollector) RecordQuickfind(int, int, time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	FindCount        atomic.Int64
	FindInterim      atomic.Int64
	FindErrors       atomic.Int64
	FindTotalNanos   atomic.Int64
	UploadCount      atomic.Int64
	UploadItems      atomic.Int64
	UploadDiscarded  atomic.Int64
	UploadConflicts  atomic.Int64
	CacheCount       atomic.Int64
	CacheErrors      atomic.Int64
	QuickfindCount   atomic.Int64
	QuickfindChanged atomic.Int64
	QuickfindErrors  atomic.Int64
}

// RecordFind implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFind(interim bool, results int, duration time.Duration, err error) {
	b.FindCount.Add(1)
	b.FindTotalNanos.Add(duration.Nanoseconds())
	if interim {
		b.FindInterim.Add(1)
	}
	if err != nil {
		b.FindErrors.Add(1)
	}
}

// RecordUpload implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUpload(items, discarded, conflicts int, duration time.Duration) {
	b.UploadCount.Add(1)
	b.UploadItems.Add(int64(items))
	b.UploadDiscarded.Add(int64(discarded))
	b.UploadConflicts.Add(int64(conflicts))
}

// RecordCache implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCache(docs int, duration time.Duration, err error) {
	b.CacheCount.Add(1)
	if err != nil {
		b.CacheErrors.Add(1)
	}
}

// RecordQuickfind implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuickfind(shards, changed int, duration time.Duration, err error) {
	b.QuickfindCount.Add(1)
	b.QuickfindChanged.Add(int64(changed))
	if err != nil {
		b.QuickfindErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		FindCount:        b.FindCount.Load(),
		FindInterim:      b.FindInterim.Load(),
		FindErrors:       b.FindErrors.Load(),
		FindAvgNanos:     b.getAvgFindNanos(),
		UploadCount:      b.UploadCount.Load(),
		UploadItems:      b.UploadItems.Load(),
		UploadDiscarded:  b.UploadDiscarded.Load(),
		UploadConflicts:  b.UploadConflicts.Load(),
		CacheCount:       b.CacheCount.Load(),
		CacheErrors:      b.CacheErrors.Load(),
		QuickfindCount:   b.QuickfindCount.Load(),
		QuickfindChanged: b.QuickfindChanged.Load(),
		QuickfindErrors:  b.QuickfindErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgFindNanos() int64 {
	count := b.FindCount.Load()
	if count == 0 {
		return 0
	}
	return b.FindTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	FindCount        int64
	FindInterim      int64
	FindErrors       int64
	FindAvgNanos     int64
	UploadCount      int64
	UploadItems      int64
	UploadDiscarded  int64
	UploadConflicts  int64
	CacheCount       int64
	CacheErrors      int64
	QuickfindCount   int64
	QuickfindChanged int64
	QuickfindErrors  int64
}
