package lexgo

import (
	"sync/atomic"
	"time"
)

// MetricsCollector receives collection events. Implement this interface to
// integrate with monitoring systems; package prommetrics provides a
// Prometheus implementation.
type MetricsCollector interface {
	// OnAdd is called after a document was buffered.
	OnAdd(fields int, err error)

	// OnCommit is called when a commit completes.
	OnCommit(duration time.Duration, docs int, err error)

	// OnMerge is called when a merge completes.
	OnMerge(duration time.Duration, inputSegments int, outputDocs int, err error)

	// OnSearch is called when a query completes. cached reports a result
	// cache hit.
	OnSearch(duration time.Duration, hits int, cached bool, err error)

	// OnDelete is called when documents were marked deleted.
	OnDelete(count int, err error)

	// OnRefresh is called when the searcher reloaded its segments.
	OnRefresh(duration time.Duration, segments int, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) OnAdd(int, error)                         {}
func (NoopMetricsCollector) OnCommit(time.Duration, int, error)       {}
func (NoopMetricsCollector) OnMerge(time.Duration, int, int, error)   {}
func (NoopMetricsCollector) OnSearch(time.Duration, int, bool, error) {}
func (NoopMetricsCollector) OnDelete(int, error)                      {}
func (NoopMetricsCollector) OnRefresh(time.Duration, int, error)      {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	AddCount         atomic.Int64
	AddErrors        atomic.Int64
	CommitCount      atomic.Int64
	CommitErrors     atomic.Int64
	CommitDocs       atomic.Int64
	CommitTotalNanos atomic.Int64
	MergeCount       atomic.Int64
	MergeErrors      atomic.Int64
	MergeInputs      atomic.Int64
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchCached     atomic.Int64
	SearchTotalNanos atomic.Int64
	DeletedDocs      atomic.Int64
	RefreshCount     atomic.Int64
}

// OnAdd implements MetricsCollector.
func (b *BasicMetricsCollector) OnAdd(_ int, err error) {
	b.AddCount.Add(1)
	if err != nil {
		b.AddErrors.Add(1)
	}
}

// OnCommit implements MetricsCollector.
func (b *BasicMetricsCollector) OnCommit(duration time.Duration, docs int, err error) {
	b.CommitCount.Add(1)
	b.CommitTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.CommitErrors.Add(1)
		return
	}
	b.CommitDocs.Add(int64(docs))
}

// OnMerge implements MetricsCollector.
func (b *BasicMetricsCollector) OnMerge(_ time.Duration, inputSegments int, _ int, err error) {
	b.MergeCount.Add(1)
	b.MergeInputs.Add(int64(inputSegments))
	if err != nil {
		b.MergeErrors.Add(1)
	}
}

// OnSearch implements MetricsCollector.
func (b *BasicMetricsCollector) OnSearch(duration time.Duration, _ int, cached bool, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
	if cached {
		b.SearchCached.Add(1)
	}
}

// OnDelete implements MetricsCollector.
func (b *BasicMetricsCollector) OnDelete(count int, _ error) {
	b.DeletedDocs.Add(int64(count))
}

// OnRefresh implements MetricsCollector.
func (b *BasicMetricsCollector) OnRefresh(time.Duration, int, error) {
	b.RefreshCount.Add(1)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		AddCount:       b.AddCount.Load(),
		AddErrors:      b.AddErrors.Load(),
		CommitCount:    b.CommitCount.Load(),
		CommitErrors:   b.CommitErrors.Load(),
		CommitDocs:     b.CommitDocs.Load(),
		CommitAvgNanos: avg(b.CommitTotalNanos.Load(), b.CommitCount.Load()),
		MergeCount:     b.MergeCount.Load(),
		MergeErrors:    b.MergeErrors.Load(),
		MergeInputs:    b.MergeInputs.Load(),
		SearchCount:    b.SearchCount.Load(),
		SearchErrors:   b.SearchErrors.Load(),
		SearchCached:   b.SearchCached.Load(),
		SearchAvgNanos: avg(b.SearchTotalNanos.Load(), b.SearchCount.Load()),
		DeletedDocs:    b.DeletedDocs.Load(),
		RefreshCount:   b.RefreshCount.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	AddCount       int64
	AddErrors      int64
	CommitCount    int64
	CommitErrors   int64
	CommitDocs     int64
	CommitAvgNanos int64
	MergeCount     int64
	MergeErrors    int64
	MergeInputs    int64
	SearchCount    int64
	SearchErrors   int64
	SearchCached   int64
	SearchAvgNanos int64
	DeletedDocs    int64
	RefreshCount   int64
}
