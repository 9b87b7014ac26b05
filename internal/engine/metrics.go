package engine

import "time"

// MetricsObserver defines the interface for observing engine events.
type MetricsObserver interface {
	// OnAdd is called when a document was buffered.
	OnAdd(fields int, err error)

	// OnCommit is called when a commit completes.
	OnCommit(duration time.Duration, docs int, err error)

	// OnMerge is called when a merge completes.
	OnMerge(duration time.Duration, inputSegments int, outputDocs int, err error)

	// OnSearch is called when a query completes.
	OnSearch(duration time.Duration, hits int, cached bool, err error)

	// OnDelete is called when documents were marked deleted.
	OnDelete(count int, err error)

	// OnRefresh is called when the searcher reloaded its readers.
	OnRefresh(duration time.Duration, segments int, err error)
}

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver struct{}

func (NoopMetricsObserver) OnAdd(fields int, err error)                           {}
func (NoopMetricsObserver) OnCommit(duration time.Duration, docs int, err error) {}
func (NoopMetricsObserver) OnMerge(duration time.Duration, inputSegments int, outputDocs int, err error) {
}
func (NoopMetricsObserver) OnSearch(duration time.Duration, hits int, cached bool, err error) {}
func (NoopMetricsObserver) OnDelete(count int, err error)                                     {}
func (NoopMetricsObserver) OnRefresh(duration time.Duration, segments int, err error)         {}
