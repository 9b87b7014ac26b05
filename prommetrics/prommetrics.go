// Package prommetrics exports collection events as Prometheus metrics.
//
//	reg := prometheus.NewRegistry()
//	coll, err := lexgo.Open(ctx, dir, lexgo.WithMetricsCollector(prommetrics.New(reg, "products")))
//	http.Handle("/metrics", prommetrics.Handler(reg))
package prommetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lexgo"

// Observer implements the collection metrics observer on top of Prometheus
// collectors. All methods are safe for concurrent use.
type Observer struct {
	latency      *prometheus.HistogramVec
	operations   *prometheus.CounterVec
	docsAdded    prometheus.Counter
	docsDeleted  prometheus.Counter
	docsMerged   prometheus.Counter
	searchHits   prometheus.Histogram
	cacheResults *prometheus.CounterVec
	segments     prometheus.Gauge
}

// New creates an observer and registers its collectors with reg. The
// collection label distinguishes several collections in one process.
// A nil reg uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer, collection string) *Observer {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	labels := prometheus.Labels{"collection": collection}

	o := &Observer{
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "operation_duration_seconds",
			Help:        "Latency of collection operations.",
			ConstLabels: labels,
			Buckets:     []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		}, []string{"op"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "operations_total",
			Help:        "Collection operations by type and status.",
			ConstLabels: labels,
		}, []string{"op", "status"}),
		docsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "documents_added_total",
			Help:        "Documents buffered for indexing.",
			ConstLabels: labels,
		}),
		docsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "documents_deleted_total",
			Help:        "Documents marked deleted.",
			ConstLabels: labels,
		}),
		docsMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "documents_merged_total",
			Help:        "Live documents written by merges.",
			ConstLabels: labels,
		}),
		searchHits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "search_hits",
			Help:        "Number of matching documents per query.",
			ConstLabels: labels,
			Buckets:     []float64{0, 1, 10, 100, 1000, 10000, 100000},
		}),
		cacheResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "search_cache_total",
			Help:        "Result cache lookups by outcome.",
			ConstLabels: labels,
		}, []string{"result"}),
		segments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "searcher_segments",
			Help:        "Segments open in the searcher after the last refresh.",
			ConstLabels: labels,
		}),
	}

	reg.MustRegister(o.latency, o.operations, o.docsAdded, o.docsDeleted,
		o.docsMerged, o.searchHits, o.cacheResults, o.segments)
	return o
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (o *Observer) observe(op string, d time.Duration, err error) {
	o.latency.WithLabelValues(op).Observe(d.Seconds())
	o.operations.WithLabelValues(op, status(err)).Inc()
}

// OnAdd counts a buffered document.
func (o *Observer) OnAdd(_ int, err error) {
	o.operations.WithLabelValues("add", status(err)).Inc()
	if err == nil {
		o.docsAdded.Inc()
	}
}

// OnCommit records a commit.
func (o *Observer) OnCommit(d time.Duration, _ int, err error) {
	o.observe("commit", d, err)
}

// OnMerge records a merge.
func (o *Observer) OnMerge(d time.Duration, _ int, outputDocs int, err error) {
	o.observe("merge", d, err)
	if err == nil {
		o.docsMerged.Add(float64(outputDocs))
	}
}

// OnSearch records a query.
func (o *Observer) OnSearch(d time.Duration, hits int, cached bool, err error) {
	o.observe("search", d, err)
	if err != nil {
		return
	}
	o.searchHits.Observe(float64(hits))
	if cached {
		o.cacheResults.WithLabelValues("hit").Inc()
	} else {
		o.cacheResults.WithLabelValues("miss").Inc()
	}
}

// OnDelete counts deleted documents.
func (o *Observer) OnDelete(count int, err error) {
	o.operations.WithLabelValues("delete", status(err)).Inc()
	if count > 0 {
		o.docsDeleted.Add(float64(count))
	}
}

// OnRefresh records a searcher reload.
func (o *Observer) OnRefresh(d time.Duration, segments int, err error) {
	o.observe("refresh", d, err)
	if err == nil {
		o.segments.Set(float64(segments))
	}
}
