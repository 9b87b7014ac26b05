package lexgo

import (
	"log/slog"
	"time"

	"github.com/hupe1980/lexgo/analysis"
	"github.com/hupe1980/lexgo/internal/query"
	"github.com/hupe1980/lexgo/internal/segment"
)

// Compression selects how stored documents are compressed.
type Compression = segment.Compression

const (
	CompressionNone = segment.CompressionNone
	CompressionLZ4  = segment.CompressionLZ4
	CompressionZSTD = segment.CompressionZSTD
)

// Operator joins adjacent query operands that have no explicit operator.
type Operator = query.Op

const (
	OperatorAnd = query.OpAnd
	OperatorOr  = query.OpOr
)

type options struct {
	dirs     []string
	readOnly bool
	logger   *Logger
	metrics  MetricsCollector
	analyzer analysis.Analyzer

	// write path
	primaryKey      string
	compression     Compression
	flushBytes      int64
	autoMerge       bool
	mergeFactor     int
	maxSegmentBytes int64
	lazyMergeEvery  int
	lazyMergeSleep  time.Duration
	lockTimeout     time.Duration

	// resources
	memoryLimit   int64
	maxWorkers    int64
	ioLimit       int64
	bufferBudget  int64
	transferLimit int

	// read path
	cacheBytes      int64
	maxWindow       int
	refreshInterval time.Duration
	idleInterval    time.Duration
	defaultLang     string
	defaultOp       Operator
	defaultFields   []string
	broadcast       map[string][]string
	maxExpansion    int
	randomScanLimit int

	err error
}

// Option configures Open.
type Option func(*options)

// ReadOnly opens the collection for searching only. No write lock is ever
// taken and every write method returns ErrReadOnly.
func ReadOnly() Option {
	return func(o *options) {
		o.readOnly = true
	}
}

// WithDirs adds backing directories for segment files. New segments go to
// the directory with the most free space. The collection root always holds
// the manifest and lock files.
func WithDirs(dirs ...string) Option {
	return func(o *options) {
		o.dirs = append(o.dirs, dirs...)
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := lexgo.NewJSONLogger(slog.LevelInfo)
//	coll, _ := lexgo.Open(ctx, "./data", lexgo.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &lexgo.BasicMetricsCollector{}
//	coll, _ := lexgo.Open(ctx, "./data", lexgo.WithMetricsCollector(metrics))
//	// ... use coll ...
//	stats := metrics.GetStats()
//	fmt.Printf("Searches: %d, Avg latency: %dns\n", stats.SearchCount, stats.SearchAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metrics = mc
	}
}

// WithAnalyzer replaces the default analysis.Standard analyzer. The same
// analyzer must be used for indexing and querying a collection.
func WithAnalyzer(a analysis.Analyzer) Option {
	return func(o *options) {
		o.analyzer = a
	}
}

// WithPrimaryKey names the field holding document ids. It only applies when
// the collection is created; existing collections keep their key.
func WithPrimaryKey(field string) Option {
	return func(o *options) {
		o.primaryKey = field
	}
}

// WithCompression selects the compression of stored documents.
func WithCompression(c Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithFlushBytes sets the buffer size at which Add commits on its own.
func WithFlushBytes(n int64) Option {
	return func(o *options) {
		o.flushBytes = n
	}
}

// WithAutoMerge controls whether each commit evaluates the merge policy.
// Enabled by default.
func WithAutoMerge(enabled bool) Option {
	return func(o *options) {
		o.autoMerge = enabled
	}
}

// WithMergePolicy tunes the tiered merge policy: at most factor segments of
// a similar size tier are left unmerged, and segments above maxBytes are
// never merged again. Zero keeps the default.
func WithMergePolicy(factor int, maxBytes int64) Option {
	return func(o *options) {
		o.mergeFactor = factor
		o.maxSegmentBytes = maxBytes
	}
}

// WithLazyMerge makes merges sleep for pause after every n processed terms
// or documents so they yield disk bandwidth to queries.
func WithLazyMerge(every int, pause time.Duration) Option {
	return func(o *options) {
		o.lazyMergeEvery = every
		o.lazyMergeSleep = pause
	}
}

// WithLockTimeout bounds waiting for the index lock held by another writer.
// Zero fails at once with ErrBusy.
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) {
		o.lockTimeout = d
	}
}

// WithResourceLimits caps indexing memory, concurrent merges and merge
// output bandwidth. Zero leaves a limit unset.
func WithResourceLimits(memoryBytes, backgroundWorkers, ioBytesPerSec int64) Option {
	return func(o *options) {
		o.memoryLimit = memoryBytes
		o.maxWorkers = backgroundWorkers
		o.ioLimit = ioBytesPerSec
	}
}

// WithBufferBudget bounds the read buffers kept by idle query sessions.
func WithBufferBudget(bytes int64) Option {
	return func(o *options) {
		o.bufferBudget = bytes
	}
}

// WithTransferParallelism bounds concurrent file transfers of Export and Restore.
func WithTransferParallelism(n int) Option {
	return func(o *options) {
		o.transferLimit = n
	}
}

// WithCacheBytes bounds the result cache. Negative disables caching.
func WithCacheBytes(n int64) Option {
	return func(o *options) {
		o.cacheBytes = n
	}
}

// WithMaxWindow caps Offset+Limit of requests that set no LimitWindow.
func WithMaxWindow(n int) Option {
	return func(o *options) {
		o.maxWindow = n
	}
}

// WithRefreshInterval sets how often the searcher checks the manifest for
// commits made by other processes. Negative disables the timer.
func WithRefreshInterval(d time.Duration) Option {
	return func(o *options) {
		o.refreshInterval = d
	}
}

// WithIdleInterval makes the first query after an idle period of d check
// for new commits. Negative disables it.
func WithIdleInterval(d time.Duration) Option {
	return func(o *options) {
		o.idleInterval = d
	}
}

// WithDefaults sets the language, operator and fields used by queries that
// do not name them.
func WithDefaults(lang string, op Operator, fields ...string) Option {
	return func(o *options) {
		o.defaultLang = lang
		o.defaultOp = op
		o.defaultFields = fields
	}
}

// WithBroadcast maps a pseudo field name onto several real fields, so that
// "any:red" searches every field listed under "any".
func WithBroadcast(broadcast map[string][]string) Option {
	return func(o *options) {
		o.broadcast = broadcast
	}
}

// WithExpansionLimits bounds wildcard and range expansion and the number of
// documents random-access scans may visit.
func WithExpansionLimits(maxExpansion, randomScanLimit int) Option {
	return func(o *options) {
		o.maxExpansion = maxExpansion
		o.randomScanLimit = randomScanLimit
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:      NoopLogger(),
		metrics:     NoopMetricsCollector{},
		compression: CompressionZSTD,
		autoMerge:   true,
		defaultOp:   OperatorAnd,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
