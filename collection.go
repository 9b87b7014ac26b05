package lexgo

import (
	"context"
	"errors"
	"sync"

	"github.com/hupe1980/lexgo/blobstore"
	"github.com/hupe1980/lexgo/document"
	"github.com/hupe1980/lexgo/internal/engine"
	"github.com/hupe1980/lexgo/internal/eval"
	"github.com/hupe1980/lexgo/internal/index"
	"github.com/hupe1980/lexgo/internal/manifest"
	"github.com/hupe1980/lexgo/internal/merge"
	"github.com/hupe1980/lexgo/internal/query"
	"github.com/hupe1980/lexgo/internal/replica"
	"github.com/hupe1980/lexgo/internal/resource"
	"github.com/hupe1980/lexgo/internal/search"
	"github.com/hupe1980/lexgo/internal/storage"
)

type (
	// Request describes one query. See Collection.Query for a builder.
	Request = search.Request
	// Response is the result of a query.
	Response = search.Response
	// Row is one result document.
	Row = search.Row
	// Point is a decoded coordinate value.
	Point = search.Point
	// Stats describes the searcher's view of the collection.
	Stats = search.Stats
	// TransferInfo summarizes an Export or Restore.
	TransferInfo = replica.Info
)

// Status codes set on Response.Status and QueryError.Status.
const (
	StatusOK             = query.StatusOK
	StatusMalformed      = query.StatusMalformed
	StatusWindowExceeded = query.StatusWindowExceeded
	StatusBadSort        = query.StatusBadSort
)

// Collection is an embedded full-text index stored under one root
// directory. One process at a time may write to a collection; any number of
// processes may search it. All methods are safe for concurrent use.
type Collection struct {
	root   string
	opts   options
	logger *Logger
	ectx   *engine.Context
	st     *storage.Storage

	// mu is held exclusively while Restore swaps the writer and on Close.
	mu       sync.RWMutex
	ix       *index.Indexer
	searcher *search.Searcher
	closed   bool
}

// Open opens the collection rooted at root, creating the directory if
// needed. Nothing is written until the first Add.
func Open(ctx context.Context, root string, optFns ...Option) (*Collection, error) {
	o := applyOptions(optFns)
	if o.err != nil {
		return nil, o.err
	}
	logger := o.logger.WithCollection(root)

	ectx := engine.NewContext(engine.Config{
		Logger: logger.Logger,
		Resources: resource.Config{
			MemoryLimitBytes:     o.memoryLimit,
			MaxBackgroundWorkers: o.maxWorkers,
			IOLimitBytesPerSec:   o.ioLimit,
		},
		BufferBudget: o.bufferBudget,
		Analyzer:     o.analyzer,
		Metrics:      o.metrics,
	})

	st, err := storage.Open(nil, append([]string{root}, o.dirs...), logger.Logger)
	if err != nil {
		return nil, translateError(err)
	}

	c := &Collection{
		root:   root,
		opts:   o,
		logger: logger,
		ectx:   ectx,
		st:     st,
	}
	if !o.readOnly {
		c.ix = c.newIndexer()
	}

	c.searcher, err = search.Open(ctx, ectx, st, search.Options{
		Eval: eval.Options{
			MaxExpansion:    o.maxExpansion,
			RandomScanLimit: o.randomScanLimit,
		},
		CacheBytes:      o.cacheBytes,
		MaxWindow:       o.maxWindow,
		RefreshInterval: o.refreshInterval,
		IdleInterval:    o.idleInterval,
		DefaultLang:     o.defaultLang,
		DefaultOp:       o.defaultOp,
		DefaultFields:   o.defaultFields,
		Broadcast:       o.broadcast,
	})
	if err != nil {
		if errors.Is(err, manifest.ErrCorrupt) {
			logger.LogCorruption(ctx, "open", err)
		}
		_ = st.Close()
		return nil, translateError(err)
	}

	logger.InfoContext(ctx, "collection opened",
		"read_only", o.readOnly,
		"dirs", st.Dirs().Len(),
		"version", c.searcher.Manifest().Version,
	)
	return c, nil
}

func (c *Collection) newIndexer() *index.Indexer {
	o := c.opts
	policy := merge.NewTieredPolicy()
	if o.mergeFactor > 0 {
		policy.MergeFactor = o.mergeFactor
	}
	if o.maxSegmentBytes > 0 {
		policy.MaxSegmentBytes = o.maxSegmentBytes
	}
	return index.New(c.ectx, c.st, index.Options{
		Compression: o.compression,
		FlushBytes:  o.flushBytes,
		PrimaryKey:  o.primaryKey,
		Policy:      policy,
		AutoMerge:   o.autoMerge,
		Merge: merge.Options{
			Compression: o.compression,
			LazyEvery:   o.lazyMergeEvery,
			LazySleep:   o.lazyMergeSleep,
		},
		LockTimeout: o.lockTimeout,
	})
}

// Root returns the collection root directory.
func (c *Collection) Root() string { return c.root }

// ReadOnly reports whether the collection was opened with ReadOnly.
func (c *Collection) ReadOnly() bool { return c.opts.readOnly }

// writer returns the indexer under the read lock. The returned release
// function must be called when done.
func (c *Collection) writer() (*index.Indexer, func(), error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, nil, ErrClosed
	}
	if c.ix == nil {
		c.mu.RUnlock()
		return nil, nil, ErrReadOnly
	}
	return c.ix, c.mu.RUnlock, nil
}

func (c *Collection) reader() (*search.Searcher, func(), error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, nil, ErrClosed
	}
	return c.searcher, c.mu.RUnlock, nil
}

// Add buffers documents for indexing. Re-adding an existing id replaces the
// document. Documents become searchable after Commit, or earlier when the
// buffer exceeds the flush size and Add commits on its own.
func (c *Collection) Add(ctx context.Context, docs ...*document.Document) error {
	ix, release, err := c.writer()
	if err != nil {
		return err
	}
	defer release()

	for _, doc := range docs {
		if doc == nil {
			continue
		}
		err := ix.Add(ctx, doc)
		c.logger.LogAdd(ctx, doc.ID, err)
		if err != nil {
			return translateError(err)
		}
	}
	if ix.IsMemoryOver() {
		c.logger.DebugContext(ctx, "buffer full, committing", "buffered", ix.Buffered())
		return c.commit(ctx, ix)
	}
	return nil
}

// Delete removes the documents with the given ids. The deletion becomes
// visible with the next Commit. It returns the number of documents found.
func (c *Collection) Delete(ctx context.Context, ids ...string) (int, error) {
	ix, release, err := c.writer()
	if err != nil {
		return 0, err
	}
	defer release()

	total := 0
	for _, id := range ids {
		n, err := ix.DeleteByID(ctx, id)
		if err != nil {
			return total, translateError(err)
		}
		total += n
	}
	return total, nil
}

// DeleteByQuery deletes every committed document matching q and returns
// how many were deleted. The deletion is visible at once.
func (c *Collection) DeleteByQuery(ctx context.Context, q, lang string) (int, error) {
	_, release, err := c.writer()
	if err != nil {
		return 0, err
	}
	defer release()

	n, err := c.searcher.DeleteByQuery(ctx, q, lang)
	return n, translateError(err)
}

// Commit makes buffered documents and deletions durable and searchable.
func (c *Collection) Commit(ctx context.Context) error {
	ix, release, err := c.writer()
	if err != nil {
		return err
	}
	defer release()
	return c.commit(ctx, ix)
}

func (c *Collection) commit(ctx context.Context, ix *index.Indexer) error {
	m, err := ix.Commit(ctx)
	if err != nil {
		c.logger.LogCommit(ctx, 0, 0, err)
		return translateError(err)
	}
	if m != nil {
		c.logger.LogCommit(ctx, m.Version, len(m.Segments), nil)
	}
	return translateError(c.searcher.Refresh(ctx))
}

// Optimize commits and merges all segments into one, dropping deleted
// documents.
func (c *Collection) Optimize(ctx context.Context) error {
	ix, release, err := c.writer()
	if err != nil {
		return err
	}
	defer release()

	before := len(c.searcher.Manifest().Segments)
	m, err := ix.Optimize(ctx)
	if err != nil {
		c.logger.LogMerge(ctx, before, 0, err)
		return translateError(err)
	}
	c.logger.LogMerge(ctx, before, len(m.Segments), nil)
	return translateError(c.searcher.Refresh(ctx))
}

// Truncate discards every document of the collection and the buffer.
func (c *Collection) Truncate(ctx context.Context) error {
	ix, release, err := c.writer()
	if err != nil {
		return err
	}
	defer release()

	if _, err := ix.Truncate(ctx); err != nil {
		return translateError(err)
	}
	return translateError(c.searcher.Refresh(ctx))
}

// SetFieldWeight sets the score weight of a registered scorable field. It
// takes effect with the next Commit.
func (c *Collection) SetFieldWeight(ctx context.Context, field string, weight float32) error {
	ix, release, err := c.writer()
	if err != nil {
		return err
	}
	defer release()
	return translateError(ix.SetFieldWeight(ctx, field, weight))
}

// Search runs a request. Query errors return a *QueryError together with a
// Response whose Status carries the same code.
func (c *Collection) Search(ctx context.Context, req Request) (*Response, error) {
	s, release, err := c.reader()
	if err != nil {
		return nil, err
	}
	defer release()

	resp, err := s.Search(ctx, req)
	err = translateError(err)
	var total uint64
	if resp != nil {
		total = resp.Total
	}
	if errors.Is(err, ErrCorrupt) {
		c.logger.LogCorruption(ctx, "search", err)
	}
	c.logger.LogSearch(ctx, req.Query, total, err)
	return resp, err
}

// Refresh makes commits of other processes visible now instead of at the
// next maintenance tick.
func (c *Collection) Refresh(ctx context.Context) error {
	s, release, err := c.reader()
	if err != nil {
		return err
	}
	defer release()
	return translateError(s.Refresh(ctx))
}

// Stats returns statistics of the committed state seen by the searcher.
func (c *Collection) Stats() (Stats, error) {
	s, release, err := c.reader()
	if err != nil {
		return Stats{}, err
	}
	defer release()
	st, err := s.Stats()
	return st, translateError(err)
}

// Export copies the committed state of the collection to store. Buffered
// documents are not included; call Commit first to export them.
func (c *Collection) Export(ctx context.Context, store blobstore.Store) (TransferInfo, error) {
	_, release, err := c.reader()
	if err != nil {
		return TransferInfo{}, err
	}
	defer release()

	info, err := replica.Export(ctx, c.st, store, c.transferOptions())
	return info, translateError(err)
}

// Restore replaces the collection with an export held in store. Pending
// writes are committed first. Searches keep serving the previous state
// until the restored manifest is installed.
func (c *Collection) Restore(ctx context.Context, store blobstore.Store) (TransferInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return TransferInfo{}, ErrClosed
	}
	if c.ix == nil {
		return TransferInfo{}, ErrReadOnly
	}

	// The writer holds the index lock, which the restore needs.
	if err := c.ix.Close(ctx); err != nil {
		c.ix = c.newIndexer()
		return TransferInfo{}, translateError(err)
	}
	info, err := replica.Restore(ctx, c.st, store, c.transferOptions())
	c.ix = c.newIndexer()
	if err != nil {
		c.logger.ErrorContext(ctx, "restore failed", "error", err)
		return info, translateError(err)
	}
	return info, translateError(c.searcher.Refresh(ctx))
}

func (c *Collection) transferOptions() replica.Options {
	return replica.Options{
		Parallelism: c.opts.transferLimit,
		Logger:      c.logger.Logger,
	}
}

// Close commits buffered writes, runs a final merge, releases the locks of
// this process and closes the searcher. Calling Close twice is a no-op.
func (c *Collection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if c.ix != nil {
		if err := c.ix.Close(context.Background()); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.searcher.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.st.Close(); err != nil {
		errs = append(errs, err)
	}
	c.logger.Info("collection closed")
	return translateError(errors.Join(errs...))
}
