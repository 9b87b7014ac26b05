package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/lexgo/internal/cache"
	"github.com/hupe1980/lexgo/internal/engine"
	"github.com/hupe1980/lexgo/internal/eval"
	"github.com/hupe1980/lexgo/internal/lock"
	"github.com/hupe1980/lexgo/internal/manifest"
	"github.com/hupe1980/lexgo/internal/query"
	"github.com/hupe1980/lexgo/internal/segment"
	"github.com/hupe1980/lexgo/internal/storage"
)

const (
	DefaultCacheBytes      = 16 << 20
	DefaultMaxWindow       = 10000
	DefaultRefreshInterval = 5 * time.Second
	DefaultIdleInterval    = time.Second
	DefaultOpenParallelism = 4
)

// Options configure a Searcher. Zero values select defaults.
type Options struct {
	Eval eval.Options
	// CacheBytes bounds the result cache. Negative disables it.
	CacheBytes int64
	// MaxWindow caps Offset+Limit of requests without LimitWindow.
	MaxWindow int
	// RefreshInterval is the maintenance timer. Negative disables it.
	RefreshInterval time.Duration
	// IdleInterval triggers maintenance on the first query after the
	// searcher was idle this long. Negative disables it.
	IdleInterval    time.Duration
	OpenParallelism int

	DefaultLang   string
	DefaultOp     query.Op
	DefaultFields []string
	Broadcast     map[string][]string
}

// snapshot is an immutable reader set.
type snapshot struct {
	man     *manifest.Manifest
	readers []*segment.Reader
	modTime time.Time
}

// Searcher serves queries from the segments of the latest manifest.
//
// Queries pass a reference-counting gate. Refresh and Close block new
// queries and wait for in-flight ones to drain before swapping readers, so
// a query never observes a half-swapped set.
type Searcher struct {
	ectx   *engine.Context
	logger *slog.Logger
	st     *storage.Storage
	opts   Options
	eval   *eval.Evaluator

	mu     sync.Mutex
	cond   *sync.Cond
	state  State
	active int
	snap   *snapshot

	refreshMu sync.Mutex
	group     singleflight.Group
	lastQuery atomic.Int64

	cache  cache.Cache[cache.Key, *cached]
	gen    atomic.Uint64
	hits   atomic.Int64
	misses atomic.Int64

	stop chan struct{}
	wg   sync.WaitGroup
}

// Open loads the current manifest and starts serving.
func Open(ctx context.Context, ectx *engine.Context, st *storage.Storage, opts Options) (*Searcher, error) {
	if opts.CacheBytes == 0 {
		opts.CacheBytes = DefaultCacheBytes
	}
	if opts.MaxWindow <= 0 {
		opts.MaxWindow = DefaultMaxWindow
	}
	if opts.RefreshInterval == 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	if opts.IdleInterval == 0 {
		opts.IdleInterval = DefaultIdleInterval
	}
	if opts.OpenParallelism <= 0 {
		opts.OpenParallelism = DefaultOpenParallelism
	}

	s := &Searcher{
		ectx:   ectx,
		logger: ectx.Logger.With("component", "searcher"),
		st:     st,
		opts:   opts,
		eval:   eval.New(ectx, opts.Eval),
		snap:   &snapshot{man: manifest.New()},
		stop:   make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	if opts.CacheBytes > 0 {
		s.cache = cache.NewSharded[cache.Key, *cached](opts.CacheBytes, ectx.Resources)
	} else {
		s.cache = cache.NewLRU[cache.Key, *cached](0, nil)
	}

	if err := s.refresh(ctx, true); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.state = StateActive
	s.mu.Unlock()
	s.lastQuery.Store(time.Now().UnixNano())

	if opts.RefreshInterval > 0 {
		s.wg.Add(1)
		go s.maintenanceLoop(opts.RefreshInterval)
	}
	return s, nil
}

// State returns the lifecycle state.
func (s *Searcher) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// enter admits a query, waiting out a refresh.
func (s *Searcher) enter() (*snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.state == StateRefreshing {
		s.cond.Wait()
	}
	if s.state == StateClosed {
		return nil, engine.ErrClosed
	}
	s.active++
	return s.snap, nil
}

func (s *Searcher) leave() {
	s.mu.Lock()
	s.active--
	if s.active == 0 {
		s.cond.Broadcast()
	}
	s.mu.Unlock()
}

// exclusive blocks new queries and waits until in-flight ones finished.
// The returned function leaves the exclusive section in state next.
func (s *Searcher) exclusive() (func(next State), error) {
	s.mu.Lock()
	for s.state == StateRefreshing {
		s.cond.Wait()
	}
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil, engine.ErrClosed
	}
	prev := s.state
	s.state = StateRefreshing
	for s.active > 0 {
		s.cond.Wait()
	}
	s.mu.Unlock()

	return func(next State) {
		s.mu.Lock()
		if next == StateActive && prev == StateInit {
			next = StateInit
		}
		s.state = next
		s.cond.Broadcast()
		s.mu.Unlock()
	}, nil
}

// invalidate drops every cached result. Entries stored later by queries
// that started earlier are ignored through the generation counter.
func (s *Searcher) invalidate() {
	s.gen.Add(1)
	s.cache.Purge()
}

// Search runs req against the current snapshot. Query errors return a
// *query.Error together with a Response carrying its status.
func (s *Searcher) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, hit, err := s.search(ctx, req)
	if resp != nil {
		resp.Elapsed = time.Since(start)
	}
	rows := 0
	if resp != nil {
		rows = len(resp.Rows)
	}
	s.ectx.Metrics.OnSearch(time.Since(start), rows, hit, err)
	if err == nil {
		s.logger.Debug("search", "query", req.Query, "total", resp.Total, "rows", rows,
			"cached", hit, "elapsed", resp.Elapsed)
	}
	return resp, err
}

func (s *Searcher) search(ctx context.Context, req Request) (*Response, bool, error) {
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	req.Offset = max(req.Offset, 0)
	if req.Lang == "" {
		req.Lang = s.opts.DefaultLang
	}
	window := req.Offset + req.Limit
	capacity := req.LimitWindow
	if capacity <= 0 {
		capacity = s.opts.MaxWindow
	}
	if window > capacity {
		err := query.NewError(query.StatusWindowExceeded, req.Query,
			fmt.Sprintf("window %d exceeds %d", window, capacity))
		return &Response{Status: err.Status}, false, err
	}

	s.maybeMaintain(ctx)
	snap, err := s.enter()
	if err != nil {
		return nil, false, err
	}
	defer s.leave()
	gen := s.gen.Load()

	q, srt, err := s.compile(snap, req.Query, req.Lang, req.Sort, !req.analyze())
	if err != nil {
		var qe *query.Error
		if errors.As(err, &qe) {
			return &Response{Status: qe.Status}, false, err
		}
		return nil, false, err
	}

	key := cache.Key{Query: req.Query, Lang: req.Lang, Sort: req.Sort, Verbatim: !req.analyze()}
	var res *eval.Result
	hit := false
	if c, ok := s.cache.Get(key); ok && c.covers(window, req.EstimateTotal, gen) {
		res, hit = c.res, true
		s.hits.Add(1)
	} else {
		s.misses.Add(1)
		res, err = s.eval.Search(ctx, snap.readers, eval.Request{
			Query:         q,
			Sort:          srt,
			Limit:         window,
			EstimateTotal: req.EstimateTotal,
		})
		if err != nil {
			return nil, false, err
		}
		c := &cached{res: res, window: window, gen: gen}
		s.cache.Set(key, c, c.size())
	}

	resp := &Response{
		Status:     query.StatusOK,
		Total:      res.Total,
		Estimated:  res.Estimated,
		Highlights: res.Highlights,
	}
	lo := min(req.Offset, len(res.Hits))
	hi := min(window, len(res.Hits))
	resp.Rows = s.rows(snap, res.Hits[lo:hi], srt, &req)
	return resp, hit, nil
}

func (s *Searcher) compile(snap *snapshot, text, lang, sortSpec string, verbatim bool) (*query.Query, eval.Sort, error) {
	q, err := query.Compile(text, snap.man, query.Options{
		Analyzer:      s.ectx.Analyzer,
		Lang:          lang,
		DefaultOp:     s.opts.DefaultOp,
		DefaultFields: s.opts.DefaultFields,
		Broadcast:     s.opts.Broadcast,
		Verbatim:      verbatim,
	})
	if err != nil {
		return nil, eval.Sort{}, err
	}
	srt, err := eval.ParseSort(sortSpec, snap.man)
	if err != nil {
		return nil, eval.Sort{}, err
	}
	return q, srt, nil
}

// DeleteByQuery deletes every live document matching text and returns how
// many were deleted. The result cache is invalidated.
func (s *Searcher) DeleteByQuery(ctx context.Context, text, lang string) (n int, err error) {
	defer func() { s.ectx.Metrics.OnDelete(n, err) }()
	if lang == "" {
		lang = s.opts.DefaultLang
	}

	// Merges replace segments only while holding the merge lock. Holding it
	// and reloading the manifest first keeps the deletions on live segments.
	locks := s.st.Locks()
	if err := locks.Acquire(ctx, lock.Merge); err != nil {
		return 0, err
	}
	defer func() {
		if relErr := locks.Release(lock.Merge); relErr != nil {
			s.logger.Warn("release merge lock", "error", relErr)
		}
	}()
	if err := s.refresh(ctx, true); err != nil {
		return 0, err
	}

	snap, err := s.enter()
	if err != nil {
		return 0, err
	}
	defer s.leave()

	q, _, err := s.compile(snap, text, lang, "", false)
	if err != nil {
		return 0, err
	}
	matches, _, err := s.eval.Match(ctx, snap.readers, q)
	if err != nil {
		return 0, err
	}
	defer s.invalidate()

	var errs []error
	for i, docs := range matches {
		if docs == nil {
			continue
		}
		r := snap.readers[i]
		added, err := r.Delete(docs)
		if err != nil {
			s.logger.Warn("delete by query", "segment", r.ID(), "error", err)
			errs = append(errs, err)
			continue
		}
		n += added
	}
	s.logger.Info("deleted by query", "query", text, "deleted", n)
	return n, errors.Join(errs...)
}

// Stats describes the loaded snapshot.
func (s *Searcher) Stats() (Stats, error) {
	snap, err := s.enter()
	if err != nil {
		return Stats{}, err
	}
	defer s.leave()

	st := Stats{
		Segments:        len(snap.readers),
		Bytes:           snap.man.TotalSize(),
		Fields:          len(snap.man.Fields),
		ManifestVersion: snap.man.Version,
	}
	for _, r := range snap.readers {
		live := r.LiveCount()
		st.Docs += uint64(live)
		st.Deleted += uint64(r.DocCount() - live)
	}
	st.CacheHits, st.CacheMisses = s.hits.Load(), s.misses.Load()
	st.MemoryUsed, st.MemoryLimit = s.ectx.Resources.MemoryUsage(), s.ectx.Resources.MemoryLimit()
	return st, nil
}

// Manifest returns the manifest of the loaded snapshot.
func (s *Searcher) Manifest() *manifest.Manifest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.man
}

// Close stops maintenance, waits for in-flight queries and closes every
// reader.
func (s *Searcher) Close() error {
	done, err := s.exclusive()
	if err != nil {
		if errors.Is(err, engine.ErrClosed) {
			return nil
		}
		return err
	}
	close(s.stop)

	s.mu.Lock()
	snap := s.snap
	s.snap = &snapshot{man: snap.man}
	s.mu.Unlock()
	done(StateClosed)
	s.wg.Wait()

	// Wait for a maintenance pass that started before the stop signal.
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	var errs []error
	ids := make([]uint64, 0, len(snap.readers))
	for _, r := range snap.readers {
		errs = append(errs, r.Close())
		ids = append(ids, r.ID())
	}
	if len(ids) > 0 {
		errs = append(errs, s.st.Registry().Release(ids...))
	}
	s.cache.Purge()
	s.logger.Info("searcher closed")
	return errors.Join(errs...)
}
