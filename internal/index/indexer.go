package index

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/lexgo/document"
	"github.com/hupe1980/lexgo/internal/engine"
	"github.com/hupe1980/lexgo/internal/lock"
	"github.com/hupe1980/lexgo/internal/manifest"
	"github.com/hupe1980/lexgo/internal/merge"
	"github.com/hupe1980/lexgo/internal/segment"
	"github.com/hupe1980/lexgo/internal/storage"
)

// ErrUnknownField is returned when a weight is set on an unregistered field.
var ErrUnknownField = errors.New("unknown field")

const (
	DefaultFlushBytes = 32 << 20
	DefaultPrimaryKey = "_id"
)

// Options configure an Indexer.
type Options struct {
	Compression segment.Compression
	// FlushBytes is the buffer size at which IsMemoryOver reports true.
	FlushBytes int64
	// PrimaryKey names the field holding document ids in new collections.
	PrimaryKey string
	// Policy is evaluated after each commit when AutoMerge is set and
	// once more on Close.
	Policy    merge.Policy
	AutoMerge bool
	Merge     merge.Options
	// LockTimeout bounds waiting for the index lock. Zero fails at once.
	LockTimeout time.Duration
	// OnCommit observes every manifest the indexer installs.
	OnCommit func(*manifest.Manifest)
}

type state int

const (
	stateUninitialized state = iota
	stateActive
	stateClosed
)

// Indexer is the single writer of a collection. It buffers documents in a
// memTable, flushes them into a new segment on Commit and drives merges.
// Its methods are serialized.
type Indexer struct {
	mu     sync.Mutex
	ectx   *engine.Context
	st     *storage.Storage
	opts   Options
	merger *merge.Merger

	state state
	man   *manifest.Manifest // last durable
	work  *manifest.Manifest // man plus pending field changes
	dirty bool

	mem        *memTable
	reserved   int64
	overBudget bool

	pending map[uint64]*roaring.Bitmap
	readers map[uint64]*segment.Reader
}

// New creates an indexer. Nothing happens on disk until the first write.
func New(ectx *engine.Context, st *storage.Storage, opts Options) *Indexer {
	if opts.FlushBytes <= 0 {
		opts.FlushBytes = DefaultFlushBytes
	}
	if opts.PrimaryKey == "" {
		opts.PrimaryKey = DefaultPrimaryKey
	}
	if opts.Policy == nil {
		opts.Policy = merge.NewTieredPolicy()
	}
	mo := opts.Merge
	mo.Compression = opts.Compression
	return &Indexer{
		ectx:    ectx,
		st:      st,
		opts:    opts,
		merger:  merge.New(ectx, st, mo),
		pending: make(map[uint64]*roaring.Bitmap),
		readers: make(map[uint64]*segment.Reader),
	}
}

func (ix *Indexer) initLocked(ctx context.Context) error {
	switch ix.state {
	case stateActive:
		return nil
	case stateClosed:
		return engine.ErrClosed
	}

	locks := ix.st.Locks()
	if locks.Held(lock.Duplicate) {
		return fmt.Errorf("%w: collection is being duplicated", lock.ErrBusy)
	}
	if ix.opts.LockTimeout > 0 {
		lctx, cancel := context.WithTimeout(ctx, ix.opts.LockTimeout)
		err := locks.Acquire(lctx, lock.Index)
		cancel()
		if err != nil {
			return err
		}
	} else if err := locks.TryAcquire(lock.Index); err != nil {
		return err
	}

	man, err := ix.st.LoadManifest()
	if err != nil {
		_ = locks.Release(lock.Index)
		return err
	}
	work := man.Clone()
	if work.PrimaryKey == "" {
		work.PrimaryKey = ix.opts.PrimaryKey
		ix.dirty = true
	}
	if _, created, err := work.SetFieldInfo(work.PrimaryKey, document.String()); err != nil {
		_ = locks.Release(lock.Index)
		return err
	} else if created {
		ix.dirty = true
	}

	ix.man, ix.work = man, work
	ix.mem = newMemTable()
	ix.syncReaders(man)
	if n, err := ix.st.RemoveDeletables(man); err != nil {
		ix.ectx.Logger.Warn("remove leftover segment files", "error", err)
	} else if n > 0 {
		ix.ectx.Logger.Info("removed leftover segment files", "files", n)
	}
	ix.state = stateActive
	ix.ectx.Logger.Info("indexer active", "segments", len(man.Segments), "version", man.Version)
	return nil
}

// Add buffers a document. A document with an id replaces every earlier
// document with the same id. Fields that cannot be encoded are logged and
// skipped.
func (ix *Indexer) Add(ctx context.Context, doc *document.Document) (err error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	fields := 0
	defer func() { ix.ectx.Metrics.OnAdd(fields, err) }()

	if err := ix.initLocked(ctx); err != nil {
		return err
	}
	if doc.ID != "" {
		ix.deleteIDLocked(doc.ID)
	}

	docID := ix.mem.addRow(segment.Row{ID: doc.ID, Payload: doc.Payload, Snippet: doc.Snippet})
	if doc.ID != "" {
		pk, _ := ix.work.Field(ix.work.PrimaryKey)
		ix.mem.addPosting(segment.Key{Ord: pk.Ordinal, Term: doc.ID}, docID, 1, nil)
	}

	enc := encoder{an: ix.ectx.Analyzer, mem: ix.mem}
	for _, f := range doc.Fields {
		if ferr := ix.encodeField(&enc, docID, f); ferr != nil {
			ix.ectx.Logger.Warn("skip field", "error", &FieldError{DocID: doc.ID, Field: f.Name, Err: ferr})
			continue
		}
		fields++
	}
	ix.account()
	return nil
}

func (ix *Indexer) encodeField(enc *encoder, docID uint32, f document.Field) error {
	if f.Name == "" || f.Name == ix.work.PrimaryKey {
		return fmt.Errorf("reserved or empty field name %q", f.Name)
	}
	fi, created, err := ix.work.SetFieldInfo(f.Name, f.Type)
	if err != nil {
		return err
	}
	if created {
		ix.dirty = true
	}
	return enc.encode(docID, fi, f)
}

func (ix *Indexer) account() {
	delta := ix.mem.bytes - ix.reserved
	if delta <= 0 {
		return
	}
	if err := ix.ectx.Resources.AcquireMemory(delta); err != nil {
		ix.overBudget = true
		return
	}
	ix.reserved += delta
}

func (ix *Indexer) releaseMemory() {
	ix.ectx.Resources.ReleaseMemory(ix.reserved)
	ix.reserved = 0
	ix.overBudget = false
}

// IsMemoryOver reports whether the buffer should be committed.
func (ix *Indexer) IsMemoryOver() bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.mem != nil && (ix.mem.bytes >= ix.opts.FlushBytes || ix.overBudget)
}

// Buffered is the number of documents waiting for the next commit.
func (ix *Indexer) Buffered() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.mem == nil {
		return 0
	}
	return int(ix.mem.docCount())
}

// DeleteByID deletes every document with id. Deletions of committed
// documents become visible with the next commit.
func (ix *Indexer) DeleteByID(ctx context.Context, id string) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.initLocked(ctx); err != nil {
		return 0, err
	}
	return ix.deleteIDLocked(id), nil
}

func (ix *Indexer) deleteIDLocked(id string) int {
	n := 0
	if ix.mem.deleteID(id) {
		n++
	}
	pk, ok := ix.work.Field(ix.work.PrimaryKey)
	if !ok {
		return n
	}
	for segID, r := range ix.readers {
		ti, ok := r.Lookup(pk.Ordinal, id)
		if !ok {
			continue
		}
		pending := ix.pending[segID]
		pl := r.Postings(ti)
		for pl.Next() {
			doc := pl.Doc()
			if r.IsDeleted(doc) || (pending != nil && pending.Contains(doc)) {
				continue
			}
			if pending == nil {
				pending = roaring.New()
				ix.pending[segID] = pending
			}
			pending.Add(doc)
			n++
		}
	}
	return n
}

// SetFieldWeight changes the score weight of a field with the next commit.
func (ix *Indexer) SetFieldWeight(ctx context.Context, name string, weight float32) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.initLocked(ctx); err != nil {
		return err
	}
	if !ix.work.SetWeight(name, weight) {
		return fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	ix.dirty = true
	return nil
}

// Manifest returns the last durable manifest, or nil before the first write.
func (ix *Indexer) Manifest() *manifest.Manifest {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.man
}

// Commit flushes the buffer into a new segment, persists pending deletions,
// durably updates the manifest and evaluates the merge policy when AutoMerge
// is set. The automatic merge is skipped while every background slot is
// busy.
func (ix *Indexer) Commit(ctx context.Context) (*manifest.Manifest, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.commitLocked(ctx, ix.opts.AutoMerge)
}

func (ix *Indexer) commitLocked(ctx context.Context, withMerge bool) (_ *manifest.Manifest, err error) {
	switch ix.state {
	case stateClosed:
		return nil, engine.ErrClosed
	case stateUninitialized:
		return nil, nil
	}
	if ix.mem.empty() && len(ix.pending) == 0 && !ix.dirty {
		return ix.man, nil
	}

	start := time.Now()
	docs := int(ix.mem.docCount())
	defer func() { ix.ectx.Metrics.OnCommit(time.Since(start), docs, err) }()

	next := ix.work.Clone()
	var created *manifest.SegmentInfo
	if !ix.mem.empty() {
		id := next.AllocSegmentID()
		w, dir, err := ix.st.CreateSegment(id, segment.WriterOptions{Compression: ix.opts.Compression})
		if err != nil {
			return nil, err
		}
		defer ix.st.ReleaseSegment(id)
		if err := ix.mem.flush(w); err != nil {
			w.Abort()
			return nil, err
		}
		info, err := w.Finish()
		if err != nil {
			return nil, err
		}
		created = &manifest.SegmentInfo{ID: id, DocCount: info.DocCount, Dir: dir, Size: info.Size}
		next.AddSegment(*created)
	}

	// Deletions reach disk before the manifest publishes the segment that
	// may hold replacements, so a crash never leaves two live copies of an id.
	deleted := ix.applyPendingLocked()

	if err := ix.st.Manifests().Flush(next); err != nil {
		if created != nil {
			_ = ix.st.RemoveSegment(*created)
		}
		ix.ectx.Logger.Error("commit failed", "version", ix.man.Version, "error", err)
		return nil, err
	}

	ix.install(next)
	ix.mem = newMemTable()
	ix.releaseMemory()
	ix.ectx.Logger.Info("committed",
		"version", next.Version, "docs", docs, "deleted", deleted,
		"segments", len(next.Segments), "elapsed", time.Since(start))

	if withMerge {
		if err := ix.mergeLocked(ctx, ix.opts.Policy, false); err != nil {
			ix.ectx.Logger.Warn("merge after commit", "error", err)
		}
	}
	return ix.man, nil
}

func (ix *Indexer) applyPendingLocked() int {
	total := 0
	var errs []error
	for segID, docs := range ix.pending {
		r, ok := ix.readers[segID]
		if !ok {
			continue
		}
		n, err := r.Delete(docs)
		if err != nil {
			ix.ectx.Logger.Warn("apply deletions", "segment", segID, "error", err)
			errs = append(errs, err)
			continue
		}
		total += n
	}
	clear(ix.pending)
	if total > 0 || len(errs) > 0 {
		ix.ectx.Metrics.OnDelete(total, errors.Join(errs...))
	}
	return total
}

// install makes next the durable state and notifies observers.
func (ix *Indexer) install(next *manifest.Manifest) {
	ix.man = next
	ix.work = next.Clone()
	ix.dirty = false
	ix.syncReaders(next)
	if ix.opts.OnCommit != nil {
		ix.opts.OnCommit(next)
	}
}

// mergeLocked runs p. Without wait the merge is skipped while every
// background slot is busy; the next commit evaluates the policy again.
func (ix *Indexer) mergeLocked(ctx context.Context, p merge.Policy, wait bool) error {
	run := ix.merger.TryRun
	if wait {
		run = ix.merger.Run
	}
	next, res, err := run(ctx, ix.man, p)
	if err != nil || res == nil {
		return err
	}
	ix.install(next)
	// The indexer held the inputs open during the merge; drop them now.
	if _, err := ix.st.RemoveDeletables(next); err != nil {
		ix.ectx.Logger.Warn("remove merged segments", "error", err)
	}
	return nil
}

// syncReaders keeps one reader per live segment for primary key lookups.
func (ix *Indexer) syncReaders(man *manifest.Manifest) {
	live := make(map[uint64]struct{}, len(man.Segments))
	for _, info := range man.Segments {
		live[info.ID] = struct{}{}
		if _, ok := ix.readers[info.ID]; ok {
			continue
		}
		r, err := ix.st.OpenSegment(info, ix.ectx.Buffers)
		if err != nil {
			ix.ectx.Logger.Warn("segment dropped", "segment", info.ID, "error", err)
			continue
		}
		if err := ix.st.Registry().Retain(info.ID); err != nil {
			ix.ectx.Logger.Warn("declare segment in use", "segment", info.ID, "error", err)
		}
		ix.readers[info.ID] = r
	}
	for id, r := range ix.readers {
		if _, ok := live[id]; ok {
			continue
		}
		_ = r.Close()
		_ = ix.st.Registry().Release(id)
		delete(ix.readers, id)
	}
}

// Optimize commits and merges every segment into one.
func (ix *Indexer) Optimize(ctx context.Context) (*manifest.Manifest, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.initLocked(ctx); err != nil {
		return nil, err
	}
	if _, err := ix.commitLocked(ctx, false); err != nil {
		return nil, err
	}
	if len(ix.man.Segments) == 1 {
		if r, ok := ix.readers[ix.man.Segments[0].ID]; ok && r.LiveCount() == r.DocCount() {
			return ix.man, nil
		}
	}
	if err := ix.mergeLocked(ctx, merge.All{}, true); err != nil {
		return nil, err
	}
	return ix.man, nil
}

// Truncate discards the buffer and replaces every segment with one empty
// segment. The field registry is kept.
func (ix *Indexer) Truncate(ctx context.Context) (*manifest.Manifest, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.initLocked(ctx); err != nil {
		return nil, err
	}
	ix.mem = newMemTable()
	ix.releaseMemory()
	clear(ix.pending)

	next, _, err := ix.merger.Truncate(ctx, ix.work)
	if err != nil {
		return nil, err
	}
	ix.install(next)
	if _, err := ix.st.RemoveDeletables(next); err != nil {
		ix.ectx.Logger.Warn("remove truncated segments", "error", err)
	}
	ix.ectx.Logger.Info("truncated", "version", next.Version)
	return ix.man, nil
}

// Close commits, runs the merge policy once and releases the index lock.
func (ix *Indexer) Close(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	switch ix.state {
	case stateClosed:
		return nil
	case stateUninitialized:
		ix.state = stateClosed
		return nil
	}

	var errs []error
	if _, err := ix.commitLocked(ctx, false); err != nil {
		errs = append(errs, err)
	} else if err := ix.mergeLocked(ctx, ix.opts.Policy, true); err != nil {
		ix.ectx.Logger.Warn("merge on close", "error", err)
	}

	for id, r := range ix.readers {
		_ = r.Close()
		_ = ix.st.Registry().Release(id)
	}
	clear(ix.readers)
	ix.releaseMemory()
	ix.state = stateClosed
	if err := ix.st.Locks().Release(lock.Index); err != nil {
		errs = append(errs, err)
	}
	ix.ectx.Logger.Info("indexer closed")
	return errors.Join(errs...)
}
