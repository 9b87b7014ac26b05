package merge

import (
	"container/heap"
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/lexgo/internal/engine"
	"github.com/hupe1980/lexgo/internal/lock"
	"github.com/hupe1980/lexgo/internal/manifest"
	"github.com/hupe1980/lexgo/internal/resource"
	"github.com/hupe1980/lexgo/internal/segment"
	"github.com/hupe1980/lexgo/internal/storage"
)

const dropped = math.MaxUint32

// Options configure a Merger.
type Options struct {
	Compression segment.Compression
	// LazyEvery makes the merge sleep LazySleep after this many processed
	// terms or documents. Zero disables lazy merging.
	LazyEvery int
	LazySleep time.Duration
}

// Result summarizes an installed merge.
type Result struct {
	Segment   manifest.SegmentInfo
	Inputs    []uint64
	Dropped   int // deleted documents left out
	Reapplied int // deletions that arrived while merging
}

// Merger folds segments into one and installs the result in the manifest.
type Merger struct {
	ectx *engine.Context
	st   *storage.Storage
	opts Options
}

// New creates a merger.
func New(ectx *engine.Context, st *storage.Storage, opts Options) *Merger {
	return &Merger{ectx: ectx, st: st, opts: opts}
}

// Run merges the segments picked by p. It returns the flushed manifest and
// the merge summary, or man and nil when the policy picked nothing.
func (m *Merger) Run(ctx context.Context, man *manifest.Manifest, p Policy) (*manifest.Manifest, *Result, error) {
	task := p.Pick(man.Segments)
	if task == nil {
		return man, nil, nil
	}
	return m.Merge(ctx, man, task.Segments, false)
}

// TryRun is Run without waiting for a background slot. It returns man and
// nil when every slot is busy.
func (m *Merger) TryRun(ctx context.Context, man *manifest.Manifest, p Policy) (*manifest.Manifest, *Result, error) {
	task := p.Pick(man.Segments)
	if task == nil {
		return man, nil, nil
	}
	if !m.ectx.Resources.TryAcquireBackground() {
		m.ectx.Logger.Debug("merge skipped", "reason", "background slots busy", "inputs", len(task.Segments))
		return man, nil, nil
	}
	defer m.ectx.Resources.ReleaseBackground()
	return m.merge(ctx, man, task.Segments, false)
}

// Truncate replaces every segment of man with one empty segment.
func (m *Merger) Truncate(ctx context.Context, man *manifest.Manifest) (*manifest.Manifest, *Result, error) {
	return m.Merge(ctx, man, man.SegmentIDs(), true)
}

// Merge writes the live documents of ids into a new segment, replaces the
// inputs in a clone of man and flushes it. With truncate every document is
// dropped. Input files are removed once no process declares them in use.
func (m *Merger) Merge(ctx context.Context, man *manifest.Manifest, ids []uint64, truncate bool) (*manifest.Manifest, *Result, error) {
	if err := m.ectx.Resources.AcquireBackground(ctx); err != nil {
		return nil, nil, err
	}
	defer m.ectx.Resources.ReleaseBackground()
	return m.merge(ctx, man, ids, truncate)
}

// merge runs with a background slot held by the caller.
func (m *Merger) merge(ctx context.Context, man *manifest.Manifest, ids []uint64, truncate bool) (_ *manifest.Manifest, _ *Result, err error) {
	start := time.Now()
	var docs int
	defer func() {
		m.ectx.Metrics.OnMerge(time.Since(start), len(ids), docs, err)
	}()

	if err := m.st.Locks().Acquire(ctx, lock.Merge); err != nil {
		return nil, nil, err
	}
	defer func() {
		if relErr := m.st.Locks().Release(lock.Merge); relErr != nil {
			m.ectx.Logger.Warn("release merge lock", "error", relErr)
		}
	}()

	readers, err := m.openInputs(man, ids)
	if err != nil {
		return nil, nil, err
	}
	inputsOpen := true
	closeInputs := func() {
		if !inputsOpen {
			return
		}
		inputsOpen = false
		for _, r := range readers {
			_ = r.Close()
		}
		_ = m.st.Registry().Release(ids...)
	}
	defer closeInputs()

	next := man.Clone()
	id := next.AllocSegmentID()
	w, dir, err := m.st.CreateSegment(id, segment.WriterOptions{
		Compression: m.opts.Compression,
		Wrap: func(out io.Writer) io.Writer {
			return resource.NewRateLimitedWriter(ctx, out, m.ectx.Resources)
		},
	})
	if err != nil {
		return nil, nil, err
	}
	defer m.st.ReleaseSegment(id)

	job := newJob(m, readers, truncate)
	if err := job.write(ctx, w); err != nil {
		w.Abort()
		return nil, nil, fmt.Errorf("merge into %d: %w", id, err)
	}
	info, err := w.Finish()
	if err != nil {
		return nil, nil, fmt.Errorf("merge into %d: %w", id, err)
	}

	out := manifest.SegmentInfo{ID: id, DocCount: info.DocCount, Dir: dir, Size: info.Size}
	reapplied, err := job.reapply(m.st, out)
	if err != nil {
		_ = m.st.RemoveSegment(out)
		return nil, nil, fmt.Errorf("merge into %d: reapply deletions: %w", id, err)
	}

	next.ReplaceSegments(ids, out)
	if err := m.st.Manifests().Flush(next); err != nil {
		_ = m.st.RemoveSegment(out)
		return nil, nil, err
	}
	docs = int(out.DocCount)

	closeInputs()
	if _, err := m.st.RemoveDeletables(next); err != nil {
		m.ectx.Logger.Warn("remove merged segments", "error", err)
	}

	res := &Result{Segment: out, Inputs: ids, Dropped: job.dropped, Reapplied: reapplied}
	m.ectx.Logger.Info("merged segments",
		"inputs", len(ids), "segment", id, "docs", out.DocCount,
		"dropped", job.dropped, "elapsed", time.Since(start))
	return next, res, nil
}

func (m *Merger) openInputs(man *manifest.Manifest, ids []uint64) ([]*segment.Reader, error) {
	if err := m.st.Registry().Retain(ids...); err != nil {
		return nil, err
	}
	readers := make([]*segment.Reader, 0, len(ids))
	for _, id := range ids {
		info, ok := man.Segment(id)
		if !ok {
			err := fmt.Errorf("merge: segment %d is not live", id)
			return nil, m.abandon(readers, ids, err)
		}
		r, err := m.st.OpenSegment(info, m.ectx.Buffers)
		if err != nil {
			m.ectx.Logger.Warn("open merge input", "segment", id, "error", err)
			return nil, m.abandon(readers, ids, err)
		}
		r.AdviseSequential()
		readers = append(readers, r)
	}
	return readers, nil
}

func (m *Merger) abandon(readers []*segment.Reader, ids []uint64, err error) error {
	for _, r := range readers {
		_ = r.Close()
	}
	_ = m.st.Registry().Release(ids...)
	return err
}

// job holds the state of one merge: the deletions each input had when the
// merge started and the resulting docID remap.
type job struct {
	m        *Merger
	readers  []*segment.Reader
	snapshot []*roaring.Bitmap
	remap    [][]uint32
	docCount uint32
	dropped  int
	ticks    int
}

func newJob(m *Merger, readers []*segment.Reader, truncate bool) *job {
	j := &job{
		m:        m,
		readers:  readers,
		snapshot: make([]*roaring.Bitmap, len(readers)),
		remap:    make([][]uint32, len(readers)),
	}
	for i, r := range readers {
		del := r.Deleted()
		j.snapshot[i] = del
		remap := make([]uint32, r.DocCount())
		for doc := range remap {
			if truncate || del.Contains(uint32(doc)) {
				remap[doc] = dropped
				j.dropped++
				continue
			}
			remap[doc] = j.docCount
			j.docCount++
		}
		j.remap[i] = remap
	}
	return j
}

func (j *job) tick(ctx context.Context) error {
	j.ticks++
	opts := j.m.opts
	if opts.LazyEvery <= 0 || j.ticks%opts.LazyEvery != 0 || opts.LazySleep <= 0 {
		return nil
	}
	timer := time.NewTimer(opts.LazySleep)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (j *job) write(ctx context.Context, w *segment.Writer) error {
	if err := j.writeDocuments(ctx, w); err != nil {
		return err
	}
	if err := j.writeColumns(w); err != nil {
		return err
	}
	return j.writeTerms(ctx, w)
}

func (j *job) writeDocuments(ctx context.Context, w *segment.Writer) error {
	sess := j.m.ectx.Buffers.NewSession()
	defer sess.Close()

	for i, r := range j.readers {
		if err := ctx.Err(); err != nil {
			return err
		}
		var slot *resource.Slot
		if r.Scope() != nil {
			slot = sess.Slot(r.Scope())
		}
		for doc, out := range j.remap[i] {
			if out == dropped {
				continue
			}
			row, err := r.Document(uint32(doc), slot)
			if err != nil {
				return err
			}
			if _, err := w.AddDocument(row); err != nil {
				return err
			}
			if err := j.tick(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (j *job) writeColumns(w *segment.Writer) error {
	widths := make(map[segment.ColumnKey]uint8)
	for _, r := range j.readers {
		for _, key := range r.Columns() {
			c, _ := r.Column(key)
			if c.Width > widths[key] {
				widths[key] = c.Width
			}
		}
	}

	for key, width := range widths {
		data := make([]byte, int(width)*int(j.docCount))
		for i, r := range j.readers {
			c, ok := r.Column(key)
			if !ok {
				continue
			}
			for doc, out := range j.remap[i] {
				if out == dropped {
					continue
				}
				dst := data[int(out)*int(width) : int(out+1)*int(width)]
				if c.Width == width {
					copy(dst, c.Raw(uint32(doc)))
					continue
				}
				putUint(dst, c.Uint(uint32(doc)))
			}
		}
		if err := w.SetColumn(key, width, data); err != nil {
			return err
		}
	}
	return nil
}

func putUint(dst []byte, v uint64) {
	for i := range dst {
		dst[i] = byte(v >> (8 * i))
	}
}

func (j *job) writeTerms(ctx context.Context, w *segment.Writer) error {
	h := make(cursorHeap, 0, len(j.readers))
	for i, r := range j.readers {
		d := r.Dictionary()
		if d.Next() {
			h = append(h, &cursor{input: i, dict: d, key: d.Key()})
		}
	}
	heap.Init(&h)

	var postings []segment.Posting
	for h.Len() > 0 {
		key := h[0].key
		postings = postings[:0]
		withPositions := false

		for h.Len() > 0 && h[0].key == key {
			c := h[0]
			r := j.readers[c.input]
			pl := r.Postings(c.dict.Entry())
			hasPositions := pl.HasPositions()
			withPositions = withPositions || hasPositions
			remap := j.remap[c.input]
			for pl.Next() {
				out := remap[pl.Doc()]
				if out == dropped {
					continue
				}
				p := segment.Posting{Doc: out, Freq: pl.Freq()}
				if hasPositions {
					p.Positions = pl.Positions(nil)
				}
				postings = append(postings, p)
			}
			if pl.Err() {
				return fmt.Errorf("%w: segment %d term %d/%q", segment.ErrCorrupt, r.ID(), key.Ord, key.Term)
			}

			if c.dict.Next() {
				c.key = c.dict.Key()
				heap.Fix(&h, 0)
			} else {
				heap.Pop(&h)
			}
		}

		if len(postings) > 0 {
			if err := w.AddTerm(key, postings, withPositions); err != nil {
				return err
			}
		}
		if err := j.tick(ctx); err != nil {
			return err
		}
	}
	return nil
}

// reapply copies deletions that landed on the inputs after the merge
// started onto the output segment.
func (j *job) reapply(st *storage.Storage, out manifest.SegmentInfo) (int, error) {
	mapped := roaring.New()
	for i, r := range j.readers {
		if _, err := r.ReloadDeletions(); err != nil {
			return 0, err
		}
		extra := roaring.AndNot(r.Deleted(), j.snapshot[i])
		it := extra.Iterator()
		for it.HasNext() {
			doc := it.Next()
			if int(doc) >= len(j.remap[i]) {
				continue
			}
			if o := j.remap[i][doc]; o != dropped {
				mapped.Add(o)
			}
		}
	}
	if mapped.IsEmpty() {
		return 0, nil
	}
	r, err := st.OpenSegment(out, nil)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	return r.Delete(mapped)
}

type cursor struct {
	input int
	dict  *segment.Dictionary
	key   segment.Key
}

// cursorHeap orders cursors by key, then by input so that postings of equal
// keys are gathered in output docID order.
type cursorHeap []*cursor

func (h cursorHeap) Len() int { return len(h) }
func (h cursorHeap) Less(i, j int) bool {
	if c := h[i].key.Compare(h[j].key); c != 0 {
		return c < 0
	}
	return h[i].input < h[j].input
}
func (h cursorHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *cursorHeap) Push(x any)   { *h = append(*h, x.(*cursor)) }
func (h *cursorHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}
