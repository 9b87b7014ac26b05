package eval

import (
	"context"
	"log/slog"
	"math"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/lexgo/document"
	"github.com/hupe1980/lexgo/internal/engine"
	"github.com/hupe1980/lexgo/internal/query"
	"github.com/hupe1980/lexgo/internal/segment"
)

const (
	// DefaultMaxExpansion caps the terms one wildcard or range expands to.
	DefaultMaxExpansion = 1024
	// DefaultRandomScanLimit is the largest page served by a bounded scan.
	DefaultRandomScanLimit = 100
)

// Options tunes the evaluator. Zero values select defaults.
type Options struct {
	MaxExpansion    int
	RandomScanLimit int
}

// Evaluator runs compiled queries against a set of segment readers.
type Evaluator struct {
	logger *slog.Logger
	opts   Options
}

// New returns an evaluator.
func New(ectx *engine.Context, opts Options) *Evaluator {
	if opts.MaxExpansion <= 0 {
		opts.MaxExpansion = DefaultMaxExpansion
	}
	if opts.RandomScanLimit <= 0 {
		opts.RandomScanLimit = DefaultRandomScanLimit
	}
	return &Evaluator{logger: ectx.Logger, opts: opts}
}

// Request is one evaluation.
type Request struct {
	Query *query.Query
	Sort  Sort
	// Limit is the bucket size: offset plus page size.
	Limit int
	// EstimateTotal allows skipping segments once an unsorted bucket is
	// full, extrapolating the total from the hit ratio seen so far.
	EstimateTotal bool
}

// Result is a ranked bucket.
type Result struct {
	Hits       []Hit
	Total      uint64
	Estimated  bool
	Highlights []string
}

// Search evaluates req against readers, given in manifest order.
func (e *Evaluator) Search(ctx context.Context, readers []*segment.Reader, req Request) (*Result, error) {
	st := CollectStats(readers, req.Query.Root, e.opts.MaxExpansion)
	plan := Optimize(req.Query.Root, st)

	srt := req.Sort
	scored := srt.By == SortScore && req.Query.Scored()
	switch {
	case srt.By == SortScore && !scored:
		srt.By = SortNone
	case srt.By == SortColumn && !anyColumn(readers, srt.Ord):
		srt.By = SortNone
	}

	if srt.By == SortNone && plan.Leaf != nil && plan.Leaf.Kind == query.KindTerm && req.Limit <= e.opts.RandomScanLimit {
		return e.randomScan(ctx, readers, plan.Leaf, req.Limit)
	}

	b := newBucket(req.Limit, srt)
	terms := make(map[string]struct{})
	res := &Result{}
	var scanned uint64
	for i, r := range readers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if srt.By == SortNone && req.EstimateTotal && b.full() && scanned > 0 {
			res.Total = uint64(math.Round(float64(res.Total) * float64(st.Docs) / float64(scanned)))
			res.Estimated = true
			break
		}
		se := newSegEval(r, st, e.opts.MaxExpansion, scored, terms)
		out := se.run(plan)
		if se.corrupt {
			e.logger.Warn("corrupt postings", "segment", r.ID())
		}
		scanned += uint64(r.LiveCount())
		if out.out != Matched {
			continue
		}
		res.Total += collect(b, srt, i, r, out.docs, se.scores)
	}
	res.Hits = b.sorted()
	res.Highlights = Highlights(terms)
	return res, nil
}

// collect adds the hits of one segment to b and returns how many passed
// the sort filter.
func collect(b *bucket, srt Sort, seg int, r *segment.Reader, docs *roaring.Bitmap, scores []float32) uint64 {
	if srt.By == SortNone && b.full() {
		return docs.GetCardinality()
	}
	col, hasCol := r.Column(segment.ColumnKey{Ord: srt.Ord})
	if srt.By == SortGeo && !hasCol && srt.Geo.Km > 0 {
		return 0
	}

	var n uint64
	it := docs.Iterator()
	for it.HasNext() {
		doc := it.Next()
		h := Hit{SegIndex: seg, Segment: r.ID(), Doc: doc}
		if scores != nil {
			h.Score = scores[doc]
		}
		switch srt.By {
		case SortColumn:
			if hasCol {
				if srt.Type.Kind == document.KindBit {
					h.Key = float64(col.Uint(doc))
				} else {
					h.Key = float64(col.Int(doc))
				}
			}
		case SortGeo:
			h.Key = math.Inf(1)
			if hasCol {
				lat, lon := Point(col, srt.Type, doc)
				h.Key = Distance(srt.Geo.Lat, srt.Geo.Lon, lat, lon)
			}
			if srt.Geo.Km > 0 && h.Key > srt.Geo.Km {
				continue
			}
		}
		n++
		b.add(h)
	}
	return n
}

// randomScan serves a small unsorted single-term page straight from the
// postings, stopping as soon as the page is full. The total is the document
// frequency of segments without deletions plus the live postings counted in
// the others, so it is exact.
func (e *Evaluator) randomScan(ctx context.Context, readers []*segment.Reader, l *query.Leaf, k int) (*Result, error) {
	b := newBucket(k, Sort{By: SortNone})
	res := &Result{}
	for i, r := range readers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ti, ok := r.Lookup(l.Ord, l.Terms[0])
		if !ok {
			continue
		}
		del := r.Deleted()
		if del.IsEmpty() {
			res.Total += uint64(ti.DocFreq)
			if b.full() {
				continue
			}
		}
		pl := r.Postings(ti)
		for pl.Next() {
			doc := pl.Doc()
			if del.Contains(doc) {
				continue
			}
			if !del.IsEmpty() {
				res.Total++
			}
			if !b.full() {
				b.add(Hit{SegIndex: i, Segment: r.ID(), Doc: doc})
			} else if del.IsEmpty() {
				break
			}
		}
		if pl.Err() {
			e.logger.Warn("corrupt postings", "segment", r.ID())
		}
	}
	res.Hits = b.sorted()
	if l.Scored() && len(res.Hits) > 0 {
		res.Highlights = Highlights(map[string]struct{}{l.Terms[0]: {}})
	}
	return res, nil
}

// Match returns the live documents q matches in every reader, unranked and
// unbounded. Readers without matches map to nil.
func (e *Evaluator) Match(ctx context.Context, readers []*segment.Reader, q *query.Query) ([]*roaring.Bitmap, uint64, error) {
	st := CollectStats(readers, q.Root, e.opts.MaxExpansion)
	plan := Optimize(q.Root, st)
	out := make([]*roaring.Bitmap, len(readers))
	var total uint64
	for i, r := range readers {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		se := newSegEval(r, st, e.opts.MaxExpansion, false, nil)
		res := se.run(plan)
		if se.corrupt {
			e.logger.Warn("corrupt postings", "segment", r.ID())
		}
		if res.out == Matched {
			out[i] = res.docs
			total += res.docs.GetCardinality()
		}
	}
	return out, total, nil
}

func anyColumn(readers []*segment.Reader, ord uint16) bool {
	for _, r := range readers {
		if _, ok := r.Column(segment.ColumnKey{Ord: ord}); ok {
			return true
		}
	}
	return false
}
