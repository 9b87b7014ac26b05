package eval

import (
	"math"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/lexgo/document"
	"github.com/hupe1980/lexgo/internal/query"
	"github.com/hupe1980/lexgo/internal/segment"
)

// segEval evaluates a plan against one segment.
type segEval struct {
	r       *segment.Reader
	st      *Stats
	maxExp  int
	scores  []float32 // nil for unscored evaluation
	terms   map[string]struct{}
	corrupt bool
	posBufs [][]uint32
}

func newSegEval(r *segment.Reader, st *Stats, maxExp int, scored bool, terms map[string]struct{}) *segEval {
	s := &segEval{r: r, st: st, maxExp: maxExp, terms: terms}
	if scored {
		s.scores = make([]float32, r.DocCount())
	}
	return s
}

// run evaluates p and drops deleted documents from the final hit set.
func (s *segEval) run(p *Plan) result {
	res := s.eval(p, nil)
	if res.out != Matched {
		return res
	}
	res.docs.AndNot(s.r.Deleted())
	return matched(res.docs)
}

// eval is a post-order walk. The hit set of the first operand of a binary
// node restricts the candidates of the second.
func (s *segEval) eval(p *Plan, cand *roaring.Bitmap) result {
	if p.Leaf != nil {
		return s.leaf(p, cand)
	}
	switch p.Op {
	case query.OpOr:
		l := s.eval(p.Left, cand)
		r := s.eval(p.Right, cand)
		switch {
		case l.out == Stopword:
			return r
		case r.out == Stopword, r.out == NoMatch:
			return l
		case l.out == NoMatch:
			return r
		}
		l.docs.Or(r.docs)
		return matched(l.docs)
	case query.OpNot:
		l := s.eval(p.Left, cand)
		if l.out != Matched {
			return l
		}
		r := s.eval(p.Right, l.docs)
		if r.out != Matched {
			return l
		}
		l.docs.AndNot(r.docs)
		return matched(l.docs)
	default:
		l := s.eval(p.Left, cand)
		switch l.out {
		case NoMatch:
			return l
		case Stopword:
			return s.eval(p.Right, cand)
		}
		r := s.eval(p.Right, l.docs)
		switch r.out {
		case NoMatch:
			return r
		case Stopword:
			return l
		}
		l.docs.And(r.docs)
		return matched(l.docs)
	}
}

func (s *segEval) leaf(p *Plan, cand *roaring.Bitmap) result {
	l := p.Leaf
	scored := p.Scored && s.scores != nil
	docs := roaring.New()
	switch l.Kind {
	case query.KindNoOp, query.KindRaw:
		return result{out: Stopword}
	case query.KindAll:
		docs.AddRange(0, uint64(s.r.DocCount()))
		if cand != nil {
			docs.And(cand)
		}
	case query.KindTerm:
		if ti, ok := s.r.Lookup(l.Ord, l.Terms[0]); ok {
			s.postings(l, ti, scored, cand, docs)
		}
	case query.KindTermList:
		infos := make([]segment.TermInfo, 0, len(l.Terms))
		for _, t := range l.Terms {
			if ti, ok := s.r.Lookup(l.Ord, t); ok {
				infos = append(infos, ti)
			}
		}
		slices.SortFunc(infos, func(a, b segment.TermInfo) int { return int(a.DocFreq) - int(b.DocFreq) })
		for _, ti := range infos {
			s.postings(l, ti, scored, cand, docs)
		}
	case query.KindPhrase:
		s.phrase(l, scored, cand, docs)
	case query.KindWildCard, query.KindRange:
		expand(s.r, l, s.maxExp, func(ti segment.TermInfo) bool {
			s.postings(l, ti, scored, cand, docs)
			return true
		})
	case query.KindDigit:
		s.digit(l, cand, docs)
	case query.KindCoord:
		s.coord(l, cand, docs)
	}
	return matched(docs)
}

// postings adds the documents of one term to docs.
func (s *segEval) postings(l *query.Leaf, ti segment.TermInfo, scored bool, cand, docs *roaring.Bitmap) {
	pl := s.r.Postings(ti)
	var idf float64
	if scored {
		idf = s.st.IDF(l.Ord, ti.Term, ti.DocFreq)
	}
	hit := false
	visit := func() {
		doc := pl.Doc()
		docs.Add(doc)
		hit = true
		if scored {
			s.scores[doc] += s.score(l, doc, pl.Freq(), idf)
		}
	}
	if cand != nil && cand.GetCardinality()*4 < uint64(ti.DocFreq) {
		it := cand.Iterator()
		for it.HasNext() {
			doc := it.Next()
			if !pl.Advance(doc) {
				break
			}
			if pl.Doc() == doc {
				visit()
			}
		}
	} else {
		for pl.Next() {
			if cand == nil || cand.Contains(pl.Doc()) {
				visit()
			}
		}
	}
	if pl.Err() {
		s.corrupt = true
	}
	if hit && scored {
		s.terms[ti.Term] = struct{}{}
	}
}

// phrase matches documents holding every term at its relative offset,
// give or take the slop. Without indexed positions it degrades to an AND.
func (s *segEval) phrase(l *query.Leaf, scored bool, cand, docs *roaring.Bitmap) {
	n := len(l.Terms)
	cursors := make([]*segment.Postings, n)
	idf := 0.0
	for i, t := range l.Terms {
		ti, ok := s.r.Lookup(l.Ord, t)
		if !ok {
			return
		}
		cursors[i] = s.r.Postings(ti)
		w := s.st.IDF(l.Ord, t, ti.DocFreq)
		idf += w * w
	}
	positional := true
	for _, c := range cursors {
		positional = positional && c.HasPositions()
	}
	if cap(s.posBufs) < n {
		s.posBufs = make([][]uint32, n)
	}
	bufs := s.posBufs[:n]

	lead := cursors[0]
	ok := lead.Next()
	for ok {
		target := lead.Doc()
		if cand != nil && !cand.Contains(target) {
			ok = lead.Next()
			continue
		}
		aligned := true
		for _, c := range cursors[1:] {
			if !c.Advance(target) {
				s.checkCorrupt(cursors)
				return
			}
			if d := c.Doc(); d > target {
				aligned = false
				ok = lead.Advance(d)
				break
			}
		}
		if !aligned {
			continue
		}

		freq := lead.Freq()
		if positional {
			for i, c := range cursors {
				bufs[i] = c.Positions(bufs[i][:0])
			}
			freq = phraseFreq(bufs, l.Offsets, l.Slop)
		}
		if freq > 0 {
			docs.Add(target)
			if scored {
				s.scores[target] += s.scoreIDF(l, target, freq, idf)
			}
		}
		ok = lead.Next()
	}
	s.checkCorrupt(cursors)
	if scored && !docs.IsEmpty() {
		for _, t := range l.Terms {
			s.terms[t] = struct{}{}
		}
	}
}

func (s *segEval) checkCorrupt(cursors []*segment.Postings) {
	for _, c := range cursors {
		if c.Err() {
			s.corrupt = true
		}
	}
}

// phraseFreq counts the anchor positions of the first term at which every
// other term sits at its offset within slop.
func phraseFreq(positions [][]uint32, offsets []uint32, slop int) uint32 {
	var freq uint32
	for _, p0 := range positions[0] {
		ok := true
		for i := 1; i < len(positions) && ok; i++ {
			want := int(p0) + int(offsets[i])
			ok = near(positions[i], want, slop)
		}
		if ok {
			freq++
		}
	}
	return freq
}

func near(positions []uint32, want, slop int) bool {
	for _, p := range positions {
		d := int(p) - want
		if d >= -slop && d <= slop {
			return true
		}
		if d > slop {
			return false
		}
	}
	return false
}

// each calls fn for every candidate, or every document when cand is nil.
func (s *segEval) each(cand *roaring.Bitmap, fn func(doc uint32)) {
	if cand != nil {
		it := cand.Iterator()
		for it.HasNext() {
			fn(it.Next())
		}
		return
	}
	for doc := uint32(0); doc < s.r.DocCount(); doc++ {
		fn(doc)
	}
}

// digit tests a numeric or bit column. Documents without a value read 0.
func (s *segEval) digit(l *query.Leaf, cand, docs *roaring.Bitmap) {
	col, ok := s.r.Column(segment.ColumnKey{Ord: l.Ord})
	s.each(cand, func(doc uint32) {
		var v int64
		switch {
		case !ok:
		case l.Type.Kind == document.KindBit:
			v = int64(col.Uint(doc))
		default:
			v = col.Int(doc)
		}
		if l.Digit.Match(v) {
			docs.Add(doc)
		}
	})
}

func (s *segEval) coord(l *query.Leaf, cand, docs *roaring.Bitmap) {
	col, ok := s.r.Column(segment.ColumnKey{Ord: l.Ord})
	if !ok {
		return
	}
	g := l.Geo
	s.each(cand, func(doc uint32) {
		lat, lon := Point(col, l.Type, doc)
		if Distance(g.Lat, g.Lon, lat, lon) <= g.Km {
			docs.Add(doc)
		}
	})
}

// score is the TF-IDF contribution of one term occurrence count.
func (s *segEval) score(l *query.Leaf, doc, freq uint32, idf float64) float32 {
	return s.scoreIDF(l, doc, freq, idf*idf)
}

func (s *segEval) scoreIDF(l *query.Leaf, doc, freq uint32, idf float64) float32 {
	norm := 1.0
	if n := s.r.Norm(l.Ord, doc); n > 0 {
		norm = 1 / math.Sqrt(float64(n))
	}
	return float32(float64(l.Weight) * math.Sqrt(float64(freq)) * idf * norm)
}
