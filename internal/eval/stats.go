package eval

import (
	"math"
	"strings"

	"github.com/hupe1980/lexgo/internal/query"
	"github.com/hupe1980/lexgo/internal/segment"
)

// Stats holds the corpus-wide statistics of one query, gathered once
// across all live segments before any segment is evaluated.
type Stats struct {
	// Docs is the number of live documents.
	Docs uint64

	df  map[segment.Key]uint32
	est map[*query.Leaf]float64
}

// CollectStats walks the leaves of root once against every reader.
// Wildcards and ranges expand to at most maxExpansion distinct terms.
func CollectStats(readers []*segment.Reader, root *query.Node, maxExpansion int) *Stats {
	if maxExpansion <= 0 {
		maxExpansion = DefaultMaxExpansion
	}
	st := &Stats{
		df:  make(map[segment.Key]uint32),
		est: make(map[*query.Leaf]float64),
	}
	for _, r := range readers {
		st.Docs += uint64(r.LiveCount())
	}

	root.Walk(func(l *query.Leaf) {
		switch l.Kind {
		case query.KindTerm, query.KindTermList:
			var sum float64
			for _, t := range l.Terms {
				sum += float64(st.lookup(readers, l.Ord, t))
			}
			st.est[l] = sum
		case query.KindPhrase:
			least := math.Inf(1)
			for _, t := range l.Terms {
				least = math.Min(least, float64(st.lookup(readers, l.Ord, t)))
			}
			st.est[l] = least
		case query.KindWildCard, query.KindRange:
			var terms []string
			seen := make(map[string]struct{})
			for _, r := range readers {
				expand(r, l, maxExpansion, func(ti segment.TermInfo) bool {
					if _, ok := seen[ti.Term]; ok {
						return true
					}
					if len(seen) >= maxExpansion {
						return false
					}
					seen[ti.Term] = struct{}{}
					terms = append(terms, ti.Term)
					return true
				})
			}
			var sum float64
			for _, t := range terms {
				sum += float64(st.lookup(readers, l.Ord, t))
			}
			st.est[l] = sum
		case query.KindDigit, query.KindCoord, query.KindAll:
			st.est[l] = float64(st.Docs)
		default:
			st.est[l] = 0
		}
	})
	return st
}

func (st *Stats) lookup(readers []*segment.Reader, ord uint16, term string) uint32 {
	k := segment.Key{Ord: ord, Term: term}
	if df, ok := st.df[k]; ok {
		return df
	}
	var df uint32
	for _, r := range readers {
		if ti, ok := r.Lookup(ord, term); ok {
			df += ti.DocFreq
		}
	}
	st.df[k] = df
	return df
}

// DocFreq is the corpus document frequency of a term. Deleted documents
// still count until a merge drops them.
func (st *Stats) DocFreq(ord uint16, term string) (uint32, bool) {
	df, ok := st.df[segment.Key{Ord: ord, Term: term}]
	return df, ok
}

// IDF is the inverse document frequency of a term. fallback is used for
// terms the statistics pass did not see.
func (st *Stats) IDF(ord uint16, term string, fallback uint32) float64 {
	df, ok := st.DocFreq(ord, term)
	if !ok {
		df = fallback
	}
	return 1 + math.Log(float64(st.Docs+1)/float64(df+1))
}

// Estimate is the estimated number of documents l matches.
func (st *Stats) Estimate(l *query.Leaf) float64 {
	return st.est[l]
}

// expand calls fn for the dictionary entries a WildCard or Range leaf
// covers in r, at most limit of them.
func expand(r *segment.Reader, l *query.Leaf, limit int, fn func(segment.TermInfo) bool) {
	if limit <= 0 {
		limit = DefaultMaxExpansion
	}
	n := 0
	visit := func(ti segment.TermInfo) bool {
		n++
		return fn(ti) && n < limit
	}
	switch {
	case l.Kind == query.KindRange:
		r.TermRange(l.Ord, l.From, l.To, visit)
	case l.Wild == query.WildPrefix:
		r.Terms(l.Ord, l.Terms[0], visit)
	default:
		suffix := l.Terms[0]
		r.Terms(l.Ord, "", func(ti segment.TermInfo) bool {
			if !strings.HasSuffix(ti.Term, suffix) {
				return true
			}
			return visit(ti)
		})
	}
}
