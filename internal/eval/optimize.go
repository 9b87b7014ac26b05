package eval

import (
	"math"

	"github.com/hupe1980/lexgo/internal/query"
)

// Plan is an evaluation tree. Children of an AND node are stored in
// evaluation order; the second child only examines documents the first
// one matched.
type Plan struct {
	// Op is OpAnd, OpOr or OpNot for inner nodes and 0 for leaves.
	Op          query.Op
	Leaf        *query.Leaf
	Left, Right *Plan
	// Scored is false below filters and exclusions.
	Scored bool
	// Cost estimates the number of matching documents.
	Cost float64
}

// String renders p in prefix form. Unscored leaves carry a '/' prefix.
func (p *Plan) String() string {
	if p.Leaf != nil {
		s := p.Leaf.String()
		if !p.Scored && p.Leaf.Scored() {
			s = "/" + s
		}
		return s
	}
	return "(" + p.Op.String() + " " + p.Left.String() + " " + p.Right.String() + ")"
}

// Optimize builds an evaluation plan from root without modifying it.
//
// AND operands are reordered so that the cheaper side runs first; phrases
// run before wildcards and column scans run last, where they only test the
// surviving candidates. Filters become ANDs whose right side is unscored.
func Optimize(root *query.Node, st *Stats) *Plan {
	return optimize(root, st, true)
}

func optimize(n *query.Node, st *Stats, scored bool) *Plan {
	if n.IsLeaf() {
		return &Plan{Leaf: n.Leaf, Scored: scored && n.Leaf.Scored(), Cost: st.Estimate(n.Leaf)}
	}
	switch n.Op {
	case query.OpOr:
		l := optimize(n.Left, st, scored)
		r := optimize(n.Right, st, scored)
		return &Plan{Op: query.OpOr, Left: l, Right: r, Scored: scored, Cost: math.Min(l.Cost+r.Cost, float64(st.Docs))}
	case query.OpNot:
		l := optimize(n.Left, st, scored)
		r := optimize(n.Right, st, false)
		return &Plan{Op: query.OpNot, Left: l, Right: r, Scored: scored, Cost: l.Cost}
	default:
		l := optimize(n.Left, st, scored)
		r := optimize(n.Right, st, scored && n.Op == query.OpAnd)
		if runSecond(l, r) {
			l, r = r, l
		}
		return &Plan{Op: query.OpAnd, Left: l, Right: r, Scored: scored, Cost: math.Min(l.Cost, r.Cost)}
	}
}

// runSecond reports whether a should be evaluated after b.
func runSecond(a, b *Plan) bool {
	if sa, sb := isScan(a), isScan(b); sa != sb {
		return sa
	}
	if isKind(a, query.KindWildCard) && isKind(b, query.KindPhrase) {
		return true
	}
	if isKind(a, query.KindPhrase) && isKind(b, query.KindWildCard) {
		return false
	}
	return b.Cost < a.Cost
}

// isScan reports whether p reads sort-map columns document by document.
func isScan(p *Plan) bool {
	return isKind(p, query.KindDigit) || isKind(p, query.KindCoord)
}

func isKind(p *Plan, k query.Kind) bool {
	return p.Leaf != nil && p.Leaf.Kind == k
}
