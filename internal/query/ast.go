package query

import (
	"strings"

	"github.com/hupe1980/lexgo/document"
)

// Op is a binary operator of the expression tree.
type Op byte

const (
	// OpAnd intersects both sides.
	OpAnd Op = '*'
	// OpFilter intersects both sides; the right side never contributes a score.
	OpFilter Op = '/'
	// OpOr unites both sides.
	OpOr Op = '+'
	// OpNot removes the right side from the left side.
	OpNot Op = '-'
)

func (o Op) String() string { return string(o) }

// Kind classifies a leaf.
type Kind uint8

const (
	// KindRaw is an unclassified leaf straight from the parser.
	KindRaw Kind = iota
	// KindTerm matches one term.
	KindTerm
	// KindTermList matches any of several terms.
	KindTermList
	// KindPhrase matches terms at fixed relative positions.
	KindPhrase
	// KindWildCard matches every term sharing a prefix or suffix.
	KindWildCard
	// KindRange matches terms within lexical bounds.
	KindRange
	// KindDigit tests a numeric or bit column.
	KindDigit
	// KindCoord matches points within a radius.
	KindCoord
	// KindAll matches every live document.
	KindAll
	// KindNoOp is neutral: it evaluates like a stop-word.
	KindNoOp
)

var kindNames = [...]string{"raw", "term", "termlist", "phrase", "wildcard", "range", "digit", "coord", "all", "noop"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Wildcard selects which end of a WildCard pattern is open.
type Wildcard uint8

const (
	// WildPrefix matches terms starting with the pattern (pre*).
	WildPrefix Wildcard = iota
	// WildSuffix matches terms ending with the pattern (*suf).
	WildSuffix
)

// Leaf is a single operand of the expression tree.
type Leaf struct {
	Kind Kind
	// Field is the field name the leaf targets, empty for unscoped raw leaves.
	Field string
	// Text is the value as written.
	Text string

	Ord    uint16
	Type   document.Type
	Weight float32

	// Terms holds the index terms of Term, TermList, Phrase and WildCard leaves.
	Terms []string
	// Offsets holds the position of each phrase term relative to the first.
	Offsets []uint32
	Slop    int
	Wild    Wildcard

	// From and To bound a Range leaf. Empty bounds are open.
	From, To string

	Digit Digit
	Geo   Geo
}

// Scored reports whether matches on the leaf contribute a score.
func (l *Leaf) Scored() bool {
	switch l.Kind {
	case KindTerm, KindTermList, KindPhrase, KindWildCard:
		return l.Type.Scorable()
	default:
		return false
	}
}

func (l *Leaf) String() string {
	var b strings.Builder
	if l.Field != "" {
		b.WriteString(l.Field)
		b.WriteByte(':')
	}
	switch l.Kind {
	case KindTerm, KindTermList, KindPhrase, KindWildCard:
		b.WriteString(l.Kind.String())
		b.WriteByte('(')
		b.WriteString(strings.Join(l.Terms, " "))
		b.WriteByte(')')
	case KindRaw:
		b.WriteString(l.Text)
	default:
		b.WriteString(l.Kind.String())
		b.WriteByte('(')
		b.WriteString(l.Text)
		b.WriteByte(')')
	}
	return b.String()
}

// Node is an immutable expression tree node: either a leaf or a binary
// operator over two subtrees.
type Node struct {
	Op          Op
	Left, Right *Node
	Leaf        *Leaf
}

// NewLeaf wraps l in a node.
func NewLeaf(l *Leaf) *Node { return &Node{Leaf: l} }

// NewBinary builds an operator node.
func NewBinary(op Op, left, right *Node) *Node {
	return &Node{Op: op, Left: left, Right: right}
}

// IsLeaf reports whether n is a leaf.
func (n *Node) IsLeaf() bool { return n.Leaf != nil }

// Walk calls fn for every leaf in left-to-right order.
func (n *Node) Walk(fn func(*Leaf)) {
	if n == nil {
		return
	}
	if n.IsLeaf() {
		fn(n.Leaf)
		return
	}
	n.Left.Walk(fn)
	n.Right.Walk(fn)
}

// String renders n in prefix form, e.g. "(* a b)".
func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	if n.IsLeaf() {
		return n.Leaf.String()
	}
	return "(" + n.Op.String() + " " + n.Left.String() + " " + n.Right.String() + ")"
}

// Query is a compiled query.
type Query struct {
	Text string
	Lang string
	Root *Node
}

// Scored reports whether any leaf contributes a score.
func (q *Query) Scored() bool {
	scored := false
	q.Root.Walk(func(l *Leaf) {
		if l.Scored() {
			scored = true
		}
	})
	return scored
}
