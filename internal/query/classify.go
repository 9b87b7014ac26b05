package query

import (
	"slices"
	"strings"

	"github.com/hupe1980/lexgo/analysis"
	"github.com/hupe1980/lexgo/document"
	"github.com/hupe1980/lexgo/internal/manifest"
)

// Options configures Compile.
type Options struct {
	Analyzer analysis.Analyzer
	Lang     string
	// DefaultOp joins adjacent operands. Zero means OpAnd.
	DefaultOp Op
	// DefaultFields receive unscoped leaves. When empty every scorable
	// field does.
	DefaultFields []string
	// Broadcast maps an alias to the fields it expands to.
	Broadcast map[string][]string
	// Verbatim skips stemming and stop-word removal of query terms.
	Verbatim bool
}

// Compile parses text and classifies every leaf against the field registry
// of m.
func Compile(text string, m *manifest.Manifest, opts Options) (*Query, error) {
	root, err := Parse(text, opts.DefaultOp)
	if err != nil {
		return nil, err
	}
	if opts.Analyzer == nil {
		opts.Analyzer = analysis.NewStandard()
	}
	c := &classifier{src: text, m: m, opts: opts}
	root, err = c.node(root)
	if err != nil {
		return nil, err
	}
	return &Query{Text: text, Lang: opts.Lang, Root: root}, nil
}

type classifier struct {
	src  string
	m    *manifest.Manifest
	opts Options
}

// node returns a classified copy of n.
func (c *classifier) node(n *Node) (*Node, error) {
	if !n.IsLeaf() {
		left, err := c.node(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := c.node(n.Right)
		if err != nil {
			return nil, err
		}
		return NewBinary(n.Op, left, right), nil
	}
	if n.Leaf.Kind != KindRaw {
		cp := *n.Leaf
		return NewLeaf(&cp), nil
	}
	if n.Leaf.Text == "*" {
		return NewLeaf(&Leaf{Kind: KindAll, Field: n.Leaf.Field, Text: "*"}), nil
	}

	var out *Node
	for _, name := range c.targets(n.Leaf.Field) {
		leaf, err := c.leaf(name, n.Leaf.Text)
		if err != nil {
			return nil, &Error{Status: StatusMalformed, Query: c.src, Pos: -1, Msg: name + ": " + err.Error(), Err: ErrSyntax}
		}
		if out == nil {
			out = NewLeaf(leaf)
		} else {
			out = NewBinary(OpOr, out, NewLeaf(leaf))
		}
	}
	if out == nil {
		return NewLeaf(&Leaf{Kind: KindNoOp, Field: n.Leaf.Field, Text: n.Leaf.Text}), nil
	}
	return out, nil
}

// targets resolves the fields a leaf scoped to field applies to.
func (c *classifier) targets(field string) []string {
	if field != "" {
		if fields, ok := c.opts.Broadcast[field]; ok {
			return fields
		}
		return []string{field}
	}
	if len(c.opts.DefaultFields) > 0 {
		return c.opts.DefaultFields
	}
	var out []string
	for _, fi := range c.m.Fields {
		if fi.Type.Scorable() {
			out = append(out, fi.Name)
		}
	}
	return out
}

func (c *classifier) leaf(name, text string) (*Leaf, error) {
	fi, ok := c.m.Field(name)
	if !ok {
		return &Leaf{Kind: KindNoOp, Field: name, Text: text}, nil
	}
	l := &Leaf{Field: name, Text: text, Ord: fi.Ordinal, Type: fi.Type, Weight: fi.Weight}

	switch fi.Type.Kind {
	case document.KindText, document.KindTermSet:
		return l, c.analyzed(l)
	case document.KindString, document.KindList:
		return l, c.verbatim(l)
	case document.KindNumeric, document.KindBit:
		d, err := parseDigit(text, fi.Type.Kind == document.KindBit)
		if err != nil {
			return nil, err
		}
		l.Kind, l.Digit = KindDigit, d
		return l, nil
	case document.KindCoord:
		g, err := parseGeo(text)
		if err != nil {
			return nil, err
		}
		l.Kind, l.Geo = KindCoord, g
		return l, nil
	default:
		l.Kind = KindNoOp
		return l, nil
	}
}

// analyzed classifies a leaf on a Text or TermSet field. Values pass through
// the analyzer the same way indexed text does.
func (c *classifier) analyzed(l *Leaf) error {
	text := l.Text
	if inner, slop, ok, err := parsePhrase(text); err != nil {
		return err
	} else if ok {
		c.phrase(l, inner)
		if l.Kind == KindPhrase {
			l.Slop = slop
		}
		return nil
	}
	if from, to, ok, err := parseRange(text); err != nil {
		return err
	} else if ok {
		l.Kind, l.From, l.To = KindRange, analysis.Normalize(from), analysis.Normalize(to)
		return nil
	}
	if items, ok, err := parseList(text); err != nil {
		return err
	} else if ok {
		var terms []string
		for _, item := range items {
			for _, p := range c.analyze(item) {
				if !slices.Contains(terms, p.term) {
					terms = append(terms, p.term)
				}
			}
		}
		setTerms(l, terms)
		return nil
	}
	if c.opts.Analyzer.NGramSize(c.opts.Lang) > 0 {
		c.ngram(l, text)
		return nil
	}
	if pattern, ok := strings.CutSuffix(text, "*"); ok {
		wildcard(l, analysis.Normalize(pattern), WildPrefix)
		return nil
	}
	if pattern, ok := strings.CutPrefix(text, "*"); ok {
		wildcard(l, analysis.Normalize(pattern), WildSuffix)
		return nil
	}
	c.phrase(l, text)
	return nil
}

// verbatim classifies a leaf on a String or List field. Values are matched
// exactly as stored.
func (c *classifier) verbatim(l *Leaf) error {
	text := l.Text
	if inner, _, ok, err := parsePhrase(text); err != nil {
		return err
	} else if ok {
		setTerms(l, []string{inner})
		return nil
	}
	if from, to, ok, err := parseRange(text); err != nil {
		return err
	} else if ok {
		l.Kind, l.From, l.To = KindRange, from, to
		return nil
	}
	if items, ok, err := parseList(text); err != nil {
		return err
	} else if ok {
		setTerms(l, items)
		return nil
	}
	if pattern, ok := strings.CutSuffix(text, "*"); ok {
		wildcard(l, pattern, WildPrefix)
		return nil
	}
	if pattern, ok := strings.CutPrefix(text, "*"); ok {
		wildcard(l, pattern, WildSuffix)
		return nil
	}
	setTerms(l, []string{text})
	return nil
}

type positioned struct {
	term string
	pos  uint32
}

// analyze returns the analyzed terms of text ordered by position.
func (c *classifier) analyze(text string) []positioned {
	mode := analysis.Positions
	if c.opts.Verbatim {
		mode = analysis.Raw
	}
	var out []positioned
	for term, positions := range c.opts.Analyzer.Analyze(text, c.opts.Lang, mode) {
		for _, p := range positions {
			out = append(out, positioned{term: term, pos: p})
		}
	}
	slices.SortFunc(out, func(a, b positioned) int {
		if a.pos != b.pos {
			return int(a.pos) - int(b.pos)
		}
		return strings.Compare(a.term, b.term)
	})
	return out
}

// phrase turns text into a Term, a Phrase or a NoOp if every word is a
// stop-word.
func (c *classifier) phrase(l *Leaf, text string) {
	setPhrase(l, c.analyze(text))
}

// ngram expands text into an adjacency phrase of character grams. A
// trailing '*' drops the closing edge gram and a leading '*' drops the
// opening one, turning the phrase into a prefix or suffix match.
func (c *classifier) ngram(l *Leaf, text string) {
	text, openEnd := strings.CutSuffix(text, "*")
	text, openStart := strings.CutPrefix(text, "*")
	grams := c.analyze(text)
	if openEnd && len(grams) > 0 && strings.HasSuffix(grams[len(grams)-1].term, analysis.EdgeEnd) {
		grams = grams[:len(grams)-1]
	}
	if openStart && len(grams) > 0 && strings.HasPrefix(grams[0].term, analysis.EdgeStart) {
		grams = grams[1:]
	}
	setPhrase(l, grams)
}

func setPhrase(l *Leaf, terms []positioned) {
	switch len(terms) {
	case 0:
		l.Kind = KindNoOp
	case 1:
		l.Kind, l.Terms = KindTerm, []string{terms[0].term}
	default:
		l.Kind = KindPhrase
		l.Terms = make([]string, len(terms))
		l.Offsets = make([]uint32, len(terms))
		for i, t := range terms {
			l.Terms[i] = t.term
			l.Offsets[i] = t.pos - terms[0].pos
		}
	}
}

func setTerms(l *Leaf, terms []string) {
	switch len(terms) {
	case 0:
		l.Kind = KindNoOp
	case 1:
		l.Kind, l.Terms = KindTerm, terms
	default:
		l.Kind, l.Terms = KindTermList, terms
	}
}

func wildcard(l *Leaf, pattern string, w Wildcard) {
	if pattern == "" || strings.ContainsRune(pattern, '*') {
		l.Kind = KindNoOp
		return
	}
	l.Kind, l.Terms, l.Wild = KindWildCard, []string{pattern}, w
}
