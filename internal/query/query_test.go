package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lexgo/document"
	"github.com/hupe1980/lexgo/internal/manifest"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in    string
		defOp Op
		want  string
	}{
		{in: "a", want: "a"},
		{in: "a b c", want: "(* (* a b) c)"},
		{in: "a b -c", want: "(- (* a b) c)"},
		{in: "a OR b AND c", want: "(+ a (* b c))"},
		{in: "a NOT b", want: "(- a b)"},
		{in: "NOT a", want: "(- all(*) a)"},
		{in: "-a b", want: "(* (- all(*) a) b)"},
		{in: "+a -b", want: "(- a b)"},
		{in: "a / b", want: "(/ a b)"},
		{in: "a * b", want: "(* a b)"},
		{in: "*", want: "*"},
		{in: "(a OR b) c", want: "(* (+ a b) c)"},
		{in: "a (b c)", want: "(* a (* b c))"},
		{in: "a +(b OR c)", want: "(* a (+ b c))"},
		{in: "a -(b OR c)", want: "(- a (+ b c))"},
		{in: "a -b c", want: "(- a (* b c))"},
		{in: "a c -b", want: "(- (* a c) b)"},
		{in: "a -b -c", want: "(- (- a b) c)"},
		{in: "a -b OR c", want: "(+ (- a b) c)"},
		{in: "title:(red OR blue) shoes", want: "(* (+ title:red title:blue) shoes)"},
		{in: "title:(red body:hat)", want: "(* title:red body:hat)"},
		{in: `title:"red shoes"^2 hat`, want: `(* title:"red shoes"^2 hat)`},
		{in: "price:[1 TO 5] x", want: "(* price:[1 TO 5] x)"},
		{in: "a b", defOp: OpOr, want: "(+ a b)"},
		{in: "a b -c", defOp: OpOr, want: "(- (+ a b) c)"},
		{in: "loc:40.0/-74.0~5", want: "loc:40.0/-74.0~5"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			n, err := Parse(tt.in, tt.defOp)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n.String())
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, in := range []string{"", "   ", "(a", "a)", "AND a", "a OR", `"abc`, "()", "title:", "a [1 TO"} {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in, OpAnd)
			require.Error(t, err)
			var qe *Error
			require.ErrorAs(t, err, &qe)
			assert.Equal(t, StatusMalformed, qe.Status)
			assert.ErrorIs(t, err, ErrSyntax)
		})
	}
}

func testManifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	m := manifest.New()
	for _, f := range []struct {
		name string
		typ  document.Type
	}{
		{"title", document.Text()},
		{"body", document.Text()},
		{"tag", document.String()},
		{"price", document.Numeric(4)},
		{"flags", document.Bit(2)},
		{"loc", document.Coord(6)},
	} {
		_, _, err := m.SetFieldInfo(f.name, f.typ)
		require.NoError(t, err)
	}
	return m
}

func compileLeaf(t *testing.T, text string, opts Options) *Leaf {
	t.Helper()
	q, err := Compile(text, testManifest(t), opts)
	require.NoError(t, err)
	require.True(t, q.Root.IsLeaf(), q.Root.String())
	return q.Root.Leaf
}

func TestClassify(t *testing.T) {
	l := compileLeaf(t, "title:Shoes", Options{})
	assert.Equal(t, KindTerm, l.Kind)
	assert.Equal(t, []string{"shoe"}, l.Terms)
	assert.True(t, l.Scored())
	assert.InDelta(t, 1.0, l.Weight, 1e-6)

	l = compileLeaf(t, `title:"the red shoes"^3`, Options{})
	assert.Equal(t, KindPhrase, l.Kind)
	assert.Equal(t, []string{"red", "shoe"}, l.Terms)
	assert.Equal(t, []uint32{0, 1}, l.Offsets)
	assert.Equal(t, 3, l.Slop)

	l = compileLeaf(t, "title:the", Options{})
	assert.Equal(t, KindNoOp, l.Kind)

	l = compileLeaf(t, "title:sho*", Options{})
	assert.Equal(t, KindWildCard, l.Kind)
	assert.Equal(t, WildPrefix, l.Wild)
	assert.Equal(t, []string{"sho"}, l.Terms)

	l = compileLeaf(t, "title:*oes", Options{})
	assert.Equal(t, WildSuffix, l.Wild)

	l = compileLeaf(t, "title:{Red, blue,red}", Options{})
	assert.Equal(t, KindTermList, l.Kind)
	assert.Equal(t, []string{"red", "blue"}, l.Terms)

	l = compileLeaf(t, "title:[a TO m]", Options{})
	assert.Equal(t, KindRange, l.Kind)
	assert.Equal(t, "a", l.From)
	assert.Equal(t, "m", l.To)

	l = compileLeaf(t, "title:shoes-laces", Options{})
	assert.Equal(t, KindPhrase, l.Kind)

	l = compileLeaf(t, "title:shoes", Options{Verbatim: true})
	assert.Equal(t, []string{"shoes"}, l.Terms)
}

func TestClassifyVerbatimFields(t *testing.T) {
	l := compileLeaf(t, "tag:Foo", Options{})
	assert.Equal(t, KindTerm, l.Kind)
	assert.Equal(t, []string{"Foo"}, l.Terms)
	assert.False(t, l.Scored())

	l = compileLeaf(t, `tag:"New York"`, Options{})
	assert.Equal(t, []string{"New York"}, l.Terms)

	l = compileLeaf(t, "tag:Fo*", Options{})
	assert.Equal(t, KindWildCard, l.Kind)
	assert.Equal(t, []string{"Fo"}, l.Terms)

	l = compileLeaf(t, "tag:{a,b}", Options{})
	assert.Equal(t, KindTermList, l.Kind)
}

func TestClassifyDigitAndCoord(t *testing.T) {
	tests := []struct {
		in   string
		want Digit
	}{
		{"price:42", Digit{Op: DigitEq, A: 42}},
		{"price:-3", Digit{Op: DigitEq, A: -3}},
		{"price:5..9", Digit{Op: DigitRange, A: 5, B: 9}},
		{"price:..9", Digit{Op: DigitLE, A: 9}},
		{"price:[5 TO *]", Digit{Op: DigitGE, A: 5}},
		{"price:>=10", Digit{Op: DigitGE, A: 10}},
		{"price:>10", Digit{Op: DigitGT, A: 10}},
		{"price:<10", Digit{Op: DigitLT, A: 10}},
		{"price:<=10", Digit{Op: DigitLE, A: 10}},
		{"flags:&3", Digit{Op: DigitAny, A: 3, Unsigned: true}},
		{"flags:&=0x3", Digit{Op: DigitAll, A: 3, Unsigned: true}},
		{"flags:&!4", Digit{Op: DigitNone, A: 4, Unsigned: true}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			l := compileLeaf(t, tt.in, Options{})
			assert.Equal(t, KindDigit, l.Kind)
			assert.Equal(t, tt.want, l.Digit)
		})
	}

	l := compileLeaf(t, "loc:40.0/-74.0~5", Options{})
	assert.Equal(t, KindCoord, l.Kind)
	assert.Equal(t, Geo{Lat: 40, Lon: -74, Km: 5}, l.Geo)

	for _, bad := range []string{"price:abc", "price:1..x", "loc:40.0/-74.0", "loc:95/0~1", "loc:1/1~0", "title:\"a\"^x"} {
		_, err := Compile(bad, testManifest(t), Options{})
		var qe *Error
		require.ErrorAs(t, err, &qe, bad)
		assert.Equal(t, StatusMalformed, qe.Status)
	}
}

func TestDigitMatch(t *testing.T) {
	assert.True(t, Digit{Op: DigitRange, A: -2, B: 2}.Match(-1))
	assert.False(t, Digit{Op: DigitRange, A: -2, B: 2}.Match(3))
	assert.True(t, Digit{Op: DigitAny, A: 0b101}.Match(0b100))
	assert.False(t, Digit{Op: DigitAll, A: 0b101}.Match(0b100))
	assert.True(t, Digit{Op: DigitAll, A: 0b101}.Match(0b111))
	assert.True(t, Digit{Op: DigitNone, A: 0b010}.Match(0b101))
	// -1 is the largest unsigned value.
	assert.True(t, Digit{Op: DigitGT, A: 1, Unsigned: true}.Match(-1))
	assert.False(t, Digit{Op: DigitGT, A: 1}.Match(-1))
}

func TestDefaultAndBroadcastFields(t *testing.T) {
	m := testManifest(t)

	q, err := Compile("red", m, Options{})
	require.NoError(t, err)
	assert.Equal(t, "(+ title:term(red) body:term(red))", q.Root.String())

	q, err = Compile("red", m, Options{DefaultFields: []string{"body"}})
	require.NoError(t, err)
	assert.Equal(t, "body:term(red)", q.Root.String())

	q, err = Compile("text:red -title:hat", m, Options{Broadcast: map[string][]string{"text": {"title", "body"}}})
	require.NoError(t, err)
	assert.Equal(t, "(- (+ title:term(red) body:term(red)) title:term(hat))", q.Root.String())
	assert.True(t, q.Scored())

	q, err = Compile("nope:red", m, Options{})
	require.NoError(t, err)
	assert.Equal(t, KindNoOp, q.Root.Leaf.Kind)

	q, err = Compile("price:>1", m, Options{})
	require.NoError(t, err)
	assert.False(t, q.Scored())
}

func TestNGramExpansion(t *testing.T) {
	opts := Options{Lang: "ja"}

	l := compileLeaf(t, "title:東京都", opts)
	assert.Equal(t, KindPhrase, l.Kind)
	assert.Equal(t, []string{"^東", "東京", "京都", "都$"}, l.Terms)
	assert.Equal(t, []uint32{0, 1, 2, 3}, l.Offsets)

	l = compileLeaf(t, "title:東京*", opts)
	assert.Equal(t, []string{"^東", "東京"}, l.Terms)

	l = compileLeaf(t, "title:*京都", opts)
	assert.Equal(t, []string{"京都", "都$"}, l.Terms)
	assert.Equal(t, []uint32{0, 1}, l.Offsets)

	l = compileLeaf(t, "title:東*", opts)
	assert.Equal(t, KindTerm, l.Kind)
	assert.Equal(t, []string{"^東"}, l.Terms)
}
