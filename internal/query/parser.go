package query

import "strings"

// Parse turns text into an unclassified expression tree. Leaves carry the
// raw field and value. defOp joins adjacent operands.
//
// OR, NOT and their '+' and '-' forms bind loosest, below AND and
// adjacency. So "a -b c" means a without (b and c), not (a without b) and
// c; write "a c -b" or "a -b -c" for the narrower forms.
func Parse(text string, defOp Op) (*Node, error) {
	if defOp == 0 {
		defOp = OpAnd
	}
	if strings.TrimSpace(text) == "" {
		return nil, syntaxError(text, 0, "empty query")
	}
	toks, err := lex(text, defOp)
	if err != nil {
		return nil, err
	}
	p := &parser{src: text, toks: toks}
	n, err := p.expr()
	if err != nil {
		return nil, err
	}
	if p.i < len(p.toks) {
		t := p.toks[p.i]
		if t.kind == tokClose {
			return nil, syntaxError(text, t.pos, "unbalanced ')'")
		}
		return nil, syntaxError(text, t.pos, "unexpected token")
	}
	return n, nil
}

// parser is a three-tier recursive descent parser. Operators of the same
// tier associate to the left.
type parser struct {
	src   string
	toks  []token
	i     int
	scope []string
}

func (p *parser) peek() (token, bool) {
	if p.i >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.i], true
}

// expr := term { ('+' | '-') term }
func (p *parser) expr() (*Node, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokOp || (t.op != OpOr && t.op != OpNot) {
			return left, nil
		}
		p.i++
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = NewBinary(t.op, left, right)
	}
}

// term := factor { ('*' | '/') factor }
func (p *parser) term() (*Node, error) {
	left, err := p.factor()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokOp || (t.op != OpAnd && t.op != OpFilter) {
			return left, nil
		}
		p.i++
		right, err := p.factor()
		if err != nil {
			return nil, err
		}
		left = NewBinary(t.op, left, right)
	}
}

// factor := leaf | '(' expr ')' | '-' factor
func (p *parser) factor() (*Node, error) {
	t, ok := p.peek()
	if !ok {
		return nil, syntaxError(p.src, len(p.src), "missing operand")
	}
	p.i++
	switch t.kind {
	case tokLeaf:
		field := t.field
		if field == "" && len(p.scope) > 0 {
			field = p.scope[len(p.scope)-1]
		}
		return NewLeaf(&Leaf{Kind: KindRaw, Field: field, Text: t.text}), nil
	case tokNeg:
		operand, err := p.factor()
		if err != nil {
			return nil, err
		}
		return NewBinary(OpNot, NewLeaf(&Leaf{Kind: KindAll, Text: "*"}), operand), nil
	case tokOpen:
		scope := t.field
		if scope == "" && len(p.scope) > 0 {
			scope = p.scope[len(p.scope)-1]
		}
		p.scope = append(p.scope, scope)
		n, err := p.expr()
		p.scope = p.scope[:len(p.scope)-1]
		if err != nil {
			return nil, err
		}
		closing, ok := p.peek()
		if !ok || closing.kind != tokClose {
			return nil, syntaxError(p.src, t.pos, "unbalanced '('")
		}
		p.i++
		return n, nil
	case tokClose:
		return nil, syntaxError(p.src, t.pos, "empty group")
	default:
		return nil, syntaxError(p.src, t.pos, "operator %q without left operand", t.op.String())
	}
}
