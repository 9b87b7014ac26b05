package query

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind uint8

const (
	tokLeaf tokenKind = iota
	tokOp
	tokNeg // unary minus at operand start
	tokOpen
	tokClose
)

type token struct {
	kind  tokenKind
	op    Op
	field string // leaf field or group scope
	text  string
	pos   int
}

// lexer turns a query string into a token stream with every implicit
// operator made explicit.
type lexer struct {
	src   string
	pos   int
	defOp Op
	toks  []token
	// operand is true after a leaf or a closing parenthesis.
	operand bool
}

func lex(src string, defOp Op) ([]token, error) {
	l := &lexer{src: src, defOp: defOp}
	if err := l.run(); err != nil {
		return nil, err
	}
	return l.toks, nil
}

func (l *lexer) emit(t token) {
	l.toks = append(l.toks, t)
	l.operand = t.kind == tokLeaf || t.kind == tokClose
}

// startOperand inserts the implicit operator between adjacent operands.
func (l *lexer) startOperand(pos int) {
	if l.operand {
		l.emit(token{kind: tokOp, op: l.defOp, pos: pos})
	}
}

func (l *lexer) binary(op Op, pos int) error {
	if !l.operand {
		return syntaxError(l.src, pos, "operator %q without left operand", string(op))
	}
	l.emit(token{kind: tokOp, op: op, pos: pos})
	return nil
}

func (l *lexer) negate(pos int) {
	if l.operand {
		l.emit(token{kind: tokOp, op: OpNot, pos: pos})
		return
	}
	l.emit(token{kind: tokNeg, op: OpNot, pos: pos})
}

func (l *lexer) run() error {
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		switch {
		case unicode.IsSpace(r):
			l.pos += size
		case r == '(':
			l.startOperand(l.pos)
			l.emit(token{kind: tokOpen, pos: l.pos})
			l.pos++
		case r == ')':
			l.emit(token{kind: tokClose, pos: l.pos})
			l.pos++
		default:
			if err := l.word(); err != nil {
				return err
			}
		}
	}
	return nil
}

// word consumes one operand or operator word.
func (l *lexer) word() error {
	start := l.pos
	text, err := l.scanWord()
	if err != nil {
		return err
	}

	switch text {
	case "AND", "*":
		if text == "*" && !l.operand {
			break
		}
		return l.binary(OpAnd, start)
	case "OR", "+":
		if text == "+" && l.pos < len(l.src) && l.src[l.pos] == '(' {
			// +( ... ) marks a required group.
			if l.operand {
				l.emit(token{kind: tokOp, op: OpAnd, pos: start})
			}
			return nil
		}
		return l.binary(OpOr, start)
	case "/":
		return l.binary(OpFilter, start)
	case "NOT", "-":
		l.negate(start)
		return nil
	}

	switch {
	case strings.HasPrefix(text, "+"):
		// Required operand.
		text = text[1:]
		start++
		if l.operand {
			l.emit(token{kind: tokOp, op: OpAnd, pos: start - 1})
		}
	case strings.HasPrefix(text, "-"):
		l.negate(start)
		text = text[1:]
		start++
	default:
		l.startOperand(start)
	}

	field, value := splitField(text)
	if field != "" && value == "" && l.pos < len(l.src) && l.src[l.pos] == '(' {
		// field:( ... ) scopes a whole group.
		l.emit(token{kind: tokOpen, field: field, pos: l.pos})
		l.pos++
		return nil
	}
	if value == "" {
		return syntaxError(l.src, start, "empty operand")
	}
	l.emit(token{kind: tokLeaf, field: field, text: value, pos: start})
	return nil
}

// scanWord reads up to the next space or parenthesis. Quoted, bracketed
// and braced sections are read whole.
func (l *lexer) scanWord() (string, error) {
	start := l.pos
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if unicode.IsSpace(r) || r == '(' || r == ')' {
			break
		}
		if closer, ok := closers[r]; ok {
			end := strings.IndexRune(l.src[l.pos+size:], closer)
			if end < 0 {
				return "", syntaxError(l.src, l.pos, "unterminated %q", string(r))
			}
			l.pos += size + end + utf8.RuneLen(closer)
			continue
		}
		l.pos += size
	}
	return l.src[start:l.pos], nil
}

var closers = map[rune]rune{'"': '"', '[': ']', '{': '}'}

// splitField splits "field:value". The field must look like an identifier.
func splitField(text string) (string, string) {
	i := strings.IndexByte(text, ':')
	if i <= 0 {
		return "", text
	}
	name := text[:i]
	for j, r := range name {
		ok := unicode.IsLetter(r) || r == '_' || (j > 0 && (unicode.IsDigit(r) || r == '.' || r == '-'))
		if !ok {
			return "", text
		}
	}
	return name, text[i+1:]
}
